package dto

import (
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeStruct_TrimsAndEscapes(t *testing.T) {
	method := "  <script>pix</script>  "
	req := HandOffRequest{
		ProviderPaymentID: "  123456  ",
		PaymentMethod:     &method,
	}
	SanitizeStruct(&req)

	assert.Equal(t, "123456", req.ProviderPaymentID)
	assert.Equal(t, "&lt;script&gt;pix&lt;/script&gt;", *req.PaymentMethod)
}

func TestSanitizeStruct_NilPointerField(t *testing.T) {
	req := HandOffRequest{ProviderPaymentID: " x "}
	SanitizeStruct(&req)
	assert.Equal(t, "x", req.ProviderPaymentID)
	assert.Nil(t, req.PaymentMethod)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
	SanitizeStruct(&s)
	assert.Equal(t, "hello", s)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "rent &amp; bills", Sanitize("  rent & bills \n"))
}

func TestSafeID(t *testing.T) {
	valid := []string{"mercadopago", "pay_123", "a.b-c", "ABC-def_GHI.123"}
	for _, tc := range valid {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}

	invalid := []string{"", "mercado pago", "ref<001>", "ref;DROP", "ref\n001"}
	for _, tc := range invalid {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestCreateDepositRequest_Binding(t *testing.T) {
	valid := CreateDepositRequest{Amount: "10.00", Currency: "usd", Provider: "mercadopago", IdempotencyKey: "dep-1"}
	assert.NoError(t, binding.Validator.ValidateStruct(&valid))

	cases := map[string]CreateDepositRequest{
		"missing amount":  {Currency: "USD", Provider: "mp", IdempotencyKey: "k"},
		"bad currency":    {Amount: "1", Currency: "US", Provider: "mp", IdempotencyKey: "k"},
		"digits":          {Amount: "1", Currency: "US1", Provider: "mp", IdempotencyKey: "k"},
		"key with space":  {Amount: "1", Currency: "USD", Provider: "mp", IdempotencyKey: "a b"},
		"unsafe provider": {Amount: "1", Currency: "USD", Provider: "mp;", IdempotencyKey: "k"},
	}
	for name, req := range cases {
		req := req
		assert.Error(t, binding.Validator.ValidateStruct(&req), name)
	}
}

func TestPageQuery_Binding(t *testing.T) {
	assert.NoError(t, binding.Validator.ValidateStruct(&PageQuery{}))
	assert.NoError(t, binding.Validator.ValidateStruct(&PageQuery{Page: 3, PageSize: 100}))
	assert.Error(t, binding.Validator.ValidateStruct(&PageQuery{PageSize: 101}))
}
