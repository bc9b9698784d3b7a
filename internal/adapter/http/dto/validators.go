package dto

import (
	"html"
	"reflect"
	"regexp"
	"strings"

	"custody-ledger/internal/core/domain"
	"custody-ledger/pkg/money"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("idem_key", validateIdempotencyKey)
		_ = v.RegisterValidation("currency_code", validateCurrency)
	}
}

// validateSafeID allows alphanumeric, underscore, dash, and dot.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

func validateIdempotencyKey(fl validator.FieldLevel) bool {
	return domain.ValidIdempotencyKey(fl.Field().String())
}

func validateCurrency(fl validator.FieldLevel) bool {
	return money.ValidCurrency(fl.Field().String())
}

// SanitizeStruct trims whitespace and HTML-escapes every exported string
// field (including *string) of a struct pointer.
func SanitizeStruct(v interface{}) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sanitizeFields(rv.Elem())
}

func sanitizeFields(rv reflect.Value) {
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(Sanitize(f.String()))
		case reflect.Ptr:
			if f.IsNil() {
				continue
			}
			elem := f.Elem()
			if elem.Kind() == reflect.String {
				elem.SetString(Sanitize(elem.String()))
			}
		}
	}
}

// Sanitize trims whitespace and HTML-escapes free text.
func Sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
