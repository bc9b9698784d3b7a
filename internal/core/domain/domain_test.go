package domain

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedAmount(t *testing.T) {
	tests := []struct {
		name    string
		typ     EntryType
		amount  int64
		want    int64
		wantErr error
	}{
		{"deposit credits", EntryTypeDeposit, 100, 100, nil},
		{"trade sell credits", EntryTypeTradeSell, 100, 100, nil},
		{"withdrawal debits", EntryTypeWithdrawal, 100, -100, nil},
		{"trade buy debits", EntryTypeTradeBuy, 100, -100, nil},
		{"fee debits", EntryTypeFee, 7, -7, nil},
		{"adjustment keeps positive", EntryTypeAdjustment, 50, 50, nil},
		{"adjustment keeps negative", EntryTypeAdjustment, -50, -50, nil},
		{"adjustment zero", EntryTypeAdjustment, 0, 0, ErrZeroAdjustment},
		{"deposit zero", EntryTypeDeposit, 0, 0, ErrNonPositive},
		{"withdrawal negative", EntryTypeWithdrawal, -1, 0, ErrNonPositive},
		{"unknown type", EntryType("BONUS"), 1, 0, ErrUnknownEntryType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SignedAmount(tt.typ, tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplayBalance_OrderIndependent(t *testing.T) {
	entries := []LedgerEntry{{Amount: 10000}, {Amount: -2500}, {Amount: 300}, {Amount: -800}}
	reversed := []LedgerEntry{entries[3], entries[2], entries[1], entries[0]}

	a, err := ReplayBalance(entries)
	require.NoError(t, err)
	b, err := ReplayBalance(reversed)
	require.NoError(t, err)

	assert.Equal(t, int64(7000), a)
	assert.Equal(t, a, b)

	empty, err := ReplayBalance(nil)
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestReplayBalance_Overflow(t *testing.T) {
	_, err := ReplayBalance([]LedgerEntry{{Amount: math.MaxInt64}, {Amount: 1}})
	assert.ErrorIs(t, err, ErrBalanceOverflow)
}

func TestPaymentIntent_Transitions(t *testing.T) {
	tests := []struct {
		status  IntentStatus
		confirm Transition
		fail    Transition
		expire  Transition
	}{
		{IntentStatusPending, TransitionApply, TransitionApply, TransitionApply},
		{IntentStatusConfirmed, TransitionNoop, TransitionInvalid, TransitionInvalid},
		{IntentStatusFailed, TransitionInvalid, TransitionNoop, TransitionNoop},
		{IntentStatusExpired, TransitionInvalid, TransitionNoop, TransitionNoop},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			p := &PaymentIntent{Status: tt.status}
			assert.Equal(t, tt.confirm, p.ConfirmTransition())
			assert.Equal(t, tt.fail, p.FailTransition(IntentStatusFailed))
			assert.Equal(t, tt.expire, p.FailTransition(IntentStatusExpired))
		})
	}

	assert.Equal(t, TransitionInvalid, (&PaymentIntent{Status: IntentStatusPending}).FailTransition(IntentStatusConfirmed))
}

func TestPaymentIntent_IsExpiredAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&PaymentIntent{Status: IntentStatusPending, ExpiresAt: &past}).IsExpiredAt(now))
	assert.True(t, (&PaymentIntent{Status: IntentStatusPending, ExpiresAt: &now}).IsExpiredAt(now))
	assert.False(t, (&PaymentIntent{Status: IntentStatusPending, ExpiresAt: &future}).IsExpiredAt(now))
	assert.False(t, (&PaymentIntent{Status: IntentStatusPending}).IsExpiredAt(now))
	assert.False(t, (&PaymentIntent{Status: IntentStatusConfirmed, ExpiresAt: &past}).IsExpiredAt(now))
}

func TestWithdrawal_Transitions(t *testing.T) {
	tests := []struct {
		status  WithdrawalStatus
		approve Transition
		reject  Transition
		paid    Transition
	}{
		{WithdrawalStatusRequested, TransitionApply, TransitionApply, TransitionInvalid},
		{WithdrawalStatusApproved, TransitionNoop, TransitionInvalid, TransitionApply},
		{WithdrawalStatusRejected, TransitionInvalid, TransitionNoop, TransitionInvalid},
		{WithdrawalStatusPaid, TransitionNoop, TransitionInvalid, TransitionNoop},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			w := &Withdrawal{Status: tt.status}
			assert.Equal(t, tt.approve, w.ApproveTransition())
			assert.Equal(t, tt.reject, w.RejectTransition())
			assert.Equal(t, tt.paid, w.PaidTransition())
		})
	}
}

func TestEvaluateStatusUpdate(t *testing.T) {
	tests := []struct {
		current OrderStatus
		next    OrderStatus
		want    StatusOutcome
	}{
		{OrderStatusCreated, OrderStatusPending, StatusApplied},
		{OrderStatusCreated, OrderStatusApproved, StatusApplied},
		{OrderStatusPending, OrderStatusRejected, StatusApplied},
		{OrderStatusPending, OrderStatusCreated, StatusIgnored},
		{OrderStatusPending, OrderStatusPending, StatusDetailOnly},
		{OrderStatusApproved, OrderStatusApproved, StatusDetailOnly},
		{OrderStatusApproved, OrderStatusPending, StatusIgnored},
		{OrderStatusApproved, OrderStatusCreated, StatusIgnored},
		{OrderStatusApproved, OrderStatusRejected, StatusIgnored},
		{OrderStatusRejected, OrderStatusApproved, StatusIgnored},
		{OrderStatusRejected, OrderStatusPending, StatusIgnored},
	}

	for _, tt := range tests {
		t.Run(string(tt.current)+"->"+string(tt.next), func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateStatusUpdate(tt.current, tt.next))
		})
	}
}

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		in   string
		want OrderStatus
		ok   bool
	}{
		{"approved", OrderStatusApproved, true},
		{"PAID", OrderStatusApproved, true},
		{"rejected", OrderStatusRejected, true},
		{"cancelled", OrderStatusRejected, true},
		{"canceled", OrderStatusRejected, true},
		{"refused", OrderStatusRejected, true},
		{"expired", OrderStatusRejected, true},
		{"pending", OrderStatusPending, true},
		{" in_process ", OrderStatusPending, true},
		{"charged_back", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := MapProviderStatus(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntentTarget(t *testing.T) {
	tests := []struct {
		in   string
		want IntentStatus
		ok   bool
	}{
		{"approved", IntentStatusConfirmed, true},
		{"paid", IntentStatusConfirmed, true},
		{"rejected", IntentStatusFailed, true},
		{"cancelled", IntentStatusFailed, true},
		{"expired", IntentStatusExpired, true},
		{"pending", "", false},
		{"in_process", "", false},
		{"mystery", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := IntentTarget(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractSignature_EveryRecognizedName(t *testing.T) {
	for _, name := range SignatureHeaderNames {
		t.Run(name, func(t *testing.T) {
			blob := "content-type:application/json;" + name + ": sha256=abc ;user-agent:x"
			sig, ok := ExtractSignature(blob)
			require.True(t, ok)
			assert.Equal(t, "sha256=abc", sig)
		})
	}
}

func TestExtractSignature(t *testing.T) {
	tests := []struct {
		name   string
		blob   string
		want   string
		wantOK bool
	}{
		{"empty blob", "", "", false},
		{"whitespace blob", "   ", "", false},
		{"no recognized header", "content-type:application/json;x-request-id:1", "", false},
		{"case insensitive", "X-Hub-Signature-256:deadbeef", "deadbeef", true},
		{"first match wins", "x-signature:one;x-hub-signature:two", "one", true},
		{"empty value skipped", "x-signature: ;x-hub-signature:two", "two", true},
		{"value containing colon", "x-signature:ts=1,v1:abc", "ts=1,v1:abc", true},
		{"segment without colon", "garbage;x-signature:abc", "abc", true},
		{"trailing separator", "x-signature:abc;", "abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractSignature(tt.blob)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlattenHeaders(t *testing.T) {
	blob := FlattenHeaders(map[string][]string{
		"X-Signature":  {"abc"},
		"Content-Type": {"application/json"},
		"Accept":       {"a", "b;c"},
	})
	assert.Equal(t, "accept:a,b,c;content-type:application/json;x-signature:abc", blob)

	sig, ok := ExtractSignature(blob)
	require.True(t, ok)
	assert.Equal(t, "abc", sig)
}

func TestRoleHierarchy(t *testing.T) {
	h, err := NewRoleHierarchy("operator", "admin", "superadmin")
	require.NoError(t, err)

	operator := Identity{UserID: uuid.New(), Roles: []string{"operator"}}
	admin := Identity{UserID: uuid.New(), Roles: []string{"trader", "Admin"}}
	super := Identity{UserID: uuid.New(), Roles: []string{"superadmin"}}
	nobody := Identity{UserID: uuid.New(), Roles: []string{"trader"}}

	assert.Equal(t, 1, h.TierOf(operator))
	assert.Equal(t, 2, h.TierOf(admin))
	assert.Equal(t, 3, h.TierOf(super))
	assert.Equal(t, 0, h.TierOf(nobody))
	assert.Equal(t, 3, h.Top())
	assert.Equal(t, 2, h.TierFor("ADMIN"))

	assert.True(t, h.Allows(super, 2), "higher tiers inherit lower-tier rights")
	assert.True(t, h.Allows(admin, 2))
	assert.False(t, h.Allows(operator, 2))
	assert.False(t, h.Allows(nobody, 1))
	assert.True(t, h.Allows(nobody, 0))
}

func TestNewRoleHierarchy_Invalid(t *testing.T) {
	_, err := NewRoleHierarchy()
	assert.ErrorIs(t, err, ErrInvalidHierarchy)
	_, err = NewRoleHierarchy("admin", "ADMIN")
	assert.ErrorIs(t, err, ErrInvalidHierarchy)
	_, err = NewRoleHierarchy("admin", " ")
	assert.ErrorIs(t, err, ErrInvalidHierarchy)
}

func TestIdempotencyKeys(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assert.Equal(t, "deposit:550e8400-e29b-41d4-a716-446655440000", DepositEntryKey(id))
	assert.Equal(t, "withdrawal:550e8400-e29b-41d4-a716-446655440000", WithdrawalEntryKey(id))
	assert.Equal(t, "deposit_intent:k1", CacheKey(ScopeDepositIntent, "k1"))
}

func TestValidIdempotencyKey(t *testing.T) {
	long := make([]byte, MaxIdempotencyKeyLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.True(t, ValidIdempotencyKey("k1"))
	assert.True(t, ValidIdempotencyKey(string(long[:MaxIdempotencyKeyLength])))
	assert.False(t, ValidIdempotencyKey(""))
	assert.False(t, ValidIdempotencyKey("has space"))
	assert.False(t, ValidIdempotencyKey(string(long)))
}
