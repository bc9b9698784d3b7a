package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WebhookOutcome records what a provider notification did.
type WebhookOutcome string

const (
	WebhookOutcomeApplied           WebhookOutcome = "applied"
	WebhookOutcomeCredited          WebhookOutcome = "credited"
	WebhookOutcomeDetailRefreshed   WebhookOutcome = "detail_refreshed"
	WebhookOutcomeIgnored           WebhookOutcome = "ignored"
	WebhookOutcomeUnmatched         WebhookOutcome = "unmatched"
	WebhookOutcomeUnknownStatus     WebhookOutcome = "unknown_status"
	WebhookOutcomeSignatureRejected WebhookOutcome = "signature_rejected"
	WebhookOutcomeMalformed         WebhookOutcome = "malformed"
	WebhookOutcomeFailed            WebhookOutcome = "failed"
)

// WebhookEvent is the write-once audit record of an inbound notification.
type WebhookEvent struct {
	ID                uuid.UUID      `json:"id"`
	Provider          string         `json:"provider"`
	EventType         string         `json:"event_type"`
	RawPayload        string         `json:"raw_payload"`
	Headers           string         `json:"headers"`
	ProviderPaymentID *string        `json:"provider_payment_id,omitempty"`
	SignatureValid    bool           `json:"signature_valid"`
	Outcome           WebhookOutcome `json:"outcome"`
	Error             *string        `json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// SignatureHeaderNames are the header names that may carry a provider signature,
// matched case-insensitively.
var SignatureHeaderNames = []string{
	"x-signature",
	"x-hub-signature-256",
	"x-hub-signature",
	"x-callback-signature",
	"x-mercadopago-signature",
	"x-webhook-signature",
}

// ExtractSignature scans a "key:value;key:value" blob for a recognized signature
// header and returns the first non-empty value, trimmed.
func ExtractSignature(headerBlob string) (string, bool) {
	if strings.TrimSpace(headerBlob) == "" {
		return "", false
	}
	for _, pair := range strings.Split(headerBlob, ";") {
		name, value, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		if !isSignatureHeader(strings.TrimSpace(name)) {
			continue
		}
		if v := strings.TrimSpace(value); v != "" {
			return v, true
		}
	}
	return "", false
}

func isSignatureHeader(name string) bool {
	for _, known := range SignatureHeaderNames {
		if strings.EqualFold(name, known) {
			return true
		}
	}
	return false
}

// FlattenHeaders renders headers as a "key:value;key:value" blob, keys sorted and
// lower-cased. Multiple values for one key are joined with a comma.
func FlattenHeaders(headers map[string][]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(headers[k], ",")
		value = strings.ReplaceAll(value, ";", ",")
		parts = append(parts, strings.ToLower(k)+":"+value)
	}
	return strings.Join(parts, ";")
}
