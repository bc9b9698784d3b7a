package postgres

import (
	"context"
	"fmt"

	"custody-ledger/internal/core/domain"
)

// WebhookEventRepo implements ports.WebhookEventRepository as an insert-only audit table.
type WebhookEventRepo struct {
	pool Pool
}

func NewWebhookEventRepo(pool Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

const webhookEventColumns = `id, provider, event_type, raw_payload, headers,
	provider_payment_id, signature_valid, outcome, error, created_at`

func (r *WebhookEventRepo) Insert(ctx context.Context, e *domain.WebhookEvent) error {
	query := `INSERT INTO webhook_events (` + webhookEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		e.ID, e.Provider, e.EventType, e.RawPayload, e.Headers,
		e.ProviderPaymentID, e.SignatureValid, e.Outcome, e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (r *WebhookEventRepo) ListByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events
		WHERE lower(provider) = lower($1) AND provider_payment_id = $2
		ORDER BY created_at`

	rows, err := conn(ctx, r.pool).Query(ctx, query, provider, providerPaymentID)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var e domain.WebhookEvent
		if err := rows.Scan(
			&e.ID, &e.Provider, &e.EventType, &e.RawPayload, &e.Headers,
			&e.ProviderPaymentID, &e.SignatureValid, &e.Outcome, &e.Error, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook event rows: %w", err)
	}
	return events, nil
}
