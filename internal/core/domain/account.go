package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account maps one (user, currency) pair to a ledger. The balance is never stored.
type Account struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}
