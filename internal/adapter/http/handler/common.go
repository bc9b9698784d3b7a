package handler

import (
	"errors"
	"net/http"
	"time"

	"custody-ledger/internal/adapter/http/middleware"
	"custody-ledger/internal/core/domain"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/money"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// identityFrom reads the identity set by JWTAuth.
func identityFrom(c *gin.Context) (domain.Identity, error) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return domain.Identity{}, apperror.ErrInvalidToken()
	}
	return identity, nil
}

func idParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid " + name)
	}
	return id, nil
}

// bindJSON maps binding failures to VAL_001, or to 413 when the body
// exceeded MaxBodySize.
func bindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperror.New(apperror.CodeValidation, "request body too large", http.StatusRequestEntityTooLarge)
		}
		return apperror.Validation(err.Error())
	}
	return nil
}

// parseAmount reads a decimal major-unit string such as "10.50".
func parseAmount(amount, currency string) (money.Money, error) {
	m, err := money.Parse(amount, currency)
	if err != nil {
		return money.Money{}, apperror.Validation(err.Error())
	}
	return m, nil
}

func currencyOr(currency, fallback string) string {
	if currency == "" {
		return fallback
	}
	return currency
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
