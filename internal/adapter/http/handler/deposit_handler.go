package handler

import (
	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// DepositHandler handles deposit intent endpoints.
type DepositHandler struct {
	intents         ports.PaymentIntentService
	defaultCurrency string
}

func NewDepositHandler(intents ports.PaymentIntentService, defaultCurrency string) *DepositHandler {
	return &DepositHandler{intents: intents, defaultCurrency: defaultCurrency}
}

// Create handles POST /api/v1/deposits. A replay with the same
// idempotency key returns the original intent.
func (h *DepositHandler) Create(c *gin.Context) {
	identity, err := identityFrom(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.CreateDepositRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	amount, err := parseAmount(req.Amount, currencyOr(req.Currency, h.defaultCurrency))
	if err != nil {
		response.Error(c, err)
		return
	}

	intent, err := h.intents.CreateDepositIntent(c.Request.Context(), ports.CreateDepositRequest{
		UserID:         identity.UserID,
		Amount:         amount,
		Provider:       req.Provider,
		IdempotencyKey: req.IdempotencyKey,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toDepositResponse(intent))
}

// Get handles GET /api/v1/deposits/:id.
func (h *DepositHandler) Get(c *gin.Context) {
	intent, err := h.owned(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toDepositResponse(intent))
}

// HandOff handles POST /api/v1/deposits/:id/handoff.
func (h *DepositHandler) HandOff(c *gin.Context) {
	intent, err := h.owned(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.HandOffRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	updated, err := h.intents.HandOff(c.Request.Context(), intent.ID, ports.HandOffRequest{
		ProviderPaymentID: req.ProviderPaymentID,
		PaymentMethod:     req.PaymentMethod,
		ExpiresAt:         req.ExpiresAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toDepositResponse(updated))
}

// owned loads the intent named by :id. Another user's intent reads as not found.
func (h *DepositHandler) owned(c *gin.Context) (*domain.PaymentIntent, error) {
	identity, err := identityFrom(c)
	if err != nil {
		return nil, err
	}
	id, err := idParam(c, "id")
	if err != nil {
		return nil, err
	}
	intent, err := h.intents.Get(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if intent.UserID != identity.UserID {
		return nil, apperror.ErrNotFound("payment intent")
	}
	return intent, nil
}

func toDepositResponse(p *domain.PaymentIntent) dto.DepositIntentResponse {
	return dto.DepositIntentResponse{
		ID:                p.ID.String(),
		AccountID:         p.AccountID.String(),
		Amount:            p.Money().Format(),
		AmountMinor:       p.Amount,
		Currency:          p.Currency,
		Provider:          p.Provider,
		Status:            string(p.Status),
		ExternalPaymentID: p.ExternalPaymentID,
		PaymentMethod:     p.PaymentMethod,
		ExpiresAt:         formatTimePtr(p.ExpiresAt),
		ConfirmedAt:       formatTimePtr(p.ConfirmedAt),
		CreatedAt:         formatTime(p.CreatedAt),
	}
}
