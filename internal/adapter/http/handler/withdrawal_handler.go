package handler

import (
	"context"

	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WithdrawalHandler handles user and admin withdrawal endpoints.
type WithdrawalHandler struct {
	withdrawals     ports.WithdrawalService
	defaultCurrency string
}

func NewWithdrawalHandler(withdrawals ports.WithdrawalService, defaultCurrency string) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals, defaultCurrency: defaultCurrency}
}

// Create handles POST /api/v1/withdrawals.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	identity, err := identityFrom(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.CreateWithdrawalRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	req.Notes = dto.Sanitize(req.Notes)

	amount, err := parseAmount(req.Amount, currencyOr(req.Currency, h.defaultCurrency))
	if err != nil {
		response.Error(c, err)
		return
	}

	w, err := h.withdrawals.CreateWithdrawal(c.Request.Context(), ports.CreateWithdrawalRequest{
		UserID:         identity.UserID,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toWithdrawalResponse(w))
}

// Get handles GET /api/v1/withdrawals/:id. Another user's withdrawal
// reads as not found.
func (h *WithdrawalHandler) Get(c *gin.Context) {
	identity, err := identityFrom(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	w, err := h.withdrawals.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if w.UserID != identity.UserID {
		response.Error(c, apperror.ErrNotFound("withdrawal"))
		return
	}
	response.OK(c, toWithdrawalResponse(w))
}

// Approve handles POST /api/v1/admin/withdrawals/:id/approve.
func (h *WithdrawalHandler) Approve(c *gin.Context) {
	h.decide(c, h.withdrawals.Approve)
}

// Reject handles POST /api/v1/admin/withdrawals/:id/reject.
func (h *WithdrawalHandler) Reject(c *gin.Context) {
	h.decide(c, h.withdrawals.Reject)
}

type decision func(ctx context.Context, actor domain.Identity, id uuid.UUID, notes string) (*domain.Withdrawal, error)

func (h *WithdrawalHandler) decide(c *gin.Context, fn decision) {
	actor, err := identityFrom(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.DecisionRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			response.Error(c, err)
			return
		}
		dto.SanitizeStruct(&req)
	}

	w, err := fn(c.Request.Context(), actor, id, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWithdrawalResponse(w))
}

// Payout handles POST /api/v1/admin/withdrawals/:id/payout.
func (h *WithdrawalHandler) Payout(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}

	var req dto.PayoutRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}

	order, err := h.withdrawals.RecordPayout(c.Request.Context(), id, ports.PayoutRequest{
		Provider:          req.Provider,
		ProviderPaymentID: req.ProviderPaymentID,
		PaymentMethod:     req.PaymentMethod,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, toOrderResponse(order))
}

func toWithdrawalResponse(w *domain.Withdrawal) dto.WithdrawalResponse {
	resp := dto.WithdrawalResponse{
		ID:                w.ID.String(),
		AccountID:         w.AccountID.String(),
		Amount:            w.Money().Format(),
		AmountMinor:       w.Amount,
		Currency:          w.Currency,
		Status:            string(w.Status),
		Notes:             w.Notes,
		ProviderPaymentID: w.ProviderPaymentID,
		ApprovedBy:        uuidPtrString(w.ApprovedByUserID),
		RejectedBy:        uuidPtrString(w.RejectedByUserID),
		CreatedAt:         formatTime(w.CreatedAt),
		PaidAt:            formatTimePtr(w.PaidAt),
	}
	switch {
	case w.ApprovedAt != nil:
		resp.DecidedAt = formatTimePtr(w.ApprovedAt)
	case w.RejectedAt != nil:
		resp.DecidedAt = formatTimePtr(w.RejectedAt)
	}
	return resp
}

func toOrderResponse(o *domain.Order) dto.OrderResponse {
	return dto.OrderResponse{
		ID:                o.ID.String(),
		ExternalOrderID:   o.ExternalOrderID,
		Kind:              string(o.Kind),
		Provider:          o.Provider,
		ProviderPaymentID: o.ProviderPaymentIDText,
		Status:            string(o.Status),
		StatusDetail:      o.StatusDetail,
		Credited:          o.Credited,
	}
}
