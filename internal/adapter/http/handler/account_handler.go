package handler

import (
	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/money"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AccountHandler serves balance and ledger history reads.
type AccountHandler struct {
	ledger ports.LedgerService
}

func NewAccountHandler(ledger ports.LedgerService) *AccountHandler {
	return &AccountHandler{ledger: ledger}
}

// GetBalance handles GET /api/v1/accounts/:currency/balance.
func (h *AccountHandler) GetBalance(c *gin.Context) {
	identity, err := identityFrom(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	b, err := h.ledger.BalanceFor(c.Request.Context(), identity.UserID, c.Param("currency"))
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.BalanceResponse{
		Currency:     b.Balance.Currency,
		Balance:      b.Balance.Format(),
		BalanceMinor: b.Balance.Minor,
	}
	if b.Account != nil {
		id := b.Account.ID.String()
		resp.AccountID = &id
	}
	response.OK(c, resp)
}

// ListEntries handles GET /api/v1/accounts/:currency/entries, newest first.
func (h *AccountHandler) ListEntries(c *gin.Context) {
	identity, err := identityFrom(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > maxPageSize {
		q.PageSize = defaultPageSize
	}

	b, err := h.ledger.BalanceFor(c.Request.Context(), identity.UserID, c.Param("currency"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if b.Account == nil {
		response.OK(c, dto.LedgerEntryListResponse{
			Items:    []dto.LedgerEntryResponse{},
			Page:     q.Page,
			PageSize: q.PageSize,
		})
		return
	}

	entries, total, err := h.ledger.History(c.Request.Context(), b.Account.ID, q.Page, q.PageSize)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.LedgerEntryResponse, len(entries))
	for i := range entries {
		items[i] = toLedgerEntryResponse(&entries[i], b.Account.Currency)
	}

	totalPages := int(total) / q.PageSize
	if int(total)%q.PageSize != 0 {
		totalPages++
	}

	response.OK(c, dto.LedgerEntryListResponse{
		Items:      items,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: totalPages,
	})
}

func toLedgerEntryResponse(e *domain.LedgerEntry, currency string) dto.LedgerEntryResponse {
	return dto.LedgerEntryResponse{
		ID:            e.ID.String(),
		Type:          string(e.Type),
		Amount:        money.New(e.Amount, currency).Format(),
		AmountMinor:   e.Amount,
		ReferenceType: string(e.ReferenceType),
		ReferenceID:   e.ReferenceID,
		CreatedAt:     formatTime(e.CreatedAt),
	}
}
