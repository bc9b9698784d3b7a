package handler

import (
	"errors"
	"io"
	"net/http"

	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler is the single ingestion point for provider notifications.
type WebhookHandler struct {
	reconciler ports.ReconcilerService
}

func NewWebhookHandler(reconciler ports.ReconcilerService) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// Receive handles POST /api/v1/webhooks/:provider. Every handled outcome,
// unmatched and unknown statuses included, is acknowledged with 200 so the
// provider stops retrying. Signature and payload failures answer 4xx and
// storage failures 503.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	var readErr error
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			readErr = apperror.New(apperror.CodeMalformedPayload, "payload too large", http.StatusRequestEntityTooLarge)
		} else {
			readErr = apperror.ErrMalformedPayload(err)
		}
	}

	// An unreadable body still goes through the reconciler so the rejection is audited.
	result, err := h.reconciler.HandleWebhook(c.Request.Context(), ports.WebhookInput{
		Provider: c.Param("provider"),
		Payload:  body,
		Headers:  domain.FlattenHeaders(c.Request.Header),
		ReadErr:  readErr,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWebhookAck(result))
}

func toWebhookAck(r *ports.WebhookResult) dto.WebhookAckResponse {
	ack := dto.WebhookAckResponse{
		EventID: r.EventID.String(),
		Outcome: string(r.Outcome),
	}
	if r.Order != nil {
		id := r.Order.ID.String()
		status := string(r.Order.Status)
		ack.OrderID = &id
		ack.OrderStatus = &status
	}
	return ack
}
