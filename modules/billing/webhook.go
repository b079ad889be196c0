package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/competitorwatch/handler"
	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	stripebilling "github.com/dmitrymomot/competitorwatch/svc/billing"
)

const signatureHeader = "Stripe-Signature"

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// webhook acknowledges every authenticated delivery with 200 so the
// processor stops retrying. Processing failures are reported in the body and
// kept on the event record. Deliveries that cannot be verified answer 400.
func (h *routes) webhook(ctx handler.Context, _ struct{}) handler.Response {
	r := ctx.Request()

	header := r.Header.Get(signatureHeader)
	if header == "" {
		return errorResponse(http.StatusBadRequest, "No signature")
	}

	payload, err := io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, h.cfg.WebhookMaxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WarnContext(ctx, "webhook payload over limit", slog.Int64("limit", tooLarge.Limit))
		}
		return errorResponse(http.StatusBadRequest, "Invalid payload")
	}

	receipt, err := h.webhooks.Receive(ctx, payload, header)
	switch {
	case errors.Is(err, stripebilling.ErrAuthenticationFailed):
		h.logger.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
		return errorResponse(http.StatusBadRequest, "Invalid signature")
	case err != nil:
		h.logger.ErrorContext(ctx, "webhook receive failed", logger.EventID(receipt.EventID), logger.Error(err))
		return handler.JSONBody(webhookResponse{Received: true, Error: "Webhook handler failed"})
	case receipt.AlreadyProcessed:
		return handler.JSONBody(webhookResponse{Received: true, Status: "already_processed"})
	default:
		return handler.JSONBody(webhookResponse{Received: true, Error: receipt.Error})
	}
}
