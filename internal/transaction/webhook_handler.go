package transaction

import (
	"log/slog"
	"net/http"

	pftypes "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/pesaflux"
	"github.com/frahmantamala/stkpush-checkout/internal/transport"
)

// WebhookHandler receives the provider's asynchronous result.
type WebhookHandler struct {
	*transport.BaseHandler
	service ServiceAPI
	logger  *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, service ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		service:     service,
		logger:      logger,
	}
}

// HandlePaymentCallback handles POST /api/v1/payment/callback
func (h *WebhookHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var payload pftypes.CallbackPayload
	if err := h.DecodeJSON(r, &payload); err != nil {
		h.logger.Error("invalid payment callback request", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.logger.Info("received payment callback",
		"transaction_request_id", payload.RequestID(),
		"result_code", payload.ResultCode.String(),
		"transaction_id", payload.TransactionID)

	status, err := h.service.HandleCallback(r.Context(), &payload)
	if err != nil {
		h.logger.Warn("failed to process payment callback",
			"error", err,
			"transaction_request_id", payload.RequestID())
		h.HandleServiceError(w, err)
		return
	}

	message := "callback processed successfully"
	if status == StatusPending {
		message = "callback acknowledged, payment still pending"
	}

	h.WriteJSON(w, http.StatusOK, CallbackResponse{
		Status:  "success",
		Message: message,
	})
}
