package transaction

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/stkpush-checkout/internal"
	pftypes "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/pesaflux"
	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/stkpush-checkout/internal/transport"
)

type ServiceAPI interface {
	InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResponse, error)
	GetCachedStatus(ctx context.Context, requestID string) (*txdata.Transaction, error)
	ReconcileWithProvider(ctx context.Context, requestID string) (*ProviderStatus, error)
	HandleCallback(ctx context.Context, payload *pftypes.CallbackPayload) (string, error)
	ForceSuccess(ctx context.Context, requestID string) error
	ListRecent(ctx context.Context, phone string) ([]*txdata.Transaction, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
		Logger:      logger,
	}
}

// InitiatePayment handles POST /api/v1/initiate-payment
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Logger.Warn("InitiatePayment: failed to parse request body", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	resp, err := h.Service.InitiatePayment(r.Context(), req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// CheckStatusDB handles GET /api/v1/check-status-db/{id} and
// POST /api/v1/check-status-db
func (h *Handler) CheckStatusDB(w http.ResponseWriter, r *http.Request) {
	requestID, err := h.requestIDFrom(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	record, err := h.Service.GetCachedStatus(r.Context(), requestID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, CachedStatusResponse{
		Success: true,
		Payment: ToPaymentView(record),
	})
}

// CheckProviderStatus handles POST /api/v1/check-pesaflux-status
func (h *Handler) CheckProviderStatus(w http.ResponseWriter, r *http.Request) {
	requestID, err := h.requestIDFrom(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.Service.ReconcileWithProvider(r.Context(), requestID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ProviderStatusResponse{
		Success: true,
		Status:  result.Status,
		Details: result.Details,
	})
}

// ManualSuccess handles POST /api/v1/manual-success
func (h *Handler) ManualSuccess(w http.ResponseWriter, r *http.Request) {
	var req ManualSuccessRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if err := h.Service.ForceSuccess(r.Context(), req.TransactionID); err != nil {
		h.Logger.Warn("ManualSuccess: service error", "error", err, "transaction_id", req.TransactionID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ManualSuccessResponse{
		Success:       true,
		Message:       "Transaction marked as successful",
		TransactionID: strings.TrimSpace(req.TransactionID),
	})
}

// DebugTransactions handles GET /api/v1/debug-transaction
func (h *Handler) DebugTransactions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Service.ListRecent(r.Context(), r.URL.Query().Get("phone"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if rows == nil {
		rows = []*txdata.Transaction{}
	}

	h.WriteJSON(w, http.StatusOK, DebugTransactionsResponse{
		Success:      true,
		Count:        len(rows),
		Transactions: rows,
	})
}

func (h *Handler) requestIDFrom(r *http.Request) (string, error) {
	if id := strings.TrimSpace(chi.URLParam(r, "id")); id != "" {
		return id, nil
	}

	var req StatusRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		return "", err
	}

	id := strings.TrimSpace(req.TransactionRequestID)
	if id == "" {
		return "", errors.ErrMissingRequestID
	}
	return id, nil
}
