package transaction_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pftypes "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/pesaflux"
	"github.com/frahmantamala/stkpush-checkout/internal/transaction"
	"github.com/frahmantamala/stkpush-checkout/internal/transport"
)

func doJSON(router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

var _ = Describe("Handler", func() {
	var (
		repo     *mockRepository
		reader   *mockReader
		provider *mockProvider
		router   chi.Router
	)

	BeforeEach(func() {
		repo = newMockRepository()
		reader = &mockReader{}
		provider = newMockProvider()
		logger := discardLogger()
		service := transaction.NewService(repo, reader, provider, nil, logger, transaction.Options{})

		base := transport.NewBaseHandler(logger)
		handler := transaction.NewHandler(base, service, logger)
		webhook := transaction.NewWebhookHandler(base, service, logger)

		router = chi.NewRouter()
		router.Post("/initiate-payment", handler.InitiatePayment)
		router.Get("/check-status-db/{id}", handler.CheckStatusDB)
		router.Post("/check-status-db", handler.CheckStatusDB)
		router.Post("/check-pesaflux-status", handler.CheckProviderStatus)
		router.Post("/payment/callback", webhook.HandlePaymentCallback)
		router.Post("/manual-success", handler.ManualSuccess)
		router.Get("/debug-transaction", handler.DebugTransactions)
	})

	Describe("POST /initiate-payment", func() {
		It("returns the provider request id", func() {
			provider.pushResponse = &pftypes.STKPushResponse{Success: "200", TransactionRequestID: "req-1"}
			rec, body := doJSON(router, http.MethodPost, "/initiate-payment", map[string]interface{}{
				"msisdn": "0712345678",
				"amount": 139,
				"email":  "payer@example.com",
			})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["success"]).To(BeTrue())
			Expect(body["transaction_request_id"]).To(Equal("req-1"))
		})

		It("returns 400 for a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/initiate-payment", bytes.NewBufferString("{not json"))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 502 when the provider refuses", func() {
			provider.pushError = errors.New("rejected")
			rec, body := doJSON(router, http.MethodPost, "/initiate-payment", map[string]interface{}{
				"msisdn": "0712345678",
				"amount": 139,
			})
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(body["error"]).To(Equal("Failed to initiate payment"))
		})
	})

	Describe("check-status-db", func() {
		It("returns 400 when the id is missing", func() {
			rec, body := doJSON(router, http.MethodPost, "/check-status-db", map[string]string{})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(body["error"]).To(Equal("Missing transaction_request_id"))
		})

		It("returns 400 for an empty body", func() {
			rec, _ := doJSON(router, http.MethodPost, "/check-status-db", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown id", func() {
			rec, body := doJSON(router, http.MethodGet, "/check-status-db/missing", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(body["error"]).To(Equal("Transaction not found"))
		})

		It("returns the payment view by path and by body", func() {
			row := repo.seed("req-1", "254712345678", transaction.StatusPending)
			row.UpdatedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

			byPath, _ := doJSON(router, http.MethodGet, "/check-status-db/req-1", nil)
			byBody, _ := doJSON(router, http.MethodPost, "/check-status-db", map[string]string{"transaction_request_id": "req-1"})

			for _, rec := range []*httptest.ResponseRecorder{byPath, byBody} {
				Expect(rec.Code).To(Equal(http.StatusOK))
				var resp transaction.CachedStatusResponse
				Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp.Success).To(BeTrue())
				Expect(resp.Payment.Status).To(Equal("pending"))
				Expect(resp.Payment.PhoneNumber).To(Equal("254712345678"))
				Expect(resp.Payment.Amount).To(Equal(int64(139)))
				Expect(resp.Payment.MpesaReceiptNumber).To(BeNil())
				Expect(resp.Payment.Timestamp).To(BeTemporally("==", row.UpdatedAt))
			}
		})
	})

	Describe("POST /check-pesaflux-status", func() {
		It("returns 400 when the id is missing", func() {
			rec, _ := doJSON(router, http.MethodPost, "/check-pesaflux-status", map[string]string{})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns the classified status with the raw provider body", func() {
			repo.seed("req-1", "254712345678", transaction.StatusPending)
			provider.status = statusBody(`{"ResultCode":"0","ResultDesc":"ok","TransactionReceipt":"SGR7XYZ123"}`)

			rec, body := doJSON(router, http.MethodPost, "/check-pesaflux-status", map[string]string{"transaction_request_id": "req-1"})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["success"]).To(BeTrue())
			Expect(body["status"]).To(Equal("success"))
			Expect(body["details"]).To(HaveKeyWithValue("TransactionReceipt", "SGR7XYZ123"))
		})

		It("returns 500 when the provider call fails", func() {
			provider.statusError = errors.New("boom")
			rec, body := doJSON(router, http.MethodPost, "/check-pesaflux-status", map[string]string{"transaction_request_id": "req-1"})
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
			Expect(body["error"]).To(Equal("Failed to check status"))
		})
	})

	Describe("POST /payment/callback", func() {
		It("settles the row and acknowledges", func() {
			repo.seed("req-1", "254712345678", transaction.StatusPending)
			rec, body := doJSON(router, http.MethodPost, "/payment/callback", map[string]interface{}{
				"TransactionRequestID": "req-1",
				"ResultCode":           0,
				"ResultDesc":           "The service request is processed successfully.",
				"TransactionReceipt":   "SGR7XYZ123",
			})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["status"]).To(Equal("success"))
			Expect(repo.row("req-1").Status).To(Equal(transaction.StatusSuccess))
		})

		It("returns 404 for an unknown id", func() {
			rec, _ := doJSON(router, http.MethodPost, "/payment/callback", map[string]interface{}{
				"TransactionRequestID": "missing",
				"ResultCode":           "0",
			})
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 400 without an id", func() {
			rec, _ := doJSON(router, http.MethodPost, "/payment/callback", map[string]interface{}{"ResultCode": "0"})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /manual-success", func() {
		It("forces a pending row to success", func() {
			repo.seed("req-1", "254712345678", transaction.StatusPending)
			rec, body := doJSON(router, http.MethodPost, "/manual-success", map[string]string{"transaction_id": "req-1"})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["transaction_id"]).To(Equal("req-1"))
			Expect(repo.row("req-1").Status).To(Equal(transaction.StatusSuccess))
		})

		It("returns 409 for a cancelled row", func() {
			repo.seed("req-1", "254712345678", transaction.StatusCancelled)
			rec, _ := doJSON(router, http.MethodPost, "/manual-success", map[string]string{"transaction_id": "req-1"})
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("returns 400 without an id", func() {
			rec, _ := doJSON(router, http.MethodPost, "/manual-success", map[string]string{})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /debug-transaction", func() {
		It("returns an empty list with count zero", func() {
			rec, body := doJSON(router, http.MethodGet, "/debug-transaction", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(body["count"]).To(BeEquivalentTo(0))
			Expect(body["transactions"]).To(BeEmpty())
		})

		It("passes the normalized phone filter", func() {
			rec, _ := doJSON(router, http.MethodGet, "/debug-transaction?phone=0712345678", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reader.lastFilter).To(Equal("254712345678"))
		})
	})
})
