package transaction

import (
	"encoding/json"
	"time"

	errors "github.com/frahmantamala/stkpush-checkout/internal"
	"github.com/frahmantamala/stkpush-checkout/internal/core/common/validation"
	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
)

// InitiatePaymentRequest is the body of POST /initiate-payment.
type InitiatePaymentRequest struct {
	MSISDN    string `json:"msisdn"`
	Amount    int64  `json:"amount"`
	Email     string `json:"email"`
	Reference string `json:"reference"`
}

// Validate runs after the phone number has been normalized.
func (r *InitiatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("msisdn", r.MSISDN).
		Required().
		Matches(kenyanMSISDN, "msisdn must be a Safaricom number such as 0712345678", errors.ErrCodeInvalidPhone)
	validator.Field("amount", r.Amount).
		Required().
		MinInt(1, errors.ErrCodeInvalidAmount).
		MaxInt(250000, errors.ErrCodeInvalidAmount)
	validator.Field("email", r.Email).Email().MaxLength(254)
	validator.Field("reference", r.Reference).MaxLength(64)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type InitiatePaymentResponse struct {
	Success              bool   `json:"success"`
	TransactionRequestID string `json:"transaction_request_id"`
	Reference            string `json:"reference"`
}

// StatusRequest is the POST body accepted by both status handlers.
type StatusRequest struct {
	TransactionRequestID string `json:"transaction_request_id"`
}

type PaymentView struct {
	Status             string    `json:"status"`
	Amount             int64     `json:"amount"`
	PhoneNumber        string    `json:"phoneNumber"`
	MpesaReceiptNumber *string   `json:"mpesaReceiptNumber"`
	ResultDesc         *string   `json:"resultDesc"`
	ResultCode         *string   `json:"resultCode"`
	Timestamp          time.Time `json:"timestamp"`
}

type CachedStatusResponse struct {
	Success bool        `json:"success"`
	Payment PaymentView `json:"payment"`
}

type ProviderStatusResponse struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Details json.RawMessage `json:"details"`
}

// ProviderStatus is the service-level result of a direct provider poll.
type ProviderStatus struct {
	Status  string
	Applied bool
	Details json.RawMessage
}

type ManualSuccessRequest struct {
	TransactionID string `json:"transaction_id"`
}

type ManualSuccessResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

type CallbackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type DebugTransactionsResponse struct {
	Success      bool                  `json:"success"`
	Count        int                   `json:"count"`
	Transactions []*txdata.Transaction `json:"transactions"`
}
