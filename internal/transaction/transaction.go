package transaction

import (
	"regexp"
	"strings"
	"time"

	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
)

const (
	StatusPending   = txdata.StatusPending
	StatusSuccess   = txdata.StatusSuccess
	StatusFailed    = txdata.StatusFailed
	StatusCancelled = txdata.StatusCancelled
)

// Provider result codes with a fixed meaning.
const (
	ResultCodeSuccess         = "0"
	ResultCodeCancelledByUser = "1032"
	ResultCodeCancelled       = "1"
	ResultCodeInProgress      = "1037"

	receiptSentinel = "N/A"
)

var kenyanMSISDN = regexp.MustCompile(`^254[17]\d{8}$`)

// Classify maps a normalized provider result code to a transaction status.
// It is total: every code, including the empty one, has exactly one status.
func Classify(code string) string {
	switch strings.TrimSpace(code) {
	case ResultCodeSuccess:
		return StatusSuccess
	case ResultCodeCancelledByUser, ResultCodeCancelled:
		return StatusCancelled
	case "", ResultCodeInProgress:
		return StatusPending
	default:
		return StatusFailed
	}
}

func IsTerminal(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NormalizePhone rewrites 07.., +2547.., 2547.. and 7.. into 2547...
func NormalizePhone(raw string) string {
	phone := strings.Join(strings.Fields(raw), "")
	switch {
	case phone == "":
		return ""
	case strings.HasPrefix(phone, "0"):
		return "254" + phone[1:]
	case strings.HasPrefix(phone, "+"):
		return phone[1:]
	case strings.HasPrefix(phone, "254"):
		return phone
	default:
		return "254" + phone
	}
}

func IsValidMSISDN(phone string) bool {
	return kenyanMSISDN.MatchString(phone)
}

// NormalizeReceipt returns nil for the provider's "no receipt" sentinel and
// for any status other than success.
func NormalizeReceipt(status, receipt string) *string {
	receipt = strings.TrimSpace(receipt)
	if status != StatusSuccess || receipt == "" || strings.EqualFold(receipt, receiptSentinel) {
		return nil
	}
	return &receipt
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// NewSettlement builds the terminal write for a provider outcome. ok is
// false when the outcome is still pending and nothing must be written.
func NewSettlement(code, description, receipt, providerTxnID string, at time.Time) (settlement txdata.Settlement, ok bool) {
	status := Classify(code)
	if status == StatusPending {
		return txdata.Settlement{}, false
	}

	return txdata.Settlement{
		Status:            status,
		ResultCode:        strings.TrimSpace(code),
		ResultDescription: description,
		ReceiptNumber:     NormalizeReceipt(status, receipt),
		TransactionID:     optional(providerTxnID),
		SettledAt:         at,
	}, true
}

func NewPending(requestID, phone string, amount int64, email, reference string) *txdata.Transaction {
	now := time.Now().UTC()
	return &txdata.Transaction{
		TransactionRequestID: requestID,
		Phone:                phone,
		Amount:               amount,
		Email:                email,
		Reference:            reference,
		Status:               StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// ToPaymentView maps a stored row to the shape the checkout client polls.
func ToPaymentView(t *txdata.Transaction) PaymentView {
	return PaymentView{
		Status:             t.Status,
		Amount:             t.Amount,
		PhoneNumber:        t.Phone,
		MpesaReceiptNumber: t.ReceiptNumber,
		ResultDesc:         t.ResultDescription,
		ResultCode:         t.ResultCode,
		Timestamp:          t.UpdatedAt,
	}
}
