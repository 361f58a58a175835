package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeTransactionInitiated = "transaction.initiated"
	EventTypeTransactionSettled   = "transaction.settled"
)

// Settlement sources.
const (
	SourceCallback   = "callback"
	SourceDirectPoll = "direct_poll"
	SourceManual     = "manual"
)

type TransactionInitiatedEvent struct {
	BaseEvent
	TransactionRequestID string `json:"transaction_request_id"`
	Phone                string `json:"phone"`
	Amount               int64  `json:"amount"`
	Reference            string `json:"reference"`
}

func NewTransactionInitiatedEvent(requestID, phone string, amount int64, reference string) *TransactionInitiatedEvent {
	return &TransactionInitiatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeTransactionInitiated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_request_id": requestID,
				"phone":                  phone,
				"amount":                 amount,
				"reference":              reference,
			},
		},
		TransactionRequestID: requestID,
		Phone:                phone,
		Amount:               amount,
		Reference:            reference,
	}
}

type TransactionSettledEvent struct {
	BaseEvent
	TransactionRequestID string `json:"transaction_request_id"`
	Status               string `json:"status"`
	ResultCode           string `json:"result_code"`
	ReceiptNumber        string `json:"receipt_number,omitempty"`
	Source               string `json:"source"`
}

func NewTransactionSettledEvent(requestID, status, resultCode, receipt, source string) *TransactionSettledEvent {
	return &TransactionSettledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeTransactionSettled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"transaction_request_id": requestID,
				"status":                 status,
				"result_code":            resultCode,
				"receipt_number":         receipt,
				"source":                 source,
			},
		},
		TransactionRequestID: requestID,
		Status:               status,
		ResultCode:           resultCode,
		ReceiptNumber:        receipt,
		Source:               source,
	}
}
