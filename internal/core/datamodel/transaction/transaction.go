package transaction

import "time"

const (
	StatusPending   = "pending"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

type Transaction struct {
	ID                   int64     `gorm:"primaryKey" db:"id" json:"id"`
	TransactionRequestID string    `gorm:"column:transaction_request_id;not null;uniqueIndex" db:"transaction_request_id" json:"transaction_request_id"`
	TransactionID        *string   `gorm:"column:transaction_id" db:"transaction_id" json:"transaction_id"`
	Phone                string    `gorm:"column:phone;not null" db:"phone" json:"phone"`
	Amount               int64     `gorm:"column:amount;not null" db:"amount" json:"amount"`
	Email                string    `gorm:"column:email" db:"email" json:"email"`
	Reference            string    `gorm:"column:reference" db:"reference" json:"reference"`
	Status               string    `gorm:"column:status;not null;default:pending;index" db:"status" json:"status"`
	ResultCode           *string   `gorm:"column:result_code" db:"result_code" json:"result_code"`
	ResultDescription    *string   `gorm:"column:result_description" db:"result_description" json:"result_description"`
	ReceiptNumber        *string   `gorm:"column:receipt_number" db:"receipt_number" json:"receipt_number"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime" db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime" db:"updated_at" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// Settlement is the set of columns written when a transaction leaves pending.
type Settlement struct {
	Status            string
	ResultCode        string
	ResultDescription string
	ReceiptNumber     *string
	TransactionID     *string
	SettledAt         time.Time
}
