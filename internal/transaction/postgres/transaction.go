package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/stkpush-checkout/internal"
	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
	transactionpkg "github.com/frahmantamala/stkpush-checkout/internal/transaction"
)

var _ transactionpkg.RepositoryAPI = (*TransactionRepository)(nil)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{
		db: db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, t *txdata.Transaction) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("insert transaction %s: %w", t.TransactionRequestID, err)
	}
	return nil
}

func (r *TransactionRepository) GetByRequestID(ctx context.Context, requestID string) (*txdata.Transaction, error) {
	var t txdata.Transaction
	err := r.db.WithContext(ctx).Where("transaction_request_id = ?", requestID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", requestID, err)
	}
	return &t, nil
}

// SettleIfPending writes the terminal columns only while the row is still
// pending. It reports whether this call performed the transition.
func (r *TransactionRepository) SettleIfPending(ctx context.Context, requestID string, s txdata.Settlement) (bool, error) {
	updates := map[string]interface{}{
		"status":             s.Status,
		"result_code":        s.ResultCode,
		"result_description": s.ResultDescription,
		"receipt_number":     s.ReceiptNumber,
		"updated_at":         s.SettledAt,
	}

	if s.TransactionID != nil {
		updates["transaction_id"] = *s.TransactionID
	}

	result := r.db.WithContext(ctx).
		Model(&txdata.Transaction{}).
		Where("transaction_request_id = ? AND status = ?", requestID, txdata.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("settle transaction %s: %w", requestID, result.Error)
	}

	return result.RowsAffected == 1, nil
}
