package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
	transactionpkg "github.com/frahmantamala/stkpush-checkout/internal/transaction"
)

var _ transactionpkg.ReaderAPI = (*RecentReader)(nil)

const transactionColumns = `id, transaction_request_id, transaction_id, phone, amount, email, reference,
	status, result_code, result_description, receipt_number, created_at, updated_at`

// RecentReader serves the read-only listings with plain SQL.
type RecentReader struct {
	db *sqlx.DB
}

func NewRecentReader(db *sqlx.DB) *RecentReader {
	return &RecentReader{db: db}
}

func (r *RecentReader) ListRecent(ctx context.Context, limit int, phoneContains string) ([]*txdata.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	args := []interface{}{}

	if phoneContains != "" {
		query += ` WHERE phone LIKE ?`
		args = append(args, "%"+phoneContains+"%")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows := []*txdata.Transaction{}
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list recent transactions: %w", err)
	}
	return rows, nil
}

// ListStalePending returns ids of pending rows last touched before
// updatedBefore and created after createdAfter, oldest first.
func (r *RecentReader) ListStalePending(ctx context.Context, updatedBefore, createdAfter time.Time, limit int) ([]string, error) {
	query := r.db.Rebind(`SELECT transaction_request_id FROM transactions
		WHERE status = ? AND updated_at < ? AND created_at > ?
		ORDER BY created_at ASC
		LIMIT ?`)

	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, txdata.StatusPending, updatedBefore, createdAfter, limit); err != nil {
		return nil, fmt.Errorf("list stale pending transactions: %w", err)
	}
	return ids, nil
}
