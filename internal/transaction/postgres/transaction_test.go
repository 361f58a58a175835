package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/stkpush-checkout/internal"
	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
)

func strPtr(s string) *string { return &s }

func openTestDB() (*gorm.DB, *sqlx.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	gomega.Expect(err).ToNot(gomega.HaveOccurred())

	sqlDB, err := db.DB()
	gomega.Expect(err).ToNot(gomega.HaveOccurred())
	// every pooled connection to :memory: would otherwise see its own database
	sqlDB.SetMaxOpenConns(1)

	gomega.Expect(db.AutoMigrate(&txdata.Transaction{})).To(gomega.Succeed())

	return db, sqlx.NewDb(sqlDB, "sqlite3")
}

func pendingRow(requestID, phone string, created time.Time) *txdata.Transaction {
	return &txdata.Transaction{
		TransactionRequestID: requestID,
		Phone:                phone,
		Amount:               139,
		Email:                "payer@example.com",
		Reference:            "CRFF-1-1",
		Status:               txdata.StatusPending,
		CreatedAt:            created,
		UpdatedAt:            created,
	}
}

var _ = ginkgo.Describe("TransactionRepository", func() {
	var (
		ctx  context.Context
		db   *gorm.DB
		repo *TransactionRepository
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		db, _ = openTestDB()
		repo = NewTransactionRepository(db)
	})

	ginkgo.Describe("Create", func() {
		ginkgo.It("should insert a pending row and set ID", func() {
			row := pendingRow("req-1", "254712345678", time.Now().UTC())
			gomega.Expect(repo.Create(ctx, row)).To(gomega.Succeed())
			gomega.Expect(row.ID).To(gomega.BeNumerically(">", 0))
		})

		ginkgo.It("should reject a duplicate transaction_request_id", func() {
			gomega.Expect(repo.Create(ctx, pendingRow("req-1", "254712345678", time.Now().UTC()))).To(gomega.Succeed())
			err := repo.Create(ctx, pendingRow("req-1", "254798765432", time.Now().UTC()))
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})

	ginkgo.Describe("GetByRequestID", func() {
		ginkgo.It("should return the stored row", func() {
			gomega.Expect(repo.Create(ctx, pendingRow("req-1", "254712345678", time.Now().UTC()))).To(gomega.Succeed())

			found, err := repo.GetByRequestID(ctx, "req-1")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(found.Phone).To(gomega.Equal("254712345678"))
			gomega.Expect(found.Status).To(gomega.Equal(txdata.StatusPending))
			gomega.Expect(found.ReceiptNumber).To(gomega.BeNil())
		})

		ginkgo.It("should return ErrTransactionNotFound for an unknown id", func() {
			_, err := repo.GetByRequestID(ctx, "missing")
			gomega.Expect(err).To(gomega.MatchError(apperrors.ErrTransactionNotFound))
		})
	})

	ginkgo.Describe("SettleIfPending", func() {
		var settledAt time.Time

		ginkgo.BeforeEach(func() {
			settledAt = time.Now().UTC().Add(time.Minute)
			gomega.Expect(repo.Create(ctx, pendingRow("req-1", "254712345678", time.Now().UTC()))).To(gomega.Succeed())
		})

		ginkgo.It("should write the terminal columns on a pending row", func() {
			applied, err := repo.SettleIfPending(ctx, "req-1", txdata.Settlement{
				Status:            txdata.StatusSuccess,
				ResultCode:        "0",
				ResultDescription: "The service request is processed successfully.",
				ReceiptNumber:     strPtr("SGR7XYZ123"),
				TransactionID:     strPtr("ws_CO_123"),
				SettledAt:         settledAt,
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(applied).To(gomega.BeTrue())

			found, err := repo.GetByRequestID(ctx, "req-1")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(found.Status).To(gomega.Equal(txdata.StatusSuccess))
			gomega.Expect(*found.ResultCode).To(gomega.Equal("0"))
			gomega.Expect(*found.ReceiptNumber).To(gomega.Equal("SGR7XYZ123"))
			gomega.Expect(*found.TransactionID).To(gomega.Equal("ws_CO_123"))
		})

		ginkgo.It("should not touch a row that already left pending", func() {
			applied, err := repo.SettleIfPending(ctx, "req-1", txdata.Settlement{
				Status:            txdata.StatusCancelled,
				ResultCode:        "1032",
				ResultDescription: "Request cancelled by user",
				SettledAt:         settledAt,
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(applied).To(gomega.BeTrue())

			applied, err = repo.SettleIfPending(ctx, "req-1", txdata.Settlement{
				Status:        txdata.StatusSuccess,
				ResultCode:    "0",
				ReceiptNumber: strPtr("SGR7XYZ123"),
				SettledAt:     settledAt.Add(time.Minute),
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(applied).To(gomega.BeFalse())

			found, err := repo.GetByRequestID(ctx, "req-1")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(found.Status).To(gomega.Equal(txdata.StatusCancelled))
			gomega.Expect(*found.ResultCode).To(gomega.Equal("1032"))
			gomega.Expect(found.ReceiptNumber).To(gomega.BeNil())
		})

		ginkgo.It("should report false for an unknown id", func() {
			applied, err := repo.SettleIfPending(ctx, "missing", txdata.Settlement{
				Status:     txdata.StatusFailed,
				ResultCode: "2001",
				SettledAt:  settledAt,
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(applied).To(gomega.BeFalse())
		})
	})
})

var _ = ginkgo.Describe("RecentReader", func() {
	var (
		ctx    context.Context
		repo   *TransactionRepository
		reader *RecentReader
		now    time.Time
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		db, sdb := openTestDB()
		repo = NewTransactionRepository(db)
		reader = NewRecentReader(sdb)
		now = time.Now().UTC().Truncate(time.Second)
	})

	ginkgo.Describe("ListRecent", func() {
		ginkgo.BeforeEach(func() {
			for i := 0; i < 12; i++ {
				phone := "254712345678"
				if i%2 == 1 {
					phone = "254798765432"
				}
				id := "req-" + string(rune('a'+i))
				gomega.Expect(repo.Create(ctx, pendingRow(id, phone, now.Add(time.Duration(i)*time.Minute)))).To(gomega.Succeed())
			}
		})

		ginkgo.It("should return the newest rows first up to the limit", func() {
			rows, err := reader.ListRecent(ctx, 10, "")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(rows).To(gomega.HaveLen(10))
			gomega.Expect(rows[0].TransactionRequestID).To(gomega.Equal("req-l"))
			gomega.Expect(rows[9].TransactionRequestID).To(gomega.Equal("req-c"))
		})

		ginkgo.It("should filter by phone substring", func() {
			rows, err := reader.ListRecent(ctx, 10, "798765")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(rows).To(gomega.HaveLen(6))
			for _, row := range rows {
				gomega.Expect(row.Phone).To(gomega.Equal("254798765432"))
			}
		})

		ginkgo.It("should return an empty slice when nothing matches", func() {
			rows, err := reader.ListRecent(ctx, 10, "254100000000")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(rows).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("ListStalePending", func() {
		ginkgo.It("should list only pending rows inside the window", func() {
			gomega.Expect(repo.Create(ctx, pendingRow("fresh", "254712345678", now.Add(-10*time.Second)))).To(gomega.Succeed())
			gomega.Expect(repo.Create(ctx, pendingRow("stale", "254712345678", now.Add(-2*time.Minute)))).To(gomega.Succeed())
			gomega.Expect(repo.Create(ctx, pendingRow("ancient", "254712345678", now.Add(-time.Hour)))).To(gomega.Succeed())
			gomega.Expect(repo.Create(ctx, pendingRow("settled", "254712345678", now.Add(-3*time.Minute)))).To(gomega.Succeed())

			_, err := repo.SettleIfPending(ctx, "settled", txdata.Settlement{
				Status:     txdata.StatusFailed,
				ResultCode: "2001",
				SettledAt:  now.Add(-3 * time.Minute),
			})
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			ids, err := reader.ListStalePending(ctx, now.Add(-30*time.Second), now.Add(-15*time.Minute), 50)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(ids).To(gomega.Equal([]string{"stale"}))
		})
	})
})
