package transaction_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/stkpush-checkout/internal/transaction"
)

var _ = Describe("Sweeper", func() {
	var (
		repo     *mockRepository
		reader   *mockReader
		provider *mockProvider
		service  *transaction.Service
		sweeper  *transaction.Sweeper
	)

	BeforeEach(func() {
		repo = newMockRepository()
		reader = &mockReader{}
		provider = newMockProvider()
		service = transaction.NewService(repo, reader, provider, nil, discardLogger(), transaction.Options{})
		sweeper = transaction.NewSweeper(service, transaction.SweeperConfig{
			Interval:   time.Hour,
			StaleAfter: 30 * time.Second,
			MaxAge:     15 * time.Minute,
			BatchSize:  10,
			MaxWorkers: 2,
			QueueSize:  10,
		}, discardLogger())
	})

	AfterEach(func() {
		sweeper.Shutdown()
	})

	It("reconciles every stale pending row on the first sweep", func() {
		repo.seed("req-1", "254712345678", transaction.StatusPending)
		repo.seed("req-2", "254712345678", transaction.StatusPending)
		reader.stale = []string{"req-1", "req-2"}
		provider.status = statusBody(`{"ResultCode":"0","TransactionReceipt":"SGR7XYZ123"}`)

		sweeper.Start(context.Background())

		Eventually(sweeper.Settled).Should(Equal(2))
		Expect(repo.row("req-1").Status).To(Equal(transaction.StatusSuccess))
		Expect(repo.row("req-2").Status).To(Equal(transaction.StatusSuccess))
	})

	It("leaves rows pending while the provider still reports pending", func() {
		repo.seed("req-1", "254712345678", transaction.StatusPending)
		reader.stale = []string{"req-1"}
		provider.status = statusBody(`{"ResultCode":"1037"}`)

		sweeper.Start(context.Background())

		Eventually(func() int { return provider.statusCallsFor("req-1") }).Should(BeNumerically(">=", 1))
		Consistently(sweeper.Settled, 100*time.Millisecond).Should(Equal(0))
		Expect(repo.row("req-1").Status).To(Equal(transaction.StatusPending))
	})

	It("survives provider failures", func() {
		repo.seed("req-1", "254712345678", transaction.StatusPending)
		reader.stale = []string{"req-1"}
		provider.statusError = errors.New("timeout")

		sweeper.Start(context.Background())

		Eventually(func() int { return provider.statusCallsFor("req-1") }).Should(BeNumerically(">=", 1))
		Expect(repo.row("req-1").Status).To(Equal(transaction.StatusPending))
	})

	It("does not start once shut down", func() {
		repo.seed("req-1", "254712345678", transaction.StatusPending)
		reader.stale = []string{"req-1"}

		sweeper.Shutdown()
		sweeper.Start(context.Background())

		Consistently(func() int { return provider.statusCallsFor("req-1") }, 100*time.Millisecond).Should(Equal(0))
	})

	It("shuts down cleanly while Start is still running", func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sweeper.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			sweeper.Shutdown()
		}()
		wg.Wait()

		done := make(chan struct{})
		go func() {
			sweeper.Shutdown()
			close(done)
		}()
		Eventually(done).Should(BeClosed())
	})

	It("reports listing failures from Sweep", func() {
		reader.listError = errors.New("database down")
		_, err := sweeper.Sweep(context.Background())
		Expect(err).To(MatchError(ContainSubstring("database down")))
	})
})
