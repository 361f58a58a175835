package transaction

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type ReconcileJob struct {
	TransactionRequestID string
}

type SweeperServiceAPI interface {
	StalePending(ctx context.Context, staleAfter, maxAge time.Duration, limit int) ([]string, error)
	ReconcileWithProvider(ctx context.Context, requestID string) (*ProviderStatus, error)
}

type Worker struct {
	ID         int
	WorkerPool chan chan ReconcileJob
	JobChannel chan ReconcileJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan ReconcileJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan ReconcileJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, ReconcileJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "transaction_request_id", job.TransactionRequestID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	MaxAge     time.Duration
	BatchSize  int
	MaxWorkers int
	QueueSize  int
}

// Sweeper finds rows stuck in pending and reconciles them against the
// provider through a bounded worker pool.
type Sweeper struct {
	service SweeperServiceAPI
	config  SweeperConfig
	logger  *slog.Logger

	jobQueue   chan ReconcileJob
	workerPool chan chan ReconcileJob
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once

	mu      sync.Mutex
	queued  map[string]struct{}
	settled int
	stopped bool
}

func NewSweeper(service SweeperServiceAPI, config SweeperConfig, logger *slog.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.BatchSize
	}

	return &Sweeper{
		service:    service,
		config:     config,
		logger:     logger,
		jobQueue:   make(chan ReconcileJob, config.QueueSize),
		workerPool: make(chan chan ReconcileJob, config.MaxWorkers),
		queued:     make(map[string]struct{}),
	}
}

// Start launches the workers and the sweep loop. The first sweep runs
// immediately. Start after Shutdown does nothing.
func (s *Sweeper) Start(parent context.Context) {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}

		s.ctx, s.cancel = context.WithCancel(parent)

		for i := 0; i < s.config.MaxWorkers; i++ {
			worker := NewWorker(i, s.workerPool, s.logger)
			worker.Start(s.ctx, &s.wg, s.process)
		}

		s.wg.Add(2)
		go s.dispatch()
		go s.loop()

		s.logger.Info("reconcile sweeper started",
			"max_workers", s.config.MaxWorkers,
			"queue_size", cap(s.jobQueue),
			"interval", s.config.Interval,
			"stale_after", s.config.StaleAfter,
			"max_age", s.config.MaxAge)
	})
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Error("stale pending sweep failed", "error", err)
		}

		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}
	}
}

// Sweep queues every stale pending row not already queued and returns how
// many were added. Rows that do not fit in the queue wait for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.service.StalePending(ctx, s.config.StaleAfter, s.config.MaxAge, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, id := range ids {
		if !s.markQueued(id) {
			continue
		}

		select {
		case s.jobQueue <- ReconcileJob{TransactionRequestID: id}:
			added++
		default:
			s.unmarkQueued(id)
			s.logger.Warn("reconcile queue full, deferring to next sweep",
				"transaction_request_id", id,
				"queue_capacity", cap(s.jobQueue))
		}
	}

	if len(ids) > 0 {
		s.logger.Info("stale pending sweep", "found", len(ids), "queued", added)
	}
	return added, nil
}

func (s *Sweeper) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:
			select {
			case jobChannel := <-s.workerPool:
				select {
				case jobChannel <- job:
				case <-s.ctx.Done():
					return
				}
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			s.logger.Info("reconcile dispatcher shutting down")
			return
		}
	}
}

func (s *Sweeper) process(ctx context.Context, job ReconcileJob) {
	defer s.unmarkQueued(job.TransactionRequestID)

	result, err := s.service.ReconcileWithProvider(ctx, job.TransactionRequestID)
	if err != nil {
		s.logger.Warn("reconcile job failed",
			"error", err,
			"transaction_request_id", job.TransactionRequestID)
		return
	}

	if result.Applied {
		s.mu.Lock()
		s.settled++
		s.mu.Unlock()
	}

	s.logger.Debug("reconcile job done",
		"transaction_request_id", job.TransactionRequestID,
		"status", result.Status,
		"applied", result.Applied)
}

// Settled reports how many rows this sweeper moved out of pending.
func (s *Sweeper) Settled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

func (s *Sweeper) markQueued(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queued[id]; ok {
		return false
	}
	s.queued[id] = struct{}{}
	return true
}

func (s *Sweeper) unmarkQueued(id string) {
	s.mu.Lock()
	delete(s.queued, id)
	s.mu.Unlock()
}

func (s *Sweeper) Shutdown() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.logger.Info("shutting down reconcile sweeper")
	cancel()
	s.wg.Wait()
	s.logger.Info("reconcile sweeper shutdown complete")
}
