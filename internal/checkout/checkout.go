package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/stkpush-checkout/internal/transaction"
)

type State string

const (
	StateIdle           State = "idle"
	StateInitiating     State = "initiating"
	StatePolling        State = "polling"
	StateSettledSuccess State = "settled-success"
	StateSettledFailure State = "settled-failure"
	StateTimedOut       State = "timed-out"
)

// Payer-facing messages.
const (
	MessageCancelled    = "Payment cancelled by user. Please try again."
	MessageFailed       = "Payment failed. Please try again."
	MessageTimeout      = "Payment timeout. Please try again."
	MessageUnverifiable = "Unable to verify payment status."
)

var ErrStopped = errors.New("checkout: polling stopped")

// API is the server surface the controller drives.
type API interface {
	InitiatePayment(ctx context.Context, req transaction.InitiatePaymentRequest) (*transaction.InitiatePaymentResponse, error)
	CheckStatusDB(ctx context.Context, requestID string) (*transaction.CachedStatusResponse, error)
	CheckProviderStatus(ctx context.Context, requestID string) (*transaction.ProviderStatusResponse, error)
}

type Config struct {
	PollInterval    time.Duration
	MaxAttempts     int
	DirectPollAfter int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 24
	}
	if c.DirectPollAfter <= 0 {
		c.DirectPollAfter = 7
	}
	return c
}

// Outcome is what a session ends with.
type Outcome struct {
	State                State
	TransactionRequestID string
	Status               string
	Receipt              *string
	Message              string
	Attempts             int
	Err                  error
}

type Controller struct {
	api       API
	scheduler Scheduler
	config    Config
	logger    *slog.Logger
}

func NewController(api API, scheduler Scheduler, config Config, logger *slog.Logger) *Controller {
	if scheduler == nil {
		scheduler = RealScheduler()
	}
	return &Controller{
		api:       api,
		scheduler: scheduler,
		config:    config.withDefaults(),
		logger:    logger,
	}
}

// Start initiates the charge and begins polling. When initiation fails the
// error is returned and nothing is scheduled; the caller may try again.
func (c *Controller) Start(ctx context.Context, req transaction.InitiatePaymentRequest) (*Session, error) {
	c.logger.Debug("checkout state", "state", StateInitiating, "msisdn", req.MSISDN)

	resp, err := c.api.InitiatePayment(ctx, req)
	if err != nil {
		c.logger.Warn("payment initiation failed", "error", err, "state", StateIdle)
		return nil, err
	}

	return c.Resume(ctx, resp.TransactionRequestID), nil
}

// Resume polls an already initiated transaction.
func (c *Controller) Resume(ctx context.Context, requestID string) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		controller: c,
		requestID:  requestID,
		state:      StatePolling,
		ctx:        sctx,
		cancel:     cancel,
		done:       make(chan Outcome, 1),
	}

	context.AfterFunc(sctx, s.Stop)

	s.mu.Lock()
	s.timer = c.scheduler.AfterFunc(0, s.cycle)
	s.mu.Unlock()

	c.logger.Info("polling payment status",
		"transaction_request_id", requestID,
		"interval", c.config.PollInterval,
		"max_attempts", c.config.MaxAttempts)

	return s
}

// Session is one polling chain. It ends exactly once, on a terminal status,
// a timeout, or Stop.
type Session struct {
	controller *Controller
	requestID  string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	attempts int
	timer    Timer
	finished bool
	done     chan Outcome
}

func (s *Session) TransactionRequestID() string {
	return s.requestID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Done delivers the final outcome once.
func (s *Session) Done() <-chan Outcome {
	return s.done
}

// Wait blocks for the outcome or ctx.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case out := <-s.done:
		return out, out.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Stop abandons the chain. No further request is issued after it returns,
// except one that is already in flight.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	out := s.outcomeLocked(s.state, "", nil, "", ErrStopped)
	s.finishLocked(out)
	s.mu.Unlock()

	s.controller.logger.Info("payment polling stopped",
		"transaction_request_id", s.requestID,
		"attempts", out.Attempts)
}

func (s *Session) cycle() {
	if s.isFinished() {
		return
	}

	c := s.controller
	resp, err := c.api.CheckStatusDB(s.ctx, s.requestID)

	s.mu.Lock()
	completed := s.attempts
	s.mu.Unlock()

	var direct string
	if err == nil && resp.Payment.Status == transaction.StatusPending && completed >= c.config.DirectPollAfter {
		presp, perr := c.api.CheckProviderStatus(s.ctx, s.requestID)
		if perr != nil {
			c.logger.Debug("direct provider poll failed", "error", perr, "transaction_request_id", s.requestID)
		} else if presp != nil {
			direct = presp.Status
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}

	if err != nil {
		c.logger.Warn("status check failed", "error", err, "transaction_request_id", s.requestID, "attempt", s.attempts+1)
	} else if state, message, ok := settledState(resp.Payment.Status); ok {
		s.attempts++
		s.finishLocked(s.outcomeLocked(state, resp.Payment.Status, resp.Payment.MpesaReceiptNumber, message, nil))
		return
	}

	s.attempts++
	if s.attempts >= c.config.MaxAttempts {
		// The provider already answered on this last attempt; no cycle is
		// left to read it back from the store.
		if state, message, ok := settledState(direct); ok {
			s.finishLocked(s.outcomeLocked(state, direct, nil, message, nil))
			return
		}
		message := MessageTimeout
		if err != nil {
			message = MessageUnverifiable
		}
		s.finishLocked(s.outcomeLocked(StateTimedOut, transaction.StatusPending, nil, message, nil))
		return
	}

	s.timer = c.scheduler.AfterFunc(c.config.PollInterval, s.cycle)
}

// settledState maps a terminal status to the session's final state and
// payer message.
func settledState(status string) (State, string, bool) {
	switch status {
	case transaction.StatusSuccess:
		return StateSettledSuccess, "", true
	case transaction.StatusCancelled:
		return StateSettledFailure, MessageCancelled, true
	case transaction.StatusFailed:
		return StateSettledFailure, MessageFailed, true
	}
	return "", "", false
}

func (s *Session) isFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Session) outcomeLocked(state State, status string, receipt *string, message string, err error) Outcome {
	return Outcome{
		State:                state,
		TransactionRequestID: s.requestID,
		Status:               status,
		Receipt:              receipt,
		Message:              message,
		Attempts:             s.attempts,
		Err:                  err,
	}
}

func (s *Session) finishLocked(out Outcome) {
	s.finished = true
	s.state = out.State
	s.timer = nil
	s.done <- out
	s.cancel()

	if out.Err == nil {
		s.controller.logger.Info("payment polling finished",
			"transaction_request_id", s.requestID,
			"state", out.State,
			"attempts", out.Attempts)
	}
}
