package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	apperrors "github.com/frahmantamala/stkpush-checkout/internal"
	pftypes "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/pesaflux"
	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/stkpush-checkout/internal/core/events"
)

const (
	manualResultDescription = "Payment completed successfully (manual)"
	debugListLimit          = 10
)

// RepositoryAPI is the write side of the transaction store. GetByRequestID
// returns apperrors.ErrTransactionNotFound for unknown ids.
type RepositoryAPI interface {
	Create(ctx context.Context, t *txdata.Transaction) error
	GetByRequestID(ctx context.Context, requestID string) (*txdata.Transaction, error)
	SettleIfPending(ctx context.Context, requestID string, s txdata.Settlement) (bool, error)
}

// ReaderAPI serves operator listings and the stale-pending sweep.
type ReaderAPI interface {
	ListRecent(ctx context.Context, limit int, phoneContains string) ([]*txdata.Transaction, error)
	ListStalePending(ctx context.Context, updatedBefore, createdAfter time.Time, limit int) ([]string, error)
}

type ProviderAPI interface {
	InitiateSTKPush(ctx context.Context, msisdn string, amount int64, reference string) (*pftypes.STKPushResponse, error)
	CheckStatus(ctx context.Context, transactionRequestID string) (*pftypes.StatusResponse, error)
}

// StatusCache holds rows that already reached a terminal status. Get
// returns nil, nil on a miss.
type StatusCache interface {
	Get(ctx context.Context, requestID string) (*txdata.Transaction, error)
	Set(ctx context.Context, t *txdata.Transaction) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Options struct {
	ReferencePrefix string
	Cache           StatusCache
	Now             func() time.Time
}

// Service owns every write to the transactions table.
type Service struct {
	repo      RepositoryAPI
	reader    ReaderAPI
	provider  ProviderAPI
	publisher EventPublisher
	cache     StatusCache
	logger    *slog.Logger
	refPrefix string
	now       func() time.Time
}

func NewService(repo RepositoryAPI, reader ReaderAPI, provider ProviderAPI, publisher EventPublisher, logger *slog.Logger, opts Options) *Service {
	if opts.ReferencePrefix == "" {
		opts.ReferencePrefix = "CRFF"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:      repo,
		reader:    reader,
		provider:  provider,
		publisher: publisher,
		cache:     opts.Cache,
		logger:    logger,
		refPrefix: opts.ReferencePrefix,
		now:       opts.Now,
	}
}

// NewReference produces a client reference like CRFF-1718000000000-42.
func (s *Service) NewReference() string {
	return fmt.Sprintf("%s-%d-%d", s.refPrefix, s.now().UnixMilli(), rand.IntN(1000))
}

// InitiatePayment sends the STK push and records the pending row.
func (s *Service) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResponse, error) {
	req.MSISDN = NormalizePhone(req.MSISDN)
	req.Email = strings.TrimSpace(req.Email)
	req.Reference = strings.TrimSpace(req.Reference)
	if req.Reference == "" {
		req.Reference = s.NewReference()
	}

	if err := req.Validate(); err != nil {
		s.logger.Warn("initiate payment validation failed", "error", err, "msisdn", req.MSISDN)
		return nil, err
	}

	pushResp, err := s.provider.InitiateSTKPush(ctx, req.MSISDN, req.Amount, req.Reference)
	if err != nil {
		s.logger.Error("failed to initiate payment",
			"error", err,
			"msisdn", req.MSISDN,
			"reference", req.Reference)
		return nil, apperrors.ErrInitiationFailed.WithCause(err)
	}

	record := NewPending(pushResp.TransactionRequestID, req.MSISDN, req.Amount, req.Email, req.Reference)
	if err := s.repo.Create(ctx, record); err != nil {
		s.logger.Error("failed to record pending transaction",
			"error", err,
			"transaction_request_id", pushResp.TransactionRequestID)
		return nil, apperrors.NewInternalError("failed to record transaction", err)
	}

	s.logger.Info("payment initiated",
		"transaction_request_id", record.TransactionRequestID,
		"reference", record.Reference,
		"amount", record.Amount)

	s.publish(ctx, events.NewTransactionInitiatedEvent(record.TransactionRequestID, record.Phone, record.Amount, record.Reference))

	return &InitiatePaymentResponse{
		Success:              true,
		TransactionRequestID: record.TransactionRequestID,
		Reference:            record.Reference,
	}, nil
}

// GetCachedStatus reads the stored row without touching the provider.
func (s *Service) GetCachedStatus(ctx context.Context, requestID string) (*txdata.Transaction, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, apperrors.ErrMissingRequestID
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, requestID)
		if err != nil {
			s.logger.Warn("status cache read failed", "error", err, "transaction_request_id", requestID)
		} else if cached != nil {
			return cached, nil
		}
	}

	record, err := s.repo.GetByRequestID(ctx, requestID)
	if err != nil {
		return nil, s.lookupError(requestID, err)
	}

	if s.cache != nil && IsTerminal(record.Status) {
		if err := s.cache.Set(ctx, record); err != nil {
			s.logger.Warn("status cache write failed", "error", err, "transaction_request_id", requestID)
		}
	}

	return record, nil
}

// ReconcileWithProvider asks the provider directly and persists a terminal
// outcome. A failed store write is logged and does not fail the call; the
// caller still learns the provider's answer.
func (s *Service) ReconcileWithProvider(ctx context.Context, requestID string) (*ProviderStatus, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, apperrors.ErrMissingRequestID
	}

	resp, err := s.provider.CheckStatus(ctx, requestID)
	if err != nil {
		s.logger.Error("provider status check failed", "error", err, "transaction_request_id", requestID)
		return nil, apperrors.ErrStatusCheckFailed.WithCause(err)
	}

	result := &ProviderStatus{
		Status:  Classify(resp.ResultCode.String()),
		Details: resp.Raw,
	}

	settlement, ok := NewSettlement(resp.ResultCode.String(), resp.Description(), resp.TransactionReceipt, resp.TransactionID, s.now())
	if !ok {
		return result, nil
	}

	applied, err := s.settle(ctx, requestID, settlement, events.SourceDirectPoll)
	if err != nil {
		s.logger.Error("failed to persist provider status", "error", err, "transaction_request_id", requestID)
		return result, nil
	}
	result.Applied = applied

	return result, nil
}

// HandleCallback applies the provider's asynchronous result. A pending
// result is acknowledged without a write.
func (s *Service) HandleCallback(ctx context.Context, payload *pftypes.CallbackPayload) (string, error) {
	requestID := payload.RequestID()
	if requestID == "" {
		return "", apperrors.ErrMissingRequestID
	}

	record, err := s.repo.GetByRequestID(ctx, requestID)
	if err != nil {
		return "", s.lookupError(requestID, err)
	}

	status := Classify(payload.ResultCode.String())
	s.logger.Info("processing payment callback",
		"transaction_request_id", requestID,
		"current_status", record.Status,
		"result_code", payload.ResultCode.String(),
		"new_status", status)

	settlement, ok := NewSettlement(payload.ResultCode.String(), payload.ResultDesc, payload.TransactionReceipt, payload.TransactionID, s.now())
	if !ok {
		return status, nil
	}

	if _, err := s.settle(ctx, requestID, settlement, events.SourceCallback); err != nil {
		return "", apperrors.NewInternalError("failed to update transaction", err)
	}

	return status, nil
}

// ForceSuccess is the operator override. It only moves a pending row; a row
// that already succeeded is left as is.
func (s *Service) ForceSuccess(ctx context.Context, requestID string) error {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return apperrors.ErrMissingTransactionID
	}

	record, err := s.repo.GetByRequestID(ctx, requestID)
	if err != nil {
		return s.lookupError(requestID, err)
	}

	switch record.Status {
	case StatusSuccess:
		return nil
	case StatusFailed, StatusCancelled:
		return apperrors.ErrTransactionSettled
	}

	now := s.now()
	receipt := fmt.Sprintf("TEST%d", now.UnixMilli())
	settlement := txdata.Settlement{
		Status:            StatusSuccess,
		ResultCode:        ResultCodeSuccess,
		ResultDescription: manualResultDescription,
		ReceiptNumber:     &receipt,
		SettledAt:         now,
	}

	applied, err := s.settle(ctx, requestID, settlement, events.SourceManual)
	if err != nil {
		return apperrors.NewInternalError("Failed to update transaction", err)
	}
	if applied {
		s.logger.Info("transaction marked successful by operator",
			"transaction_request_id", requestID,
			"operator", apperrors.OperatorFromContext(ctx))
		return nil
	}

	// Lost a race with the callback or a direct poll.
	current, err := s.repo.GetByRequestID(ctx, requestID)
	if err != nil {
		return s.lookupError(requestID, err)
	}
	if current.Status == StatusSuccess {
		return nil
	}
	return apperrors.ErrTransactionSettled
}

// ListRecent returns the latest rows, optionally narrowed to a phone number.
func (s *Service) ListRecent(ctx context.Context, phone string) ([]*txdata.Transaction, error) {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "0") {
		phone = "254" + phone[1:]
	}

	rows, err := s.reader.ListRecent(ctx, debugListLimit, phone)
	if err != nil {
		s.logger.Error("failed to list recent transactions", "error", err)
		return nil, apperrors.NewInternalError("Database error", err)
	}
	return rows, nil
}

// StalePending lists request ids still pending after staleAfter and created
// within maxAge.
func (s *Service) StalePending(ctx context.Context, staleAfter, maxAge time.Duration, limit int) ([]string, error) {
	now := s.now()
	return s.reader.ListStalePending(ctx, now.Add(-staleAfter), now.Add(-maxAge), limit)
}

func (s *Service) settle(ctx context.Context, requestID string, settlement txdata.Settlement, source string) (bool, error) {
	applied, err := s.repo.SettleIfPending(ctx, requestID, settlement)
	if err != nil {
		return false, err
	}

	if !applied {
		s.logger.Debug("transaction already settled, skipping write",
			"transaction_request_id", requestID,
			"source", source,
			"observed_status", settlement.Status)
		return false, nil
	}

	receipt := ""
	if settlement.ReceiptNumber != nil {
		receipt = *settlement.ReceiptNumber
	}

	s.logger.Info("transaction settled",
		"transaction_request_id", requestID,
		"status", settlement.Status,
		"result_code", settlement.ResultCode,
		"source", source)

	s.publish(ctx, events.NewTransactionSettledEvent(requestID, settlement.Status, settlement.ResultCode, receipt, source))
	return true, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "error", err, "event_type", event.EventType())
	}
}

func (s *Service) lookupError(requestID string, err error) error {
	if errors.Is(err, apperrors.ErrTransactionNotFound) {
		return apperrors.ErrTransactionNotFound
	}
	s.logger.Error("failed to load transaction", "error", err, "transaction_request_id", requestID)
	return apperrors.NewInternalError("Internal server error", err)
}
