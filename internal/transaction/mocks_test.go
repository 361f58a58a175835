package transaction_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	apperrors "github.com/frahmantamala/stkpush-checkout/internal"
	pftypes "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/pesaflux"
	txdata "github.com/frahmantamala/stkpush-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/stkpush-checkout/internal/core/events"
)

// mockRepository mirrors the pending guard of the real store.
type mockRepository struct {
	mu          sync.Mutex
	rows        map[string]*txdata.Transaction
	createError error
	getError    error
	settleError error
	settleCalls int
}

func newMockRepository() *mockRepository {
	return &mockRepository{rows: make(map[string]*txdata.Transaction)}
}

func (m *mockRepository) Create(ctx context.Context, t *txdata.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createError != nil {
		return m.createError
	}
	t.ID = int64(len(m.rows) + 1)
	cp := *t
	m.rows[t.TransactionRequestID] = &cp
	return nil
}

func (m *mockRepository) GetByRequestID(ctx context.Context, requestID string) (*txdata.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getError != nil {
		return nil, m.getError
	}
	t, ok := m.rows[requestID]
	if !ok {
		return nil, apperrors.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepository) SettleIfPending(ctx context.Context, requestID string, s txdata.Settlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settleCalls++
	if m.settleError != nil {
		return false, m.settleError
	}
	t, ok := m.rows[requestID]
	if !ok || t.Status != txdata.StatusPending {
		return false, nil
	}
	code, desc := s.ResultCode, s.ResultDescription
	t.Status = s.Status
	t.ResultCode = &code
	t.ResultDescription = &desc
	t.ReceiptNumber = s.ReceiptNumber
	if s.TransactionID != nil {
		t.TransactionID = s.TransactionID
	}
	t.UpdatedAt = s.SettledAt
	return true, nil
}

func (m *mockRepository) seed(requestID, phone, status string) *txdata.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &txdata.Transaction{
		ID:                   int64(len(m.rows) + 1),
		TransactionRequestID: requestID,
		Phone:                phone,
		Amount:               139,
		Status:               status,
		CreatedAt:            time.Now().UTC(),
		UpdatedAt:            time.Now().UTC(),
	}
	m.rows[requestID] = t
	return t
}

func (m *mockRepository) row(requestID string) *txdata.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.rows[requestID]
	return &cp
}

type mockReader struct {
	rows       []*txdata.Transaction
	stale      []string
	listError  error
	lastLimit  int
	lastFilter string
}

func (m *mockReader) ListRecent(ctx context.Context, limit int, phoneContains string) ([]*txdata.Transaction, error) {
	m.lastLimit = limit
	m.lastFilter = phoneContains
	if m.listError != nil {
		return nil, m.listError
	}
	var out []*txdata.Transaction
	for _, t := range m.rows {
		if phoneContains == "" || strings.Contains(t.Phone, phoneContains) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockReader) ListStalePending(ctx context.Context, updatedBefore, createdAfter time.Time, limit int) ([]string, error) {
	if m.listError != nil {
		return nil, m.listError
	}
	return m.stale, nil
}

type mockProvider struct {
	mu           sync.Mutex
	pushResponse *pftypes.STKPushResponse
	pushError    error
	status       *pftypes.StatusResponse
	statusError  error
	pushCalls    int
	statusCalls  map[string]int
	lastMSISDN   string
	lastRef      string
}

func newMockProvider() *mockProvider {
	return &mockProvider{statusCalls: map[string]int{}}
}

func (m *mockProvider) InitiateSTKPush(ctx context.Context, msisdn string, amount int64, reference string) (*pftypes.STKPushResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushCalls++
	m.lastMSISDN = msisdn
	m.lastRef = reference
	if m.pushError != nil {
		return nil, m.pushError
	}
	return m.pushResponse, nil
}

func (m *mockProvider) CheckStatus(ctx context.Context, transactionRequestID string) (*pftypes.StatusResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls[transactionRequestID]++
	if m.statusError != nil {
		return nil, m.statusError
	}
	return m.status, nil
}

func (m *mockProvider) statusCallsFor(requestID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls[requestID]
}

// statusBody decodes a provider body the way the real client does.
func statusBody(raw string) *pftypes.StatusResponse {
	var resp pftypes.StatusResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		panic(err)
	}
	resp.Raw = json.RawMessage(raw)
	return &resp
}

type mockCache struct {
	entries map[string]*txdata.Transaction
	sets    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: map[string]*txdata.Transaction{}}
}

func (m *mockCache) Get(ctx context.Context, requestID string) (*txdata.Transaction, error) {
	return m.entries[requestID], nil
}

func (m *mockCache) Set(ctx context.Context, t *txdata.Transaction) error {
	m.sets++
	m.entries[t.TransactionRequestID] = t
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}
