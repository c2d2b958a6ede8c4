package checkout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/packedgo/checkout-sync/internal/domain"
)

type manualTime struct {
	mu  sync.Mutex
	now time.Time
}

func newManualTime() *manualTime {
	return &manualTime{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *manualTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

type fakeBackend struct {
	mu          sync.Mutex
	current     *domain.CheckoutSession
	currentErr  error
	status      *domain.CheckoutSession
	statusErr   error
	abandonErr  error
	currentHits int
	statusHits  int
	abandoned   []string
}

func (f *fakeBackend) CurrentCheckoutState(context.Context) (*domain.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentHits++
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.current.Clone(), nil
}

func (f *fakeBackend) SessionStatus(_ context.Context, sessionID string) (*domain.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusHits++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status != nil {
		return f.status.Clone(), nil
	}
	if f.current != nil && f.current.SessionID == sessionID {
		return f.current.Clone(), nil
	}
	return nil, domain.ErrSessionNotFound
}

func (f *fakeBackend) AbandonSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, sessionID)
	return f.abandonErr
}

func (f *fakeBackend) setCurrent(s *domain.CheckoutSession, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = s
	f.currentErr = err
}

func (f *fakeBackend) setStatus(s *domain.CheckoutSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *fakeBackend) hits() (current, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentHits, f.statusHits
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []domain.PreferenceRequest
	errs  map[string]error
}

func (f *fakeGateway) CreatePreference(_ context.Context, req domain.PreferenceRequest) (*domain.PaymentPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err, ok := f.errs[req.OrderNumber]; ok {
		return nil, err
	}
	return &domain.PaymentPreference{
		PreferenceID: "pref-" + req.OrderNumber,
		CheckoutURL:  "https://pay.example/" + req.OrderNumber,
	}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGateway) callsFor(orderNumber string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.OrderNumber == orderNumber {
			n++
		}
	}
	return n
}

type fakeCart struct {
	refreshes atomic.Int32
}

func (f *fakeCart) RefreshCart(context.Context) error {
	f.refreshes.Add(1)
	return nil
}

type fakeIntents struct {
	status string
	err    error
}

func (f fakeIntents) IntentStatus(context.Context, string) (string, error) {
	return f.status, f.err
}

type memoryCache struct {
	mu   sync.Mutex
	data    map[string]domain.PaymentPreference
	puts    int
	forgets int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string]domain.PaymentPreference)}
}

func (m *memoryCache) Get(_ context.Context, sessionID, orderID string) (*domain.PaymentPreference, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pref, ok := m.data[sessionID+"|"+orderID]
	if !ok {
		return nil, false, nil
	}
	return &pref, true, nil
}

func (m *memoryCache) Put(_ context.Context, sessionID, orderID string, pref domain.PaymentPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sessionID+"|"+orderID] = pref
	m.puts++
	return nil
}

func (m *memoryCache) Forget(_ context.Context, sessionID string, orderIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range orderIDs {
		delete(m.data, sessionID+"|"+id)
	}
	m.forgets++
	return nil
}

func (m *memoryCache) has(sessionID, orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[sessionID+"|"+orderID]
	return ok
}

func group(id int, status domain.GroupStatus, amount int64) domain.PaymentGroup {
	return domain.PaymentGroup{
		SellerID:    int64(id),
		OrderID:     fmt.Sprintf("%d", id),
		OrderNumber: fmt.Sprintf("ORD-%d", id),
		Amount:      decimal.NewFromInt(amount),
		Status:      status,
	}
}

func session(id string, expiresAt time.Time, groups ...domain.PaymentGroup) *domain.CheckoutSession {
	return &domain.CheckoutSession{
		SessionID:     id,
		Status:        domain.SessionPending,
		ExpiresAt:     expiresAt,
		PaymentGroups: groups,
		TotalGroups:   len(groups),
		IsActive:      true,
	}
}

func completedSession(id string, expiresAt time.Time, groups ...domain.PaymentGroup) *domain.CheckoutSession {
	s := session(id, expiresAt, groups...)
	s.Status = domain.SessionCompleted
	s.IsCompleted = true
	s.IsActive = false
	return s
}
