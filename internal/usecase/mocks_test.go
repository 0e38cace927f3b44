package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/arex/position_tracker/internal/domain"
)

// memStore is an in-memory PositionStore honoring the filter contract.
type memStore struct {
	mu     sync.Mutex
	books  map[string][]*domain.Position
	writes int

	findErr   error
	insertErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{books: make(map[string][]*domain.Position)}
}

func matches(p *domain.Position, f domain.PositionFilter) bool {
	if f.ID != "" && p.ID != f.ID {
		return false
	}
	if f.Coin != "" && !strings.EqualFold(p.CoinName, f.Coin) {
		return false
	}
	if f.Side != "" && p.PositionSide != f.Side {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return true
}

func clonePosition(p *domain.Position) *domain.Position {
	c := *p
	if p.ExitPrice != nil {
		v := *p.ExitPrice
		c.ExitPrice = &v
	}
	if p.GrossPnl != nil {
		v := *p.GrossPnl
		c.GrossPnl = &v
	}
	if p.Pnl != nil {
		v := *p.Pnl
		c.Pnl = &v
	}
	return &c
}

func (m *memStore) Find(ctx context.Context, book string, f domain.PositionFilter) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*domain.Position
	for _, p := range m.books[book] {
		if matches(p, f) {
			out = append(out, clonePosition(p))
		}
	}
	return out, nil
}

func (m *memStore) FindOne(ctx context.Context, book, id string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.books[book] {
		if p.ID == id {
			return clonePosition(p), nil
		}
	}
	return nil, domain.NotFoundf("position %s", id)
}

func (m *memStore) Insert(ctx context.Context, book string, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.writes++
	m.books[book] = append(m.books[book], clonePosition(p))
	return nil
}

func (m *memStore) Update(ctx context.Context, book string, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	for i, existing := range m.books[book] {
		if existing.ID == p.ID {
			m.writes++
			m.books[book][i] = clonePosition(p)
			return nil
		}
	}
	return domain.NotFoundf("position %s", p.ID)
}

func (m *memStore) Delete(ctx context.Context, book, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.books[book] {
		if p.ID == id {
			m.writes++
			m.books[book] = append(m.books[book][:i], m.books[book][i+1:]...)
			return nil
		}
	}
	return domain.NotFoundf("position %s", id)
}

func (m *memStore) DeleteMany(ctx context.Context, book string, f domain.PositionFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.IsZero() {
		return 0, domain.Validationf("filter is required for bulk delete")
	}
	var kept []*domain.Position
	var deleted int64
	for _, p := range m.books[book] {
		if matches(p, f) {
			deleted++
		} else {
			kept = append(kept, p)
		}
	}
	if deleted > 0 {
		m.writes++
	}
	m.books[book] = kept
	return deleted, nil
}

func (m *memStore) Count(ctx context.Context, book string, f domain.PositionFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, p := range m.books[book] {
		if matches(p, f) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) all(book string) []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.books[book]))
	for _, p := range m.books[book] {
		out = append(out, clonePosition(p))
	}
	return out
}

// mockOracle serves scripted prices and candles.
type mockOracle struct {
	mu          sync.Mutex
	price       float64
	priceErr    error
	prices      map[string]float64 // per-coin override
	priceErrFor map[string]error   // per-coin failure
	candles     []domain.Candle
	candlesErr  error

	priceCalls  int
	candleCalls int
}

func (o *mockOracle) CurrentPrice(ctx context.Context, coin string) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.priceCalls++
	if o.priceErr != nil {
		return 0, o.priceErr
	}
	if err, ok := o.priceErrFor[coin]; ok {
		return 0, err
	}
	if p, ok := o.prices[coin]; ok {
		return p, nil
	}
	return o.price, nil
}

func (o *mockOracle) HistoricalCandles(ctx context.Context, coin string, start, end int64) ([]domain.Candle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.candleCalls++
	if o.candlesErr != nil {
		return nil, o.candlesErr
	}
	return o.candles, nil
}

type fanoutCall struct {
	book   string
	coin   string
	action domain.Action
}

// mockFanOut records dispatches; safe for the detached CloseByID goroutine.
type mockFanOut struct {
	mu    sync.Mutex
	calls []fanoutCall
}

func (f *mockFanOut) Dispatch(ctx context.Context, book, coin string, action domain.Action) DispatchSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fanoutCall{book: book, coin: coin, action: action})
	return DispatchSummary{Matched: 1, Succeeded: 1}
}

func (f *mockFanOut) recorded() []fanoutCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fanoutCall(nil), f.calls...)
}

// mockSubStore is an in-memory SubscriptionStore.
type mockSubStore struct {
	mu         sync.Mutex
	strategies map[string][]*domain.SubscriptionEntry
	listErr    error
}

func newMockSubStore() *mockSubStore {
	return &mockSubStore{strategies: make(map[string][]*domain.SubscriptionEntry)}
}

func (m *mockSubStore) EnsureStrategy(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strategies[name]; !ok {
		m.strategies[name] = nil
	}
	return nil
}

func (m *mockSubStore) FindEntry(ctx context.Context, strategy string, id int) (*domain.SubscriptionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.strategies[strategy] {
		if e.ID == id {
			clone := *e
			clone.Whitelist = append([]string(nil), e.Whitelist...)
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *mockSubStore) SaveEntry(ctx context.Context, strategy string, entry *domain.SubscriptionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entry
	clone.Whitelist = append([]string(nil), entry.Whitelist...)
	for i, e := range m.strategies[strategy] {
		if e.ID == entry.ID {
			m.strategies[strategy][i] = &clone
			return nil
		}
	}
	m.strategies[strategy] = append(m.strategies[strategy], &clone)
	return nil
}

func (m *mockSubStore) RemoveCoin(ctx context.Context, strategy string, id int, coin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.strategies[strategy] {
		if e.ID != id {
			continue
		}
		var kept []string
		for _, c := range e.Whitelist {
			if c != coin {
				kept = append(kept, c)
			}
		}
		e.Whitelist = kept
	}
	return nil
}

func (m *mockSubStore) List(ctx context.Context, strategy string) ([]*domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*domain.Strategy
	for name, entries := range m.strategies {
		if strategy != "" && name != strategy {
			continue
		}
		st := &domain.Strategy{Name: name}
		for _, e := range entries {
			clone := *e
			clone.Whitelist = append([]string(nil), e.Whitelist...)
			st.Entries = append(st.Entries, &clone)
		}
		out = append(out, st)
	}
	return out, nil
}

type subscriberCall struct {
	id     int
	side   domain.Side
	coin   string
	amount float64
	kind   string // "open" or "close"
}

// mockSubscriber records mirrored commands per subscriber.
type mockSubscriber struct {
	mu        sync.Mutex
	calls     []subscriberCall
	openSides map[int]map[domain.Side]bool
	openErr   error
	closeErr  error
	listErr   error
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{openSides: make(map[int]map[domain.Side]bool)}
}

func (m *mockSubscriber) setOpen(id int, side domain.Side) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openSides[id] == nil {
		m.openSides[id] = make(map[domain.Side]bool)
	}
	m.openSides[id][side] = true
}

func (m *mockSubscriber) OpenPosition(ctx context.Context, subscriberID int, side domain.Side, coin string, amountUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.calls = append(m.calls, subscriberCall{id: subscriberID, side: side, coin: coin, amount: amountUSD, kind: "open"})
	return nil
}

func (m *mockSubscriber) ClosePosition(ctx context.Context, subscriberID int, side domain.Side, coin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closeErr != nil {
		return m.closeErr
	}
	m.calls = append(m.calls, subscriberCall{id: subscriberID, side: side, coin: coin, kind: "close"})
	return nil
}

func (m *mockSubscriber) ListOpenSides(ctx context.Context, subscriberID int, coin string) (map[domain.Side]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	sides := make(map[domain.Side]bool, 2)
	for side, held := range m.openSides[subscriberID] {
		sides[side] = held
	}
	return sides, nil
}

func (m *mockSubscriber) recorded() []subscriberCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]subscriberCall(nil), m.calls...)
}
