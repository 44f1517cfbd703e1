package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	funds        map[string]*model.Fund
	snapshots    map[string][]model.NavSnapshot // fundID → ascending by AsOf
	impacts      map[string][]model.NewsImpactRecord
	users        map[string]*model.User
	holdings     map[string]*model.Holding // userID|fundID
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		funds:     make(map[string]*model.Fund),
		snapshots: make(map[string][]model.NavSnapshot),
		impacts:   make(map[string][]model.NewsImpactRecord),
		users:     make(map[string]*model.User),
		holdings:  make(map[string]*model.Holding),
	}
}

func holdingKey(userID, fundID string) string { return userID + "|" + fundID }

// --- Funds ---

func (s *MemoryStore) CreateFund(_ context.Context, f *model.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.funds {
		if existing.Code == f.Code {
			return &duplicateError{what: "fund code " + f.Code}
		}
	}
	cp := *f
	s.funds[f.ID] = &cp
	return nil
}

func (s *MemoryStore) GetFund(_ context.Context, id string) (*model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.funds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *MemoryStore) GetFundByCode(_ context.Context, code string) (*model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.funds {
		if f.Code == code {
			cp := *f
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListFunds(_ context.Context) ([]model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	funds := make([]model.Fund, 0, len(s.funds))
	for _, f := range s.funds {
		funds = append(funds, *f)
	}
	sort.Slice(funds, func(i, j int) bool {
		return funds[i].CreatedAt.After(funds[j].CreatedAt)
	})
	return funds, nil
}

func (s *MemoryStore) SetFundStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.funds[id]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	return nil
}

// --- NAV history ---

func (s *MemoryStore) InsertNavSnapshot(_ context.Context, snap *model.NavSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.funds[snap.FundID]
	if !ok {
		return ErrNotFound
	}
	s.snapshots[snap.FundID] = append(s.snapshots[snap.FundID], *snap)
	f.LatestNav = snap.NetValue
	return nil
}

func (s *MemoryStore) LatestNavSnapshot(_ context.Context, fundID string) (*model.NavSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[fundID]
	if len(snaps) == 0 {
		return nil, ErrNotFound
	}
	latest := snaps[0]
	for _, sn := range snaps[1:] {
		if sn.AsOf.After(latest.AsOf) {
			latest = sn
		}
	}
	return &latest, nil
}

func (s *MemoryStore) ListNavSnapshots(_ context.Context, fundID string, from, to time.Time) ([]model.NavSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.NavSnapshot
	for _, sn := range s.snapshots[fundID] {
		if sn.AsOf.Before(from) || sn.AsOf.After(to) {
			continue
		}
		out = append(out, sn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AsOf.Before(out[j].AsOf) })
	return out, nil
}

// --- News impact audit ---

func (s *MemoryStore) InsertNewsImpact(_ context.Context, rec *model.NewsImpactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.impacts[rec.FundID] = append(s.impacts[rec.FundID], *rec)
	return nil
}

func (s *MemoryStore) ListNewsImpactsByFund(_ context.Context, fundID string) ([]model.NewsImpactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := make([]model.NewsImpactRecord, len(s.impacts[fundID]))
	copy(recs, s.impacts[fundID])
	sort.Slice(recs, func(i, j int) bool { return recs[i].ScoredAt.After(recs[j].ScoredAt) })
	return recs, nil
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return &duplicateError{what: "username " + u.Username}
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) UpdateUserBalance(_ context.Context, id string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Balance = balance
	return nil
}

// --- Holdings ---

func (s *MemoryStore) GetHolding(_ context.Context, userID, fundID string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey(userID, fundID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Holding
	for _, h := range s.holdings {
		if h.UserID == userID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FundID < out[j].FundID })
	return out, nil
}

// --- Transactions ---

// ApplyTrade applies everything under one lock: in-memory, the mutex is the
// transaction boundary.
func (s *MemoryStore) ApplyTrade(_ context.Context, app *TradeApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[app.Transaction.UserID]
	if !ok {
		return ErrNotFound
	}

	u.Balance = app.NewBalance
	key := holdingKey(app.Transaction.UserID, app.Transaction.FundID)
	switch {
	case app.DeleteHolding:
		delete(s.holdings, key)
	case app.Holding != nil:
		cp := *app.Holding
		s.holdings[key] = &cp
	}
	s.transactions = append(s.transactions, app.Transaction)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, page, perPage int) ([]model.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []model.Transaction
	for _, tx := range s.transactions {
		if tx.UserID == userID {
			all = append(all, tx)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	total := len(all)
	start := (page - 1) * perPage
	if start >= total {
		return []model.Transaction{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) TradeStatsForDay(_ context.Context, userID string, at time.Time) (DailyTradeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := at.UTC().Truncate(24 * time.Hour)
	stats := DailyTradeStats{Amount: decimal.Zero}
	for _, tx := range s.transactions {
		if tx.UserID != userID || tx.Status != model.TxCompleted {
			continue
		}
		if !tx.CreatedAt.UTC().Truncate(24 * time.Hour).Equal(day) {
			continue
		}
		stats.Amount = stats.Amount.Add(tx.NetAmount)
		stats.Count++
	}
	return stats, nil
}

// duplicateError marks unique-constraint violations in the memory store.
type duplicateError struct{ what string }

func (e *duplicateError) Error() string { return "store: duplicate " + e.what }

func (e *duplicateError) Unwrap() error { return ErrDuplicate }
