package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for report paths: fund listings, NAV history, holdings, impact
// trails. Writes go to the primary store and invalidate the cache.
//
// Reads that gate a mutation — GetUser, GetFund, GetHolding,
// LatestNavSnapshot, TradeStatsForDay — deliberately pass straight through
// to the primary. A cache miss (or stale hit) must never be able to reset a
// fund's NAV history or let an order through on stale balance.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateFund(ctx context.Context, f *model.Fund) error {
	if err := s.primary.CreateFund(ctx, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, fundsListKey())
	return nil
}

func (s *CachedStore) SetFundStatus(ctx context.Context, id, status string) error {
	if err := s.primary.SetFundStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, fundsListKey())
	return nil
}

func (s *CachedStore) InsertNavSnapshot(ctx context.Context, snap *model.NavSnapshot) error {
	if err := s.primary.InsertNavSnapshot(ctx, snap); err != nil {
		return err
	}
	// Invalidate history and listings; next read re-populates.
	s.rdb.Del(ctx, navHistoryKey(snap.FundID), fundsListKey())
	return nil
}

func (s *CachedStore) InsertNewsImpact(ctx context.Context, rec *model.NewsImpactRecord) error {
	if err := s.primary.InsertNewsImpact(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, impactsKey(rec.FundID))
	return nil
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) UpdateUserBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	return s.primary.UpdateUserBalance(ctx, id, balance)
}

func (s *CachedStore) ApplyTrade(ctx context.Context, app *TradeApplication) error {
	if err := s.primary.ApplyTrade(ctx, app); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(app.Transaction.UserID))
	return nil
}

// --- Read-through (report paths only) ---

func (s *CachedStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	var funds []model.Fund
	if hit(ctx, s.rdb, fundsListKey(), &funds) {
		return funds, nil
	}

	funds, err := s.primary.ListFunds(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, fundsListKey(), funds)
	return funds, nil
}

func (s *CachedStore) ListNavSnapshots(ctx context.Context, fundID string, from, to time.Time) ([]model.NavSnapshot, error) {
	// Only the full-history read is cached; ranged queries go to primary.
	return s.primary.ListNavSnapshots(ctx, fundID, from, to)
}

// NavHistory is the cached full-history accessor used by the history
// endpoint; the Store interface's ranged ListNavSnapshots stays uncached.
func (s *CachedStore) NavHistory(ctx context.Context, fundID string, from, to time.Time) ([]model.NavSnapshot, error) {
	var snaps []model.NavSnapshot
	if hit(ctx, s.rdb, navHistoryKey(fundID), &snaps) {
		return filterSnapshots(snaps, from, to), nil
	}

	all, err := s.primary.ListNavSnapshots(ctx, fundID, time.Time{}, farFuture)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, navHistoryKey(fundID), all)
	return filterSnapshots(all, from, to), nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	var holdings []model.Holding
	if hit(ctx, s.rdb, holdingsKey(userID), &holdings) {
		return holdings, nil
	}

	holdings, err := s.primary.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, holdingsKey(userID), holdings)
	return holdings, nil
}

func (s *CachedStore) ListNewsImpactsByFund(ctx context.Context, fundID string) ([]model.NewsImpactRecord, error) {
	var recs []model.NewsImpactRecord
	if hit(ctx, s.rdb, impactsKey(fundID), &recs) {
		return recs, nil
	}

	recs, err := s.primary.ListNewsImpactsByFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, impactsKey(fundID), recs)
	return recs, nil
}

// --- Passthrough (mutation-gating reads: always durable) ---

func (s *CachedStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	return s.primary.GetFund(ctx, id)
}

func (s *CachedStore) GetFundByCode(ctx context.Context, code string) (*model.Fund, error) {
	return s.primary.GetFundByCode(ctx, code)
}

func (s *CachedStore) LatestNavSnapshot(ctx context.Context, fundID string) (*model.NavSnapshot, error) {
	return s.primary.LatestNavSnapshot(ctx, fundID)
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

func (s *CachedStore) GetHolding(ctx context.Context, userID, fundID string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, fundID)
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, page, perPage int) ([]model.Transaction, int, error) {
	return s.primary.ListTransactions(ctx, userID, page, perPage)
}

func (s *CachedStore) TradeStatsForDay(ctx context.Context, userID string, at time.Time) (DailyTradeStats, error) {
	return s.primary.TradeStatsForDay(ctx, userID, at)
}

// --- Cache helpers ---

var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// hit reads and decodes a cached value; any error counts as a miss.
func hit(ctx context.Context, rdb *redis.Client, key string, dst any) bool {
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// cache stores a value best-effort; failures are ignored.
func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func filterSnapshots(snaps []model.NavSnapshot, from, to time.Time) []model.NavSnapshot {
	var out []model.NavSnapshot
	for _, sn := range snaps {
		if sn.AsOf.Before(from) || sn.AsOf.After(to) {
			continue
		}
		out = append(out, sn)
	}
	return out
}

func fundsListKey() string               { return "funds:all" }
func navHistoryKey(fundID string) string { return fmt.Sprintf("navhist:%s", fundID) }
func holdingsKey(userID string) string   { return fmt.Sprintf("holdings:%s", userID) }
func impactsKey(fundID string) string    { return fmt.Sprintf("impacts:%s", fundID) }
