// Package store defines the persistence interface for the fund engine.
// Implementations include PostgreSQL (source of truth), a Redis-backed
// read-through cache for report paths, and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/model"
)

// ErrNotFound is returned for missing entities. Engines translate it into
// their own error kinds.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a unique constraint (fund code, username)
// is violated.
var ErrDuplicate = errors.New("store: duplicate")

// TradeApplication is the atomic unit of a trade: the completed transaction
// row plus the balance and holding it implies. A store applies all of it or
// none of it.
type TradeApplication struct {
	Transaction   model.Transaction
	NewBalance    decimal.Decimal
	Holding       *model.Holding // upserted when set
	DeleteHolding bool           // remove the (user, fund) holding row instead
}

// DailyTradeStats summarizes a user's completed transactions for one UTC day.
type DailyTradeStats struct {
	Amount decimal.Decimal
	Count  int
}

// Store is the persistence interface. PostgreSQL is the source of truth.
// Reads that gate a mutation (user, fund, holding, latest snapshot, daily
// stats) must always return the durable value — the cache layer is an
// accelerator for report reads only.
type Store interface {
	// --- Funds ---

	// CreateFund persists a new fund.
	CreateFund(ctx context.Context, fund *model.Fund) error

	// GetFund retrieves a fund by ID.
	GetFund(ctx context.Context, id string) (*model.Fund, error)

	// GetFundByCode retrieves a fund by its code.
	GetFundByCode(ctx context.Context, code string) (*model.Fund, error)

	// ListFunds returns all funds, newest first.
	ListFunds(ctx context.Context) ([]model.Fund, error)

	// SetFundStatus updates only a fund's status (soft delete = closed).
	SetFundStatus(ctx context.Context, id, status string) error

	// --- NAV history (append-only) ---

	// InsertNavSnapshot appends an immutable snapshot and updates the
	// fund's latest NAV in the same atomic step.
	InsertNavSnapshot(ctx context.Context, snap *model.NavSnapshot) error

	// LatestNavSnapshot returns the most recent snapshot for a fund, or
	// ErrNotFound when the fund has no history yet.
	LatestNavSnapshot(ctx context.Context, fundID string) (*model.NavSnapshot, error)

	// ListNavSnapshots returns snapshots in [from, to], ascending by AsOf.
	ListNavSnapshots(ctx context.Context, fundID string, from, to time.Time) ([]model.NavSnapshot, error)

	// --- News impact audit (append-only) ---

	// InsertNewsImpact appends one scored-news audit record.
	InsertNewsImpact(ctx context.Context, rec *model.NewsImpactRecord) error

	// ListNewsImpactsByFund returns a fund's audit trail, newest first.
	ListNewsImpactsByFund(ctx context.Context, fundID string) ([]model.NewsImpactRecord, error)

	// --- Users ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// UpdateUserBalance sets a user's balance (deposit/withdraw flow).
	UpdateUserBalance(ctx context.Context, id string, balance decimal.Decimal) error

	// --- Holdings ---

	// GetHolding returns the (user, fund) holding or ErrNotFound.
	GetHolding(ctx context.Context, userID, fundID string) (*model.Holding, error)

	// ListHoldings returns all of a user's holdings.
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// --- Transactions ---

	// ApplyTrade atomically writes the transaction, the new balance, and
	// the holding upsert/delete. Partial application is not possible: any
	// failure leaves all three untouched.
	ApplyTrade(ctx context.Context, app *TradeApplication) error

	// ListTransactions returns a page of a user's transactions, newest
	// first, plus the total count.
	ListTransactions(ctx context.Context, userID string, page, perPage int) ([]model.Transaction, int, error)

	// TradeStatsForDay returns the completed-transaction amount sum and
	// count for the UTC day containing at.
	TradeStatsForDay(ctx context.Context, userID string, at time.Time) (DailyTradeStats, error)
}
