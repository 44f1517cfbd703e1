// Package model defines the core domain types shared across the fund engine.
// All monetary and NAV values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fund lifecycle states.
const (
	FundActive    = "active"
	FundClosed    = "closed"
	FundLaunching = "launching"
	FundSuspended = "suspended"
)

// Fund is a simulated fund whose LatestNav is owned exclusively by the NAV
// engine. RiskLevel and Type are informational only.
type Fund struct {
	ID        string          `json:"id" db:"id"`
	Code      string          `json:"code" db:"code"`
	Name      string          `json:"name" db:"name"`
	Type      string          `json:"type" db:"fund_type"`
	RiskLevel string          `json:"risk_level" db:"risk_level"`
	Status    string          `json:"status" db:"status"`
	FeeRate   decimal.Decimal `json:"fee_rate" db:"fee_rate"`
	Keywords  []string        `json:"keywords" db:"keywords"`
	LatestNav decimal.Decimal `json:"latest_nav" db:"latest_nav"` // invariant: > 0
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// NavSnapshot is an immutable per-update NAV record, ordered by AsOf.
// Once created these are never modified or deleted; they are the durable
// history every "previous net value" read comes from.
type NavSnapshot struct {
	ID                  string          `json:"id" db:"id"`
	FundID              string          `json:"fund_id" db:"fund_id"`
	AsOf                time.Time       `json:"as_of" db:"as_of"`
	NetValue            decimal.Decimal `json:"net_value" db:"net_value"`
	AccumulatedNetValue decimal.Decimal `json:"accumulated_net_value" db:"accumulated_net_value"`
	DailyGrowthRate     decimal.Decimal `json:"daily_growth_rate" db:"daily_growth_rate"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// NewsItem is the output of the (external) sentiment pipeline consumed by
// the impact scorer. SentimentScore is in [-1, 1].
type NewsItem struct {
	ID             string    `json:"id"`
	SentimentScore float64   `json:"sentiment_score"`
	PublishedAt    time.Time `json:"published_at"`
	Source         string    `json:"source"`
	Keywords       []string  `json:"keywords"`
}

// ImpactFactors is the breakdown persisted alongside each scored item.
type ImpactFactors struct {
	SentimentScore      float64 `json:"sentiment_score"`
	BaseImpact          float64 `json:"base_impact"`
	TimeWeight          float64 `json:"time_weight"`
	SourceWeight        float64 `json:"source_weight"`
	RelevanceMultiplier float64 `json:"relevance_multiplier"`
	Source              string  `json:"source"`
	PublishedAt         string  `json:"published_at"`
}

// NewsImpactRecord is an append-only audit record of one news item's scored
// effect on one fund.
type NewsImpactRecord struct {
	ID                string          `json:"id" db:"id"`
	NewsID            string          `json:"news_id" db:"news_id"`
	FundID            string          `json:"fund_id" db:"fund_id"`
	ImpactCoefficient decimal.Decimal `json:"impact_coefficient" db:"impact_coefficient"`
	Factors           ImpactFactors   `json:"factors" db:"factors"`
	ScoredAt          time.Time       `json:"scored_at" db:"scored_at"`
}

// User account states.
const (
	UserActive   = "active"
	UserInactive = "inactive"
	UserBanned   = "banned"
)

// User holds the virtual cash balance. Balance is mutated only by the
// ledger engine and the deposit/withdraw flow; invariant: >= 0.
type User struct {
	ID        string          `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Email     string          `json:"email" db:"email"`
	Status    string          `json:"status" db:"status"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Holding is a user's position in one fund. Exists iff Shares > 0: created
// on first buy, deleted when shares reach exactly zero. Owned exclusively
// by the ledger engine.
type Holding struct {
	UserID      string          `json:"user_id" db:"user_id"`
	FundID      string          `json:"fund_id" db:"fund_id"`
	Shares      decimal.Decimal `json:"shares" db:"shares"`
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Transaction types and statuses.
const (
	TradeBuy  = "buy"
	TradeSell = "sell"

	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// Transaction is an immutable ledger entry — the sole source of truth for
// balance/holding deltas. Only Status may transition after creation
// (pending → completed|failed).
type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	FundID    string          `json:"fund_id" db:"fund_id"`
	Type      string          `json:"type" db:"transaction_type"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	Fee       decimal.Decimal `json:"fee" db:"fee"`
	NetAmount decimal.Decimal `json:"net_amount" db:"net_amount"`
	Status    string          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ValuedHolding is the read-model row returned by the valuation service.
type ValuedHolding struct {
	FundID         string          `json:"fund_id"`
	FundCode       string          `json:"fund_code"`
	FundName       string          `json:"fund_name"`
	Shares         decimal.Decimal `json:"shares"`
	AverageCost    decimal.Decimal `json:"average_cost"`
	LatestNav      decimal.Decimal `json:"latest_nav"`
	MarketValue    decimal.Decimal `json:"market_value"`
	ProfitLoss     decimal.Decimal `json:"profit_loss"`
	ProfitLossRate decimal.Decimal `json:"profit_loss_rate"`
}
