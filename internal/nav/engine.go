// Package nav implements the NAV computation engine: a bounded,
// deterministic-given-inputs net value update derived from a base drift,
// aggregated news-impact coefficients, and an optional manual adjustment.
//
// All NAV values use shopspring/decimal — never float64 for money.
package nav

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/apperr"
	"github.com/greenfund/fund-engine/internal/impact"
	"github.com/greenfund/fund-engine/internal/keymutex"
	"github.com/greenfund/fund-engine/internal/metrics"
	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/news"
	"github.com/greenfund/fund-engine/internal/store"
)

var (
	// InitialNetValue is the NAV of a fund with no snapshot history.
	InitialNetValue = decimal.NewFromInt(1)

	// NavScale is the number of decimal places NAV values are rounded to.
	NavScale int32 = 4

	// PercentScale is the rounding for growth percentages.
	PercentScale int32 = 2
)

// newsWindow is how far back the engine looks for relevant news.
const newsWindow = 24 * time.Hour

// Config carries the synthetic-market constants.
type Config struct {
	// BaseDailyDrift is the fixed daily baseline change rate. It is not
	// derived from market data; it is the simulation's synthetic baseline.
	BaseDailyDrift decimal.Decimal

	// MaxDailyChange bounds a single update relative to the previous
	// value: the daily volatility band.
	MaxDailyChange decimal.Decimal
}

// DefaultConfig returns drift 0.1% and a ±10% volatility band.
func DefaultConfig() Config {
	return Config{
		BaseDailyDrift: decimal.NewFromFloat(0.001),
		MaxDailyChange: decimal.NewFromFloat(0.1),
	}
}

// Engine computes and persists NAV updates. Updates for the same fund are
// serialized so a previous-value read is never stale relative to a
// concurrently committing update; distinct funds proceed in parallel.
type Engine struct {
	store  store.Store
	scorer *impact.Scorer
	source news.Source // optional; nil disables news fetch
	hub    *Hub        // optional WebSocket hub for NAV broadcasts
	cfg    Config
	locks  *keymutex.KeyedMutex
}

// NewEngine creates a NAV engine. Pass nil source to disable news fetching
// and nil hub to disable broadcasting.
func NewEngine(st store.Store, scorer *impact.Scorer, source news.Source, hub *Hub, cfg Config) *Engine {
	return &Engine{
		store:  st,
		scorer: scorer,
		source: source,
		hub:    hub,
		cfg:    cfg,
		locks:  keymutex.New(),
	}
}

// ComputeRequest describes one NAV update.
type ComputeRequest struct {
	FundID      string
	AsOf        time.Time        // zero → now
	IncludeNews bool             // fetch from the news source when News is nil
	News        []model.NewsItem // explicit items; override the source fetch
	Adjustment  decimal.Decimal  // manual adjustment fraction, e.g. 0.05 = +5%
}

// ComputeResult is the outcome of one NAV update.
type ComputeResult struct {
	FundID           string          `json:"fund_id"`
	AsOf             time.Time       `json:"as_of"`
	NetValue         decimal.Decimal `json:"net_value"`
	PreviousNetValue decimal.Decimal `json:"previous_net_value"`
	ChangePercent    decimal.Decimal `json:"change_percent"`
	NewsImpactCount  int             `json:"news_impact_count"`
}

// Compute derives and persists one NAV update for a fund.
//
// The previous value always comes from the durable snapshot history (the
// fund's initial 1.0 only when no snapshot exists); the raw result is
// clamped into the daily volatility band before persisting, so no single
// update can move NAV more than MaxDailyChange regardless of inputs.
func (e *Engine) Compute(ctx context.Context, req ComputeRequest) (*ComputeResult, error) {
	e.locks.Lock(req.FundID)
	defer e.locks.Unlock(req.FundID)

	fund, err := e.store.GetFund(ctx, req.FundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "fund %s not found", req.FundID)
		}
		return nil, apperr.Wrap(err, apperr.Internal, "read fund")
	}

	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	previous := InitialNetValue
	accumulated := InitialNetValue
	if last, err := e.store.LatestNavSnapshot(ctx, req.FundID); err == nil {
		// Snapshots only move forward: a backdated update would leave
		// latest_nav pointing at a value off the snapshot chain.
		if asOf.Before(last.AsOf) {
			return nil, apperr.New(apperr.Invalid,
				"as_of %s precedes the latest snapshot %s",
				asOf.Format(time.RFC3339), last.AsOf.Format(time.RFC3339))
		}
		previous = last.NetValue
		accumulated = last.AccumulatedNetValue
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Wrap(err, apperr.Internal, "read latest snapshot")
	}

	newsImpact, impactCount, err := e.newsImpact(ctx, fund, req, asOf)
	if err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	raw := previous.
		Mul(one.Add(e.cfg.BaseDailyDrift)).
		Mul(newsImpact).
		Mul(one.Add(req.Adjustment)).
		Round(NavScale)

	// Volatility band: the core guarantee. Clamp bounds are exact, not
	// rounded, so a clamped value sits precisely on the band edge.
	netValue := raw
	lower := previous.Mul(one.Sub(e.cfg.MaxDailyChange))
	upper := previous.Mul(one.Add(e.cfg.MaxDailyChange))
	if netValue.LessThan(lower) {
		netValue = lower
	}
	if netValue.GreaterThan(upper) {
		netValue = upper
	}
	if !netValue.Equal(raw) {
		metrics.NavClamped.Inc()
	}

	changePercent := netValue.Sub(previous).
		Div(previous).
		Mul(decimal.NewFromInt(100)).
		Round(PercentScale)

	snap := &model.NavSnapshot{
		ID:                  uuid.New().String(),
		FundID:              req.FundID,
		AsOf:                asOf,
		NetValue:            netValue,
		AccumulatedNetValue: accumulated.Add(netValue.Sub(previous)),
		DailyGrowthRate:     changePercent,
		CreatedAt:           time.Now().UTC(),
	}
	if err := e.store.InsertNavSnapshot(ctx, snap); err != nil {
		metrics.NavComputations.WithLabelValues("error").Inc()
		return nil, apperr.Wrap(err, apperr.Internal, "persist snapshot")
	}
	metrics.NavComputations.WithLabelValues("success").Inc()

	slog.Info("nav computed",
		"fund", req.FundID,
		"net_value", netValue.String(),
		"previous", previous.String(),
		"change_pct", changePercent.String(),
		"news_items", impactCount,
	)

	if e.hub != nil {
		e.hub.Broadcast(Update{
			Type:          "nav_updated",
			FundID:        req.FundID,
			FundCode:      fund.Code,
			NetValue:      netValue.String(),
			ChangePercent: changePercent.String(),
			AsOf:          asOf.Format(time.RFC3339),
		})
	}

	return &ComputeResult{
		FundID:           req.FundID,
		AsOf:             asOf,
		NetValue:         netValue,
		PreviousNetValue: previous,
		ChangePercent:    changePercent,
		NewsImpactCount:  impactCount,
	}, nil
}

// newsImpact scores the request's news items (or fetches recent ones) and
// returns the mean coefficient. A failing news fetch degrades to neutral
// impact; malformed explicitly-supplied items fail fast.
func (e *Engine) newsImpact(ctx context.Context, fund *model.Fund, req ComputeRequest, now time.Time) (decimal.Decimal, int, error) {
	items := req.News
	explicit := items != nil

	if !explicit && req.IncludeNews && e.source != nil {
		fetched, err := e.source.Latest(ctx, fund.ID, newsWindow)
		if err != nil {
			slog.Warn("news fetch failed, computing without news impact",
				"fund", fund.ID, "err", err)
			return decimal.NewFromInt(1), 0, nil
		}
		items = fetched
	}

	if len(items) == 0 {
		return decimal.NewFromInt(1), 0, nil
	}

	sum := decimal.Zero
	count := 0
	for _, item := range items {
		coeff, factors, err := e.scorer.Score(item, fund.Keywords, now)
		if err != nil {
			if explicit {
				return decimal.Zero, 0, err
			}
			slog.Warn("skipping malformed news item", "news", item.ID, "err", err)
			continue
		}
		metrics.NewsItemsScored.Inc()

		rec := &model.NewsImpactRecord{
			ID:                uuid.New().String(),
			NewsID:            item.ID,
			FundID:            fund.ID,
			ImpactCoefficient: coeff,
			Factors:           factors,
			ScoredAt:          now,
		}
		if err := e.store.InsertNewsImpact(ctx, rec); err != nil {
			return decimal.Zero, 0, apperr.Wrap(err, apperr.Internal, "persist news impact")
		}

		sum = sum.Add(coeff)
		count++
	}

	if count == 0 {
		return decimal.NewFromInt(1), 0, nil
	}
	return sum.Div(decimal.NewFromInt(int64(count))), count, nil
}

// BatchItem is one fund's outcome within a batch computation.
type BatchItem struct {
	FundID string         `json:"fund_id"`
	Result *ComputeResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// BatchResult reports per-fund outcomes of a batch NAV computation.
type BatchResult struct {
	Items     []BatchItem `json:"items"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// ComputeBatch runs Compute for each fund independently. One fund's failure
// never aborts the batch; failures are collected, successes committed.
// Cancelling the context stops before the next item, leaving already
// completed items committed.
func (e *Engine) ComputeBatch(ctx context.Context, fundIDs []string) *BatchResult {
	out := &BatchResult{}
	for _, id := range fundIDs {
		if ctx.Err() != nil {
			out.Items = append(out.Items, BatchItem{FundID: id, Error: ctx.Err().Error()})
			out.Failed++
			continue
		}

		res, err := e.Compute(ctx, ComputeRequest{FundID: id, IncludeNews: true})
		if err != nil {
			slog.Warn("batch nav item failed", "fund", id, "err", err)
			out.Items = append(out.Items, BatchItem{FundID: id, Error: err.Error()})
			out.Failed++
			continue
		}
		out.Items = append(out.Items, BatchItem{FundID: id, Result: res})
		out.Succeeded++
	}
	return out
}

// HistoryPoint is one dated NAV value in a history or simulation series.
type HistoryPoint struct {
	Date          time.Time       `json:"date"`
	NetValue      decimal.Decimal `json:"net_value"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// Valid history frequencies.
const (
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
)

// History replays persisted snapshots over [from, to], downsampled to one
// point per period (the period's last snapshot). It is a deterministic read
// of recorded history — nothing is generated.
func (e *Engine) History(ctx context.Context, fundID string, from, to time.Time, freq string) ([]HistoryPoint, error) {
	if err := validateRange(fundID, from, to, freq); err != nil {
		return nil, err
	}
	if _, err := e.store.GetFund(ctx, fundID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "fund %s not found", fundID)
		}
		return nil, apperr.Wrap(err, apperr.Internal, "read fund")
	}

	snaps, err := e.listSnapshots(ctx, fundID, from, to)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "read snapshots")
	}

	// Keep the last snapshot of each period; snaps are ascending by AsOf.
	var points []HistoryPoint
	lastBucket := ""
	for _, sn := range snaps {
		b := bucket(sn.AsOf, freq)
		p := HistoryPoint{Date: sn.AsOf, NetValue: sn.NetValue, ChangePercent: sn.DailyGrowthRate}
		if b == lastBucket && len(points) > 0 {
			points[len(points)-1] = p
		} else {
			points = append(points, p)
			lastBucket = b
		}
	}
	return points, nil
}

// listSnapshots reads snapshots for a range, preferring the cached
// full-history accessor when the store provides one. History is a report
// read, so a slightly stale cache is acceptable here.
func (e *Engine) listSnapshots(ctx context.Context, fundID string, from, to time.Time) ([]model.NavSnapshot, error) {
	if hs, ok := e.store.(interface {
		NavHistory(context.Context, string, time.Time, time.Time) ([]model.NavSnapshot, error)
	}); ok {
		return hs.NavHistory(ctx, fundID, from, to)
	}
	return e.store.ListNavSnapshots(ctx, fundID, from, to)
}

// Simulate generates a synthetic NAV series for [from, to]. The series is
// not recorded history and persists nothing: each step's change is derived
// deterministically from a (fund, date) hash, so repeated calls return the
// same series. Per-step changes respect the volatility band.
func (e *Engine) Simulate(ctx context.Context, fundID string, from, to time.Time, freq string) ([]HistoryPoint, error) {
	if err := validateRange(fundID, from, to, freq); err != nil {
		return nil, err
	}
	if _, err := e.store.GetFund(ctx, fundID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "fund %s not found", fundID)
		}
		return nil, apperr.Wrap(err, apperr.Internal, "read fund")
	}

	one := decimal.NewFromInt(1)
	previous := InitialNetValue
	var points []HistoryPoint

	for date := from; !date.After(to); date = step(date, freq) {
		change := syntheticChange(fundID, date)
		net := previous.Mul(one.Add(change)).Round(NavScale)

		lower := previous.Mul(one.Sub(e.cfg.MaxDailyChange))
		upper := previous.Mul(one.Add(e.cfg.MaxDailyChange))
		if net.LessThan(lower) {
			net = lower
		}
		if net.GreaterThan(upper) {
			net = upper
		}

		changePct := net.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(PercentScale)
		points = append(points, HistoryPoint{Date: date, NetValue: net, ChangePercent: changePct})
		previous = net
	}
	return points, nil
}

// syntheticChange maps (fundID, date) to a small daily change around the
// base drift, in roughly [-0.9%, +1.1%].
func syntheticChange(fundID string, date time.Time) decimal.Decimal {
	h := fnv.New64a()
	h.Write([]byte(fundID))
	h.Write([]byte(date.UTC().Format("2006-01-02")))
	u := float64(h.Sum64()%10000) / 10000.0 // [0, 1)

	return decimal.NewFromFloat(0.001 + (u-0.5)*0.02)
}

func validateRange(fundID string, from, to time.Time, freq string) error {
	if fundID == "" {
		return apperr.New(apperr.Invalid, "fund id is required")
	}
	if from.IsZero() || to.IsZero() || from.After(to) {
		return apperr.New(apperr.Invalid, "start date must not be after end date")
	}
	switch freq {
	case FreqDaily, FreqWeekly, FreqMonthly:
		return nil
	default:
		return apperr.New(apperr.Invalid, "frequency must be daily, weekly, or monthly")
	}
}

func bucket(t time.Time, freq string) string {
	switch freq {
	case FreqWeekly:
		y, w := t.UTC().ISOWeek()
		return fmt.Sprintf("%d-w%02d", y, w)
	case FreqMonthly:
		return t.UTC().Format("2006-01")
	default:
		return t.UTC().Format("2006-01-02")
	}
}

func step(t time.Time, freq string) time.Time {
	switch freq {
	case FreqWeekly:
		return t.AddDate(0, 0, 7)
	case FreqMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}
