package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// round-trip through TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// duplicateOr maps unique-constraint violations (SQLSTATE 23505) to
// ErrDuplicate.
func duplicateOr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- Funds ---

func (s *PostgresStore) CreateFund(ctx context.Context, f *model.Fund) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO funds (id, code, name, fund_type, risk_level, status, fee_rate, keywords, latest_nav, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9::NUMERIC, $10)`,
		f.ID, f.Code, f.Name, f.Type, f.RiskLevel, f.Status,
		f.FeeRate.String(), f.Keywords, f.LatestNav.String(), f.CreatedAt,
	)
	if err != nil {
		return duplicateOr(err, "create fund "+f.Code)
	}
	return nil
}

const fundColumns = `id, code, name, fund_type, risk_level, status,
	fee_rate::TEXT, keywords, latest_nav::TEXT, created_at`

func scanFund(row pgx.Row) (*model.Fund, error) {
	var f model.Fund
	var feeRate, latestNav string

	if err := row.Scan(&f.ID, &f.Code, &f.Name, &f.Type, &f.RiskLevel, &f.Status,
		&feeRate, &f.Keywords, &latestNav, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.FeeRate, _ = decimal.NewFromString(feeRate)
	f.LatestNav, _ = decimal.NewFromString(latestNav)
	return &f, nil
}

func (s *PostgresStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	f, err := scanFund(s.pool.QueryRow(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "get fund "+id)
	}
	return f, nil
}

func (s *PostgresStore) GetFundByCode(ctx context.Context, code string) (*model.Fund, error) {
	f, err := scanFund(s.pool.QueryRow(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE code = $1`, code))
	if err != nil {
		return nil, notFoundOr(err, "get fund by code "+code)
	}
	return f, nil
}

func (s *PostgresStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundColumns+` FROM funds ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, *f)
	}
	return funds, rows.Err()
}

func (s *PostgresStore) SetFundStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE funds SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- NAV history ---

// InsertNavSnapshot appends the snapshot and moves funds.latest_nav in one
// database transaction so a reader can never observe one without the other.
func (s *PostgresStore) InsertNavSnapshot(ctx context.Context, snap *model.NavSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO nav_snapshots (id, fund_id, as_of, net_value, accumulated_net_value, daily_growth_rate, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
		snap.ID, snap.FundID, snap.AsOf,
		snap.NetValue.String(), snap.AccumulatedNetValue.String(),
		snap.DailyGrowthRate.String(), snap.CreatedAt,
	)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE funds SET latest_nav = $2::NUMERIC WHERE id = $1`,
		snap.FundID, snap.NetValue.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

const snapshotColumns = `id, fund_id, as_of, net_value::TEXT,
	accumulated_net_value::TEXT, daily_growth_rate::TEXT, created_at`

func scanSnapshot(row pgx.Row) (*model.NavSnapshot, error) {
	var sn model.NavSnapshot
	var net, acc, growth string

	if err := row.Scan(&sn.ID, &sn.FundID, &sn.AsOf, &net, &acc, &growth, &sn.CreatedAt); err != nil {
		return nil, err
	}
	sn.NetValue, _ = decimal.NewFromString(net)
	sn.AccumulatedNetValue, _ = decimal.NewFromString(acc)
	sn.DailyGrowthRate, _ = decimal.NewFromString(growth)
	return &sn, nil
}

func (s *PostgresStore) LatestNavSnapshot(ctx context.Context, fundID string) (*model.NavSnapshot, error) {
	sn, err := scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM nav_snapshots
		 WHERE fund_id = $1 ORDER BY as_of DESC LIMIT 1`, fundID))
	if err != nil {
		return nil, notFoundOr(err, "latest snapshot "+fundID)
	}
	return sn, nil
}

func (s *PostgresStore) ListNavSnapshots(ctx context.Context, fundID string, from, to time.Time) ([]model.NavSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM nav_snapshots
		 WHERE fund_id = $1 AND as_of BETWEEN $2 AND $3
		 ORDER BY as_of`, fundID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.NavSnapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *sn)
	}
	return snaps, rows.Err()
}

// --- News impact audit ---

func (s *PostgresStore) InsertNewsImpact(ctx context.Context, rec *model.NewsImpactRecord) error {
	factors, err := json.Marshal(rec.Factors)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO news_impacts (id, news_id, fund_id, impact_coefficient, factors, scored_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		rec.ID, rec.NewsID, rec.FundID,
		rec.ImpactCoefficient.String(), factors, rec.ScoredAt,
	)
	return err
}

func (s *PostgresStore) ListNewsImpactsByFund(ctx context.Context, fundID string) ([]model.NewsImpactRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, news_id, fund_id, impact_coefficient::TEXT, factors, scored_at
		 FROM news_impacts WHERE fund_id = $1 ORDER BY scored_at DESC`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.NewsImpactRecord
	for rows.Next() {
		var rec model.NewsImpactRecord
		var coeff string
		var factors []byte
		if err := rows.Scan(&rec.ID, &rec.NewsID, &rec.FundID, &coeff, &factors, &rec.ScoredAt); err != nil {
			return nil, err
		}
		rec.ImpactCoefficient, _ = decimal.NewFromString(coeff)
		if err := json.Unmarshal(factors, &rec.Factors); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, status, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		u.ID, u.Username, u.Email, u.Status, u.Balance.String(), u.CreatedAt,
	)
	if err != nil {
		return duplicateOr(err, "create user "+u.Username)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, status, balance::TEXT, created_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.Status, &balance, &u.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "get user "+id)
	}
	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

func (s *PostgresStore) UpdateUserBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`,
		id, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Holdings ---

func (s *PostgresStore) GetHolding(ctx context.Context, userID, fundID string) (*model.Holding, error) {
	h, err := scanHolding(s.pool.QueryRow(ctx,
		`SELECT user_id, fund_id, shares::TEXT, average_cost::TEXT, updated_at
		 FROM holdings WHERE user_id = $1 AND fund_id = $2`, userID, fundID))
	if err != nil {
		return nil, notFoundOr(err, "get holding")
	}
	return h, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, fund_id, shares::TEXT, average_cost::TEXT, updated_at
		 FROM holdings WHERE user_id = $1 ORDER BY fund_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHolding(row pgx.Row) (*model.Holding, error) {
	var h model.Holding
	var shares, avgCost string

	if err := row.Scan(&h.UserID, &h.FundID, &shares, &avgCost, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.Shares, _ = decimal.NewFromString(shares)
	h.AverageCost, _ = decimal.NewFromString(avgCost)
	return &h, nil
}

// --- Transactions ---

// ApplyTrade writes balance, holding, and transaction inside one database
// transaction. The user row is locked FOR UPDATE first so concurrent
// appliers from other processes serialize here as well.
func (s *PostgresStore) ApplyTrade(ctx context.Context, app *TradeApplication) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx,
		`SELECT id FROM users WHERE id = $1 FOR UPDATE`, app.Transaction.UserID).
		Scan(&locked)
	if err != nil {
		return notFoundOr(err, "lock user "+app.Transaction.UserID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance = $2::NUMERIC WHERE id = $1`,
		app.Transaction.UserID, app.NewBalance.String()); err != nil {
		return err
	}

	switch {
	case app.DeleteHolding:
		if _, err := tx.Exec(ctx,
			`DELETE FROM holdings WHERE user_id = $1 AND fund_id = $2`,
			app.Transaction.UserID, app.Transaction.FundID); err != nil {
			return err
		}
	case app.Holding != nil:
		h := app.Holding
		if _, err := tx.Exec(ctx,
			`INSERT INTO holdings (user_id, fund_id, shares, average_cost, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
			 ON CONFLICT (user_id, fund_id)
			 DO UPDATE SET shares = EXCLUDED.shares, average_cost = EXCLUDED.average_cost, updated_at = EXCLUDED.updated_at`,
			h.UserID, h.FundID, h.Shares.String(), h.AverageCost.String(), h.UpdatedAt); err != nil {
			return err
		}
	}

	t := app.Transaction
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, fund_id, transaction_type, shares, unit_price, fee, net_amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		t.ID, t.UserID, t.FundID, t.Type,
		t.Shares.String(), t.UnitPrice.String(), t.Fee.String(), t.NetAmount.String(),
		t.Status, t.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, page, perPage int) ([]model.Transaction, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).
		Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, fund_id, transaction_type,
		        shares::TEXT, unit_price::TEXT, fee::TEXT, net_amount::TEXT,
		        status, created_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares, price, fee, net string
		if err := rows.Scan(&t.ID, &t.UserID, &t.FundID, &t.Type,
			&shares, &price, &fee, &net, &t.Status, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.UnitPrice, _ = decimal.NewFromString(price)
		t.Fee, _ = decimal.NewFromString(fee)
		t.NetAmount, _ = decimal.NewFromString(net)
		txs = append(txs, t)
	}
	return txs, total, rows.Err()
}

func (s *PostgresStore) TradeStatsForDay(ctx context.Context, userID string, at time.Time) (DailyTradeStats, error) {
	day := at.UTC().Truncate(24 * time.Hour)
	var amount string
	var count int

	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(net_amount), 0)::TEXT, COUNT(*)
		 FROM transactions
		 WHERE user_id = $1 AND status = $2
		   AND created_at >= $3 AND created_at < $4`,
		userID, model.TxCompleted, day, day.Add(24*time.Hour)).
		Scan(&amount, &count)
	if err != nil {
		return DailyTradeStats{}, err
	}

	stats := DailyTradeStats{Count: count}
	stats.Amount, _ = decimal.NewFromString(amount)
	return stats, nil
}
