package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// FeatureStore persists per-account feature rows keyed by run and account.
// NaN values are stored as NULL.
type FeatureStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS account_features (
	run_id                TEXT NOT NULL,
	account_id            TEXT NOT NULL,
	is_mule               INTEGER NOT NULL,
	txn_count             INTEGER NOT NULL,
	total_volume          REAL,
	avg_amount            REAL,
	median_amount         REAL,
	max_amount            REAL,
	std_amount            REAL,
	unique_channels       INTEGER NOT NULL,
	unique_counterparties INTEGER NOT NULL,
	credit_count          INTEGER NOT NULL,
	debit_count           INTEGER NOT NULL,
	cd_ratio              REAL,
	credit_sources        INTEGER NOT NULL,
	debit_dests           INTEGER NOT NULL,
	fan_ratio             REAL,
	max_gap_days          REAL,
	near_threshold_count  INTEGER NOT NULL,
	round_amount_frac     REAL,
	salary_window_frac    REAL,
	night_frac            REAL,
	pass_through_matches  INTEGER NOT NULL,
	shared_mule_cps       INTEGER NOT NULL,
	account_age_days      REAL,
	pin_mismatch          INTEGER NOT NULL,
	branch_mule_rate      REAL,
	PRIMARY KEY (run_id, account_id)
);
CREATE INDEX IF NOT EXISTS idx_features_mule ON account_features(run_id, is_mule);
`

const featureColumns = `account_id, is_mule, txn_count, total_volume, avg_amount, median_amount,
	max_amount, std_amount, unique_channels, unique_counterparties, credit_count, debit_count,
	cd_ratio, credit_sources, debit_dests, fan_ratio, max_gap_days, near_threshold_count,
	round_amount_frac, salary_window_frac, night_frac, pass_through_matches, shared_mule_cps,
	account_age_days, pin_mismatch, branch_mule_rate`

// NewFeatureStore opens or creates the database at path.
func NewFeatureStore(path string) (*FeatureStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &FeatureStore{db: db, path: path}, nil
}

// SaveFeatures replaces the rows of runID in a single transaction.
func (s *FeatureStore) SaveFeatures(ctx context.Context, runID string, rows []domain.FeatureRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_features WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear run %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO account_features (run_id, `+featureColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx, runID,
			r.AccountID, r.IsMule, r.TxnCount,
			nullable(r.TotalVolume), nullable(r.AvgAmount), nullable(r.MedianAmount),
			nullable(r.MaxAmount), nullable(r.StdAmount),
			r.UniqueChannels, r.UniqueCounterparties, r.CreditCount, r.DebitCount,
			nullable(r.CDRatio), r.CreditSources, r.DebitDests, nullable(r.FanRatio),
			nullable(r.MaxGapDays), r.NearThresholdCount,
			nullable(r.RoundAmountFrac), nullable(r.SalaryWindowFrac), nullable(r.NightFrac),
			r.PassThroughMatches, r.SharedMuleCPs,
			nullable(r.AccountAgeDays), r.PinMismatch, nullable(r.BranchMuleRate))
		if err != nil {
			return fmt.Errorf("failed to insert features of %s: %w", r.AccountID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit features: %w", err)
	}
	return nil
}

func (s *FeatureStore) GetFeatures(ctx context.Context, runID, accountID string) (*domain.FeatureRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+featureColumns+` FROM account_features WHERE run_id = ? AND account_id = ?`, runID, accountID)

	r, err := scanFeatures(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: features of %s in run %s", repository.ErrNotFound, accountID, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read features of %s: %w", accountID, err)
	}
	return r, nil
}

// ListFeatures returns every row of runID ordered by account ID.
func (s *FeatureStore) ListFeatures(ctx context.Context, runID string) ([]domain.FeatureRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+featureColumns+` FROM account_features WHERE run_id = ? ORDER BY account_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var out []domain.FeatureRow
	for rows.Next() {
		r, err := scanFeatures(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan features: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *FeatureStore) Path() string {
	return s.path
}

func (s *FeatureStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeatures(sc scanner) (*domain.FeatureRow, error) {
	var r domain.FeatureRow
	var totalVolume, avgAmount, medianAmount, maxAmount, stdAmount, cdRatio, fanRatio,
		maxGap, roundFrac, salaryFrac, nightFrac, accountAge, branchRate sql.NullFloat64

	err := sc.Scan(
		&r.AccountID, &r.IsMule, &r.TxnCount,
		&totalVolume, &avgAmount, &medianAmount, &maxAmount, &stdAmount,
		&r.UniqueChannels, &r.UniqueCounterparties, &r.CreditCount, &r.DebitCount,
		&cdRatio, &r.CreditSources, &r.DebitDests, &fanRatio,
		&maxGap, &r.NearThresholdCount,
		&roundFrac, &salaryFrac, &nightFrac,
		&r.PassThroughMatches, &r.SharedMuleCPs,
		&accountAge, &r.PinMismatch, &branchRate,
	)
	if err != nil {
		return nil, err
	}

	r.TotalVolume = fromNull(totalVolume)
	r.AvgAmount = fromNull(avgAmount)
	r.MedianAmount = fromNull(medianAmount)
	r.MaxAmount = fromNull(maxAmount)
	r.StdAmount = fromNull(stdAmount)
	r.CDRatio = fromNull(cdRatio)
	r.FanRatio = fromNull(fanRatio)
	r.MaxGapDays = fromNull(maxGap)
	r.RoundAmountFrac = fromNull(roundFrac)
	r.SalaryWindowFrac = fromNull(salaryFrac)
	r.NightFrac = fromNull(nightFrac)
	r.AccountAgeDays = fromNull(accountAge)
	r.BranchMuleRate = fromNull(branchRate)
	return &r, nil
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

var _ repository.FeatureRepository = (*FeatureStore)(nil)
