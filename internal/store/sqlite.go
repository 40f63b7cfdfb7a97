package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"tickwise/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RecommendationStore = (*SQLiteStore)(nil)

const recommendationsSchema = `
CREATE TABLE IF NOT EXISTS recommendations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker            TEXT NOT NULL,
	signal_date       TEXT NOT NULL,
	company           TEXT NOT NULL DEFAULT '',
	recommendation    TEXT NOT NULL,
	tickwise_score    REAL,
	technical         REAL,
	fundamental_score REAL,
	forecast_1m       REAL,
	forecast_1m_p5    REAL,
	forecast_1m_p95   REAL,
	analysts_forecast REAL,
	close             REAL,
	UNIQUE (ticker, signal_date)
);
CREATE INDEX IF NOT EXISTS idx_recommendations_date ON recommendations (signal_date);
`

// SQLiteStore implements RecommendationStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps :memory: stable.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(recommendationsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RecommendationStore implementation
// ---------------------------------------------------------------------------

// SaveRecommendations inserts rows in one transaction. Rows with an empty
// ticker or date are skipped.
func (s *SQLiteStore) SaveRecommendations(ctx context.Context, recs []domain.RecommendationRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO recommendations
		(ticker, signal_date, company, recommendation, tickwise_score, technical,
		 fundamental_score, forecast_1m, forecast_1m_p5, forecast_1m_p95,
		 analysts_forecast, close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range recs {
		ticker := strings.ToUpper(strings.TrimSpace(r.Ticker))
		if ticker == "" || r.SignalDate == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx,
			ticker, r.SignalDate, r.Company, string(r.Recommendation),
			nullable(r.TickwiseScore), nullable(r.Technical), nullable(r.FundamentalScore),
			nullable(r.Forecast1M), nullable(r.Forecast1MP5), nullable(r.Forecast1MP95),
			nullable(r.AnalystsForecast), nullable(r.Close))
		if err != nil {
			return 0, fmt.Errorf("inserting %s %s: %w", ticker, r.SignalDate, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// LoadRecommendations returns every stored row.
func (s *SQLiteStore) LoadRecommendations(ctx context.Context) ([]domain.RecommendationRecord, error) {
	return s.query(ctx, `SELECT `+recommendationColumns+` FROM recommendations ORDER BY id`)
}

// LatestSnapshot returns the rows of the most recent signal date.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) ([]domain.RecommendationRecord, error) {
	return s.query(ctx, `SELECT `+recommendationColumns+` FROM recommendations
		WHERE signal_date = (SELECT MAX(signal_date) FROM recommendations) ORDER BY id`)
}

const recommendationColumns = `ticker, signal_date, company, recommendation, tickwise_score,
	technical, fundamental_score, forecast_1m, forecast_1m_p5, forecast_1m_p95,
	analysts_forecast, close`

func (s *SQLiteStore) query(ctx context.Context, q string) ([]domain.RecommendationRecord, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecommendationRecord
	for rows.Next() {
		var (
			r   domain.RecommendationRecord
			rec string
			f   [8]sql.NullFloat64
		)
		if err := rows.Scan(&r.Ticker, &r.SignalDate, &r.Company, &rec,
			&f[0], &f[1], &f[2], &f[3], &f[4], &f[5], &f[6], &f[7]); err != nil {
			return nil, err
		}
		r.Recommendation = domain.Recommendation(rec)
		r.TickwiseScore = orNaN(f[0])
		r.Technical = orNaN(f[1])
		r.FundamentalScore = orNaN(f[2])
		r.Forecast1M = orNaN(f[3])
		r.Forecast1MP5 = orNaN(f[4])
		r.Forecast1MP95 = orNaN(f[5])
		r.AnalystsForecast = orNaN(f[6])
		r.Close = orNaN(f[7])
		out = append(out, r)
	}
	return out, rows.Err()
}

// nullable stores non-finite values as NULL.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: domain.IsFinite(v)}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
