package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"klineKit/internal/domain"
	"klineKit/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.KlineStore on SQLite. It is the long-term
// archive that survives key-value store flushes and TTL expiry.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/klines.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrStoreUnavailable, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serialises writers; sqlite3 would otherwise return SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite kline archive ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS klines (
		symbol TEXT NOT NULL,
		resolution TEXT NOT NULL,
		ts INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		PRIMARY KEY (symbol, resolution, ts)
	) WITHOUT ROWID;
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Upsert inserts or replaces bars keyed by (symbol, resolution, ts) in one transaction.
func (r *Repository) Upsert(ctx context.Context, series domain.Series, klines []domain.Kline) (int, error) {
	if err := series.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ports.ErrInvalidRequest, err)
	}
	klines = domain.DedupeAndSort(klines)
	for _, k := range klines {
		if err := k.Validate(); err != nil {
			return 0, err
		}
	}
	if len(klines) == 0 {
		return 0, nil
	}

	const query = `
	INSERT INTO klines (symbol, resolution, ts, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol, resolution, ts) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin upsert for %s: %w: %w", series, ports.ErrUpdateFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert for %s: %w: %w", series, ports.ErrUpdateFailed, err)
	}
	defer stmt.Close()

	for _, k := range klines {
		if _, err := stmt.ExecContext(ctx, series.Symbol, series.Resolution, k.Timestamp,
			k.Open, k.High, k.Low, k.Close, k.Volume); err != nil {
			return 0, fmt.Errorf("failed to upsert kline %d for %s: %w: %w", k.Timestamp, series, ports.ErrUpdateFailed, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert for %s: %w: %w", series, ports.ErrUpdateFailed, err)
	}

	r.logger.Debug(ctx, "Klines archived", map[string]interface{}{"series": series.String(), "count": len(klines)})
	return len(klines), nil
}

// Range retrieves bars with from <= ts <= to, ascending.
func (r *Repository) Range(ctx context.Context, series domain.Series, from, to int64) ([]domain.Kline, error) {
	const query = `
	SELECT ts, open, high, low, close, volume
	FROM klines
	WHERE symbol = ? AND resolution = ? AND ts BETWEEN ? AND ?
	ORDER BY ts ASC`

	rows, err := r.db.QueryContext(ctx, query, series.Symbol, series.Resolution, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query klines for %s: %w: %w", series, ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanKlines(rows)
}

// Latest retrieves the newest n bars, ascending.
func (r *Repository) Latest(ctx context.Context, series domain.Series, n int) ([]domain.Kline, error) {
	if n <= 0 {
		return nil, nil
	}
	const query = `
	SELECT ts, open, high, low, close, volume FROM (
		SELECT ts, open, high, low, close, volume
		FROM klines
		WHERE symbol = ? AND resolution = ?
		ORDER BY ts DESC LIMIT ?
	) ORDER BY ts ASC`

	rows, err := r.db.QueryContext(ctx, query, series.Symbol, series.Resolution, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest klines for %s: %w: %w", series, ports.ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanKlines(rows)
}

// Bounds returns first/last timestamps and the row count for a series.
func (r *Repository) Bounds(ctx context.Context, series domain.Series) (int64, int64, int64, error) {
	const query = `
	SELECT COALESCE(MIN(ts), 0), COALESCE(MAX(ts), 0), COUNT(*)
	FROM klines WHERE symbol = ? AND resolution = ?`

	var first, last, count int64
	err := r.db.QueryRowContext(ctx, query, series.Symbol, series.Resolution).Scan(&first, &last, &count)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to query bounds for %s: %w: %w", series, ports.ErrQueryFailed, err)
	}
	return first, last, count, nil
}

// DeleteSeries removes every row of a series.
func (r *Repository) DeleteSeries(ctx context.Context, series domain.Series) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM klines WHERE symbol = ? AND resolution = ?`,
		series.Symbol, series.Resolution)
	if err != nil {
		return 0, fmt.Errorf("failed to delete series %s: %w: %w", series, ports.ErrDeleteFailed, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", series, err)
	}
	r.logger.Info(ctx, "Archived series deleted", map[string]interface{}{"series": series.String(), "rows": n})
	return n, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanKline(s scanner) (domain.Kline, error) {
	var k domain.Kline
	err := s.Scan(&k.Timestamp, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume)
	return k, err
}

func scanKlines(rows *sql.Rows) ([]domain.Kline, error) {
	klines := make([]domain.Kline, 0)
	for rows.Next() {
		k, err := scanKline(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kline row: %w", err)
		}
		klines = append(klines, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kline rows: %w", err)
	}
	return klines, nil
}
