package repo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/oceanstack/argo-insight/internal/config"
)

// Postgres persists anomaly events and query history, and executes compiled
// structured queries against the measurement tables.
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// OpenPostgres connects, tunes the pool and optionally creates the tables it owns.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	p := NewPostgres(db, logger)
	if cfg.EnsureSchema {
		if err := p.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return p, nil
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS anomaly_events (
		id UUID PRIMARY KEY,
		anomaly_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		last_flag_at TIMESTAMPTZ NOT NULL,
		centroid GEOMETRY(Point, 4326) NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		description TEXT NOT NULL,
		flag_count INTEGER NOT NULL,
		mean_abs_z DOUBLE PRECISION NOT NULL,
		mean_deviation DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS anomaly_events_centroid_idx ON anomaly_events USING GIST (centroid)`,
	`CREATE INDEX IF NOT EXISTS anomaly_events_start_idx ON anomaly_events (start_time)`,
	`CREATE TABLE IF NOT EXISTS query_history (
		id UUID PRIMARY KEY,
		question TEXT NOT NULL,
		structured_query JSONB NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		result_count INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS query_history_created_idx ON query_history (created_at DESC)`,
}

// EnsureSchema creates the event and history tables. The Argo measurement
// tables are owned by the ingestion pipeline and are only read.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			head, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
			return fmt.Errorf("ensure schema (%s): %w", head, err)
		}
	}
	p.logger.Info("postgres schema ensured", slog.Int("statements", len(schemaStatements)))
	return nil
}

// QueryRows runs a parameterized statement and returns column maps. Text
// columns arrive from the driver as []byte and are converted to strings.
func (p *Postgres) QueryRows(ctx context.Context, query string, args []any) ([]map[string]any, error) {
	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
