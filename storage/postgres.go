package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polymarket-copybot/config"
	"polymarket-copybot/models"
)

// PostgresStore wraps PostgreSQL persistence for the decision journal and ledger.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a new PostgreSQL store with connection pooling
func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, cfg.Database, sslMode)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	// Keep slow queries from stalling the decision path.
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	poolCfg.ConnConfig.RuntimeParams["lock_timeout"] = "10000"
	poolCfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = "60000"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases database connections
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS copy_decisions (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			actor TEXT,
			side TEXT NOT NULL,
			original_price DOUBLE PRECISION,
			original_size DOUBLE PRECISION,
			copy_usd DOUBLE PRECISION,
			adjusted_price DOUBLE PRECISION,
			size DOUBLE PRECISION,
			accepted BOOLEAN NOT NULL,
			reason TEXT,
			source TEXT,
			order_id TEXT,
			order_status TEXT,
			error_reason TEXT,
			decided_at TIMESTAMPTZ NOT NULL,
			submitted_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_copy_decisions_event ON copy_decisions(event_id);
		CREATE INDEX IF NOT EXISTS idx_copy_decisions_decided ON copy_decisions(decided_at DESC);

		CREATE TABLE IF NOT EXISTS ledger_positions (
			market_id TEXT PRIMARY KEY,
			position DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS processed_events (
			event_id TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_processed_events_at ON processed_events(processed_at DESC);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// SaveDecision appends a decision to the journal.
func (s *PostgresStore) SaveDecision(ctx context.Context, rec models.DecisionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO copy_decisions (
			event_id, market_id, actor, side, original_price, original_size, copy_usd,
			adjusted_price, size, accepted, reason, source, order_id, order_status, error_reason, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		rec.EventID, rec.MarketID, rec.Actor, string(rec.Side), rec.OriginalPrice, rec.OriginalSize, rec.CopyUSD,
		rec.AdjustedPrice, rec.Size, rec.Accept, string(rec.Reason), rec.Source, rec.OrderID, rec.OrderStatus,
		rec.ErrorReason, rec.DecidedAt.UTC(),
	)
	return err
}

const pgDecisionColumns = `
	event_id, market_id, COALESCE(actor, ''), side, original_price, original_size, copy_usd,
	adjusted_price, size, accepted, COALESCE(reason, ''), COALESCE(source, ''),
	COALESCE(order_id, ''), COALESCE(order_status, ''), COALESCE(error_reason, ''), decided_at`

func scanPGDecision(row pgx.Row) (models.DecisionRecord, error) {
	var rec models.DecisionRecord
	var side, reason string
	err := row.Scan(
		&rec.EventID, &rec.MarketID, &rec.Actor, &side, &rec.OriginalPrice, &rec.OriginalSize, &rec.CopyUSD,
		&rec.AdjustedPrice, &rec.Size, &rec.Accept, &reason, &rec.Source,
		&rec.OrderID, &rec.OrderStatus, &rec.ErrorReason, &rec.DecidedAt,
	)
	rec.Side = models.Side(side)
	rec.Reason = models.RejectReason(reason)
	return rec, err
}

// ListDecisions returns the most recent decisions, newest first.
func (s *PostgresStore) ListDecisions(ctx context.Context, limit int) ([]models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgDecisionColumns+`
		FROM copy_decisions
		ORDER BY decided_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		rec, err := scanPGDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetDecision returns the first decision recorded for eventID.
func (s *PostgresStore) GetDecision(ctx context.Context, eventID string) (*models.DecisionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgDecisionColumns+`
		FROM copy_decisions
		WHERE event_id = $1
		ORDER BY id ASC
		LIMIT 1
	`, eventID)
	rec, err := scanPGDecision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveOrderResult attaches a submission outcome to the accepted decision.
func (s *PostgresStore) SaveOrderResult(ctx context.Context, res models.OrderResult) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE copy_decisions
		SET order_id = $2, order_status = $3, error_reason = $4, submitted_at = $5
		WHERE event_id = $1 AND accepted = TRUE
	`, res.EventID, res.OrderID, res.Status, res.ErrorReason, res.SubmittedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DecisionStats aggregates the journal.
func (s *PostgresStore) DecisionStats(ctx context.Context) (DecisionStats, error) {
	stats := newDecisionStats()

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE accepted),
			COUNT(*) FILTER (WHERE order_status = $1),
			COUNT(*) FILTER (WHERE order_status = $2),
			COUNT(*) FILTER (WHERE order_status = $3),
			COALESCE(SUM(copy_usd) FILTER (WHERE accepted), 0)
		FROM copy_decisions
	`, models.OrderStatusPlaced, models.OrderStatusSimulated, models.OrderStatusFailed).Scan(
		&stats.Total, &stats.Accepted, &stats.Placed, &stats.Simulated, &stats.Failed, &stats.AcceptedUSD,
	)
	if err != nil {
		return stats, err
	}
	stats.Rejected = stats.Total - stats.Accepted

	rows, err := s.pool.Query(ctx, `
		SELECT reason, COUNT(*)
		FROM copy_decisions
		WHERE NOT accepted
		GROUP BY reason
	`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return stats, err
		}
		stats.ByReason[reason] = n
	}
	return stats, rows.Err()
}

// SaveLedger replaces the stored ledger with positions.
func (s *PostgresStore) SaveLedger(ctx context.Context, positions map[string]float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM ledger_positions`); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for market, pos := range positions {
		batch.Queue(`INSERT INTO ledger_positions (market_id, position, updated_at) VALUES ($1, $2, NOW())`, market, pos)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: save ledger: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LoadLedger returns the stored ledger.
func (s *PostgresStore) LoadLedger(ctx context.Context) (map[string]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT market_id, position FROM ledger_positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var market string
		var pos float64
		if err := rows.Scan(&market, &pos); err != nil {
			return nil, err
		}
		out[market] = pos
	}
	return out, rows.Err()
}

// MarkEventProcessed records eventID as seen.
func (s *PostgresStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processed_events (event_id, processed_at)
		VALUES ($1, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	return err
}

// RecentEventIDs returns up to limit processed ids, oldest first.
func (s *PostgresStore) RecentEventIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id FROM (
			SELECT event_id, processed_at FROM processed_events
			ORDER BY processed_at DESC
			LIMIT $1
		) recent
		ORDER BY processed_at ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
