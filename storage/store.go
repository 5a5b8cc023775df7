package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"polymarket-copybot/models"
)

// Store wraps SQLite persistence for the decision journal and ledger.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	store := &Store{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) runMigrations(ctx context.Context) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS copy_decisions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        event_id TEXT NOT NULL,
        market_id TEXT NOT NULL,
        actor TEXT,
        side TEXT NOT NULL,
        original_price REAL,
        original_size REAL,
        copy_usd REAL,
        adjusted_price REAL,
        size REAL,
        accepted INTEGER NOT NULL,
        reason TEXT,
        source TEXT,
        order_id TEXT,
        order_status TEXT,
        error_reason TEXT,
        decided_at TEXT NOT NULL,
        submitted_at TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_copy_decisions_event ON copy_decisions(event_id);
    CREATE INDEX IF NOT EXISTS idx_copy_decisions_decided ON copy_decisions(decided_at DESC);

    CREATE TABLE IF NOT EXISTS ledger_positions (
        market_id TEXT PRIMARY KEY,
        position REAL NOT NULL,
        updated_at TEXT
    );

    CREATE TABLE IF NOT EXISTS processed_events (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        event_id TEXT NOT NULL UNIQUE,
        processed_at TEXT
    );
    `
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// SaveDecision appends a decision to the journal.
func (s *Store) SaveDecision(ctx context.Context, rec models.DecisionRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO copy_decisions (
            event_id, market_id, actor, side, original_price, original_size, copy_usd,
            adjusted_price, size, accepted, reason, source, order_id, order_status, error_reason, decided_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.MarketID, rec.Actor, string(rec.Side), rec.OriginalPrice, rec.OriginalSize, rec.CopyUSD,
		rec.AdjustedPrice, rec.Size, boolInt(rec.Accept), string(rec.Reason), rec.Source, rec.OrderID,
		rec.OrderStatus, rec.ErrorReason, timeString(rec.DecidedAt),
	)
	return err
}

const sqliteDecisionColumns = `
    event_id, market_id, actor, side, original_price, original_size, copy_usd,
    adjusted_price, size, accepted, reason, source, order_id, order_status, error_reason, decided_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (models.DecisionRecord, error) {
	var rec models.DecisionRecord
	var side string
	var accepted int64
	var actor, reason, source, orderID, orderStatus, errReason, decidedAt sql.NullString
	if err := row.Scan(
		&rec.EventID, &rec.MarketID, &actor, &side, &rec.OriginalPrice, &rec.OriginalSize, &rec.CopyUSD,
		&rec.AdjustedPrice, &rec.Size, &accepted, &reason, &source, &orderID, &orderStatus, &errReason, &decidedAt,
	); err != nil {
		return rec, err
	}
	rec.Side = models.Side(side)
	rec.Accept = accepted == 1
	rec.Actor = actor.String
	rec.Reason = models.RejectReason(reason.String)
	rec.Source = source.String
	rec.OrderID = orderID.String
	rec.OrderStatus = orderStatus.String
	rec.ErrorReason = errReason.String
	if decidedAt.Valid {
		if parsed, err := time.Parse(time.RFC3339Nano, decidedAt.String); err == nil {
			rec.DecidedAt = parsed
		}
	}
	return rec, nil
}

// ListDecisions returns the most recent decisions, newest first.
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT `+sqliteDecisionColumns+`
        FROM copy_decisions
        ORDER BY decided_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDecision returns the first decision recorded for eventID.
func (s *Store) GetDecision(ctx context.Context, eventID string) (*models.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT `+sqliteDecisionColumns+`
        FROM copy_decisions
        WHERE event_id = ?
        ORDER BY id ASC
        LIMIT 1`, eventID)
	rec, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveOrderResult attaches a submission outcome to the accepted decision.
func (s *Store) SaveOrderResult(ctx context.Context, res models.OrderResult) error {
	result, err := s.db.ExecContext(ctx, `
        UPDATE copy_decisions
        SET order_id = ?, order_status = ?, error_reason = ?, submitted_at = ?
        WHERE event_id = ? AND accepted = 1`,
		res.OrderID, res.Status, res.ErrorReason, timeString(res.SubmittedAt), res.EventID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DecisionStats aggregates the journal.
func (s *Store) DecisionStats(ctx context.Context) (DecisionStats, error) {
	stats := newDecisionStats()

	err := s.db.QueryRowContext(ctx, `
        SELECT
            COUNT(*),
            COALESCE(SUM(CASE WHEN accepted = 1 THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN order_status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN order_status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN order_status = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN accepted = 1 THEN copy_usd ELSE 0 END), 0)
        FROM copy_decisions`,
		models.OrderStatusPlaced, models.OrderStatusSimulated, models.OrderStatusFailed,
	).Scan(&stats.Total, &stats.Accepted, &stats.Placed, &stats.Simulated, &stats.Failed, &stats.AcceptedUSD)
	if err != nil {
		return stats, err
	}
	stats.Rejected = stats.Total - stats.Accepted

	rows, err := s.db.QueryContext(ctx, `
        SELECT reason, COUNT(*)
        FROM copy_decisions
        WHERE accepted = 0
        GROUP BY reason`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var reason sql.NullString
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return stats, err
		}
		stats.ByReason[reason.String] = n
	}
	return stats, rows.Err()
}

// SaveLedger replaces the stored ledger with positions.
func (s *Store) SaveLedger(ctx context.Context, positions map[string]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_positions`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO ledger_positions (market_id, position, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := timeString(time.Now())
	for market, pos := range positions {
		if _, err := stmt.ExecContext(ctx, market, pos, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadLedger returns the stored ledger.
func (s *Store) LoadLedger(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT market_id, position FROM ledger_positions`)
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
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO processed_events (event_id, processed_at) VALUES (?, ?)
        ON CONFLICT(event_id) DO NOTHING`, eventID, timeString(time.Now()))
	return err
}

// RecentEventIDs returns up to limit processed ids, oldest first.
func (s *Store) RecentEventIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT event_id FROM (
            SELECT seq, event_id FROM processed_events ORDER BY seq DESC LIMIT ?
        ) ORDER BY seq ASC`, limit)
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sqliteTime has fixed-width fractions so text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func timeString(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTime)
}
