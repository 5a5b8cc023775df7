package storage

import (
	"context"
	"errors"
	"fmt"

	"polymarket-copybot/config"
	"polymarket-copybot/models"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("storage: not found")

// DecisionStats summarizes the decision journal.
type DecisionStats struct {
	Total       int64            `json:"total"`
	Accepted    int64            `json:"accepted"`
	Rejected    int64            `json:"rejected"`
	ByReason    map[string]int64 `json:"by_reason"`
	Placed      int64            `json:"placed"`
	Simulated   int64            `json:"simulated"`
	Failed      int64            `json:"failed"`
	AcceptedUSD float64          `json:"accepted_usd"`
}

// DataStore defines the interface for storage backends
type DataStore interface {
	Close() error

	// Decision journal. Every decision is appended, including duplicates,
	// so one event id may appear more than once.
	SaveDecision(ctx context.Context, rec models.DecisionRecord) error
	ListDecisions(ctx context.Context, limit int) ([]models.DecisionRecord, error)
	GetDecision(ctx context.Context, eventID string) (*models.DecisionRecord, error)
	SaveOrderResult(ctx context.Context, res models.OrderResult) error
	DecisionStats(ctx context.Context) (DecisionStats, error)

	// Ledger snapshot, replaced wholesale.
	SaveLedger(ctx context.Context, positions map[string]float64) error
	LoadLedger(ctx context.Context) (map[string]float64, error)

	// Processed event ids for warm restart.
	MarkEventProcessed(ctx context.Context, eventID string) error
	RecentEventIDs(ctx context.Context, limit int) ([]string, error)
}

// Ensure all implementations satisfy the interface
var _ DataStore = (*Store)(nil)
var _ DataStore = (*PostgresStore)(nil)
var _ DataStore = (*MockStore)(nil)

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (DataStore, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.Postgres)
	case "sqlite", "":
		return New(cfg.SQLitePath)
	case "memory":
		return NewMockStore(), nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

func newDecisionStats() DecisionStats {
	return DecisionStats{ByReason: make(map[string]int64)}
}
