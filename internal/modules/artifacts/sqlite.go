package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/symphony/internal/database"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SQLiteRepository stores cycles in the artifacts database.
type SQLiteRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteRepository creates a repository over db. The artifacts schema
// must already be applied.
func NewSQLiteRepository(db *sql.DB, log zerolog.Logger) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		log: log.With().Str("repo", "artifacts").Logger(),
	}
}

// SaveCycle writes the cycle and its strategy results in one transaction,
// replacing a previous save of the same id.
func (r *SQLiteRepository) SaveCycle(ctx context.Context, record *CycleRecord) error {
	target, err := encodeAllocation(record.Target)
	if err != nil {
		return fmt.Errorf("failed to encode target for cycle %s: %w", record.ID, err)
	}
	plan, err := encodePlan(record.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan for cycle %s: %w", record.ID, err)
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM strategy_results WHERE cycle_id = ?`, record.ID); err != nil {
			return fmt.Errorf("failed to clear strategy results: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cycles (id, as_of, status, policy, failure_kind, failure, started_at, finished_at, aggregate, plan)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				as_of = excluded.as_of,
				status = excluded.status,
				policy = excluded.policy,
				failure_kind = excluded.failure_kind,
				failure = excluded.failure,
				started_at = excluded.started_at,
				finished_at = excluded.finished_at,
				aggregate = excluded.aggregate,
				plan = excluded.plan
		`, record.ID, record.AsOf.UTC().Format(time.RFC3339Nano), string(record.Status), record.Policy,
			record.FailureKind, record.Failure, record.StartedAt.UnixMilli(), record.FinishedAt.UnixMilli(), target, plan)
		if err != nil {
			return fmt.Errorf("failed to insert cycle: %w", err)
		}

		for _, s := range record.Strategies {
			alloc, err := encodeAllocation(s.Allocation)
			if err != nil {
				return fmt.Errorf("failed to encode allocation for %s: %w", s.StrategyID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO strategy_results (cycle_id, strategy_id, weight, status, failure_kind, failure, allocation)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, record.ID, s.StrategyID, s.Weight.String(), string(s.Status), s.FailureKind, s.Failure, alloc)
			if err != nil {
				return fmt.Errorf("failed to insert result for %s: %w", s.StrategyID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Str("cycle_id", record.ID).Str("status", string(record.Status)).Msg("Saved cycle")
	return nil
}

const cycleColumns = `id, as_of, status, policy, failure_kind, failure, started_at, finished_at, aggregate, plan`

// GetCycle returns the cycle with id or ErrNotFound.
func (r *SQLiteRepository) GetCycle(ctx context.Context, id string) (*CycleRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id)
	return r.load(ctx, row)
}

// LatestCycle returns the most recently started cycle or ErrNotFound.
func (r *SQLiteRepository) LatestCycle(ctx context.Context) (*CycleRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM cycles ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	return r.load(ctx, row)
}

// ListCycles returns up to limit cycles, newest first. limit <= 0 means all.
func (r *SQLiteRepository) ListCycles(ctx context.Context, limit int) ([]*CycleRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM cycles ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan cycle id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycles: %w", err)
	}

	out := make([]*CycleRecord, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetCycle(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *SQLiteRepository) load(ctx context.Context, row *sql.Row) (*CycleRecord, error) {
	var (
		c                  CycleRecord
		asOf, status       string
		started, finished  int64
		targetRaw, planRaw []byte
	)
	err := row.Scan(&c.ID, &asOf, &status, &c.Policy, &c.FailureKind, &c.Failure, &started, &finished, &targetRaw, &planRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan cycle: %w", err)
	}

	if c.AsOf, err = time.Parse(time.RFC3339Nano, asOf); err != nil {
		return nil, fmt.Errorf("invalid as_of %q for cycle %s: %w", asOf, c.ID, err)
	}
	c.Status = Status(status)
	c.StartedAt = time.UnixMilli(started).UTC()
	c.FinishedAt = time.UnixMilli(finished).UTC()
	if c.Target, err = decodeAllocation(targetRaw); err != nil {
		return nil, fmt.Errorf("cycle %s: %w", c.ID, err)
	}
	if c.Plan, err = decodePlan(planRaw); err != nil {
		return nil, fmt.Errorf("cycle %s: %w", c.ID, err)
	}

	if c.Strategies, err = r.strategies(ctx, c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *SQLiteRepository) strategies(ctx context.Context, cycleID string) ([]StrategyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT strategy_id, weight, status, failure_kind, failure, allocation
		FROM strategy_results
		WHERE cycle_id = ?
		ORDER BY rowid
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy results for %s: %w", cycleID, err)
	}
	defer rows.Close()

	var out []StrategyRecord
	for rows.Next() {
		var (
			s              StrategyRecord
			weight, status string
			allocRaw       []byte
		)
		if err := rows.Scan(&s.StrategyID, &weight, &status, &s.FailureKind, &s.Failure, &allocRaw); err != nil {
			return nil, fmt.Errorf("failed to scan strategy result: %w", err)
		}
		if s.Weight, err = decimal.NewFromString(weight); err != nil {
			return nil, fmt.Errorf("invalid weight for %s: %w", s.StrategyID, err)
		}
		s.Status = StrategyStatus(status)
		if s.Allocation, err = decodeAllocation(allocRaw); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.StrategyID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
