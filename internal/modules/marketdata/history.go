// Package marketdata stores daily price history and serves it to the
// indicator engine.
package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/symphony/internal/database"
	"github.com/aristath/symphony/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DateLayout is the storage and import format for bar dates.
const DateLayout = "2006-01-02"

// HistoryRepository keeps bars in the history database.
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository creates a repository over db. The history schema must
// already be applied.
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

// GetBars implements domain.BarProvider.
func (r *HistoryRepository) GetBars(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]domain.Bar, error) {
	if lookback <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND date <= ?
		ORDER BY date DESC
		LIMIT ?
	`, symbol, asOf.UTC().Format(DateLayout), lookback)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bar for %s: %w", symbol, err)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars for %s: %w", symbol, err)
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func scanBar(rows *sql.Rows) (domain.Bar, error) {
	var date string
	var fields [5]string
	if err := rows.Scan(&date, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4]); err != nil {
		return domain.Bar{}, err
	}

	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	var values [5]decimal.Decimal
	for i, f := range fields {
		if values[i], err = decimal.NewFromString(f); err != nil {
			return domain.Bar{}, fmt.Errorf("invalid price %q on %s: %w", f, date, err)
		}
	}

	return domain.Bar{
		Date:   d,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

// UpsertBars writes bars for symbol in one transaction, replacing any bar
// already stored for the same date.
func (r *HistoryRepository) UpsertBars(ctx context.Context, symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	now := time.Now().Unix()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO bars (symbol, date, open, high, low, close, volume, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET
				open = excluded.open,
				high = excluded.high,
				low = excluded.low,
				close = excluded.close,
				volume = excluded.volume,
				updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			_, err := stmt.ExecContext(ctx, symbol, b.Date.UTC().Format(DateLayout),
				b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String(), now)
			if err != nil {
				return fmt.Errorf("failed to upsert %s bar %s: %w", symbol, b.Date.Format(DateLayout), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Upserted bars")
	return nil
}

// Coverage summarises the stored history for one symbol.
type Coverage struct {
	Symbol string    `json:"symbol"`
	Bars   int       `json:"bars"`
	First  time.Time `json:"first"`
	Last   time.Time `json:"last"`
}

// Symbols returns the coverage of every stored symbol, sorted by symbol.
func (r *HistoryRepository) Symbols(ctx context.Context) ([]Coverage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, COUNT(*), MIN(date), MAX(date)
		FROM bars
		GROUP BY symbol
		ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var c Coverage
		var first, last string
		if err := rows.Scan(&c.Symbol, &c.Bars, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan coverage: %w", err)
		}
		if c.First, err = time.Parse(DateLayout, first); err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", first, err)
		}
		if c.Last, err = time.Parse(DateLayout, last); err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", last, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
