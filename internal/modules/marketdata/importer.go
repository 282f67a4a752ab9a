package marketdata

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aristath/symphony/internal/domain"
	"github.com/aristath/symphony/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// BarStore is where imported bars are written.
type BarStore interface {
	UpsertBars(ctx context.Context, symbol string, bars []domain.Bar) error
}

// Invalidator drops cached history for a symbol.
type Invalidator interface {
	Invalidate(ctx context.Context, symbol string) error
}

// ImportResult describes one completed import.
type ImportResult struct {
	Symbol string  `json:"symbol"`
	Bars   int     `json:"bars"`
	Issues []Issue `json:"issues,omitempty"`
}

// Importer loads CSV history into a BarStore.
type Importer struct {
	store    BarStore
	cache    Invalidator
	events   *events.Manager
	imported prometheus.Counter
	maxZ     float64
	log      zerolog.Logger
}

// NewImporter creates an importer. cache, eventManager and imported may be nil.
func NewImporter(store BarStore, cache Invalidator, eventManager *events.Manager, imported prometheus.Counter, log zerolog.Logger) *Importer {
	return &Importer{
		store:    store,
		cache:    cache,
		events:   eventManager,
		imported: imported,
		maxZ:     DefaultOutlierZ,
		log:      log.With().Str("service", "bar_importer").Logger(),
	}
}

// Import parses CSV from r and stores it under symbol. Quality issues are
// reported, not rejected.
func (i *Importer) Import(ctx context.Context, symbol string, r io.Reader) (*ImportResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	bars, err := ParseCSV(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse history for %s: %w", symbol, err)
	}
	issues := CheckQuality(bars, i.maxZ)
	for _, issue := range issues {
		i.log.Warn().Str("symbol", symbol).Str("date", issue.Date).Msg(issue.Problem)
	}

	if err := i.store.UpsertBars(ctx, symbol, bars); err != nil {
		return nil, err
	}
	if i.cache != nil {
		if err := i.cache.Invalidate(ctx, symbol); err != nil {
			i.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to invalidate bar cache")
		}
	}
	if i.imported != nil {
		i.imported.Add(float64(len(bars)))
	}
	if i.events != nil {
		i.events.Emit("marketdata", &events.BarsImportedData{
			Symbol:   symbol,
			Bars:     len(bars),
			Warnings: len(issues),
		})
	}

	i.log.Info().Str("symbol", symbol).Int("bars", len(bars)).Int("warnings", len(issues)).Msg("Imported history")
	return &ImportResult{Symbol: symbol, Bars: len(bars), Issues: issues}, nil
}
