// Package portfolio supplies the holdings snapshot a rebalance plan is
// computed against.
package portfolio

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/aristath/symphony/internal/domain"
	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type snapshotFile struct {
	TotalValue string            `yaml:"total_value"`
	Positions  map[string]string `yaml:"positions"`
}

// ParseSnapshot decodes a holdings document:
//
//	total_value: 10000
//	positions:
//	  AAA: 0.6
//	  BBB: 0.4
//
// Weights are fractions of total_value. Whatever they leave unassigned is
// treated as cash.
func ParseSnapshot(data []byte) (domain.Holdings, error) {
	var doc snapshotFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.Holdings{}, fmt.Errorf("failed to decode holdings: %w", err)
	}

	total := decimal.Zero
	if doc.TotalValue != "" {
		v, err := decimal.NewFromString(doc.TotalValue)
		if err != nil {
			return domain.Holdings{}, fmt.Errorf("invalid total_value %q: %w", doc.TotalValue, err)
		}
		total = v
	}
	if total.IsNegative() {
		return domain.Holdings{}, fmt.Errorf("total_value must not be negative, got %s", total)
	}

	symbols := make([]string, 0, len(doc.Positions))
	for s := range doc.Positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	weights := make(map[string]decimal.Decimal, len(symbols))
	sum := decimal.Zero
	for _, s := range symbols {
		w, err := decimal.NewFromString(doc.Positions[s])
		if err != nil {
			return domain.Holdings{}, fmt.Errorf("invalid weight for %s: %w", s, err)
		}
		if w.IsNegative() {
			return domain.Holdings{}, fmt.Errorf("weight for %s must not be negative, got %s", s, w)
		}
		weights[s] = w
		sum = sum.Add(w)
	}
	if sum.Sub(decimal.NewFromInt(1)).GreaterThan(allocation.Epsilon) {
		return domain.Holdings{}, fmt.Errorf("position weights sum to %s, more than 1", sum)
	}

	return domain.Holdings{Weights: weights, TotalValue: total}, nil
}

// FileProvider reads the holdings snapshot from a YAML file on every call.
type FileProvider struct {
	path string
	log  zerolog.Logger
}

// NewFileProvider creates a provider for path.
func NewFileProvider(path string, log zerolog.Logger) *FileProvider {
	return &FileProvider{
		path: path,
		log:  log.With().Str("component", "holdings").Logger(),
	}
}

// Snapshot implements domain.HoldingsProvider. A missing file means an
// empty, all-cash portfolio.
func (p *FileProvider) Snapshot(ctx context.Context) (domain.Holdings, error) {
	if err := ctx.Err(); err != nil {
		return domain.Holdings{}, err
	}
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		p.log.Warn().Str("path", p.path).Msg("Holdings file not found, assuming empty portfolio")
		return domain.Holdings{Weights: map[string]decimal.Decimal{}}, nil
	}
	if err != nil {
		return domain.Holdings{}, fmt.Errorf("failed to read holdings %s: %w", p.path, err)
	}

	h, err := ParseSnapshot(data)
	if err != nil {
		return domain.Holdings{}, fmt.Errorf("holdings %s: %w", p.path, err)
	}
	p.log.Debug().Int("positions", len(h.Weights)).Str("total_value", h.TotalValue.String()).Msg("Loaded holdings")
	return h, nil
}

// StaticProvider always returns the same snapshot.
type StaticProvider struct {
	holdings domain.Holdings
}

// NewStaticProvider wraps h.
func NewStaticProvider(h domain.Holdings) *StaticProvider {
	return &StaticProvider{holdings: h}
}

// Snapshot implements domain.HoldingsProvider.
func (p *StaticProvider) Snapshot(_ context.Context) (domain.Holdings, error) {
	return p.holdings, nil
}
