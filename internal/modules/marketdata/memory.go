package marketdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aristath/symphony/internal/domain"
)

// MemoryProvider serves bars held in memory. Backtests and tests use it as a
// frozen snapshot of history.
type MemoryProvider struct {
	mu   sync.RWMutex
	bars map[string][]domain.Bar
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{bars: make(map[string][]domain.Bar)}
}

// Set replaces the history for symbol. Bars are copied and sorted by date.
func (p *MemoryProvider) Set(symbol string, bars []domain.Bar) {
	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	p.mu.Lock()
	p.bars[symbol] = sorted
	p.mu.Unlock()
}

// GetBars implements domain.BarProvider.
func (p *MemoryProvider) GetBars(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	all := p.bars[symbol]
	p.mu.RUnlock()

	end := sort.Search(len(all), func(i int) bool { return all[i].Date.After(asOf) })
	start := end - lookback
	if start < 0 {
		start = 0
	}
	if start >= end {
		return nil, nil
	}

	out := make([]domain.Bar, end-start)
	copy(out, all[start:end])
	return out, nil
}
