package cycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/dsl"
	"github.com/aristath/symphony/internal/modules/indicators"
	"github.com/aristath/symphony/internal/modules/strategies"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeEvaluator resolves (asset "X") to 100% X. The symbols FAIL and PANIC
// misbehave, and a non-nil gate holds every evaluation until it is closed.
type fakeEvaluator struct {
	mu        sync.Mutex
	active    int
	maxActive int
	calls     int
	gate      chan struct{}
	entered   chan struct{}
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, root dsl.Node, _ time.Time) (allocation.Allocation, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	asset := root.(*dsl.Asset)
	switch asset.Symbol {
	case "FAIL":
		return allocation.Allocation{}, &indicators.InsufficientHistoryError{
			Symbol: "FAIL", Kind: indicators.RSI, Window: 10, Required: 41, Available: 3,
		}
	case "PANIC":
		panic("boom")
	}

	if f.gate != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		select {
		case <-f.gate:
		case <-ctx.Done():
			return allocation.Allocation{}, ctx.Err()
		}
	}
	time.Sleep(2 * time.Millisecond)
	return allocation.Single(asset.Symbol), nil
}

type entry struct {
	id     string
	weight string
	source string
}

func buildStrategies(t *testing.T, entries ...entry) []*strategies.Strategy {
	t.Helper()
	out := make([]*strategies.Strategy, len(entries))
	for i, e := range entries {
		s := &strategies.Strategy{ID: e.id, Weight: decimal.RequireFromString(e.weight), Source: e.source}
		s.Symphony, s.ParseErr = dsl.ParseSymphony(e.source)
		out[i] = s
	}
	return out
}

func buildRoster(t *testing.T, entries ...entry) *strategies.Roster {
	t.Helper()
	r, err := strategies.NewRoster(buildStrategies(t, entries...))
	require.NoError(t, err)
	return r
}
