package portfolio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/symphony/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnapshot(t *testing.T) {
	h, err := ParseSnapshot([]byte(`
total_value: 10000
positions:
  BBB: 0.4
  AAA: 0.6
`))
	require.NoError(t, err)

	assert.Equal(t, "10000", h.TotalValue.String())
	assert.Equal(t, []string{"AAA", "BBB"}, h.Symbols())
	assert.Equal(t, "0.6", h.Weight("AAA").String())
	assert.True(t, h.Weight("CCC").IsZero())
}

func TestParseSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad total", "total_value: lots\n"},
		{"negative total", "total_value: -1\n"},
		{"bad weight", "positions:\n  AAA: half\n"},
		{"negative weight", "positions:\n  AAA: -0.1\n"},
		{"overweight", "positions:\n  AAA: 0.7\n  BBB: 0.4\n"},
		{"not yaml", "positions: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "holdings.yaml")
	p := NewFileProvider(path, zerolog.Nop())

	h, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.Weights)

	require.NoError(t, os.WriteFile(path, []byte("total_value: 500\npositions:\n  SPY: 1\n"), 0o644))
	h, err = p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "500", h.TotalValue.String())
	assert.Equal(t, "1", h.Weight("SPY").String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticProvider(t *testing.T) {
	want := domain.Holdings{
		Weights:    map[string]decimal.Decimal{"SPY": decimal.NewFromInt(1)},
		TotalValue: decimal.NewFromInt(100),
	}
	got, err := NewStaticProvider(want).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
