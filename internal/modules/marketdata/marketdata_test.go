package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aristath/symphony/internal/database"
	"github.com/aristath/symphony/internal/domain"
	testingpkg "github.com/aristath/symphony/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistoryDB(t *testing.T) *sql.DB {
	return testingpkg.NewRawTestDB(t, database.History)
}

var (
	day      = testingpkg.Day
	makeBars = testingpkg.Bars
)

func closesOf(bars []domain.Bar) []string {
	out := make([]string, len(bars))
	for i, b := range bars {
		out[i] = b.Close.String()
	}
	return out
}

func TestHistoryRepository_GetBars(t *testing.T) {
	repo := NewHistoryRepository(setupHistoryDB(t), zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, repo.UpsertBars(ctx, "SPY", makeBars("1", "2", "3.25", "4", "5")))

	tests := []struct {
		name     string
		asOf     time.Time
		lookback int
		want     []string
	}{
		{"latest window", day(4), 3, []string{"3.25", "4", "5"}},
		{"as of cuts the tail", day(2), 2, []string{"2", "3.25"}},
		{"short history", day(1), 10, []string{"1", "2"}},
		{"before any bar", day(-1), 5, []string{}},
		{"zero lookback", day(4), 0, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bars, err := repo.GetBars(ctx, "SPY", tt.asOf, tt.lookback)
			require.NoError(t, err)
			assert.Equal(t, tt.want, closesOf(bars))
		})
	}
}

func TestHistoryRepository_UpsertReplacesAndPreservesPrecision(t *testing.T) {
	repo := NewHistoryRepository(setupHistoryDB(t), zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.UpsertBars(ctx, "QQQ", makeBars("1", "2")))
	require.NoError(t, repo.UpsertBars(ctx, "QQQ", makeBars("1.123456789012345678")))
	require.NoError(t, repo.UpsertBars(ctx, "AAA", makeBars("7")))
	require.NoError(t, repo.UpsertBars(ctx, "AAA", nil))

	bars, err := repo.GetBars(ctx, "QQQ", day(10), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.123456789012345678", "2"}, closesOf(bars))
	assert.Equal(t, day(0), bars[0].Date)

	coverage, err := repo.Symbols(ctx)
	require.NoError(t, err)
	require.Len(t, coverage, 2)
	assert.Equal(t, Coverage{Symbol: "AAA", Bars: 1, First: day(0), Last: day(0)}, coverage[0])
	assert.Equal(t, Coverage{Symbol: "QQQ", Bars: 2, First: day(0), Last: day(1)}, coverage[1])
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	bars := makeBars("1", "2", "3", "4")
	bars[0], bars[3] = bars[3], bars[0]
	p.Set("SPY", bars)
	ctx := context.Background()

	got, err := p.GetBars(ctx, "SPY", day(2), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, closesOf(got))

	got, err = p.GetBars(ctx, "SPY", day(2).Add(12*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, closesOf(got))

	got, err = p.GetBars(ctx, "NONE", day(2), 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, _ = p.GetBars(ctx, "SPY", day(3), 1)
	got[0].Close = decimal.NewFromInt(99)
	again, _ := p.GetBars(ctx, "SPY", day(3), 1)
	assert.Equal(t, "4", again[0].Close.String())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.GetBars(cancelled, "SPY", day(3), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseCSV(t *testing.T) {
	bars, err := ParseCSV(strings.NewReader(
		"Date,Close,Open,High,Low,Volume,Adj Close\n" +
			"2024-01-02, 101.5, 100, 102, 99.5, 12000, 101\n" +
			"2024-01-03,102.25,101.5,103,101,9000,102\n"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), bars[0].Date)
	assert.Equal(t, "101.5", bars[0].Close.String())
	assert.Equal(t, "100", bars[0].Open.String())
	assert.Equal(t, "99.5", bars[0].Low.String())
	assert.Equal(t, "9000", bars[1].Volume.String())
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		msg  string
	}{
		{"empty", "", "empty CSV"},
		{"missing column", "date,open,high,low,close\n", `missing column "volume"`},
		{"bad date", "date,open,high,low,close,volume\n01/02/2024,1,1,1,1,1\n", "line 2: invalid date"},
		{"bad price", "date,open,high,low,close,volume\n2024-01-02,1,1,1,x,1\n", `line 2: invalid close "x"`},
		{"short row", "date,open,high,low,close,volume\n2024-01-02,1,1\n", "line 2: missing low"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCheckQuality(t *testing.T) {
	closes := make([]string, 30)
	for i := range closes {
		v := decimal.NewFromInt(int64(100 + i%2))
		switch {
		case i == 20:
			v = decimal.NewFromInt(150)
		case i > 20:
			v = v.Mul(decimal.RequireFromString("1.5"))
		}
		closes[i] = v.String()
	}
	bars := makeBars(closes...)

	issues := CheckQuality(bars, 4)
	require.Len(t, issues, 1)
	assert.Equal(t, 20, issues[0].Index)
	assert.Contains(t, issues[0].Problem, "return outlier")

	assert.Empty(t, CheckQuality(bars, 0), "default threshold tolerates the jump")
}

func TestCheckQuality_StructuralProblems(t *testing.T) {
	bars := makeBars("10", "0", "11", "12")
	bars[2].High = decimal.NewFromInt(5)
	bars[3].Date = bars[2].Date

	issues := CheckQuality(bars, 0)
	problems := make([]string, len(issues))
	for i, issue := range issues {
		problems[i] = fmt.Sprintf("%d:%s", issue.Index, issue.Problem)
	}
	assert.Equal(t, []string{
		"1:non-positive close 0",
		"2:high 5 below low 11",
		"3:date not after previous bar",
	}, problems)
}
