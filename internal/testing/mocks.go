package testing

import (
	"context"
	"time"

	"github.com/aristath/symphony/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockBarProvider is a testify mock of domain.BarProvider.
type MockBarProvider struct {
	mock.Mock
}

// GetBars implements domain.BarProvider.
func (m *MockBarProvider) GetBars(ctx context.Context, symbol string, asOf time.Time, lookback int) ([]domain.Bar, error) {
	args := m.Called(ctx, symbol, asOf, lookback)
	bars, _ := args.Get(0).([]domain.Bar)
	return bars, args.Error(1)
}

// MockHoldingsProvider is a testify mock of domain.HoldingsProvider.
type MockHoldingsProvider struct {
	mock.Mock
}

// Snapshot implements domain.HoldingsProvider.
func (m *MockHoldingsProvider) Snapshot(ctx context.Context) (domain.Holdings, error) {
	args := m.Called(ctx)
	h, _ := args.Get(0).(domain.Holdings)
	return h, args.Error(1)
}
