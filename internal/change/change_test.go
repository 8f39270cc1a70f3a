package change

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metalwatch/internal/domain"
	"metalwatch/internal/storage"
)

type stubHistory struct {
	rec        *storage.PriceHistoryRecord
	err        error
	lastTarget time.Time
}

func (s *stubHistory) ClosestPriceRecord(ctx context.Context, asset domain.Asset, target time.Time, tolerance time.Duration) (*storage.PriceHistoryRecord, error) {
	s.lastTarget = target
	return s.rec, s.err
}

func TestComputeBasicDelta(t *testing.T) {
	history := &stubHistory{rec: &storage.PriceHistoryRecord{
		Asset:  domain.AssetGold,
		Amount: decimal.NewFromInt(100),
	}}
	calc := NewCalculator(history, zerolog.Nop())

	// Wednesday, so the baseline is Tuesday.
	now := time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)
	ch, err := calc.Compute(context.Background(), domain.AssetGold, decimal.NewFromInt(110), now)

	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.True(t, ch.Amount.Equal(decimal.NewFromInt(10)), "amount delta should be 10, got %s", ch.Amount)
	assert.True(t, ch.Percent.Equal(decimal.NewFromInt(10)), "percent delta should be 10, got %s", ch.Percent)
	assert.Equal(t, time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC), ch.BaselineDate)
}

func TestComputeNoBaselineIsUnavailable(t *testing.T) {
	calc := NewCalculator(&stubHistory{rec: nil}, zerolog.Nop())

	ch, err := calc.Compute(context.Background(), domain.AssetGold, decimal.NewFromInt(110), time.Now().UTC())

	require.NoError(t, err)
	assert.Nil(t, ch, "missing baseline must report unavailable, not zero")
}

func TestComputeAnchorsToPriorTradingDay(t *testing.T) {
	history := &stubHistory{rec: &storage.PriceHistoryRecord{Amount: decimal.NewFromInt(100)}}
	calc := NewCalculator(history, zerolog.Nop())

	// Monday: the baseline anchor must land on Friday, three days back.
	monday := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	_, err := calc.Compute(context.Background(), domain.AssetGold, decimal.NewFromInt(101), monday)
	require.NoError(t, err)

	assert.Equal(t, time.Friday, history.lastTarget.Weekday())
	assert.Equal(t, 23, history.lastTarget.Hour(), "anchor should sit at end of the baseline day")
}

func TestComputeStoreErrorPropagates(t *testing.T) {
	calc := NewCalculator(&stubHistory{err: errors.New("connection refused")}, zerolog.Nop())

	_, err := calc.Compute(context.Background(), domain.AssetGold, decimal.NewFromInt(110), time.Now().UTC())
	assert.Error(t, err)
}

func TestComputeZeroBaselineIsUnavailable(t *testing.T) {
	history := &stubHistory{rec: &storage.PriceHistoryRecord{Amount: decimal.Zero}}
	calc := NewCalculator(history, zerolog.Nop())

	ch, err := calc.Compute(context.Background(), domain.AssetGold, decimal.NewFromInt(110), time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, ch)
}
