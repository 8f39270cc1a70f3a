package calibration

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

type memCalibrationStore struct {
	rows map[time.Time]storage.CalibrationRatio
}

func newMemCalibrationStore() *memCalibrationStore {
	return &memCalibrationStore{rows: make(map[time.Time]storage.CalibrationRatio)}
}

func (m *memCalibrationStore) GetCalibrationRatio(ctx context.Context, instrument string, date time.Time) (*storage.CalibrationRatio, error) {
	if row, ok := m.rows[date]; ok {
		return &row, nil
	}
	return nil, nil
}

func (m *memCalibrationStore) UpsertCalibrationRatio(ctx context.Context, ratio storage.CalibrationRatio) error {
	m.rows[ratio.RatioDate] = ratio
	return nil
}

func (m *memCalibrationStore) LatestCalibrationOnOrBefore(ctx context.Context, instrument string, date time.Time) (*storage.CalibrationRatio, error) {
	var best *storage.CalibrationRatio
	for day, row := range m.rows {
		if day.After(date) {
			continue
		}
		if best == nil || day.After(best.RatioDate) {
			copied := row
			best = &copied
		}
	}
	return best, nil
}

type stubProxy struct {
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubProxy) FetchProxyQuote(ctx context.Context, instrument string) (decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}

func paxg() Instrument {
	return Instrument{Symbol: "PAXG", Asset: domain.AssetGold, DefaultRatio: decimal.NewFromInt(1)}
}

func TestDailyRatioComputesAndPersists(t *testing.T) {
	store := newMemCalibrationStore()
	proxy := &stubProxy{price: decimal.NewFromInt(2680)}
	svc := NewService(store, proxy, paxg(), zerolog.Nop())

	date := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC)
	ratio, err := svc.DailyRatio(context.Background(), date, decimal.NewFromInt(2650))

	require.NoError(t, err)
	expected := decimal.NewFromInt(2680).Div(decimal.NewFromInt(2650))
	assert.True(t, ratio.Equal(expected))

	day := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)
	row, ok := store.rows[day]
	require.True(t, ok, "ratio row should be stored keyed by calendar day")
	assert.True(t, row.ProxyPrice.Equal(decimal.NewFromInt(2680)))
	assert.True(t, row.SpotPriceUsed.Equal(decimal.NewFromInt(2650)))
}

func TestDailyRatioServedFromStoreWithoutRefetch(t *testing.T) {
	store := newMemCalibrationStore()
	proxy := &stubProxy{price: decimal.NewFromInt(2680)}
	svc := NewService(store, proxy, paxg(), zerolog.Nop())

	date := time.Date(2025, 6, 4, 9, 0, 0, 0, time.UTC)
	_, err := svc.DailyRatio(context.Background(), date, decimal.NewFromInt(2650))
	require.NoError(t, err)
	require.Equal(t, 1, proxy.calls)

	// Later the same day: the stored row answers, no second fetch.
	later := time.Date(2025, 6, 4, 18, 0, 0, 0, time.UTC)
	_, err = svc.DailyRatio(context.Background(), later, decimal.NewFromInt(2700))
	require.NoError(t, err)
	assert.Equal(t, 1, proxy.calls)
	assert.Len(t, store.rows, 1, "same-day recalibration must not duplicate rows")
}

func TestDailyRatioStaleFallbackOnFetchFailure(t *testing.T) {
	store := newMemCalibrationStore()
	yesterday := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	store.rows[yesterday] = storage.CalibrationRatio{
		Instrument:      "PAXG",
		RatioDate:       yesterday,
		InstrumentRatio: decimal.NewFromFloat(1.005),
	}

	proxy := &stubProxy{err: errors.New("upstream down")}
	svc := NewService(store, proxy, paxg(), zerolog.Nop())

	ratio, err := svc.DailyRatio(context.Background(), time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC), decimal.NewFromInt(2650))

	require.NoError(t, err, "fetch failure must degrade, not fail the caller")
	assert.True(t, ratio.Equal(decimal.NewFromFloat(1.005)))
	assert.Len(t, store.rows, 1, "failed calibration must not write a row")
}

func TestDailyRatioDefaultWhenNeverCalibrated(t *testing.T) {
	store := newMemCalibrationStore()
	proxy := &stubProxy{err: errors.New("upstream down")}
	svc := NewService(store, proxy, paxg(), zerolog.Nop())

	ratio, err := svc.DailyRatio(context.Background(), time.Now().UTC(), decimal.NewFromInt(2650))

	require.NoError(t, err)
	assert.True(t, ratio.Equal(decimal.NewFromInt(1)))
}

func TestDailyRatioNonPositiveSpotDegrades(t *testing.T) {
	store := newMemCalibrationStore()
	proxy := &stubProxy{price: decimal.NewFromInt(2680)}
	svc := NewService(store, proxy, paxg(), zerolog.Nop())

	ratio, err := svc.DailyRatio(context.Background(), time.Now().UTC(), decimal.Zero)

	require.NoError(t, err)
	assert.True(t, ratio.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 0, proxy.calls, "no proxy fetch without a usable spot price")
}
