package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metalwatch/internal/calibration"
	"metalwatch/internal/domain"
	"metalwatch/internal/storage"
)

type stubResolver struct {
	prices map[domain.Asset]domain.ResolvedPrice
	calls  int
}

func (r *stubResolver) Resolve(ctx context.Context, assets []domain.Asset) map[domain.Asset]domain.ResolvedPrice {
	r.calls++
	return r.prices
}

type recordingHistory struct {
	records []storage.PriceHistoryRecord
	err     error
}

func (h *recordingHistory) AppendPriceHistory(ctx context.Context, rec storage.PriceHistoryRecord) error {
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

func (h *recordingHistory) ClosestPriceRecord(ctx context.Context, asset domain.Asset, target time.Time, tolerance time.Duration) (*storage.PriceHistoryRecord, error) {
	return nil, nil
}

func (h *recordingHistory) ListHistoryBetween(ctx context.Context, asset domain.Asset, from, to time.Time) ([]storage.PriceHistoryRecord, error) {
	return nil, nil
}

func (h *recordingHistory) ListRecentHistory(ctx context.Context, limit int) ([]storage.PriceHistoryRecord, error) {
	return nil, nil
}

type stubChanges struct {
	change *domain.Change
	err    error
	calls  int
}

func (c *stubChanges) Compute(ctx context.Context, asset domain.Asset, amount decimal.Decimal, now time.Time) (*domain.Change, error) {
	c.calls++
	return c.change, c.err
}

type stubCalibrator struct {
	instrument calibration.Instrument
	spots      []decimal.Decimal
	err        error
}

func (c *stubCalibrator) Instrument() calibration.Instrument {
	return c.instrument
}

func (c *stubCalibrator) DailyRatio(ctx context.Context, date time.Time, spot decimal.Decimal) (decimal.Decimal, error) {
	c.spots = append(c.spots, spot)
	return decimal.NewFromInt(1), c.err
}

type stubEvaluator struct {
	cycles []map[domain.Asset]domain.ResolvedPrice
	err    error
}

func (e *stubEvaluator) EvaluateCycle(ctx context.Context, prices map[domain.Asset]domain.ResolvedPrice) error {
	e.cycles = append(e.cycles, prices)
	return e.err
}

type stubLocker struct {
	acquired bool
	err      error
	unlocked bool
	calls    int
}

func (l *stubLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	l.calls++
	if l.err != nil {
		return nil, false, l.err
	}
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked = true }, true, nil
}

func livePrices() map[domain.Asset]domain.ResolvedPrice {
	ts := time.Date(2025, 6, 4, 10, 5, 0, 0, time.UTC)
	return map[domain.Asset]domain.ResolvedPrice{
		domain.AssetGold: {
			Asset:      domain.AssetGold,
			Amount:     decimal.NewFromFloat(2650.50),
			Timestamp:  ts,
			Provenance: "metalsdev",
		},
		domain.AssetSilver: {
			Asset:      domain.AssetSilver,
			Amount:     decimal.NewFromFloat(30.25),
			Timestamp:  ts,
			Provenance: domain.ProvenanceCached,
		},
	}
}

func TestProcessBucketAppendsLiveHistoryOnly(t *testing.T) {
	resolver := &stubResolver{prices: livePrices()}
	history := &recordingHistory{}
	svc := New(resolver, history, nil, nil, nil, nil,
		Options{Assets: domain.AllAssets()}, zerolog.Nop())

	prices, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, prices, 2)

	// Only the live observation is persisted; cached provenance is not.
	require.Len(t, history.records, 1)
	assert.Equal(t, domain.AssetGold, history.records[0].Asset)
	assert.Equal(t, "metalsdev", history.records[0].Source)
}

func TestProcessBucketAttachesComputedChange(t *testing.T) {
	resolver := &stubResolver{prices: livePrices()}
	chg := &domain.Change{
		Amount:  decimal.NewFromFloat(10),
		Percent: decimal.NewFromFloat(0.5),
	}
	changes := &stubChanges{change: chg}
	svc := New(resolver, nil, changes, nil, nil, nil,
		Options{Assets: domain.AllAssets()}, zerolog.Nop())

	prices, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)

	require.NotNil(t, prices[domain.AssetGold].Change)
	assert.True(t, prices[domain.AssetGold].Change.Amount.Equal(decimal.NewFromFloat(10)))
	assert.Equal(t, 2, changes.calls)
}

func TestProcessBucketNativeChangeTakesPrecedence(t *testing.T) {
	native := &domain.Change{Amount: decimal.NewFromFloat(-3.2), Percent: decimal.NewFromFloat(-0.12)}
	prices := livePrices()
	gold := prices[domain.AssetGold]
	gold.Change = native
	prices[domain.AssetGold] = gold

	resolver := &stubResolver{prices: prices}
	changes := &stubChanges{change: &domain.Change{Amount: decimal.NewFromInt(99)}}
	svc := New(resolver, nil, changes, nil, nil, nil,
		Options{Assets: domain.AllAssets()}, zerolog.Nop())

	out, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)

	// The source-provided change survives untouched.
	assert.Same(t, native, out[domain.AssetGold].Change)
	assert.Equal(t, 1, changes.calls, "only the silver price needed computation")
}

func TestProcessBucketCalibratesWithLiveSpot(t *testing.T) {
	resolver := &stubResolver{prices: livePrices()}
	cal := &stubCalibrator{instrument: calibration.Instrument{
		Symbol: "PAXG",
		Asset:  domain.AssetGold,
	}}
	svc := New(resolver, nil, nil, cal, nil, nil,
		Options{Assets: domain.AllAssets()}, zerolog.Nop())

	_, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, cal.spots, 1)
	assert.True(t, cal.spots[0].Equal(decimal.NewFromFloat(2650.50)))
}

func TestProcessBucketCalibrationZeroSpotForNonLive(t *testing.T) {
	resolver := &stubResolver{prices: livePrices()}
	cal := &stubCalibrator{instrument: calibration.Instrument{
		Symbol: "SLVT",
		Asset:  domain.AssetSilver,
	}}
	svc := New(resolver, nil, nil, cal, nil, nil,
		Options{Assets: domain.AllAssets()}, zerolog.Nop())

	_, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)

	// A cached spot must not feed the ratio.
	require.Len(t, cal.spots, 1)
	assert.True(t, cal.spots[0].IsZero())
}

func TestProcessBucketSkipsWhenLockHeldElsewhere(t *testing.T) {
	resolver := &stubResolver{prices: livePrices()}
	locker := &stubLocker{acquired: false}
	svc := New(resolver, nil, nil, nil, nil, locker,
		Options{Assets: domain.AllAssets(), AdvisoryLockKey: 42}, zerolog.Nop())

	prices, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, prices)
	assert.Equal(t, 0, resolver.calls, "skipped cycle must not hit upstream sources")
}

func TestProcessBucketReleasesLock(t *testing.T) {
	resolver := &stubResolver{prices: livePrices()}
	locker := &stubLocker{acquired: true}
	svc := New(resolver, nil, nil, nil, nil, locker,
		Options{Assets: domain.AllAssets(), AdvisoryLockKey: 42}, zerolog.Nop())

	_, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, locker.unlocked)
	assert.Equal(t, 1, resolver.calls)
}

func TestProcessBucketEvaluatorFailureDoesNotFailCycle(t *testing.T) {
	resolver := &stubResolver{prices: livePrices()}
	eval := &stubEvaluator{err: errors.New("listing failed")}
	svc := New(resolver, nil, nil, nil, eval, nil,
		Options{Assets: domain.AllAssets()}, zerolog.Nop())

	prices, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, prices, 2)
	require.Len(t, eval.cycles, 1)
}

func TestProcessBucketHistoryFailureDoesNotFailCycle(t *testing.T) {
	resolver := &stubResolver{prices: livePrices()}
	history := &recordingHistory{err: errors.New("connection reset")}
	eval := &stubEvaluator{}
	svc := New(resolver, history, nil, nil, eval, nil,
		Options{Assets: domain.AllAssets()}, zerolog.Nop())

	_, err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, eval.cycles, 1, "alert evaluation still runs after a history write failure")
}
