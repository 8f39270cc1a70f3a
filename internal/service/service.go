// Package service orchestrates one evaluation cycle: resolve prices,
// persist history, attach day-over-day change, refresh the daily
// calibration ratio, and evaluate alerts.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/calibration"
	"metalwatch/internal/domain"
	"metalwatch/internal/storage"
)

// PriceResolver produces one resolved price per requested asset.
type PriceResolver interface {
	Resolve(ctx context.Context, assets []domain.Asset) map[domain.Asset]domain.ResolvedPrice
}

// ChangeComputer derives day-over-day change for a resolved price.
type ChangeComputer interface {
	Compute(ctx context.Context, asset domain.Asset, amount decimal.Decimal, now time.Time) (*domain.Change, error)
}

// Calibrator maintains the daily proxy-instrument ratio.
type Calibrator interface {
	Instrument() calibration.Instrument
	DailyRatio(ctx context.Context, date time.Time, spot decimal.Decimal) (decimal.Decimal, error)
}

// AlertEvaluator runs the per-alert state machine over a cycle's prices.
type AlertEvaluator interface {
	EvaluateCycle(ctx context.Context, prices map[domain.Asset]domain.ResolvedPrice) error
}

// Options tune pipeline behaviour.
type Options struct {
	Assets []domain.Asset
	// AdvisoryLockKey guards the cycle across replicas when non-zero.
	AdvisoryLockKey int64
}

// Service executes the evaluation pipeline for one scheduler bucket.
// Stage failures are isolated: a history write or calibration problem is
// logged and the cycle continues, so alert evaluation still sees the
// freshest prices available.
type Service struct {
	resolver   PriceResolver
	history    storage.HistoryStore
	changes    ChangeComputer
	calibrator Calibrator
	evaluator  AlertEvaluator
	locker     storage.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger
}

// New constructs the pipeline service. History, calibrator, evaluator,
// and locker are each optional; a nil dependency skips that stage.
func New(
	resolver PriceResolver,
	history storage.HistoryStore,
	changes ChangeComputer,
	calibrator Calibrator,
	evaluator AlertEvaluator,
	locker storage.AdvisoryLocker,
	opts Options,
	logger zerolog.Logger,
) *Service {
	return &Service{
		resolver:   resolver,
		history:    history,
		changes:    changes,
		calibrator: calibrator,
		evaluator:  evaluator,
		locker:     locker,
		opts:       opts,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// ProcessBucket runs one full cycle for the given bucket time and returns
// the resolved prices, change attached where available. A cycle skipped
// because another replica holds the advisory lock returns (nil, nil).
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) (map[domain.Asset]domain.ResolvedPrice, error) {
	if s.locker != nil && s.opts.AdvisoryLockKey != 0 {
		unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
		if err != nil {
			return nil, err
		}
		if !acquired {
			s.logger.Info().Time("bucket", bucket).Msg("another replica holds the cycle lock; skipping")
			return nil, nil
		}
		defer unlock()
	}

	prices := s.resolver.Resolve(ctx, s.opts.Assets)

	for asset, price := range prices {
		s.recordHistory(ctx, price)
		prices[asset] = s.attachChange(ctx, price, bucket)
	}

	s.calibrate(ctx, prices, bucket)

	if s.evaluator != nil {
		if err := s.evaluator.EvaluateCycle(ctx, prices); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("alert evaluation failed")
		}
	}

	return prices, nil
}

// recordHistory persists live observations only. Cached and static prices
// are echoes of earlier data and would poison the change baseline.
func (s *Service) recordHistory(ctx context.Context, price domain.ResolvedPrice) {
	if s.history == nil || !price.Provenance.Live() {
		return
	}

	rec := storage.PriceHistoryRecord{
		Asset:      price.Asset,
		Amount:     price.Amount,
		RecordedAt: price.Timestamp,
		Source:     string(price.Provenance),
	}
	if err := s.history.AppendPriceHistory(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("asset", string(price.Asset)).Msg("failed to append price history")
	}
}

// attachChange fills in day-over-day change. A change supplied natively by
// the source takes precedence over the history-derived figure.
func (s *Service) attachChange(ctx context.Context, price domain.ResolvedPrice, bucket time.Time) domain.ResolvedPrice {
	if price.Change != nil || s.changes == nil {
		return price
	}

	chg, err := s.changes.Compute(ctx, price.Asset, price.Amount, bucket)
	if err != nil {
		s.logger.Warn().Err(err).Str("asset", string(price.Asset)).Msg("change computation failed")
		return price
	}
	price.Change = chg
	return price
}

func (s *Service) calibrate(ctx context.Context, prices map[domain.Asset]domain.ResolvedPrice, bucket time.Time) {
	if s.calibrator == nil {
		return
	}

	asset := s.calibrator.Instrument().Asset
	price, ok := prices[asset]
	if !ok {
		s.logger.Warn().Str("asset", string(asset)).Msg("no resolved price for calibration asset")
		return
	}

	spot := price.Amount
	if !price.Provenance.Live() {
		// Calibrating against cached or static figures would bake stale
		// data into the ratio; let DailyRatio fall back instead.
		spot = decimal.Zero
	}

	if _, err := s.calibrator.DailyRatio(ctx, bucket, spot); err != nil {
		s.logger.Error().Err(err).Msg("daily calibration failed")
	}
}
