// Package calibration maintains a daily conversion ratio between a proxy
// instrument (a liquid traded security tracking a metal) and the resolved
// spot price. The ratio is used elsewhere to approximate historical spot
// prices from proxy quotes. The proxy's premium drifts on the order of
// half a percent per year, so serving a stale ratio is an acceptable
// degradation when today's quote cannot be fetched.
package calibration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
	"metalwatch/internal/storage"
)

// Instrument describes one proxy instrument under calibration.
type Instrument struct {
	// Symbol is the traded ticker, e.g. "PAXG".
	Symbol string
	// Asset is the commodity the instrument proxies.
	Asset domain.Asset
	// DefaultRatio is served when nothing was ever calibrated.
	DefaultRatio decimal.Decimal
}

// Service computes and persists the daily instrument ratio.
type Service struct {
	store      storage.CalibrationStore
	proxy      ProxyQuoteFetcher
	instrument Instrument
	logger     zerolog.Logger
}

// NewService constructs a calibration service for one instrument.
func NewService(store storage.CalibrationStore, proxy ProxyQuoteFetcher, instrument Instrument, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		proxy:      proxy,
		instrument: instrument,
		logger:     logger.With().Str("component", "calibration").Str("instrument", instrument.Symbol).Logger(),
	}
}

// Instrument returns the instrument under calibration.
func (s *Service) Instrument() Instrument {
	return s.instrument
}

// DailyRatio returns the instrument ratio for the calendar day of date.
// If the day was already calibrated the stored value is served; otherwise
// a fresh proxy quote is fetched and the ratio upserted by date, so
// recalibrating within one day overwrites rather than duplicates. Any
// fetch failure degrades to the most recent previously calibrated ratio,
// and finally to the configured default. The call never fails the caller
// over upstream trouble.
func (s *Service) DailyRatio(ctx context.Context, date time.Time, spot decimal.Decimal) (decimal.Decimal, error) {
	day := truncateToDay(date)

	existing, err := s.store.GetCalibrationRatio(ctx, s.instrument.Symbol, day)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read calibration ratio: %w", err)
	}
	if existing != nil {
		return existing.InstrumentRatio, nil
	}

	if !spot.IsPositive() {
		s.logger.Warn().Str("spot", spot.String()).Msg("non-positive spot price; serving stale ratio")
		return s.staleRatio(ctx, day)
	}

	proxyPrice, err := s.proxy.FetchProxyQuote(ctx, s.instrument.Symbol)
	if err != nil {
		s.logger.Warn().Err(err).Msg("proxy quote failed; serving stale ratio")
		return s.staleRatio(ctx, day)
	}

	ratio := proxyPrice.Div(spot)

	record := storage.CalibrationRatio{
		Instrument:      s.instrument.Symbol,
		RatioDate:       day,
		InstrumentRatio: ratio,
		ProxyPrice:      proxyPrice,
		SpotPriceUsed:   spot,
	}
	if err := s.store.UpsertCalibrationRatio(ctx, record); err != nil {
		// The ratio is still valid for this cycle; persistence retries tomorrow.
		s.logger.Error().Err(err).Msg("failed to persist calibration ratio")
	} else {
		s.logger.Info().Str("ratio", ratio.String()).Time("date", day).Msg("calibrated instrument ratio")
	}

	return ratio, nil
}

func (s *Service) staleRatio(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	latest, err := s.store.LatestCalibrationOnOrBefore(ctx, s.instrument.Symbol, day)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read stale calibration ratio: %w", err)
	}
	if latest != nil {
		s.logger.Warn().Time("calibrated_on", latest.RatioDate).Msg("serving stale calibration ratio")
		return latest.InstrumentRatio, nil
	}

	s.logger.Warn().Str("default", s.instrument.DefaultRatio.String()).Msg("never calibrated; serving default ratio")
	return s.instrument.DefaultRatio, nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
