package change

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/calendar"
	"metalwatch/internal/domain"
	"metalwatch/internal/storage"
)

// BaselineReader is the slice of the history store the calculator needs.
type BaselineReader interface {
	ClosestPriceRecord(ctx context.Context, asset domain.Asset, target time.Time, tolerance time.Duration) (*storage.PriceHistoryRecord, error)
}

// DefaultTolerance bounds how far from the baseline's end-of-day the
// closest history record may sit. Past that, the change is reported as
// unavailable rather than computed against a stale price.
const DefaultTolerance = 72 * time.Hour

var hundred = decimal.NewFromInt(100)

// Calculator derives day-over-day change from persisted price history.
type Calculator struct {
	history   BaselineReader
	tolerance time.Duration
	logger    zerolog.Logger
}

// NewCalculator constructs a change calculator.
func NewCalculator(history BaselineReader, logger zerolog.Logger) *Calculator {
	return &Calculator{
		history:   history,
		tolerance: DefaultTolerance,
		logger:    logger.With().Str("component", "change_calculator").Logger(),
	}
}

// Compute returns the delta of amount against the history record closest
// to end-of-day of the prior trading day. A nil result means the change
// is unavailable; it is never reported as zero.
func (c *Calculator) Compute(ctx context.Context, asset domain.Asset, amount decimal.Decimal, now time.Time) (*domain.Change, error) {
	if c.history == nil {
		return nil, nil
	}

	baselineDay := calendar.LastTradingDay(now)
	anchor := calendar.EndOfDay(baselineDay)

	rec, err := c.history.ClosestPriceRecord(ctx, asset, anchor, c.tolerance)
	if err != nil {
		return nil, fmt.Errorf("query baseline record: %w", err)
	}
	if rec == nil || !rec.Amount.IsPositive() {
		c.logger.Debug().Str("asset", string(asset)).Time("baseline_day", baselineDay).Msg("no baseline record; change unavailable")
		return nil, nil
	}

	diff := amount.Sub(rec.Amount)
	percent := diff.Div(rec.Amount).Mul(hundred)

	return &domain.Change{
		Amount:       diff,
		Percent:      percent,
		BaselineDate: baselineDay,
	}, nil
}
