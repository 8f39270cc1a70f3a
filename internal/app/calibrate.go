package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
)

// Calibrate resolves a fresh spot price and runs one calibration pass
// for today, printing the resulting instrument ratio.
func (a *App) Calibrate(ctx context.Context) error {
	if !a.Config.Calibration.Enabled {
		return errors.New("calibration not enabled")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; calibration ratios live in postgres")
	}
	if closeStore != nil {
		defer closeStore()
	}

	calib := a.newCalibrator(store)
	if calib == nil {
		return errors.New("calibration misconfigured")
	}

	asset := calib.Instrument().Asset
	res := a.newResolver(a.newSources())
	prices := res.Resolve(ctx, []domain.Asset{asset})

	price, ok := prices[asset]
	if !ok {
		return fmt.Errorf("no resolved price for %s", asset)
	}

	spot := price.Amount
	if !price.Provenance.Live() {
		// A zero spot keeps stale data out of the ratio; DailyRatio falls
		// back to the most recent previously calibrated value.
		a.Logger.Warn().Str("provenance", string(price.Provenance)).Msg("no live spot; serving stale ratio")
		spot = decimal.Zero
	}

	ratio, err := calib.DailyRatio(ctx, time.Now().UTC(), spot)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s ratio for %s: %s\n", calib.Instrument().Symbol, time.Now().UTC().Format("2006-01-02"), ratio.String())
	return nil
}
