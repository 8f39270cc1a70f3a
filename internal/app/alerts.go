package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
	"metalwatch/internal/storage"
)

// AddAlert registers a threshold alert for an owner.
func (a *App) AddAlert(ctx context.Context, ownerRef, assetName, direction string, target decimal.Decimal) error {
	asset, err := domain.ParseAsset(assetName)
	if err != nil {
		return err
	}
	if direction != storage.DirectionAbove && direction != storage.DirectionBelow {
		return fmt.Errorf("direction must be %q or %q", storage.DirectionAbove, storage.DirectionBelow)
	}
	if !target.IsPositive() {
		return errors.New("target price must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; alerts live in postgres")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alert, err := store.CreateAlert(ctx, storage.Alert{
		OwnerRef:    ownerRef,
		Asset:       asset,
		TargetPrice: target,
		Direction:   direction,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "alert %d created: %s %s %s USD\n", alert.ID, alert.Asset, alert.Direction, alert.TargetPrice.StringFixed(2))
	return nil
}

// RemoveAlert deletes an alert by id.
func (a *App) RemoveAlert(ctx context.Context, id int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; alerts live in postgres")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if err := store.DeleteAlert(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "alert %d deleted\n", id)
	return nil
}

// ListAlerts prints every alert belonging to an owner.
func (a *App) ListAlerts(ctx context.Context, ownerRef string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; alerts live in postgres")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListAlertsByOwner(ctx, ownerRef)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tAsset\tDirection\tTarget\tEnabled\tTriggered\tTriggered At\tTriggered Price")

	for _, alert := range alerts {
		triggeredAt := ""
		if alert.TriggeredAt != nil {
			triggeredAt = alert.TriggeredAt.UTC().Format(time.RFC3339)
		}
		triggeredPrice := ""
		if alert.TriggeredPrice != nil {
			triggeredPrice = alert.TriggeredPrice.StringFixed(2)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%t\t%t\t%s\t%s\n",
			alert.ID,
			alert.Asset,
			alert.Direction,
			alert.TargetPrice.StringFixed(2),
			alert.Enabled,
			alert.Triggered,
			triggeredAt,
			triggeredPrice,
		)
	}

	writer.Flush()
	return nil
}

// RegisterDevice records a push destination for an owner.
func (a *App) RegisterDevice(ctx context.Context, ownerRef, token string) error {
	if token == "" {
		return errors.New("token must not be empty")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; device tokens live in postgres")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if err := store.RegisterDeviceToken(ctx, ownerRef, token); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "device token registered")
	return nil
}

// RemoveDevice deletes a push destination.
func (a *App) RemoveDevice(ctx context.Context, ownerRef, token string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; device tokens live in postgres")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if err := store.RemoveDeviceToken(ctx, ownerRef, token); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "device token removed")
	return nil
}
