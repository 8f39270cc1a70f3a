package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/alerting"
	"metalwatch/internal/domain"
	"metalwatch/internal/fetcher"
	"metalwatch/internal/resolver"
	"metalwatch/internal/service"
)

// SimulateAlert 以给定价格跑一遍真实的告警流水线。
func (a *App) SimulateAlert(ctx context.Context, assetName string, price decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	asset, err := domain.ParseAsset(assetName)
	if err != nil {
		return err
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

	src := &staticPriceSource{asset: asset, price: price}
	res := resolver.New([]fetcher.PriceSource{src}, resolver.Options{}, a.Logger)

	evaluator := alerting.NewEvaluator(store, store, store, a.newDispatcher(), alerting.EvaluatorOptions{
		FireOnStatic: a.Config.Alerting.FireOnStatic,
	}, a.Logger)

	svc := service.New(res, nil, nil, nil, evaluator, nil, service.Options{
		Assets: []domain.Asset{asset},
	}, a.Logger)

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	_, err = svc.ProcessBucket(ctx, bucket)
	return err
}

type staticPriceSource struct {
	asset domain.Asset
	price decimal.Decimal
}

func (s *staticPriceSource) Name() string { return "simulated" }

func (s *staticPriceSource) Fetch(ctx context.Context, assets []domain.Asset) (fetcher.Quote, error) {
	return fetcher.Quote{
		Prices:    map[domain.Asset]decimal.Decimal{s.asset: s.price},
		FetchedAt: time.Now().UTC(),
	}, nil
}

var _ fetcher.PriceSource = (*staticPriceSource)(nil)
