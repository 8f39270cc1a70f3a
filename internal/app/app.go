package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/alerting"
	"metalwatch/internal/calibration"
	"metalwatch/internal/change"
	"metalwatch/internal/config"
	"metalwatch/internal/domain"
	"metalwatch/internal/fetcher"
	"metalwatch/internal/resolver"
	"metalwatch/internal/scheduler"
	"metalwatch/internal/service"
	"metalwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newSources instantiates the configured price sources in priority order.
func (a *App) newSources() []fetcher.PriceSource {
	sources := make([]fetcher.PriceSource, 0, len(a.Config.Sources.Priority))
	for _, name := range a.Config.Sources.Priority {
		switch name {
		case "metalsdev":
			cfg := a.Config.Sources.MetalsDev
			if cfg.APIKey == "" {
				a.Logger.Warn().Msg("metalsdev api_key not configured; tier skipped")
				continue
			}
			sources = append(sources, fetcher.NewMetalsDev(fetcher.MetalsDevOptions{
				BaseURL:   cfg.BaseURL,
				APIKey:    cfg.APIKey,
				Timeout:   cfg.RequestTimeout,
				UserAgent: cfg.UserAgent,
			}, a.Logger))
		case "goldapi":
			cfg := a.Config.Sources.GoldAPI
			if cfg.AccessToken == "" {
				a.Logger.Warn().Msg("goldapi access_token not configured; tier skipped")
				continue
			}
			sources = append(sources, fetcher.NewGoldAPI(fetcher.GoldAPIOptions{
				BaseURL:     cfg.BaseURL,
				AccessToken: cfg.AccessToken,
				Timeout:     cfg.RequestTimeout,
			}, a.Logger))
		case "chainlink":
			cfg := a.Config.Sources.Chainlink
			if cfg.RPCURL == "" {
				a.Logger.Warn().Msg("chainlink rpc_url not configured; tier skipped")
				continue
			}
			sources = append(sources, fetcher.NewChainlink(fetcher.ChainlinkOptions{
				RPCURL:  cfg.RPCURL,
				Feeds:   cfg.FeedMap(),
				Timeout: cfg.RequestTimeout,
			}, a.Logger))
		}
	}
	return sources
}

func (a *App) newResolver(sources []fetcher.PriceSource) *resolver.Resolver {
	return resolver.New(sources, resolver.Options{
		Static: a.Config.StaticPriceMap(),
	}, a.Logger)
}

func (a *App) newDispatcher() alerting.Dispatcher {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Push
	return alerting.NewPushDispatcher(alerting.PushDispatcherOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.RequestTimeout,
		BatchSize: cfg.BatchSize,
	}, a.Logger)
}

func (a *App) newCalibrator(store *storage.Store) *calibration.Service {
	if !a.Config.Calibration.Enabled || store == nil {
		return nil
	}

	asset, err := domain.ParseAsset(a.Config.Calibration.Asset)
	if err != nil {
		a.Logger.Error().Err(err).Msg("invalid calibration asset; calibration disabled")
		return nil
	}

	proxy := calibration.NewProxyClient(calibration.ProxyOptions{
		BaseURL: a.Config.Calibration.ProxyBaseURL,
		Timeout: a.Config.Calibration.RequestTimeout,
	}, a.Logger)

	return calibration.NewService(store, proxy, calibration.Instrument{
		Symbol:       a.Config.Calibration.Instrument,
		Asset:        asset,
		DefaultRatio: decimal.NewFromFloat(a.Config.Calibration.DefaultRatio),
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence, history, and alerts disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	assets, err := a.Config.AssetList()
	if err != nil {
		return err
	}

	sources := a.newSources()
	res := a.newResolver(sources)

	var (
		history   storage.HistoryStore
		changes   service.ChangeComputer
		calib     service.Calibrator
		evaluator service.AlertEvaluator
		locker    storage.AdvisoryLocker
	)
	if store != nil {
		history = store
		locker = store
		changes = change.NewCalculator(store, a.Logger)

		if c := a.newCalibrator(store); c != nil {
			calib = c
		}
		if a.Config.Alerting.Enabled {
			evaluator = alerting.NewEvaluator(store, store, store, a.newDispatcher(), alerting.EvaluatorOptions{
				FireOnStatic: a.Config.Alerting.FireOnStatic,
			}, a.Logger)
		}
	}

	svc := service.New(res, history, changes, calib, evaluator, locker, service.Options{
		Assets:          assets,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, nil, a.Logger)

	a.Logger.Info().Int("sources", len(sources)).Msg("starting monitoring service")
	err = sched.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		_, err := svc.ProcessBucket(ctx, bucket)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
