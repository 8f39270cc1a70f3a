package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
	"metalwatch/internal/fetcher"
)

// Options parameterise the resolver.
type Options struct {
	// Static holds hardcoded last-resort prices, used only when both the
	// live tiers and the cache have nothing for an asset.
	Static map[domain.Asset]decimal.Decimal
}

// Resolver produces exactly one ResolvedPrice per requested asset per
// cycle. Sources are tried once each in priority order (no backoff; the
// next scheduled tick is the retry), then the last-known-good cache,
// then the static constants. It never fails: provenance tells the
// caller how much to trust the figure.
type Resolver struct {
	sources []fetcher.PriceSource
	cache   *Cache
	static  map[domain.Asset]decimal.Decimal
	logger  zerolog.Logger

	// inflight serialises resolution within the process. A caller that
	// finds a cycle already running gets the previous cycle's snapshot
	// instead of launching duplicate upstream calls.
	inflight sync.Mutex

	snapMux sync.RWMutex
	lastRun map[domain.Asset]domain.ResolvedPrice
}

// New constructs a Resolver over the given sources in priority order.
func New(sources []fetcher.PriceSource, opts Options, logger zerolog.Logger) *Resolver {
	static := opts.Static
	if static == nil {
		static = map[domain.Asset]decimal.Decimal{}
	}
	return &Resolver{
		sources: sources,
		cache:   NewCache(),
		static:  static,
		logger:  logger.With().Str("component", "resolver").Logger(),
		lastRun: make(map[domain.Asset]domain.ResolvedPrice),
	}
}

// Cache exposes the resolver-owned last-known-good cache for inspection.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// Resolve runs one fallback-chain pass for the requested assets.
func (r *Resolver) Resolve(ctx context.Context, assets []domain.Asset) map[domain.Asset]domain.ResolvedPrice {
	if !r.inflight.TryLock() {
		r.logger.Warn().Msg("resolution already in flight; serving previous snapshot")
		return r.snapshot()
	}
	defer r.inflight.Unlock()

	now := time.Now().UTC()
	resolved := make(map[domain.Asset]domain.ResolvedPrice, len(assets))
	remaining := make([]domain.Asset, len(assets))
	copy(remaining, assets)

	for _, source := range r.sources {
		if len(remaining) == 0 {
			break
		}

		quote, err := source.Fetch(ctx, remaining)
		if err != nil {
			r.logger.Warn().Err(err).Str("source", source.Name()).Msg("source failed; falling through")
			continue
		}

		next := remaining[:0]
		for _, asset := range remaining {
			amount, ok := quote.Prices[asset]
			if !ok || !amount.IsPositive() {
				next = append(next, asset)
				continue
			}

			ts := quote.FetchedAt
			if ts.IsZero() {
				ts = now
			}

			price := domain.ResolvedPrice{
				Asset:      asset,
				Amount:     amount,
				Timestamp:  ts,
				Provenance: domain.Provenance(source.Name()),
			}
			if native, ok := quote.Changes[asset]; ok {
				price.Change = &domain.Change{
					Amount:  native.Amount,
					Percent: native.Percent,
				}
			}

			resolved[asset] = price
			r.cache.Put(asset, CacheEntry{Amount: amount, Source: source.Name(), RecordedAt: ts})
		}
		remaining = next
	}

	for _, asset := range remaining {
		resolved[asset] = r.fallback(asset, now)
	}

	r.snapMux.Lock()
	r.lastRun = resolved
	r.snapMux.Unlock()

	return resolved
}

func (r *Resolver) fallback(asset domain.Asset, now time.Time) domain.ResolvedPrice {
	if entry, ok := r.cache.Get(asset); ok {
		r.logger.Info().Str("asset", string(asset)).Time("cached_at", entry.RecordedAt).Msg("serving last-known-good price")
		return domain.ResolvedPrice{
			Asset:      asset,
			Amount:     entry.Amount,
			Timestamp:  entry.RecordedAt,
			Provenance: domain.ProvenanceCached,
		}
	}

	amount := r.static[asset]
	r.logger.Warn().Str("asset", string(asset)).Str("amount", amount.String()).Msg("serving static last-resort price")
	return domain.ResolvedPrice{
		Asset:      asset,
		Amount:     amount,
		Timestamp:  now,
		Provenance: domain.ProvenanceStatic,
	}
}

func (r *Resolver) snapshot() map[domain.Asset]domain.ResolvedPrice {
	r.snapMux.RLock()
	defer r.snapMux.RUnlock()

	out := make(map[domain.Asset]domain.ResolvedPrice, len(r.lastRun))
	for asset, price := range r.lastRun {
		out[asset] = price
	}
	return out
}
