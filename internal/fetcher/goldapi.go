package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
)

// GoldAPIOptions parameterise the goldapi.io fetcher.
type GoldAPIOptions struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// GoldAPI fetches one asset per request. Responses include the source's
// own day-over-day change figures, which downstream consumers prefer
// over a locally computed baseline.
type GoldAPI struct {
	opts    GoldAPIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewGoldAPI constructs a goldapi.io fetcher.
func NewGoldAPI(opts GoldAPIOptions, logger zerolog.Logger) *GoldAPI {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.goldapi.io"
	}

	return &GoldAPI{
		opts:    opts,
		logger:  logger.With().Str("component", "goldapi_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name returns the provenance tier identifier.
func (g *GoldAPI) Name() string { return "goldapi" }

type goldAPIResponse struct {
	Price          float64 `json:"price"`
	PrevClosePrice float64 `json:"prev_close_price"`
	Ch             float64 `json:"ch"`
	Chp            float64 `json:"chp"`
	Timestamp      int64   `json:"timestamp"`
}

// Fetch retrieves prices asset by asset. A partial result is returned as
// long as at least one asset resolved; the error surfaces only when
// every request failed.
func (g *GoldAPI) Fetch(ctx context.Context, assets []domain.Asset) (Quote, error) {
	if g.opts.AccessToken == "" {
		return Quote{}, fmt.Errorf("%w: goldapi access token not configured", ErrUnauthorized)
	}

	quote := Quote{
		Prices:    make(map[domain.Asset]decimal.Decimal, len(assets)),
		Changes:   make(map[domain.Asset]NativeChange, len(assets)),
		FetchedAt: time.Now().UTC(),
	}

	var firstErr error
	for _, asset := range assets {
		price, change, err := g.fetchOne(ctx, asset)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			g.logger.Warn().Err(err).Str("asset", string(asset)).Msg("goldapi asset fetch failed")
			continue
		}
		quote.Prices[asset] = price
		if change != nil {
			quote.Changes[asset] = *change
		}
	}

	if len(quote.Prices) == 0 {
		if firstErr != nil {
			return Quote{}, firstErr
		}
		return Quote{}, fmt.Errorf("%w: goldapi returned no usable prices", ErrMalformedResponse)
	}

	return quote, nil
}

func (g *GoldAPI) fetchOne(ctx context.Context, asset domain.Asset) (decimal.Decimal, *NativeChange, error) {
	endpoint := fmt.Sprintf("%s/api/%s/USD", g.baseURL, asset.Symbol())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("%w: build goldapi request: %v", ErrUnavailable, err)
	}
	req.Header.Set("x-access-token", g.opts.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, nil, classifyTransport(g.Name(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, nil, classifyTransport(g.Name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, nil, classifyStatus(g.Name(), resp.StatusCode)
	}

	var parsed goldAPIResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return decimal.Decimal{}, nil, fmt.Errorf("%w: decode goldapi payload: %v", ErrMalformedResponse, err)
	}
	if parsed.Price <= 0 {
		return decimal.Decimal{}, nil, fmt.Errorf("%w: goldapi returned non-positive price", ErrMalformedResponse)
	}

	price := decimal.NewFromFloat(parsed.Price)

	var change *NativeChange
	if parsed.PrevClosePrice > 0 {
		change = &NativeChange{
			Amount:    decimal.NewFromFloat(parsed.Ch),
			Percent:   decimal.NewFromFloat(parsed.Chp),
			PrevClose: decimal.NewFromFloat(parsed.PrevClosePrice),
		}
	}

	return price, change, nil
}

var _ PriceSource = (*GoldAPI)(nil)
