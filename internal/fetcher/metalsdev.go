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

const metalsDevLatestPath = "/v1/latest"

// MetalsDevOptions parameterise the metals.dev fetcher.
type MetalsDevOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// MetalsDev fetches spot prices for all metals in a single request.
type MetalsDev struct {
	opts    MetalsDevOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMetalsDev constructs a metals.dev fetcher.
func NewMetalsDev(opts MetalsDevOptions, logger zerolog.Logger) *MetalsDev {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.metals.dev"
	}

	return &MetalsDev{
		opts:    opts,
		logger:  logger.With().Str("component", "metalsdev_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name returns the provenance tier identifier.
func (m *MetalsDev) Name() string { return "metalsdev" }

type metalsDevResponse struct {
	Status string             `json:"status"`
	Metals map[string]float64 `json:"metals"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Fetch retrieves USD-per-troy-ounce prices for the requested assets.
func (m *MetalsDev) Fetch(ctx context.Context, assets []domain.Asset) (Quote, error) {
	if m.opts.APIKey == "" {
		return Quote{}, fmt.Errorf("%w: metalsdev api key not configured", ErrUnauthorized)
	}

	endpoint := fmt.Sprintf("%s%s?api_key=%s&currency=USD&unit=toz", m.baseURL, metalsDevLatestPath, m.opts.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: build metalsdev request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Quote{}, classifyTransport(m.Name(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, classifyTransport(m.Name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return Quote{}, classifyStatus(m.Name(), resp.StatusCode)
	}

	var parsed metalsDevResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Quote{}, fmt.Errorf("%w: decode metalsdev payload: %v", ErrMalformedResponse, err)
	}
	if parsed.Status != "" && parsed.Status != "success" {
		return Quote{}, fmt.Errorf("%w: metalsdev status %q: %s", ErrUnavailable, parsed.Status, parsed.Error.Message)
	}

	quote := Quote{
		Prices:    make(map[domain.Asset]decimal.Decimal, len(assets)),
		FetchedAt: time.Now().UTC(),
	}
	for _, asset := range assets {
		raw, ok := parsed.Metals[string(asset)]
		if !ok || raw <= 0 {
			continue
		}
		quote.Prices[asset] = decimal.NewFromFloat(raw)
	}

	if len(quote.Prices) == 0 {
		return Quote{}, fmt.Errorf("%w: metalsdev returned no usable prices", ErrMalformedResponse)
	}

	return quote, nil
}

var _ PriceSource = (*MetalsDev)(nil)
