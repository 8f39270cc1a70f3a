package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ProxyQuoteFetcher retrieves the current USD price of a proxy instrument.
type ProxyQuoteFetcher interface {
	FetchProxyQuote(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// ProxyOptions parameterise the spot quote fetcher.
type ProxyOptions struct {
	BaseURL string
	Timeout time.Duration
}

// ProxyClient reads proxy instrument quotes from a Coinbase-style spot
// price endpoint (`/v2/prices/{PAIR}/spot`).
type ProxyClient struct {
	opts    ProxyOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewProxyClient constructs a proxy quote fetcher.
func NewProxyClient(opts ProxyOptions, logger zerolog.Logger) *ProxyClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coinbase.com"
	}

	return &ProxyClient{
		opts:    opts,
		logger:  logger.With().Str("component", "proxy_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type spotPriceResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// FetchProxyQuote retrieves the USD spot price for the instrument.
func (p *ProxyClient) FetchProxyQuote(ctx context.Context, instrument string) (decimal.Decimal, error) {
	if instrument == "" {
		return decimal.Decimal{}, errors.New("proxy instrument not configured")
	}

	endpoint := fmt.Sprintf("%s/v2/prices/%s-USD/spot", p.baseURL, instrument)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("build proxy quote request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch proxy quote: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read proxy quote body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("proxy quote api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed spotPriceResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode proxy quote: %w", err)
	}

	price, err := decimal.NewFromString(parsed.Data.Amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse proxy amount: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, errors.New("proxy quote returned non-positive price")
	}

	return price, nil
}

var _ ProxyQuoteFetcher = (*ProxyClient)(nil)
