package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
)

// Typed failure modes. Adapters never let anything else cross their
// boundary; callers discriminate with errors.Is.
var (
	ErrUnauthorized      = errors.New("fetcher: unauthorized")
	ErrTimeout           = errors.New("fetcher: timeout")
	ErrMalformedResponse = errors.New("fetcher: malformed response")
	ErrUnavailable       = errors.New("fetcher: source unavailable")
)

// NativeChange carries day-over-day figures reported by the source itself.
type NativeChange struct {
	Amount    decimal.Decimal
	Percent   decimal.Decimal
	PrevClose decimal.Decimal
}

// Quote is the normalized shape returned by all price sources. A source
// may legitimately cover only a subset of the requested assets.
type Quote struct {
	Prices    map[domain.Asset]decimal.Decimal
	Changes   map[domain.Asset]NativeChange
	FetchedAt time.Time
}

// PriceSource retrieves current prices from one upstream provider. Name
// doubles as the provenance tier recorded on resolved prices.
type PriceSource interface {
	Name() string
	Fetch(ctx context.Context, assets []domain.Asset) (Quote, error)
}

func classifyStatus(source string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrUnauthorized, source, status)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, source, status)
	default:
		return fmt.Errorf("%w: %s returned unexpected status %d", ErrMalformedResponse, source, status)
	}
}

func classifyTransport(source string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, source, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, source, err)
}
