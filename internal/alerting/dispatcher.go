package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	pushSendPath = "/--/api/v2/push/send"

	// DefaultBatchSize is the documented per-request message cap of the
	// push gateway.
	DefaultBatchSize = 100
)

// Error categories reported per message.
const (
	ErrCodeDeviceNotRegistered = "DeviceNotRegistered"
	ErrCodeRateLimited         = "MessageRateExceeded"
	ErrCodeTransport           = "TransportFailure"
)

// PushMessage is one outbound notification request.
type PushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushResult reports the outcome for one message. Results come back in
// the same order as the input messages.
type PushResult struct {
	OK        bool
	ReceiptID string
	ErrCode   string
	Err       error
}

// Dispatcher delivers notification requests to the push transport.
type Dispatcher interface {
	Send(ctx context.Context, msgs []PushMessage) []PushResult
}

// PushDispatcherOptions parameterise the push gateway client.
type PushDispatcherOptions struct {
	BaseURL   string
	Timeout   time.Duration
	BatchSize int
}

// PushDispatcher batches messages to an Expo-style push gateway. A bad
// destination or a failed chunk never raises past Send; every message
// gets a categorized result instead.
type PushDispatcher struct {
	logger    zerolog.Logger
	client    *http.Client
	baseURL   string
	batchSize int
}

// NewPushDispatcher constructs a push gateway dispatcher.
func NewPushDispatcher(opts PushDispatcherOptions, logger zerolog.Logger) *PushDispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > DefaultBatchSize {
		batchSize = DefaultBatchSize
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://exp.host"
	}

	return &PushDispatcher{
		logger:    logger.With().Str("component", "push_dispatcher").Logger(),
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		batchSize: batchSize,
	}
}

// Send delivers the messages in transport-sized chunks and returns one
// result per message, parallel to the input.
func (d *PushDispatcher) Send(ctx context.Context, msgs []PushMessage) []PushResult {
	results := make([]PushResult, 0, len(msgs))
	for start := 0; start < len(msgs); start += d.batchSize {
		end := start + d.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		results = append(results, d.sendChunk(ctx, msgs[start:end])...)
	}
	return results
}

type pushTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type pushResponse struct {
	Data []pushTicket `json:"data"`
}

func (d *PushDispatcher) sendChunk(ctx context.Context, chunk []PushMessage) []PushResult {
	body, err := json.Marshal(chunk)
	if err != nil {
		return transportFailure(chunk, fmt.Errorf("marshal push payload: %w", err))
	}

	endpoint := d.baseURL + pushSendPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return transportFailure(chunk, fmt.Errorf("create push request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return transportFailure(chunk, fmt.Errorf("send push request: %w", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(chunk, fmt.Errorf("read push response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		results := make([]PushResult, len(chunk))
		for i := range results {
			results[i] = PushResult{ErrCode: ErrCodeRateLimited, Err: fmt.Errorf("push gateway rate limited (%d)", resp.StatusCode)}
		}
		return results
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transportFailure(chunk, fmt.Errorf("push gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var parsed pushResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return transportFailure(chunk, fmt.Errorf("decode push response: %w", err))
	}
	if len(parsed.Data) != len(chunk) {
		return transportFailure(chunk, fmt.Errorf("push gateway answered %d tickets for %d messages", len(parsed.Data), len(chunk)))
	}

	results := make([]PushResult, len(chunk))
	for i, ticket := range parsed.Data {
		if ticket.Status == "ok" {
			results[i] = PushResult{OK: true, ReceiptID: ticket.ID}
			continue
		}

		code := ticket.Details.Error
		if code == "" {
			code = ErrCodeTransport
		}
		results[i] = PushResult{ErrCode: code, Err: fmt.Errorf("push rejected: %s", ticket.Message)}
	}

	d.logger.Debug().Int("messages", len(chunk)).Msg("push chunk dispatched")
	return results
}

func transportFailure(chunk []PushMessage, err error) []PushResult {
	results := make([]PushResult, len(chunk))
	for i := range results {
		results[i] = PushResult{ErrCode: ErrCodeTransport, Err: err}
	}
	return results
}

var _ Dispatcher = (*PushDispatcher)(nil)
