package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
)

const (
	aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

	// Chainlink USD-denominated feeds report 8 decimals.
	feedDecimals = -8
)

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain fetcher. Feeds maps each
// covered asset to its aggregator contract address; assets without a
// feed are simply not answered for.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[domain.Asset]string
	Timeout time.Duration
}

// Chainlink reads metal/USD aggregator feeds via Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink builds a new on-chain price fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_fetcher").Logger()}
}

// Name returns the provenance tier identifier.
func (c *Chainlink) Name() string { return "chainlink" }

// Fetch reads the latest round of each configured feed.
func (c *Chainlink) Fetch(ctx context.Context, assets []domain.Asset) (Quote, error) {
	if c.opts.RPCURL == "" {
		return Quote{}, fmt.Errorf("%w: ethereum rpc url not configured", ErrUnavailable)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Quote{}, classifyTransport(c.Name(), err)
	}

	quote := Quote{
		Prices:    make(map[domain.Asset]decimal.Decimal, len(assets)),
		FetchedAt: time.Now().UTC(),
	}

	var firstErr error
	for _, asset := range assets {
		feed, ok := c.opts.Feeds[asset]
		if !ok || feed == "" {
			continue
		}

		price, err := c.readFeed(ctx, client, feed)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn().Err(err).Str("asset", string(asset)).Str("feed", feed).Msg("feed read failed")
			continue
		}
		quote.Prices[asset] = price
	}

	if len(quote.Prices) == 0 {
		if firstErr != nil {
			return Quote{}, firstErr
		}
		return Quote{}, fmt.Errorf("%w: no feed configured for requested assets", ErrUnavailable)
	}

	return quote, nil
}

func (c *Chainlink) readFeed(ctx context.Context, client *ethclient.Client, feed string) (decimal.Decimal, error) {
	addr := common.HexToAddress(feed)

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: pack latestRoundData: %v", ErrMalformedResponse, err)
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, classifyTransport(c.Name(), err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: unpack latestRoundData: %v", ErrMalformedResponse, err)
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, fmt.Errorf("%w: unexpected latestRoundData arity", ErrMalformedResponse)
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: failed to decode feed answer", ErrMalformedResponse)
	}
	if answer.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: feed answered non-positive price", ErrMalformedResponse)
	}

	return decimal.NewFromBigInt(answer, feedDecimals), nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PriceSource = (*Chainlink)(nil)
