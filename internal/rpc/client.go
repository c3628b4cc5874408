// Package rpc wraps go-ethereum's client with the safety rails a
// long-running indexer needs: per-call timeouts, bounded retries, a
// circuit breaker and adaptive range splitting for log queries.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// retryBaseDelay is the first retry backoff; it doubles per attempt.
const retryBaseDelay = 500 * time.Millisecond

// CircuitBreakerConfig tunes the breaker guarding the RPC endpoint.
type CircuitBreakerConfig struct {
	// MaxRequests is the number of probe requests allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period that resets failure counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration

	// FailureThreshold is the consecutive failures that open the breaker.
	FailureThreshold uint32
}

// ClientConfig holds RPC client configuration.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	CircuitBreaker CircuitBreakerConfig
}

// DefaultConfig returns production-ready client settings. URL must be set
// by the caller.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Client is a hardened JSON-RPC client for one endpoint.
type Client struct {
	eth     *ethclient.Client
	cfg     ClientConfig
	breaker *gobreaker.CircuitBreaker
	chainID *big.Int
}

// New dials the endpoint and verifies it responds by fetching the chain
// ID. A dead or misconfigured endpoint fails here, not mid-sync.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing rpc url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported rpc url scheme %q", u.Scheme)
	}

	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.URL, err)
	}

	c := &Client{
		eth: eth,
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "rpc",
			MaxRequests: cfg.CircuitBreaker.MaxRequests,
			Interval:    cfg.CircuitBreaker.Interval,
			Timeout:     cfg.CircuitBreaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.CircuitBreaker.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state change")
			},
		}),
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	chainID, err := eth.ChainID(probeCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}
	c.chainID = chainID

	return c, nil
}

// ChainID returns the chain ID fetched when the client was created.
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		n, err = c.eth.BlockNumber(ctx)
		return err
	})
	return n, err
}

// HeaderByNumber returns the header for the given block number; nil
// requests the latest header.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var h *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		h, err = c.eth.HeaderByNumber(ctx, number)
		return err
	})
	return h, err
}

// FilterLogs fetches logs for q. When the provider rejects the block
// range as too large the range is halved recursively down to single
// blocks, so any provider limit is eventually satisfied.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if q.FromBlock == nil || q.ToBlock == nil {
		return nil, fmt.Errorf("filter query requires explicit from and to blocks")
	}
	return c.filterLogsRange(ctx, q, q.FromBlock.Uint64(), q.ToBlock.Uint64())
}

func (c *Client) filterLogsRange(ctx context.Context, q ethereum.FilterQuery, from, to uint64) ([]types.Log, error) {
	sub := q
	sub.FromBlock = new(big.Int).SetUint64(from)
	sub.ToBlock = new(big.Int).SetUint64(to)

	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, sub)
		return err
	})
	if err == nil {
		return logs, nil
	}
	if !isRangeTooLargeError(err) || from >= to {
		return nil, err
	}

	mid := from + (to-from)/2
	log.Debug().
		Uint64("from", from).
		Uint64("to", to).
		Uint64("mid", mid).
		Msg("provider rejected log range, splitting")

	left, err := c.filterLogsRange(ctx, q, from, mid)
	if err != nil {
		return nil, err
	}
	right, err := c.filterLogsRange(ctx, q, mid+1, to)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// Close tears down the underlying connection.
func (c *Client) Close() {
	c.eth.Close()
}

// call runs fn through the circuit breaker with a per-attempt timeout,
// retrying up to MaxRetries times with doubling backoff. Range-too-large
// rejections are surfaced immediately so FilterLogs can split instead of
// replaying a request the provider will keep refusing.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			log.Debug().
				Str("op", op).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying rpc call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		_, err := c.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
			return nil, fn(callCtx)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if isRangeTooLargeError(err) {
			break
		}
		if errors.Is(err, context.Canceled) {
			break
		}
	}
	rpcErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w", op, lastErr)
}

// rangeTooLargeIndicators are the phrasings providers use when an
// eth_getLogs range or result set exceeds their limits.
var rangeTooLargeIndicators = []string{
	"query returned more than",
	"block range too large",
	"exceed maximum block range",
	"too many results",
	"range too wide",
	"block range is too wide",
	"query timeout",
	"response too large",
	"max results",
	"limit exceeded",
}

// isRangeTooLargeError reports whether err is a provider rejecting a log
// query for covering too many blocks or results.
func isRangeTooLargeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, ind := range rangeTooLargeIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}
