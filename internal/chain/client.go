// Package chain wraps an ethclient.Client with the retry/backoff and
// circuit-breaking policy required by spec.md §4.1 and §7. The teacher talks
// to one chain by constructing ethclient.Dial(conf.RPC) directly in
// cmd/main.go and letting ContractClient.Call/Send use it; here that
// connection is centralized behind one client so every other package shares
// its rate limiter and breaker.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// Config tunes the retry/backoff/rate-limit/breaker policy.
type Config struct {
	MaxAttempts     int
	BaseBackoff     time.Duration
	RequestsPerSec  float64
	BurstSize       int
	BreakerMaxFails uint32
	BreakerOpenFor  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseBackoff:     200 * time.Millisecond,
		RequestsPerSec:  40,
		BurstSize:       10,
		BreakerMaxFails: 5,
		BreakerOpenFor:  30 * time.Second,
	}
}

// Client is the sole entry point for JSON-RPC calls used across the
// searcher, per the "one chain client" component of spec.md §4.1.
type Client struct {
	eth     *ethclient.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	cfg     Config
	log     *zap.Logger
}

func Dial(ctx context.Context, rpcURL string, cfg Config, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, coretypes.Wrap(coretypes.ErrRPCUnavailable, fmt.Errorf("dial %s: %w", rpcURL, err))
	}

	st := gobreaker.Settings{
		Name:        "chain-rpc",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFails
		},
	}

	return &Client{
		eth:     eth,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.BurstSize),
		breaker: gobreaker.NewCircuitBreaker[any](st),
		cfg:     cfg,
		log:     log,
	}, nil
}

// call runs fn under the rate limiter and circuit breaker, retrying
// transient failures up to MaxAttempts with exponential backoff, per §7.
func (c *Client) call(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.BaseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, coretypes.Wrap(coretypes.ErrCancelled, ctx.Err())
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, coretypes.Wrap(coretypes.ErrCancelled, err)
		}

		result, err := c.breaker.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransient(err) {
			c.log.Warn("rpc call failed, not retrying", zap.String("method", name), zap.Error(err))
			return nil, coretypes.Wrap(coretypes.ErrRPCProtocolError, err)
		}
		c.log.Debug("rpc call failed, retrying", zap.String("method", name), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, coretypes.Wrap(coretypes.ErrRPCTimeout, lastErr)
}

func isTransient(err error) bool {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return true
	}
	return err != ethereum.NotFound
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	v, err := c.call(ctx, "eth_blockNumber", func(ctx context.Context) (any, error) {
		return c.eth.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	type result struct {
		tx      *types.Transaction
		pending bool
	}
	v, err := c.call(ctx, "eth_getTransactionByHash", func(ctx context.Context) (any, error) {
		tx, pending, err := c.eth.TransactionByHash(ctx, hash)
		return result{tx, pending}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(result)
	return r.tx, r.pending, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	v, err := c.call(ctx, "eth_getTransactionReceipt", func(ctx context.Context) (any, error) {
		return c.eth.TransactionReceipt(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Receipt), nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	v, err := c.call(ctx, "eth_call", func(ctx context.Context) (any, error) {
		return c.eth.CallContract(ctx, msg, blockNumber)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	v, err := c.call(ctx, "eth_getLogs", func(ctx context.Context) (any, error) {
		return c.eth.FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.Log), nil
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	v, err := c.call(ctx, "eth_maxPriorityFeePerGas", func(ctx context.Context) (any, error) {
		return c.eth.SuggestGasTipCap(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	v, err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) (any, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Header), nil
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	v, err := c.call(ctx, "eth_getTransactionCount", func(ctx context.Context) (any, error) {
		return c.eth.PendingNonceAt(ctx, account)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := c.call(ctx, "eth_sendRawTransaction", func(ctx context.Context) (any, error) {
		return nil, c.eth.SendTransaction(ctx, tx)
	})
	return err
}

// SubscribePendingTransactions exposes the raw hash feed; internal/mempool
// fetches full payloads itself, as subscriptions only deliver hashes on most
// public endpoints.
func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	return c.eth.SubscribeNewPendingTransactions(ctx, ch)
}

func (c *Client) Underlying() *ethclient.Client { return c.eth }

func (c *Client) Close() { c.eth.Close() }
