// Package oracle aggregates price feeds into a PriceQuote per spec.md §4.3.
// PriceFeed is a small dispatch-table interface (§9) so Chainlink, Uniswap V3
// TWAP, and an optional HTTP feed can all be registered uniformly — the
// teacher's GetAMMState pattern of "one eth_call, parse fixed-shape outputs"
// is reused for the Chainlink and TWAP feeds below.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/chain"
	"github.com/mev-labs/searcher-core/internal/codec"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// PriceFeed is one source of a token's USD price.
type PriceFeed interface {
	Name() string
	FetchPrice(ctx context.Context, token common.Address) (decimal.Decimal, time.Time, error)
}

// Config mirrors config.OracleConfig without importing internal/config, to
// keep oracle dependency-light.
type Config struct {
	MaxStaleness    time.Duration
	MaxDeviationPct float64
	MinSources      int
	Strategy        coretypes.AggregationStrategy
}

// Aggregator combines multiple feeds into one PriceQuote per token,
// rejecting quotes that fail the freshness or deviation guard (§4.3, §7).
type Aggregator struct {
	feeds []PriceFeed
	cfg   Config
	log   *zap.Logger

	cache     map[common.Address]coretypes.PriceQuote
	ttl       time.Duration
}

func NewAggregator(feeds []PriceFeed, cfg Config, log *zap.Logger) *Aggregator {
	return &Aggregator{
		feeds: feeds,
		cfg:   cfg,
		log:   log,
		cache: make(map[common.Address]coretypes.PriceQuote),
		ttl:   cfg.MaxStaleness,
	}
}

// Quote returns a fresh aggregated PriceQuote for token, serving from cache
// within TTL to avoid hammering every feed on every call.
func (a *Aggregator) Quote(ctx context.Context, token common.Address) (coretypes.PriceQuote, error) {
	now := time.Now()
	if cached, ok := a.cache[token]; ok && cached.Fresh(a.ttl, now, a.cfg.MaxDeviationPct) {
		return cached, nil
	}

	type sample struct {
		source string
		price  decimal.Decimal
		at     time.Time
	}
	var samples []sample
	for _, f := range a.feeds {
		price, at, err := f.FetchPrice(ctx, token)
		if err != nil {
			a.log.Debug("price feed failed", zap.String("feed", f.Name()), zap.Error(err))
			continue
		}
		if now.Sub(at) > a.cfg.MaxStaleness {
			continue
		}
		samples = append(samples, sample{f.Name(), price, at})
	}

	if len(samples) < a.cfg.MinSources {
		return coretypes.PriceQuote{}, coretypes.Wrap(coretypes.ErrInsufficientOracleData,
			fmt.Errorf("got %d fresh sources, need %d", len(samples), a.cfg.MinSources))
	}

	prices := make([]decimal.Decimal, len(samples))
	sources := make([]string, len(samples))
	oldest := now
	for i, s := range samples {
		prices[i] = s.price
		sources[i] = s.source
		if s.at.Before(oldest) {
			oldest = s.at
		}
	}

	var agg decimal.Decimal
	switch a.cfg.Strategy {
	case coretypes.AggregationMedian:
		agg = median(prices)
	case coretypes.AggregationWeightedMean:
		agg = mean(prices) // equal weights absent per-feed weight config
	default:
		agg = prices[0]
	}

	deviation := maxDeviationPct(prices, agg)
	if deviation > a.cfg.MaxDeviationPct {
		return coretypes.PriceQuote{}, coretypes.Wrap(coretypes.ErrOracleDeviationTooHigh,
			fmt.Errorf("deviation %.4f%% exceeds %.4f%%", deviation, a.cfg.MaxDeviationPct))
	}

	q := coretypes.PriceQuote{
		Token:     token,
		PriceUSD:  agg,
		Timestamp: oldest,
		Sources:   sources,
		Strategy:  a.cfg.Strategy,
		Deviation: deviation,
	}
	a.cache[token] = q
	return q, nil
}

func median(vs []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

func mean(vs []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range vs {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(vs))))
}

func maxDeviationPct(vs []decimal.Decimal, center decimal.Decimal) float64 {
	if center.IsZero() {
		return 0
	}
	max := 0.0
	for _, v := range vs {
		d := v.Sub(center).Div(center).Abs()
		f, _ := d.Float64()
		f *= 100
		if f > max {
			max = f
		}
	}
	return max
}

// ChainlinkFeed reads a Chainlink-style aggregator's latestRoundData.
type ChainlinkFeed struct {
	client   *chain.Client
	registry *codec.Registry
	feeds    map[common.Address]common.Address // token -> aggregator address
	decimals map[common.Address]uint8
}

func NewChainlinkFeed(client *chain.Client, registry *codec.Registry, feeds map[common.Address]common.Address, decimals map[common.Address]uint8) *ChainlinkFeed {
	return &ChainlinkFeed{client: client, registry: registry, feeds: feeds, decimals: decimals}
}

func (f *ChainlinkFeed) Name() string { return "chainlink" }

func (f *ChainlinkFeed) FetchPrice(ctx context.Context, token common.Address) (decimal.Decimal, time.Time, error) {
	aggregator, ok := f.feeds[token]
	if !ok {
		return decimal.Zero, time.Time{}, coretypes.Wrap(coretypes.ErrUnknownToken, fmt.Errorf("no chainlink feed for %s", token.Hex()))
	}
	data, err := f.registry.Encode("chainlink_aggregator", "latestRoundData")
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	out, err := f.client.CallContract(ctx, ethCallMsg(aggregator, data), nil)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	values, err := f.registry.DecodeOutputs("chainlink_aggregator", "latestRoundData", out)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	// roundId, answer, startedAt, updatedAt, answeredInRound
	answer := values[1].(*big.Int)
	updatedAt := values[3].(*big.Int)

	decimals := f.decimals[token]
	price := decimal.NewFromBigInt(answer, -int32(decimals))
	return price, time.Unix(updatedAt.Int64(), 0), nil
}

// TWAPFeed reads a Uniswap V3 pool's observe() for a time-weighted price.
type TWAPFeed struct {
	client   *chain.Client
	registry *codec.Registry
	pools    map[common.Address]common.Address // token -> reference pool
	window   uint32                             // seconds
}

func NewTWAPFeed(client *chain.Client, registry *codec.Registry, pools map[common.Address]common.Address, window uint32) *TWAPFeed {
	return &TWAPFeed{client: client, registry: registry, pools: pools, window: window}
}

func (f *TWAPFeed) Name() string { return "uniswap_v3_twap" }

func (f *TWAPFeed) FetchPrice(ctx context.Context, token common.Address) (decimal.Decimal, time.Time, error) {
	pool, ok := f.pools[token]
	if !ok {
		return decimal.Zero, time.Time{}, coretypes.Wrap(coretypes.ErrUnknownToken, fmt.Errorf("no twap pool for %s", token.Hex()))
	}
	secondsAgo := []*big.Int{big.NewInt(int64(f.window)), big.NewInt(0)}
	data, err := f.registry.Encode(codec.RoleUniswapV3Pool, "observe", secondsAgo)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	out, err := f.client.CallContract(ctx, ethCallMsg(pool, data), nil)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	values, err := f.registry.DecodeOutputs(codec.RoleUniswapV3Pool, "observe", out)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}
	tickCumulatives := values[0].([]*big.Int)
	if len(tickCumulatives) != 2 {
		return decimal.Zero, time.Time{}, coretypes.Wrap(coretypes.ErrEncodingFailure, fmt.Errorf("observe: expected 2 cumulatives"))
	}
	avgTick := new(big.Int).Sub(tickCumulatives[1], tickCumulatives[0])
	avgTick.Div(avgTick, big.NewInt(int64(f.window)))
	price := TickToPrice(int32(avgTick.Int64()))
	return price, time.Now(), nil
}

// TickToPrice converts a V3 tick to token1/token0 price using 1.0001^tick.
func TickToPrice(tick int32) decimal.Decimal {
	base := decimal.NewFromFloat(1.0001)
	return base.Pow(decimal.NewFromInt(int64(tick)))
}

func ethCallMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}
