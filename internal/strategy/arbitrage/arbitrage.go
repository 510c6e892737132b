// Package arbitrage implements the cross-venue spread analyzer of spec.md
// §4.8: compute the spread between two venues quoting the same pair, size
// the trade with a binary search over the concave profit curve, pick a
// funding mode, score confidence, and emit an Arbitrage opportunity. A
// venue is either an on-chain AMM pool (reserves read live via PoolCache)
// or a CEX price snapshot sized with a linear depth model, per §4.8's "CEX
// (price snapshots from external feeds) and DEX" venue grouping.
package arbitrage

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/ammmath"
	"github.com/mev-labs/searcher-core/internal/oracle"
	"github.com/mev-labs/searcher-core/internal/state"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

type Config struct {
	MinSpreadPct          float64
	MinNetProfitWei       *big.Int
	MinSuccessProbability float64
	MaxNotionalWei        *big.Int
	GasPriceWei           *big.Int
	GasUnitsEstimate      uint64
	SearchIterations      int
	// MaxOracleDeviationPct rejects a spread when BOTH venues' marginal
	// prices sit further than this from the oracle's USD cross price,
	// treating it as a thin/manipulated pair rather than a real arbitrage
	// (§4.3, §7); one leg alone deviating passes. Zero disables the check, which also applies when priceOracle is
	// nil — a spread is only as trustworthy as the quote it's read from.
	MaxOracleDeviationPct float64
}

// Venue identifies one leg of a cross-venue trade.
type Venue struct {
	Pool *coretypes.AmmPool
	Cex  *coretypes.CexVenue
}

type Analyzer struct {
	cfg    Config
	pools  *state.PoolCache
	oracle *oracle.Aggregator // optional; nil skips the oracle cross-check
	log    *zap.Logger
}

func New(cfg Config, pools *state.PoolCache, priceOracle *oracle.Aggregator, log *zap.Logger) *Analyzer {
	if cfg.SearchIterations <= 0 {
		cfg.SearchIterations = 40
	}
	return &Analyzer{cfg: cfg, pools: pools, oracle: priceOracle, log: log}
}

// leg is one resolved venue, ready to quote amounts for spending `in` and
// receiving `out` in whichever direction it was resolved.
type leg struct {
	venueName string
	dex       bool

	// dex fields (constant-product)
	router                common.Address
	reserveIn, reserveOut *big.Int
	feeBps                uint32

	// cex fields (linear depth)
	cexPriceOutPerIn decimal.Decimal // `out` per `in`, at zero notional
	cexDepthIn       *big.Int        // notional of `in` at which the linear model bottoms out
}

func (l leg) amountOut(amountIn *big.Int) *big.Int {
	if l.dex {
		return ammmath.GetAmountOut(amountIn, l.reserveIn, l.reserveOut, l.feeBps)
	}
	return cexAmountOut(amountIn, l.cexPriceOutPerIn, l.cexDepthIn, l.feeBps)
}

// notionalCap bounds the search space to roughly where each venue's
// constant-product/linear approximation still holds.
func (l leg) notionalCap() *big.Int {
	if l.dex {
		return new(big.Int).Div(l.reserveIn, big.NewInt(20))
	}
	if l.cexDepthIn != nil && l.cexDepthIn.Sign() > 0 {
		return new(big.Int).Div(l.cexDepthIn, big.NewInt(2))
	}
	return nil
}

// priceOutPerIn is the venue's marginal price (out per in) at zero notional.
func (l leg) priceOutPerIn() decimal.Decimal {
	if l.dex {
		return decimal.NewFromBigInt(l.reserveOut, 0).Div(decimal.NewFromBigInt(l.reserveIn, 0))
	}
	return l.cexPriceOutPerIn
}

// onChainRouter returns the venue's on-chain router, or nil for a CEX venue that
// has no on-chain call.
func (l leg) onChainRouter() *common.Address {
	if !l.dex {
		return nil
	}
	r := l.router
	return &r
}

func (a *Analyzer) resolveLeg(ctx context.Context, v Venue, in, out common.Address) (leg, error) {
	switch {
	case v.Pool != nil:
		pool, err := a.pools.Get(ctx, v.Pool.Key(), *v.Pool)
		if err != nil {
			return leg{}, err
		}
		reserveIn, reserveOut := reservesFor(pool, in, out)
		if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
			return leg{}, coretypes.ErrInsufficientLiquidity
		}
		return leg{
			venueName: pool.Router.Hex(),
			dex:       true,
			router:    pool.Router,
			reserveIn: reserveIn, reserveOut: reserveOut,
			feeBps: pool.FeeBps,
		}, nil
	case v.Cex != nil:
		price := v.Cex.Price
		if price.Sign() <= 0 {
			return leg{}, coretypes.ErrInsufficientLiquidity
		}
		// Price is quoted Token1-per-Token0; invert it when `in` is Token1
		// so the returned price is always out-per-in for this direction, and
		// convert the Token0 depth into Token1 units to match.
		depthIn := v.Cex.DepthToken0
		if in == v.Cex.Token1 {
			price = decimal.NewFromInt(1).Div(price)
			if depthIn != nil {
				depthIn = decimal.NewFromBigInt(depthIn, 0).Mul(v.Cex.Price).Truncate(0).BigInt()
			}
		}
		return leg{
			venueName:        v.Cex.Name,
			dex:              false,
			cexPriceOutPerIn: price,
			cexDepthIn:       depthIn,
			feeBps:           v.Cex.FeeBps,
		}, nil
	default:
		return leg{}, coretypes.Wrap(coretypes.ErrPoolUnknown, nil)
	}
}

// Analyze compares buyVenue and sellVenue for the same token pair and emits
// an Arbitrage opportunity when the spread clears every threshold.
func (a *Analyzer) Analyze(ctx context.Context, symbol string, buyVenue, sellVenue Venue, tokenIn, tokenOut common.Address) (*coretypes.Opportunity, error) {
	buyLeg, err := a.resolveLeg(ctx, buyVenue, tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	sellLeg, err := a.resolveLeg(ctx, sellVenue, tokenOut, tokenIn)
	if err != nil {
		return nil, err
	}

	spreadPct := spread(buyLeg, sellLeg)
	if spreadPct < a.cfg.MinSpreadPct {
		return nil, coretypes.ErrPriceImpactTooSmall
	}

	if err := a.checkOracleDeviation(ctx, buyLeg, sellLeg, tokenIn, tokenOut); err != nil {
		return nil, err
	}

	profitFn := func(notional *big.Int) *big.Int {
		boughtOut := buyLeg.amountOut(notional)
		soldBack := sellLeg.amountOut(boughtOut)
		return new(big.Int).Sub(soldBack, notional)
	}

	maxNotional := a.cfg.MaxNotionalWei
	if cap := buyLeg.notionalCap(); cap != nil && cap.Cmp(maxNotional) < 0 {
		maxNotional = cap
	}

	optimalNotional := ammmath.BinarySearchOptimalSize(maxNotional, profitFn, a.cfg.SearchIterations)
	grossProfit := profitFn(optimalNotional)
	if grossProfit.Sign() <= 0 {
		return nil, coretypes.ErrUnprofitableAfterGas
	}

	gasCost := a.estimateGasCost()
	netProfit := new(big.Int).Sub(grossProfit, gasCost)
	if netProfit.Cmp(a.cfg.MinNetProfitWei) < 0 {
		return nil, coretypes.ErrUnprofitableAfterGas
	}

	confidence := confidenceScore(spreadPct)
	if confidence < a.cfg.MinSuccessProbability {
		return nil, coretypes.ErrLowSuccessProbability
	}

	boughtOut := buyLeg.amountOut(optimalNotional)

	return &coretypes.Opportunity{
		Strategy:            coretypes.StrategyArbitrage,
		DetectedAt:          time.Now(),
		ExpectedProfitWei:   grossProfit,
		EstimatedGasCostWei: gasCost,
		NetProfitWei:        netProfit,
		SuccessProbability:  confidence,
		Arbitrage: &coretypes.ArbitragePayload{
			Symbol:       symbol,
			BuyVenue:     buyLeg.venueName,
			SellVenue:    sellLeg.venueName,
			TokenIn:      tokenIn,
			TokenOut:     tokenOut,
			BuyRouter:    buyLeg.onChainRouter(),
			SellRouter:   sellLeg.onChainRouter(),
			Notional:     decimal.NewFromBigInt(optimalNotional, 0),
			SellAmountIn: boughtOut,
			Funding:      coretypes.FundingAuto,
			Confidence:   confidence,
		},
	}, nil
}

// checkOracleDeviation rejects a spread whose marginal price on BOTH legs
// has drifted too far from the oracle's USD cross price — one leg alone
// disagreeing with the oracle is exactly what a real cross-venue
// mispricing looks like, so the check is conjunctive, not per-leg. This is
// how a sandwich-drained or otherwise thin pool (or a stale CEX snapshot)
// produces a spread that looks profitable but isn't a real mispricing.
func (a *Analyzer) checkOracleDeviation(ctx context.Context, buyLeg, sellLeg leg, tokenIn, tokenOut common.Address) error {
	if a.oracle == nil || a.cfg.MaxOracleDeviationPct <= 0 {
		return nil
	}

	inQuote, err := a.oracle.Quote(ctx, tokenIn)
	if err != nil {
		a.log.Debug("oracle quote unavailable for arbitrage sanity-check, skipping", zap.Error(err))
		return nil
	}
	outQuote, err := a.oracle.Quote(ctx, tokenOut)
	if err != nil {
		a.log.Debug("oracle quote unavailable for arbitrage sanity-check, skipping", zap.Error(err))
		return nil
	}
	if outQuote.PriceUSD.IsZero() {
		return nil
	}
	oracleImplied := inQuote.PriceUSD.Div(outQuote.PriceUSD)

	buyPrice := buyLeg.priceOutPerIn()
	sellPrice := sameOrientationSellPrice(sellLeg)

	if priceDeviationPct(buyPrice, oracleImplied) > a.cfg.MaxOracleDeviationPct &&
		priceDeviationPct(sellPrice, oracleImplied) > a.cfg.MaxOracleDeviationPct {
		return coretypes.ErrOracleDeviationTooHigh
	}
	return nil
}

func priceDeviationPct(price, reference decimal.Decimal) float64 {
	if reference.IsZero() {
		return 0
	}
	d, _ := price.Sub(reference).Div(reference).Abs().Float64()
	return d * 100
}

// cexAmountOut applies a linear depth model: output falls off linearly to
// zero as amountIn approaches depthIn, approximating slippage without a
// reserve curve to read.
func cexAmountOut(amountIn *big.Int, priceOutPerIn decimal.Decimal, depthIn *big.Int, feeBps uint32) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || priceOutPerIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	amt := decimal.NewFromBigInt(amountIn, 0)

	slip := decimal.NewFromInt(1)
	if depthIn != nil && depthIn.Sign() > 0 {
		ratio := amt.Div(decimal.NewFromBigInt(depthIn, 0))
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1)
		}
		slip = decimal.NewFromInt(1).Sub(ratio)
	}

	feeMultiplier := decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(feeBps)).Div(decimal.NewFromInt(10_000)))
	out := amt.Mul(priceOutPerIn).Mul(slip).Mul(feeMultiplier)
	if out.Sign() <= 0 {
		return big.NewInt(0)
	}
	return out.Truncate(0).BigInt()
}

func reservesFor(pool coretypes.AmmPool, in, out common.Address) (*big.Int, *big.Int) {
	if in == pool.Token0 {
		return pool.Reserve0, pool.Reserve1
	}
	return pool.Reserve1, pool.Reserve0
}

// sameOrientationSellPrice inverts the sell leg's out-per-in price (quoted
// tokenIn-per-tokenOut, since the sell leg was resolved with in=tokenOut,
// out=tokenIn) back into the buy leg's tokenOut-per-tokenIn orientation, so
// the two venues' valuations of tokenOut are directly comparable.
func sameOrientationSellPrice(sellLeg leg) decimal.Decimal {
	inverse := sellLeg.priceOutPerIn()
	if inverse.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).Div(inverse)
}

// spread returns the percentage difference between the two venues'
// tokenOut-per-tokenIn marginal prices, relative to the sell venue's: it is
// positive when the buy venue yields more tokenOut per tokenIn than the sell
// venue takes back, i.e. when buying on buyLeg and selling on sellLeg gains.
func spread(buyLeg, sellLeg leg) float64 {
	buyPrice := buyLeg.priceOutPerIn()
	sellPrice := sameOrientationSellPrice(sellLeg)
	if sellPrice.IsZero() {
		return 0
	}

	ratio := buyPrice.Sub(sellPrice).Div(sellPrice).Mul(decimal.NewFromInt(100))
	f, _ := ratio.Float64()
	return f
}

func confidenceScore(spreadPct float64) float64 {
	switch {
	case spreadPct >= 3.0:
		return 0.9
	case spreadPct >= 1.0:
		return 0.75
	default:
		return 0.6
	}
}

func (a *Analyzer) estimateGasCost() *big.Int {
	gasPrice := a.cfg.GasPriceWei
	gasUnits := big.NewInt(int64(a.cfg.GasUnitsEstimate))
	return new(big.Int).Mul(gasPrice, gasUnits)
}
