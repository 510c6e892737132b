// Package sandwich implements the 8-step sandwich analyzer of spec.md §4.6:
// fetch pool state, compute victim price impact, estimate competition,
// size the front-run with half-Kelly, simulate front/victim/back, estimate
// gas, apply reject thresholds, emit an Opportunity. Kelly's `b` parameter
// is the expected fractional edge realized on a winning front-run (not the
// raw price-impact percentage) per the Open Question resolution recorded in
// DESIGN.md.
package sandwich

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/ammmath"
	"github.com/mev-labs/searcher-core/internal/codec"
	"github.com/mev-labs/searcher-core/internal/mempool"
	"github.com/mev-labs/searcher-core/internal/state"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

type Config struct {
	MinPriceImpactPct     float64
	MinNetProfitWei       *big.Int
	MinSuccessProbability float64
	KellyFraction         float64 // 0.5 for half-Kelly
	MaxPositionWei        *big.Int
	FlashloanEnabled      bool
	GasPriceWei           *big.Int
	GasUnitsEstimate      uint64
	// MinLiquidityWei rejects pools whose combined reserves (reserve_in +
	// reserve_out) fall under this sum; a zero/nil value disables the check.
	MinLiquidityWei *big.Int
}

type Analyzer struct {
	cfg      Config
	pools    *state.PoolCache
	registry *codec.Registry
	gas      *mempool.GasTracker
	log      *zap.Logger
}

func New(cfg Config, pools *state.PoolCache, registry *codec.Registry, gas *mempool.GasTracker, log *zap.Logger) *Analyzer {
	if cfg.FlashloanEnabled {
		log.Warn("sandwich flashloan funding requested but disabled by policy; falling back to wallet funding",
			zap.String("strategy", "sandwich"))
		cfg.FlashloanEnabled = false
	}
	return &Analyzer{cfg: cfg, pools: pools, registry: registry, gas: gas, log: log}
}

// Analyze evaluates a pending swap as a sandwich candidate. It returns
// (nil, validationErr) for expected negative rejections (§7) and (opp, nil)
// on success.
func (a *Analyzer) Analyze(ctx context.Context, victim coretypes.PendingTransaction, poolIdentity coretypes.AmmPool, tokenIn, tokenOut common.Address, victimAmountIn *big.Int) (*coretypes.Opportunity, error) {
	pool, err := a.pools.Get(ctx, poolIdentity.Key(), poolIdentity)
	if err != nil {
		return nil, err
	}

	reserveIn, reserveOut := reservesFor(pool, tokenIn, tokenOut)
	combined := new(big.Int).Add(reserveIn, reserveOut)
	if a.cfg.MinLiquidityWei != nil && a.cfg.MinLiquidityWei.Sign() > 0 && combined.Cmp(a.cfg.MinLiquidityWei) < 0 {
		return nil, coretypes.ErrInsufficientLiquidity
	}

	impactPct := ammmath.PriceImpactPct(victimAmountIn, reserveIn, reserveOut, pool.FeeBps)
	if impactPct < a.cfg.MinPriceImpactPct {
		return nil, coretypes.ErrPriceImpactTooSmall
	}

	competition := a.estimateCompetition(impactPct, victim)

	frontAmount := a.sizeFrontRun(reserveIn, reserveOut, pool.FeeBps, victimAmountIn, competition)
	if frontAmount.Sign() <= 0 {
		return nil, coretypes.ErrUnprofitableAfterGas
	}

	frontOut, _, backOut := ammmath.SimulateSandwich(frontAmount, victimAmountIn, reserveIn, reserveOut, pool.FeeBps)

	grossProfit := new(big.Int).Sub(backOut, frontAmount)
	if grossProfit.Sign() <= 0 {
		return nil, coretypes.ErrUnprofitableAfterGas
	}

	gasCost := a.estimateGasCost(competition)
	netProfit := new(big.Int).Sub(grossProfit, gasCost)
	if netProfit.Cmp(a.cfg.MinNetProfitWei) < 0 {
		return nil, coretypes.ErrUnprofitableAfterGas
	}

	successProb := competition.SuccessProbability()
	if successProb < a.cfg.MinSuccessProbability {
		return nil, coretypes.ErrLowSuccessProbability
	}

	return &coretypes.Opportunity{
		ID:                  "", // assigned by internal/opportunity on enqueue
		Strategy:            coretypes.StrategySandwich,
		DetectedAt:          time.Now(),
		ExpectedProfitWei:   grossProfit,
		EstimatedGasCostWei: gasCost,
		NetProfitWei:        netProfit,
		SuccessProbability:  successProb,
		Sandwich: &coretypes.SandwichPayload{
			VictimTxHash: victim.Hash,
			Pool:         pool.Key(),
			TokenIn:      tokenIn,
			TokenOut:     tokenOut,
			FrontAmount:  frontAmount,
			BackAmount:   frontOut,
			Competition:  competition,
		},
	}, nil
}

func reservesFor(pool coretypes.AmmPool, tokenIn, tokenOut common.Address) (*big.Int, *big.Int) {
	if tokenIn == pool.Token0 {
		return pool.Reserve0, pool.Reserve1
	}
	return pool.Reserve1, pool.Reserve0
}

// estimateCompetition derives a discrete label from the victim's price
// impact AND how many other pending transactions are already bidding at or
// above the victim's own gas price: a crowded mempool at that price level
// means other searchers are likely watching the same victim, regardless of
// how large its impact looks in isolation.
func (a *Analyzer) estimateCompetition(impactPct float64, victim coretypes.PendingTransaction) coretypes.CompetitionLevel {
	density := 0.0
	if a.gas != nil {
		victimGasPrice := victim.Gas.MaxFeePerGas
		if victimGasPrice == nil {
			victimGasPrice = victim.Gas.MaxPriorityFeePerGas
		}
		density = a.gas.DensityAbove(victimGasPrice)
	}
	return estimateCompetition(impactPct * (1 + density))
}

// estimateCompetition buckets a combined impact/density score into a
// discrete label: larger impact and a more crowded mempool both draw more
// searcher attention.
func estimateCompetition(score float64) coretypes.CompetitionLevel {
	switch {
	case score >= 5.0:
		return coretypes.CompetitionCritical
	case score >= 2.0:
		return coretypes.CompetitionHigh
	case score >= 0.5:
		return coretypes.CompetitionMedium
	default:
		return coretypes.CompetitionLow
	}
}

// sizeFrontRun applies half-Kelly position sizing. Kelly's b is the expected
// fractional edge of a winning front-run (gross profit / front-run capital,
// measured at a probe size), not the victim's raw price-impact percentage — using
// price impact directly would systematically oversize positions against
// low-impact, high-competition victims. p is the competition-implied success
// probability; q = 1-p.
func (a *Analyzer) sizeFrontRun(reserveIn, reserveOut *big.Int, feeBps uint32, victimAmountIn *big.Int, competition coretypes.CompetitionLevel) *big.Int {
	p := competition.SuccessProbability()
	q := 1 - p

	// Probe a representative size (10% of the victim's input) to estimate
	// the edge b, then apply the Kelly fraction f* = (b*p - q) / b against
	// the liquidity-bounded maximum.
	probe := new(big.Int).Div(victimAmountIn, big.NewInt(10))
	if probe.Sign() <= 0 {
		return big.NewInt(0)
	}
	_, _, probeBack := ammmath.SimulateSandwich(probe, victimAmountIn, reserveIn, reserveOut, feeBps)
	probeProfit := new(big.Int).Sub(probeBack, probe)
	if probeProfit.Sign() <= 0 {
		return big.NewInt(0)
	}

	b := new(big.Float).Quo(new(big.Float).SetInt(probeProfit), new(big.Float).SetInt(probe))
	bf, _ := b.Float64()
	if bf <= 0 {
		return big.NewInt(0)
	}

	fStar := (bf*p - q) / bf
	if fStar <= 0 {
		return big.NewInt(0)
	}
	fStar *= a.cfg.KellyFraction // half-Kelly by default

	liquidityCap := new(big.Int).Div(reserveIn, big.NewInt(20)) // 5% of reserve, hard safety cap
	sized := new(big.Float).Mul(new(big.Float).SetInt(liquidityCap), big.NewFloat(fStar))
	sizedInt, _ := sized.Int(nil)

	if sizedInt.Cmp(liquidityCap) > 0 {
		sizedInt = liquidityCap
	}
	if a.cfg.MaxPositionWei != nil && sizedInt.Cmp(a.cfg.MaxPositionWei) > 0 {
		sizedInt = new(big.Int).Set(a.cfg.MaxPositionWei)
	}
	if sizedInt.Sign() < 0 {
		return big.NewInt(0)
	}
	return sizedInt
}

func (a *Analyzer) estimateGasCost(competition coretypes.CompetitionLevel) *big.Int {
	multiplier := competition.GasMultiplier()
	gasPrice := new(big.Float).Mul(new(big.Float).SetInt(a.cfg.GasPriceWei), big.NewFloat(multiplier))
	gasUnits := new(big.Float).SetUint64(a.cfg.GasUnitsEstimate * 2) // front + back tx
	cost := new(big.Float).Mul(gasPrice, gasUnits)
	result, _ := cost.Int(nil)
	return result
}
