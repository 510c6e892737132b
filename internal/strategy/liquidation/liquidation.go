// Package liquidation implements the Bootstrapping -> Scanning -> Analyzing
// -> Emitting state machine of spec.md §4.7: pick the best collateral/debt
// pair, get a swap quote for the seized collateral, reject on excess price
// impact, choose a funding mode, score profit/gas/priority, and emit a
// Liquidation opportunity.
package liquidation

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/ammmath"
	"github.com/mev-labs/searcher-core/internal/codec"
	"github.com/mev-labs/searcher-core/internal/oracle"
	"github.com/mev-labs/searcher-core/internal/state"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

type Phase int

const (
	PhaseBootstrapping Phase = iota
	PhaseScanning
	PhaseAnalyzing
	PhaseEmitting
)

func (p Phase) String() string {
	switch p {
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseScanning:
		return "scanning"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseEmitting:
		return "emitting"
	default:
		return "unknown"
	}
}

// Aggregator names one configured DEX aggregator the analyzer quotes a
// collateral->debt swap through. Quoting tries aggregators in order,
// falling through to the next when its pool cannot be read (spec §4.7 step
// 2's "first-available fallback"); excess price impact on the first quote
// obtained rejects the opportunity without trying further aggregators.
type Aggregator struct {
	Name   string
	Router common.Address
	Pool   coretypes.AmmPool
}

type Config struct {
	MinNetProfitWei       *big.Int
	MinSuccessProbability float64
	MaxPriceImpactPct     float64
	DebtDustThresholdWei  *big.Int
	LiquidationCloseFactorPct float64 // typically 50% for Aave V3
	FlashloanPremiumBps   uint32      // Aave v3: 9
	WalletBalances        map[common.Address]*big.Int // debt asset -> spendable wallet balance, for the funding choice
	Aggregators           []Aggregator
	GasPriceWei           *big.Int
	GasUnitsEstimate      uint64
}

type Analyzer struct {
	cfg      Config
	pools    *state.PoolCache
	registry *codec.Registry
	oracle   *oracle.Aggregator // optional; nil falls back to raw-amount pair ranking
	log      *zap.Logger

	phase Phase
}

func New(cfg Config, pools *state.PoolCache, registry *codec.Registry, priceOracle *oracle.Aggregator, log *zap.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, pools: pools, registry: registry, oracle: priceOracle, log: log, phase: PhaseBootstrapping}
}

func (a *Analyzer) Phase() Phase { return a.phase }

// Analyze evaluates one lending position. internal/pipeline's
// scanLiquidations only passes liquidatable positions, but Analyze checks
// again and returns ErrPositionHealthy for a healthy one before sizing and
// pricing the close.
func (a *Analyzer) Analyze(ctx context.Context, position coretypes.LendingPosition) (*coretypes.Opportunity, error) {
	a.phase = PhaseAnalyzing
	if !position.Liquidatable() {
		a.phase = PhaseScanning
		return nil, coretypes.ErrPositionHealthy
	}

	collateral, debt, debtAmount := a.bestPair(ctx, position)
	if debtAmount == nil || debtAmount.Cmp(a.cfg.DebtDustThresholdWei) < 0 {
		a.phase = PhaseScanning
		return nil, coretypes.ErrDebtBelowThreshold
	}

	debtToCover := closeAmount(debtAmount, a.cfg.LiquidationCloseFactorPct)
	bonus := position.LiquidationBonus[debt]

	bonusMultiplier := new(big.Float).Add(big.NewFloat(1), decimalToFloat(bonus))
	seizedFloat := new(big.Float).Mul(new(big.Float).SetInt(debtToCover), bonusMultiplier)
	seized, _ := seizedFloat.Int(nil)

	_, proceeds, impactPct, err := a.quoteSwap(ctx, collateral, debt, seized)
	if err != nil {
		a.phase = PhaseScanning
		return nil, err
	}
	if impactPct > a.cfg.MaxPriceImpactPct {
		a.phase = PhaseScanning
		return nil, coretypes.ErrPriceImpactTooSmall
	}

	premium := flashloanPremium(debtToCover, a.cfg.FlashloanPremiumBps)
	funding := a.chooseFunding(debt, debtToCover)

	grossProfit := new(big.Int).Sub(proceeds, debtToCover)
	if funding == coretypes.FundingFlashloan {
		grossProfit.Sub(grossProfit, premium)
	}
	if grossProfit.Sign() <= 0 {
		a.phase = PhaseScanning
		return nil, coretypes.ErrUnprofitableAfterGas
	}

	gasCost := a.estimateGasCost()
	netProfit := new(big.Int).Sub(grossProfit, gasCost)
	if netProfit.Cmp(a.cfg.MinNetProfitWei) < 0 {
		a.phase = PhaseScanning
		return nil, coretypes.ErrUnprofitableAfterGas
	}

	successProb := successProbabilityFor(position.HealthFactor)
	if successProb < a.cfg.MinSuccessProbability {
		a.phase = PhaseScanning
		return nil, coretypes.ErrLowSuccessProbability
	}

	a.phase = PhaseEmitting
	opp := &coretypes.Opportunity{
		Strategy:            coretypes.StrategyLiquidation,
		DetectedAt:          time.Now(),
		ExpectedProfitWei:   grossProfit,
		EstimatedGasCostWei: gasCost,
		NetProfitWei:        netProfit,
		SuccessProbability:  successProb,
		Liquidation: &coretypes.LiquidationPayload{
			Protocol:    position.Protocol,
			User:        position.User,
			Collateral:  collateral,
			Debt:        debt,
			DebtToCover: debtToCover,
			Funding:     funding,
		},
	}
	a.phase = PhaseScanning
	return opp, nil
}

// quoteSwap requests a collateral->debt swap quote from the configured
// aggregators in priority order, falling through to the next aggregator on
// a cache-refresh failure, per spec §4.7 step 2. The price impact is only
// returned here; Analyze rejects an excessive one.
func (a *Analyzer) quoteSwap(ctx context.Context, collateral, debt common.Address, seized *big.Int) (router common.Address, proceeds *big.Int, impactPct float64, err error) {
	if len(a.cfg.Aggregators) == 0 {
		return common.Address{}, nil, 0, coretypes.Wrap(coretypes.ErrPoolUnknown, nil)
	}

	var lastErr error
	for _, agg := range a.cfg.Aggregators {
		pool, perr := a.pools.Get(ctx, agg.Pool.Key(), agg.Pool)
		if perr != nil {
			lastErr = perr
			continue
		}
		reserveIn, reserveOut := reservesFor(pool, collateral, debt)
		impact := ammmath.PriceImpactPct(seized, reserveIn, reserveOut, pool.FeeBps)
		out := ammmath.GetAmountOut(seized, reserveIn, reserveOut, pool.FeeBps)
		return agg.Router, out, impact, nil
	}
	if lastErr == nil {
		lastErr = coretypes.Wrap(coretypes.ErrPoolUnknown, nil)
	}
	return common.Address{}, nil, 0, lastErr
}

// chooseFunding prefers wallet capital when the wallet holds enough of the
// debt asset to cover the close outright; otherwise it falls back to a
// flash loan, per spec §4.7 step 3.
func (a *Analyzer) chooseFunding(debt common.Address, debtToCover *big.Int) coretypes.FundingMode {
	if bal, ok := a.cfg.WalletBalances[debt]; ok && bal != nil && bal.Cmp(debtToCover) >= 0 {
		return coretypes.FundingWallet
	}
	return coretypes.FundingFlashloan
}

// flashloanPremium is debt_to_cover * flashloan_premium_bps / 10_000.
func flashloanPremium(debtToCover *big.Int, bps uint32) *big.Int {
	if bps == 0 {
		return new(big.Int)
	}
	numerator := new(big.Int).Mul(debtToCover, big.NewInt(int64(bps)))
	return numerator.Div(numerator, big.NewInt(10_000))
}

// bestPair selects the (collateral, debt) pair maximizing expected net
// profit across every combination available on the position (spec §4.7
// step 1), rather than picking the largest-debt and largest-collateral
// assets independently (which can pick an infeasible or dominated pair).
// Ranking needs USD prices; without an oracle configured, it degrades to
// ranking by raw bonus-weighted debt amount (asset units, not USD).
func (a *Analyzer) bestPair(ctx context.Context, position coretypes.LendingPosition) (collateral, debt common.Address, debtAmount *big.Int) {
	found := false
	var bestScore decimal.Decimal

	for _, d := range position.Debt {
		if d.Amount == nil || d.Amount.Sign() <= 0 {
			continue
		}
		debtToCover := closeAmount(d.Amount, a.cfg.LiquidationCloseFactorPct)
		bonus := position.LiquidationBonus[d.Asset]

		for _, c := range position.Collateral {
			if c.Amount == nil || c.Amount.Sign() <= 0 {
				continue
			}
			score, feasible := a.pairScore(ctx, c.Asset, d.Asset, debtToCover, bonus, c.Amount)
			if !feasible {
				continue
			}
			if !found || score.GreaterThan(bestScore) {
				found = true
				bestScore = score
				collateral, debt, debtAmount = c.Asset, d.Asset, d.Amount
			}
		}
	}
	return collateral, debt, debtAmount
}

// pairScore estimates this pair's net profit (collateral_received minus
// debt_to_cover, expressed in debt-asset USD terms) and reports whether the
// position holds enough collateral to support the seize. With no oracle,
// prices default to 1 so the ranking degrades to raw bonus-weighted amount.
func (a *Analyzer) pairScore(ctx context.Context, collateral, debt common.Address, debtToCover *big.Int, bonus decimal.Decimal, availableCollateral *big.Int) (decimal.Decimal, bool) {
	debtPrice := decimal.NewFromInt(1)
	collateralPrice := decimal.NewFromInt(1)
	if a.oracle != nil {
		if q, err := a.oracle.Quote(ctx, debt); err == nil {
			debtPrice = q.PriceUSD
		}
		if q, err := a.oracle.Quote(ctx, collateral); err == nil {
			collateralPrice = q.PriceUSD
		}
	}
	if collateralPrice.Sign() <= 0 {
		return decimal.Zero, false
	}

	debtToCoverDec := decimal.NewFromBigInt(debtToCover, 0)
	collateralReceived := debtToCoverDec.Mul(decimal.NewFromInt(1).Add(bonus)).Mul(debtPrice).Div(collateralPrice)
	if collateralReceived.GreaterThan(decimal.NewFromBigInt(availableCollateral, 0)) {
		return decimal.Zero, false // not enough collateral on hand to seize this much
	}

	return debtToCoverDec.Mul(bonus).Mul(debtPrice), true
}

func closeAmount(debtAmount *big.Int, closeFactorPct float64) *big.Int {
	numerator := new(big.Int).Mul(debtAmount, big.NewInt(int64(closeFactorPct*100)))
	return numerator.Div(numerator, big.NewInt(10000))
}

func reservesFor(pool coretypes.AmmPool, in, out common.Address) (*big.Int, *big.Int) {
	if in == pool.Token0 {
		return pool.Reserve0, pool.Reserve1
	}
	return pool.Reserve1, pool.Reserve0
}

// successProbabilityFor derives a success likelihood from how far below 1.0
// the health factor sits; deeply underwater positions face more liquidator
// competition but are also less likely to be rescued before inclusion.
func successProbabilityFor(healthFactor decimal.Decimal) float64 {
	hf, _ := healthFactor.Float64()
	switch {
	case hf < 0.90:
		return 0.55 // deep underwater, high competition
	case hf < 0.97:
		return 0.75
	default:
		return 0.85 // just crossed 1.0, little competition yet
	}
}

func decimalToFloat(d decimal.Decimal) *big.Float {
	f, _ := d.Float64()
	return big.NewFloat(f)
}

func (a *Analyzer) estimateGasCost() *big.Int {
	gasPrice := a.cfg.GasPriceWei
	gasUnits := big.NewInt(int64(a.cfg.GasUnitsEstimate))
	return new(big.Int).Mul(gasPrice, gasUnits)
}
