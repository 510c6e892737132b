// Package types holds the shared entity types, strategy tags, and wire
// converters used across the searcher core. Kept dependency-light so every
// other package can import it without cycles (see DESIGN.md "cyclic
// ownership").
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// DexFamily tags the router/pool implementation a pool or swap belongs to.
// Dispatch for encode/decode/simulate is keyed off this tag (§9).
type DexFamily int

const (
	FamilyUnknown DexFamily = iota
	FamilyUniswapV2
	FamilyUniswapV3
	FamilySushiswap
	FamilyPancakeswap
)

func (f DexFamily) String() string {
	switch f {
	case FamilyUniswapV2:
		return "uniswap_v2"
	case FamilyUniswapV3:
		return "uniswap_v3"
	case FamilySushiswap:
		return "sushiswap"
	case FamilyPancakeswap:
		return "pancakeswap"
	default:
		return "unknown"
	}
}

// Token is a 20-byte address plus cached, immutable-once-loaded metadata.
type Token struct {
	Address     common.Address
	Symbol      string
	Decimals    uint8 // 1-30
	OracleFeeds []common.Address
}

// AmmPool is identified by router family + token pair (+ fee tier for V3).
// V2-family pools carry reserves; V3-family pools carry a tick/sqrtPrice
// snapshot. A V2 refresh reads both reserves from one getReserves eth_call;
// a V3 refresh reads slot0 and liquidity in two separate calls. LastBlock is
// the chain head read right after those calls, not a block they were pinned to.
type AmmPool struct {
	Family DexFamily
	Token0 common.Address // lexicographically smaller address
	Token1 common.Address
	FeeBps uint32 // 30 = 0.30% for typical V2; per-tier for V3
	Router common.Address
	Pair   common.Address

	// V2-style state
	Reserve0 *big.Int
	Reserve1 *big.Int

	// V3-style state
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int

	LastBlock uint64
	LoadedAt  time.Time
}

func (p *AmmPool) Key() string {
	lo, hi := p.Token0, p.Token1
	if hi.Hex() < lo.Hex() {
		lo, hi = hi, lo
	}
	return p.Family.String() + ":" + lo.Hex() + ":" + hi.Hex() + ":" + itoa(int(p.FeeBps))
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CexVenue is a centralized-exchange price snapshot used as one leg of a
// cross-venue arbitrage per spec.md §4.8: there's no on-chain reserve curve
// to read, so depth is approximated with a linear model instead of
// constant-product math. Price is quoted Token1-per-Token0, matching
// AmmPool's lexicographic Token0/Token1 convention so the two venue kinds
// can share one (tokenIn, tokenOut) addressing scheme.
type CexVenue struct {
	Name        string
	Token0      common.Address
	Token1      common.Address
	Price       decimal.Decimal // Token1 per Token0, at zero notional
	DepthToken0 *big.Int        // Token0 notional at which the linear depth model bottoms out at zero output
	FeeBps      uint32
	QuotedAt    time.Time
}

// LendingProtocol tags the lending-protocol implementation of a position.
type LendingProtocol int

const (
	ProtocolUnknown LendingProtocol = iota
	ProtocolAaveV3
	ProtocolCompoundV3
)

// AssetAmount pairs a token with a raw unsigned 256-bit amount in the
// token's own base units; health-factor price/threshold math is done
// separately in decimal.Decimal.
type AssetAmount struct {
	Asset  common.Address
	Amount *big.Int // unsigned 256-bit
}

// LendingPosition is identified by (protocol, user). HealthFactor is the
// 18-decimal fixed-point ratio defined in spec.md §3; a position is
// liquidatable iff HealthFactor < 1.0.
type LendingPosition struct {
	Protocol   LendingProtocol
	User       common.Address
	Collateral []AssetAmount
	Debt       []AssetAmount

	LiquidationThreshold map[common.Address]decimal.Decimal // per collateral asset
	LiquidationBonus     map[common.Address]decimal.Decimal // per debt asset

	HealthFactor decimal.Decimal
	RefreshedAt  time.Time
}

func (p *LendingPosition) TotalDebt() *big.Int {
	total := new(big.Int)
	for _, d := range p.Debt {
		total.Add(total, d.Amount)
	}
	return total
}

func (p *LendingPosition) Liquidatable() bool {
	return p.HealthFactor.LessThan(decimal.NewFromInt(1)) && p.TotalDebt().Sign() > 0
}

// AggregationStrategy selects how the oracle aggregator combines raw feeds.
type AggregationStrategy int

const (
	AggregationMedian AggregationStrategy = iota
	AggregationWeightedMean
	AggregationFirstAvailable
)

// PriceQuote is fresh iff now-Timestamp <= ttl and Deviation <= max_deviation_pct.
type PriceQuote struct {
	Token       common.Address
	PriceUSD    decimal.Decimal
	Timestamp   time.Time
	Sources     []string
	Strategy    AggregationStrategy
	Deviation   float64
}

func (q PriceQuote) Fresh(ttl time.Duration, now time.Time, maxDeviationPct float64) bool {
	return now.Sub(q.Timestamp) <= ttl && q.Deviation <= maxDeviationPct
}

// GasFields carries EIP-1559 fee fields (type-2 transactions).
type GasFields struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasLimit             uint64
}

// DecodedCall is the result of decoding a known function selector.
type DecodedCall struct {
	Kind       string // role + "." + method, e.g. "uniswap_v2_router.swapExactTokensForTokens"
	Selector   [4]byte
	Params     map[string]any
}

// PendingTransaction is the full decoded payload of a mempool transaction.
type PendingTransaction struct {
	Hash    common.Hash
	From    common.Address
	To      *common.Address
	Value   *big.Int
	Gas     GasFields
	Input   []byte
	Nonce   uint64
	Decoded *DecodedCall
}

// StrategyTag identifies an opportunity's strategy family.
type StrategyTag string

const (
	StrategySandwich    StrategyTag = "sandwich"
	StrategyLiquidation StrategyTag = "liquidation"
	StrategyArbitrage   StrategyTag = "arbitrage"
)

// CompetitionLevel is the discrete sandwich/liquidation competition label.
type CompetitionLevel int

const (
	CompetitionLow CompetitionLevel = iota
	CompetitionMedium
	CompetitionHigh
	CompetitionCritical
)

// SuccessProbability returns the fixed probability associated with the level.
func (c CompetitionLevel) SuccessProbability() float64 {
	switch c {
	case CompetitionLow:
		return 0.85
	case CompetitionMedium:
		return 0.70
	case CompetitionHigh:
		return 0.50
	case CompetitionCritical:
		return 0.30
	default:
		return 0.50
	}
}

// GasMultiplier returns the priority-fee multiplier associated with the level.
func (c CompetitionLevel) GasMultiplier() float64 {
	switch c {
	case CompetitionLow:
		return 1.1
	case CompetitionMedium:
		return 1.3
	case CompetitionHigh:
		return 1.6
	case CompetitionCritical:
		return 2.0
	default:
		return 1.3
	}
}

// FundingMode selects how an opportunity's capital is sourced.
type FundingMode string

const (
	FundingAuto       FundingMode = "auto"
	FundingWallet     FundingMode = "wallet"
	FundingFlashloan  FundingMode = "flashloan"
)

// SandwichPayload carries the sandwich-specific opportunity fields.
type SandwichPayload struct {
	VictimTxHash   common.Hash
	Pool           string // AmmPool.Key()
	TokenIn        common.Address
	TokenOut       common.Address
	FrontAmount    *big.Int
	BackAmount     *big.Int
	Competition    CompetitionLevel
}

// LiquidationPayload carries the liquidation-specific opportunity fields.
type LiquidationPayload struct {
	Protocol      LendingProtocol
	User          common.Address
	Collateral    common.Address
	Debt          common.Address
	DebtToCover   *big.Int
	Funding       FundingMode
	QuoteTo       common.Address
	QuoteCalldata []byte
}

// ArbitragePayload carries the arbitrage-specific opportunity fields.
// BuyRouter/SellRouter are nil when that leg is a CexVenue: a CEX trade has
// no on-chain call, and internal/bundle rejects an arbitrage opportunity
// whose BuyRouter or SellRouter is nil (spec.md:12 puts the CEX client
// itself out of scope).
type ArbitragePayload struct {
	Symbol       string
	BuyVenue     string
	SellVenue    string
	TokenIn      common.Address
	TokenOut     common.Address
	BuyRouter    *common.Address
	SellRouter   *common.Address
	Notional     decimal.Decimal
	SellAmountIn *big.Int // buy leg's simulated output, spent on the sell-back leg
	Funding      FundingMode
	Confidence   float64
}

// Opportunity is the sum type described in spec.md §3.
type Opportunity struct {
	ID                   string
	Strategy             StrategyTag
	DetectedAt           time.Time
	ExpectedProfitWei    *big.Int
	EstimatedGasCostWei  *big.Int
	NetProfitWei         *big.Int
	SuccessProbability   float64
	ExpiryBlock          uint64
	ExpiryAt             time.Time // used when deadline is wall-clock (arbitrage CEX legs)

	Sandwich    *SandwichPayload
	Liquidation *LiquidationPayload
	Arbitrage   *ArbitragePayload
}

// CanonicalTargetKey returns the dedup key described in §4.9.
func (o *Opportunity) CanonicalTargetKey() string {
	switch o.Strategy {
	case StrategySandwich:
		return o.Sandwich.VictimTxHash.Hex()
	case StrategyLiquidation:
		return o.Liquidation.User.Hex() + ":" + o.Liquidation.Debt.Hex()
	case StrategyArbitrage:
		return o.Arbitrage.Symbol + ":" + o.Arbitrage.BuyVenue + "/" + o.Arbitrage.SellVenue
	default:
		return o.ID
	}
}

// Expired reports whether the opportunity's deadline has passed given the
// current block height and wall-clock time.
func (o *Opportunity) Expired(currentBlock uint64, now time.Time) bool {
	if o.ExpiryBlock != 0 {
		return currentBlock > o.ExpiryBlock
	}
	if !o.ExpiryAt.IsZero() {
		return now.After(o.ExpiryAt)
	}
	return false
}

// Bundle is an ordered list of signed transactions bound to a target block.
type Bundle struct {
	ID                   string
	OpportunityID        string
	SignedTxs            [][]byte // RLP-encoded
	TargetBlock          uint64
	GasBudget            uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Hash                 common.Hash
}

// InclusionOutcome tags how a bundle's submission resolved.
type InclusionOutcome string

const (
	OutcomeIncluded  InclusionOutcome = "included"
	OutcomeRejected  InclusionOutcome = "rejected"
	OutcomeTimeout   InclusionOutcome = "timeout"
	OutcomeCancelled InclusionOutcome = "cancelled"
)

// ExecutionRecord is the per-attempt outcome log described in §3.
type ExecutionRecord struct {
	OpportunityID   string
	Strategy        StrategyTag
	Relay           string // "public" for fallback broadcast
	BundleHash      common.Hash
	SubmittedAt     time.Time
	Outcome         InclusionOutcome
	IncludedTxHash  common.Hash
	IncludedBlock   uint64
	RejectReason    string
	RealizedProfit  *big.Int
	GasUsed         uint64
	ElapsedMS       int64
}

// StrategyStats are the running per-strategy counters and aggregates of §3.
type StrategyStats struct {
	Strategy          StrategyTag
	Detected          uint64
	Queued            uint64
	Submitted         uint64
	Included          uint64
	Failed            uint64
	TotalProfitWei    *big.Int
	TotalGasSpentWei  *big.Int
	AvgExecutionMS    float64
	SuccessRate       float64
}
