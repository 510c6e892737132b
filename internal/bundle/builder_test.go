package bundle

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mev-labs/searcher-core/internal/codec"
	"github.com/mev-labs/searcher-core/internal/signer"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

const v2RouterABI = `[{"type":"function","name":"swapExactTokensForTokens","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}]`

const aavePoolABI = `[
{"type":"function","name":"liquidationCall","inputs":[{"name":"collateralAsset","type":"address"},{"name":"debtAsset","type":"address"},{"name":"user","type":"address"},{"name":"debtToCover","type":"uint256"},{"name":"receiveAToken","type":"bool"}],"outputs":[]},
{"type":"function","name":"flashLoanSimple","inputs":[{"name":"receiverAddress","type":"address"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"params","type":"bytes"},{"name":"referralCode","type":"uint16"}],"outputs":[]}
]`

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	registry := codec.NewRegistry()
	if err := registry.LoadJSON(codec.RoleUniswapV2Router, v2RouterABI); err != nil {
		t.Fatalf("load v2 router abi: %v", err)
	}
	if err := registry.LoadJSON(codec.RoleAaveV3Pool, aavePoolABI); err != nil {
		t.Fatalf("load aave pool abi: %v", err)
	}

	sign, err := signer.FromHex("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", big.NewInt(1))
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}

	return New(Config{
		ChainID:             big.NewInt(1),
		GasLimitSandwich:    600_000,
		GasLimitLiquidation: 800_000,
		GasLimitArbitrage:   700_000,
		RouterV2:            common.HexToAddress("0xA0A0000000000000000000000000000000000A00"),
		LendingPool:         common.HexToAddress("0xB0B0000000000000000000000000000000000B00"),
		FlashloanReceiver:   common.HexToAddress("0xC0C0000000000000000000000000000000000C00"),
	}, nil, registry, sign)
}

func TestAssembleSandwichProducesFrontAndBackCalldata(t *testing.T) {
	b := testBuilder(t)
	tokenIn := common.HexToAddress("0xAAAA000000000000000000000000000000000A00")
	tokenOut := common.HexToAddress("0xBBBB000000000000000000000000000000000B00")

	opp := coretypes.Opportunity{
		Strategy: coretypes.StrategySandwich,
		Sandwich: &coretypes.SandwichPayload{
			TokenIn:     tokenIn,
			TokenOut:    tokenOut,
			FrontAmount: big.NewInt(1_000_000),
			BackAmount:  big.NewInt(900_000),
		},
	}

	calls, gasLimit, err := b.assembleSandwich(opp)
	if err != nil {
		t.Fatalf("assembleSandwich: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls (front + back), got %d", len(calls))
	}
	if len(calls[0].Data) == 0 || len(calls[1].Data) == 0 {
		t.Fatal("expected non-empty calldata for both legs")
	}
	if calls[0].To != b.cfg.RouterV2 || calls[1].To != b.cfg.RouterV2 {
		t.Errorf("to = %s/%s, want router %s", calls[0].To.Hex(), calls[1].To.Hex(), b.cfg.RouterV2.Hex())
	}
	if gasLimit != b.cfg.GasLimitSandwich {
		t.Errorf("gasLimit = %d, want %d", gasLimit, b.cfg.GasLimitSandwich)
	}
}

func TestAssembleSandwichRejectsMissingPayload(t *testing.T) {
	b := testBuilder(t)
	_, _, err := b.assembleSandwich(coretypes.Opportunity{Strategy: coretypes.StrategySandwich})
	if err == nil {
		t.Fatal("expected error for a sandwich opportunity with a nil payload")
	}
}

func TestAssembleLiquidationWalletFundedIsOneCall(t *testing.T) {
	b := testBuilder(t)
	opp := coretypes.Opportunity{
		Strategy: coretypes.StrategyLiquidation,
		Liquidation: &coretypes.LiquidationPayload{
			Collateral:  common.HexToAddress("0xCCCC000000000000000000000000000000000C00"),
			Debt:        common.HexToAddress("0xDDDD000000000000000000000000000000000D00"),
			User:        common.HexToAddress("0xEEEE000000000000000000000000000000000E00"),
			DebtToCover: big.NewInt(500),
			Funding:     coretypes.FundingWallet,
		},
	}

	calls, _, err := b.assembleLiquidation(opp)
	if err != nil {
		t.Fatalf("assembleLiquidation: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call for a wallet-funded liquidation, got %d", len(calls))
	}
	if calls[0].To != b.cfg.LendingPool {
		t.Errorf("to = %s, want lending pool %s", calls[0].To.Hex(), b.cfg.LendingPool.Hex())
	}
}

func TestAssembleLiquidationFlashloanFundedWrapsInFlashLoanSimple(t *testing.T) {
	b := testBuilder(t)
	opp := coretypes.Opportunity{
		Strategy: coretypes.StrategyLiquidation,
		Liquidation: &coretypes.LiquidationPayload{
			Collateral:  common.HexToAddress("0xCCCC000000000000000000000000000000000C00"),
			Debt:        common.HexToAddress("0xDDDD000000000000000000000000000000000D00"),
			User:        common.HexToAddress("0xEEEE000000000000000000000000000000000E00"),
			DebtToCover: big.NewInt(500),
			Funding:     coretypes.FundingFlashloan,
		},
	}

	calls, _, err := b.assembleLiquidation(opp)
	if err != nil {
		t.Fatalf("assembleLiquidation: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 top-level call (flashLoanSimple wraps the liquidation), got %d", len(calls))
	}
	if calls[0].To != b.cfg.LendingPool {
		t.Errorf("to = %s, want lending pool %s", calls[0].To.Hex(), b.cfg.LendingPool.Hex())
	}
}

func TestAssembleArbitrageEncodesBothLegsWithDistinctRouters(t *testing.T) {
	b := testBuilder(t)
	tokenIn := common.HexToAddress("0xAAAA000000000000000000000000000000000A00")
	tokenOut := common.HexToAddress("0xBBBB000000000000000000000000000000000B00")
	buyRouter := b.cfg.RouterV2
	sellRouter := common.HexToAddress("0xF0F0000000000000000000000000000000000F00")

	opp := coretypes.Opportunity{
		Strategy: coretypes.StrategyArbitrage,
		Arbitrage: &coretypes.ArbitragePayload{
			TokenIn:      tokenIn,
			TokenOut:     tokenOut,
			BuyRouter:    &buyRouter,
			SellRouter:   &sellRouter,
			Notional:     decimal.NewFromInt(1_000_000),
			SellAmountIn: big.NewInt(1_030_000),
		},
	}

	calls, gasLimit, err := b.assembleArbitrage(opp)
	if err != nil {
		t.Fatalf("assembleArbitrage: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls (buy + sell-back), got %d", len(calls))
	}
	if calls[0].To != buyRouter {
		t.Errorf("buy leg To = %s, want %s", calls[0].To.Hex(), buyRouter.Hex())
	}
	if calls[1].To != sellRouter {
		t.Errorf("sell leg To = %s, want %s", calls[1].To.Hex(), sellRouter.Hex())
	}
	if len(calls[0].Data) == 0 || len(calls[1].Data) == 0 {
		t.Fatal("expected non-empty calldata for both legs")
	}
	if gasLimit != b.cfg.GasLimitArbitrage {
		t.Errorf("gasLimit = %d, want %d", gasLimit, b.cfg.GasLimitArbitrage)
	}
}

func TestAssembleArbitrageRejectsCexOnlyLeg(t *testing.T) {
	b := testBuilder(t)
	sellRouter := common.HexToAddress("0xF0F0000000000000000000000000000000000F00")
	opp := coretypes.Opportunity{
		Strategy: coretypes.StrategyArbitrage,
		Arbitrage: &coretypes.ArbitragePayload{
			BuyRouter:    nil, // CEX leg: no on-chain call
			SellRouter:   &sellRouter,
			Notional:     decimal.NewFromInt(1_000_000),
			SellAmountIn: big.NewInt(1_030_000),
		},
	}
	if _, _, err := b.assembleArbitrage(opp); err == nil {
		t.Fatal("expected error when one leg has no on-chain router to bundle")
	}
}

func TestHashBundleIsDeterministicAndOrderSensitive(t *testing.T) {
	a := [][]byte{{1, 2, 3}, {4, 5, 6}}
	bRev := [][]byte{{4, 5, 6}, {1, 2, 3}}

	h1 := hashBundle(a)
	h2 := hashBundle(a)
	if h1 != h2 {
		t.Fatal("hashBundle is not deterministic for identical input")
	}
	if h1 == hashBundle(bRev) {
		t.Fatal("hashBundle should be order-sensitive")
	}
}
