// Package bundle assembles ordered, signed transaction bundles from an
// Opportunity, per spec.md §4.10. Nonce allocation is serial per searcher
// address (there is only ever one signer); a stale nonce observed right
// before signing is reported as ErrNonceStale and the pipeline retries the
// build once, a signing failure is
// fatal for that attempt (ErrSignatureFailure, never retried blind).
package bundle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"github.com/mev-labs/searcher-core/internal/chain"
	"github.com/mev-labs/searcher-core/internal/codec"
	"github.com/mev-labs/searcher-core/internal/signer"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

type Config struct {
	ChainID          *big.Int
	GasLimitSandwich uint64
	GasLimitLiquidation uint64
	GasLimitArbitrage uint64
	RouterV2         common.Address
	RouterV3         common.Address
	LendingPool      common.Address
	FlashloanReceiver common.Address
}

// Builder turns a scored Opportunity into a signed Bundle bound to a target
// block.
type Builder struct {
	cfg      Config
	client   *chain.Client
	registry *codec.Registry
	signer   *signer.Signer
}

func New(cfg Config, client *chain.Client, registry *codec.Registry, signer *signer.Signer) *Builder {
	return &Builder{cfg: cfg, client: client, registry: registry, signer: signer}
}

// bundleCall is one leg of calldata bound to a specific on-chain target.
// A single shared `to` per bundle doesn't hold for two-leg arbitrage: the
// buy and sell legs can route through different on-chain routers.
type bundleCall struct {
	To   common.Address
	Data []byte
}

// Build resolves the current nonce, assembles the opportunity's calldata in
// the order its strategy requires, signs every transaction, and returns a
// Bundle targeting block targetBlock plus the last signed transaction in the
// bundle (the one whose inclusion the relay submitter watches for: the
// back-run for a sandwich, the sell-back leg for arbitrage, the sole
// transaction for liquidation).
func (b *Builder) Build(ctx context.Context, opp coretypes.Opportunity, targetBlock uint64, maxFeePerGas, maxPriorityFeePerGas *big.Int) (*coretypes.Bundle, *types.Transaction, error) {
	startNonce, err := b.client.PendingNonceAt(ctx, b.signer.Address())
	if err != nil {
		return nil, nil, err
	}

	var calls []bundleCall
	var gasLimit uint64

	switch opp.Strategy {
	case coretypes.StrategySandwich:
		calls, gasLimit, err = b.assembleSandwich(opp)
	case coretypes.StrategyLiquidation:
		calls, gasLimit, err = b.assembleLiquidation(opp)
	case coretypes.StrategyArbitrage:
		calls, gasLimit, err = b.assembleArbitrage(opp)
	default:
		err = fmt.Errorf("unknown strategy %q", opp.Strategy)
	}
	if err != nil {
		return nil, nil, err
	}

	signedTxs := make([][]byte, 0, len(calls))
	var lastSigned *types.Transaction
	nonce := startNonce
	for _, call := range calls {
		to := call.To
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   b.cfg.ChainID,
			Nonce:     nonce,
			GasTipCap: maxPriorityFeePerGas,
			GasFeeCap: maxFeePerGas,
			Gas:       gasLimit,
			To:        &to,
			Data:      call.Data,
		})

		// Guard against a nonce race between resolution and signing: if the
		// chain's pending nonce has advanced past what we assumed, the whole
		// build is stale and must restart rather than sign with a gap.
		current, nonceErr := b.client.PendingNonceAt(ctx, b.signer.Address())
		if nonceErr == nil && current > nonce {
			return nil, nil, coretypes.ErrNonceStale
		}

		signed, err := b.signer.SignTx(tx)
		if err != nil {
			return nil, nil, err // fatal, no retry
		}
		lastSigned = signed

		raw, err := rlp.EncodeToBytes(signed)
		if err != nil {
			return nil, nil, coretypes.Wrap(coretypes.ErrEncodingFailure, err)
		}
		signedTxs = append(signedTxs, raw)
		nonce++
	}

	bundleID := uuid.NewString()
	bundle := &coretypes.Bundle{
		ID:                   bundleID,
		OpportunityID:        opp.ID,
		SignedTxs:            signedTxs,
		TargetBlock:          targetBlock,
		GasBudget:            gasLimit * uint64(len(signedTxs)),
		MaxFeePerGas:         maxFeePerGas,
		MaxPriorityFeePerGas: maxPriorityFeePerGas,
	}
	bundle.Hash = hashBundle(signedTxs)
	return bundle, lastSigned, nil
}

func hashBundle(signedTxs [][]byte) common.Hash {
	var buf []byte
	for _, tx := range signedTxs {
		buf = append(buf, tx...)
	}
	return crypto.Keccak256Hash(buf)
}

func (b *Builder) assembleSandwich(opp coretypes.Opportunity) ([]bundleCall, uint64, error) {
	p := opp.Sandwich
	if p == nil {
		return nil, 0, fmt.Errorf("sandwich opportunity missing payload")
	}
	deadline := big.NewInt(9_999_999_999)

	frontData, err := b.registry.EncodeV2SwapExactIn(p.FrontAmount, big.NewInt(0), []common.Address{p.TokenIn, p.TokenOut}, b.signer.Address(), deadline)
	if err != nil {
		return nil, 0, err
	}
	backData, err := b.registry.EncodeV2SwapExactIn(p.BackAmount, big.NewInt(0), []common.Address{p.TokenOut, p.TokenIn}, b.signer.Address(), deadline)
	if err != nil {
		return nil, 0, err
	}

	// Front and back calldata share a target (the router) but the victim's
	// own transaction is never included in this bundle: the relay is
	// expected to interleave the victim transaction between these two, not
	// have it re-submitted by the searcher (see DESIGN.md open-question
	// resolution).
	return []bundleCall{
		{To: b.cfg.RouterV2, Data: frontData},
		{To: b.cfg.RouterV2, Data: backData},
	}, b.cfg.GasLimitSandwich, nil
}

func (b *Builder) assembleLiquidation(opp coretypes.Opportunity) ([]bundleCall, uint64, error) {
	p := opp.Liquidation
	if p == nil {
		return nil, 0, fmt.Errorf("liquidation opportunity missing payload")
	}

	liquidationData, err := b.registry.EncodeLiquidationCall(p.Collateral, p.Debt, p.User, p.DebtToCover, false)
	if err != nil {
		return nil, 0, err
	}

	if p.Funding == coretypes.FundingFlashloan {
		flashData, err := b.registry.EncodeFlashloanSimple(b.cfg.FlashloanReceiver, p.Debt, p.DebtToCover, liquidationData, 0)
		if err != nil {
			return nil, 0, err
		}
		return []bundleCall{{To: b.cfg.LendingPool, Data: flashData}}, b.cfg.GasLimitLiquidation, nil
	}

	return []bundleCall{{To: b.cfg.LendingPool, Data: liquidationData}}, b.cfg.GasLimitLiquidation, nil
}

// assembleArbitrage encodes both legs of the trade: the buy leg spends
// Notional of TokenIn for TokenOut, the sell leg spends that output
// (SellAmountIn) back into TokenIn, closing the loop atomically within one
// bundle. Either leg can be nil (a CexVenue leg has no on-chain call), in
// which case there's nothing for this builder to submit on-chain.
func (b *Builder) assembleArbitrage(opp coretypes.Opportunity) ([]bundleCall, uint64, error) {
	p := opp.Arbitrage
	if p == nil {
		return nil, 0, fmt.Errorf("arbitrage opportunity missing payload")
	}
	if p.BuyRouter == nil || p.SellRouter == nil {
		return nil, 0, fmt.Errorf("arbitrage opportunity has no on-chain leg to bundle (buy=%v sell=%v)", p.BuyRouter, p.SellRouter)
	}
	notional := p.Notional.BigInt()
	deadline := big.NewInt(9_999_999_999)

	// Simplification: both legs encoded as V2 router swaps; a V3 leg would
	// call EncodeV3ExactInputSingle instead, selected by the venue's
	// DexFamily at opportunity-build time.
	buyData, err := b.registry.Encode(codec.RoleUniswapV2Router, "swapExactTokensForTokens", notional, big.NewInt(0), []common.Address{p.TokenIn, p.TokenOut}, b.signer.Address(), deadline)
	if err != nil {
		return nil, 0, err
	}
	sellData, err := b.registry.Encode(codec.RoleUniswapV2Router, "swapExactTokensForTokens", p.SellAmountIn, big.NewInt(0), []common.Address{p.TokenOut, p.TokenIn}, b.signer.Address(), deadline)
	if err != nil {
		return nil, 0, err
	}

	return []bundleCall{
		{To: *p.BuyRouter, Data: buyData},
		{To: *p.SellRouter, Data: sellData},
	}, b.cfg.GasLimitArbitrage, nil
}
