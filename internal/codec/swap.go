package codec

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// Known ABI role names. Loaded once at startup from config.Contracts.
const (
	RoleUniswapV2Router = "uniswap_v2_router"
	RoleUniswapV3Router = "uniswap_v3_router"
	RoleERC20           = "erc20"
	RoleAaveV3Pool      = "aave_v3_pool"
	RoleAaveV3DataProvider = "aave_v3_data_provider"
	RoleFlashloanReceiver = "flashloan_receiver"
	RoleUniswapV2Pair   = "uniswap_v2_pair"
	RoleUniswapV2Factory = "uniswap_v2_factory"
	RoleUniswapV3Pool   = "uniswap_v3_pool"
)

// EncodeV2SwapExactIn builds calldata for
// swapExactTokensForTokens(amountIn, amountOutMin, path, to, deadline).
func (r *Registry) EncodeV2SwapExactIn(amountIn, amountOutMin *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	return r.Encode(RoleUniswapV2Router, "swapExactTokensForTokens", amountIn, amountOutMin, path, to, deadline)
}

// V3ExactInputSingleParams mirrors the Uniswap V3 router's struct argument.
type V3ExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EncodeV3ExactInputSingle builds calldata for exactInputSingle((...)).
func (r *Registry) EncodeV3ExactInputSingle(p V3ExactInputSingleParams) ([]byte, error) {
	return r.Encode(RoleUniswapV3Router, "exactInputSingle", struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{p.TokenIn, p.TokenOut, p.Fee, p.Recipient, p.AmountIn, p.AmountOutMinimum, p.SqrtPriceLimitX96})
}

// EncodeFlashloanSimple builds calldata for Aave's flashLoanSimple(receiver,
// asset, amount, params, referralCode).
func (r *Registry) EncodeFlashloanSimple(receiver, asset common.Address, amount *big.Int, params []byte, referralCode uint16) ([]byte, error) {
	return r.Encode(RoleAaveV3Pool, "flashLoanSimple", receiver, asset, amount, params, referralCode)
}

// EncodeLiquidationCall builds calldata for Aave's liquidationCall
// (collateralAsset, debtAsset, user, debtToCover, receiveAToken).
func (r *Registry) EncodeLiquidationCall(collateral, debt, user common.Address, debtToCover *big.Int, receiveAToken bool) ([]byte, error) {
	return r.Encode(RoleAaveV3Pool, "liquidationCall", collateral, debt, user, debtToCover, receiveAToken)
}

// EncodeERC20Approve builds calldata for approve(spender, amount).
func (r *Registry) EncodeERC20Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	return r.Encode(RoleERC20, "approve", spender, amount)
}

// EncodeGetReservesList builds calldata for the Aave V3 pool's
// getReservesList(), the canonical source of every asset a position's
// per-reserve balances must be scanned against.
func (r *Registry) EncodeGetReservesList() ([]byte, error) {
	return r.Encode(RoleAaveV3Pool, "getReservesList")
}

// EncodeGetUserReserveData builds calldata for the Aave protocol data
// provider's getUserReserveData(asset, user), the per-reserve call that
// fills in the collateral/debt breakdown getUserAccountData only
// aggregates.
func (r *Registry) EncodeGetUserReserveData(asset, user common.Address) ([]byte, error) {
	return r.Encode(RoleAaveV3DataProvider, "getUserReserveData", asset, user)
}

// DecodePairGetReserves unpacks (reserve0, reserve1, blockTimestampLast) from
// a getReserves() eth_call result.
func (r *Registry) DecodePairGetReserves(data []byte) (reserve0, reserve1 *big.Int, blockTimestampLast uint32, err error) {
	values, err := r.DecodeOutputs(RoleUniswapV2Pair, "getReserves", data)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(values) != 3 {
		return nil, nil, 0, coretypes.Wrap(coretypes.ErrEncodingFailure, fmt.Errorf("getReserves: expected 3 outputs, got %d", len(values)))
	}
	r0, ok := values[0].(*big.Int)
	r1, ok2 := values[1].(*big.Int)
	ts, ok3 := values[2].(uint32)
	if !ok || !ok2 || !ok3 {
		return nil, nil, 0, coretypes.Wrap(coretypes.ErrEncodingFailure, fmt.Errorf("getReserves: unexpected output types"))
	}
	return r0, r1, ts, nil
}

// EncodeFactoryGetPair builds calldata for getPair(tokenA, tokenB).
func (r *Registry) EncodeFactoryGetPair(tokenA, tokenB common.Address) ([]byte, error) {
	return r.Encode(RoleUniswapV2Factory, "getPair", tokenA, tokenB)
}

// SortTokens applies the canonical lexicographic token0/token1 ordering
// every V2-family factory uses.
func SortTokens(a, b common.Address) (token0, token1 common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}
