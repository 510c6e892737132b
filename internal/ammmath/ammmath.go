// Package ammmath holds the constant-product and tick/sqrtPrice math shared
// by the sandwich, liquidation, and arbitrage analyzers. The tick/sqrtPrice
// conversions are grounded directly on the teacher's pkg/util
// TickToSqrtPriceX96/SqrtPriceToPrice (only the test files for that package
// were retrieved; these are original implementations of the same documented
// formulas, in the same big.Int/big.Float idiom).
package ammmath

import (
	"math"
	"math/big"
)

var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// TickToSqrtPriceX96 converts a V3 tick to its Q64.96 sqrt-price
// representation: sqrtPriceX96 = sqrt(1.0001^tick) * 2^96.
func TickToSqrtPriceX96(tick int) *big.Int {
	price := math.Pow(1.0001, float64(tick))
	sqrtPrice := math.Sqrt(price)
	f := new(big.Float).SetFloat64(sqrtPrice)
	f.Mul(f, q96)
	result, _ := f.Int(nil)
	return result
}

// SqrtPriceToPrice converts a Q64.96 sqrt-price back to a token1/token0
// price ratio as a big.Float.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	sp := new(big.Float).SetInt(sqrtPriceX96)
	sp.Quo(sp, q96)
	return new(big.Float).Mul(sp, sp)
}

// GetAmountOut applies the Uniswap V2 constant-product swap formula with a
// fee in basis points (e.g. 30 = 0.30%).
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	feeDenominator := big.NewInt(10000)
	amountInWithFee := new(big.Int).Mul(amountIn, new(big.Int).Sub(feeDenominator, big.NewInt(int64(feeBps))))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, feeDenominator), amountInWithFee)
	if denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Div(numerator, denominator)
}

// PriceImpactPct returns the percentage price move a swap of amountIn
// causes against reserveIn/reserveOut, as a float64 percentage.
func PriceImpactPct(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) float64 {
	if reserveIn.Sign() == 0 {
		return 0
	}
	priceBefore := new(big.Float).Quo(new(big.Float).SetInt(reserveOut), new(big.Float).SetInt(reserveIn))

	amountOut := GetAmountOut(amountIn, reserveIn, reserveOut, feeBps)
	newReserveIn := new(big.Int).Add(reserveIn, amountIn)
	newReserveOut := new(big.Int).Sub(reserveOut, amountOut)
	if newReserveIn.Sign() <= 0 || newReserveOut.Sign() <= 0 {
		return 100
	}
	priceAfter := new(big.Float).Quo(new(big.Float).SetInt(newReserveOut), new(big.Float).SetInt(newReserveIn))

	delta := new(big.Float).Sub(priceBefore, priceAfter)
	delta.Abs(delta)
	ratio := new(big.Float).Quo(delta, priceBefore)
	ratio.Mul(ratio, big.NewFloat(100))
	f, _ := ratio.Float64()
	return f
}

// SimulateSandwich returns the front-run output, the victim's output after
// the front-run shifts reserves, and the back-run output when reversing the
// front-run position, applying the constant-product formula sequentially
// three times against one mutable reserve pair. This is the core "3-step
// simulate" required by spec.md §4.6 and its S1/S2 test scenarios.
func SimulateSandwich(frontAmountIn, victimAmountIn, reserveIn, reserveOut *big.Int, feeBps uint32) (frontOut, victimOutAfterFront, backOut *big.Int) {
	r0, r1 := new(big.Int).Set(reserveIn), new(big.Int).Set(reserveOut)

	frontOut = GetAmountOut(frontAmountIn, r0, r1, feeBps)
	r0.Add(r0, frontAmountIn)
	r1.Sub(r1, frontOut)

	victimOutAfterFront = GetAmountOut(victimAmountIn, r0, r1, feeBps)
	r0.Add(r0, victimAmountIn)
	r1.Sub(r1, victimOutAfterFront)

	backOut = GetAmountOut(frontOut, r1, r0, feeBps)
	return
}

// CalculateTickBounds returns symmetric tick bounds rangeWidth tick-spacings
// wide on either side of currentTick, rounded to tickSpacing.
func CalculateTickBounds(currentTick int32, rangeWidth, tickSpacing int) (tickLower, tickUpper int32, err error) {
	spacing := int32(tickSpacing)
	width := int32(rangeWidth) * spacing
	rounded := (currentTick / spacing) * spacing
	return rounded - width, rounded + width, nil
}

// BinarySearchOptimalSize finds the input amount in [0, maxAmount] that
// maximizes profit(amount), used by the arbitrage analyzer's cross-venue
// sizing (spec.md §4.8). profit must be concave over the search range,
// which constant-product arbitrage profit always is.
func BinarySearchOptimalSize(maxAmount *big.Int, profit func(*big.Int) *big.Int, iterations int) *big.Int {
	lo := big.NewInt(0)
	hi := new(big.Int).Set(maxAmount)

	for i := 0; i < iterations; i++ {
		third := new(big.Int).Sub(hi, lo)
		third.Div(third, big.NewInt(3))

		m1 := new(big.Int).Add(lo, third)
		m2 := new(big.Int).Sub(hi, third)

		if profit(m1).Cmp(profit(m2)) < 0 {
			lo = m1
		} else {
			hi = m2
		}
	}
	mid := new(big.Int).Add(lo, hi)
	mid.Div(mid, big.NewInt(2))
	return mid
}
