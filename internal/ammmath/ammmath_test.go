package ammmath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAmountOutConstantProduct(t *testing.T) {
	reserveIn := big.NewInt(1_000_000_000000000000) // 1,000,000 tokens, 18 decimals
	reserveOut := big.NewInt(2_000_000_000000000000)
	amountIn := big.NewInt(1_000_000000000000000) // 1000 tokens

	out := GetAmountOut(amountIn, reserveIn, reserveOut, 30)
	require.NotNil(t, out)
	assert.True(t, out.Sign() > 0)
	assert.True(t, out.Cmp(reserveOut) < 0, "output must never exceed the pool's reserve")
}

func TestGetAmountOutZeroInputIsZero(t *testing.T) {
	reserveIn := big.NewInt(1000)
	reserveOut := big.NewInt(1000)
	out := GetAmountOut(big.NewInt(0), reserveIn, reserveOut, 30)
	assert.Equal(t, 0, out.Sign())
}

func TestPriceImpactPctIncreasesWithSize(t *testing.T) {
	reserveIn := big.NewInt(1_000_000_000000000000)
	reserveOut := big.NewInt(1_000_000_000000000000)

	small := PriceImpactPct(big.NewInt(1_000000000000000000), reserveIn, reserveOut, 30)
	large := PriceImpactPct(big.NewInt(100_000000000000000000), reserveIn, reserveOut, 30)

	assert.Less(t, small, large)
}

func TestSimulateSandwichFrontRunMovesVictimPriceAgainstThem(t *testing.T) {
	reserveIn := big.NewInt(1_000_000_000000000000)
	reserveOut := big.NewInt(1_000_000_000000000000)
	victimAmount := big.NewInt(10_000_000000000000000)
	frontAmount := big.NewInt(5_000_000000000000000)

	frontOut, victimOutAfterFront, backOut := SimulateSandwich(frontAmount, victimAmount, reserveIn, reserveOut, 30)

	require.True(t, frontOut.Sign() > 0)
	require.True(t, victimOutAfterFront.Sign() > 0)
	require.True(t, backOut.Sign() > 0)

	victimOutWithoutFront := GetAmountOut(victimAmount, reserveIn, reserveOut, 30)
	assert.True(t, victimOutAfterFront.Cmp(victimOutWithoutFront) < 0,
		"front-run must worsen the victim's execution price")
}

func TestTickToSqrtPriceX96RoundTrip(t *testing.T) {
	tick := -249587
	sqrtPrice := TickToSqrtPriceX96(tick)
	require.True(t, sqrtPrice.Sign() > 0)

	price := SqrtPriceToPrice(sqrtPrice)
	f, _ := price.Float64()
	assert.True(t, f > 0 && f < 1, "a large negative tick implies token0 is far more valuable than token1")
}

func TestCalculateTickBounds(t *testing.T) {
	lower, upper, err := CalculateTickBounds(-249587, 2, 200)
	require.NoError(t, err)
	assert.Less(t, lower, int32(-249587))
	assert.Greater(t, upper, int32(-249587))
	assert.Equal(t, int32(0), (upper-lower)%200)
}

func TestBinarySearchOptimalSizeFindsConcavePeak(t *testing.T) {
	// profit(x) = -(x-50)^2 + 2500, maximized at x=50
	profit := func(x *big.Int) *big.Int {
		diff := new(big.Int).Sub(x, big.NewInt(50))
		sq := new(big.Int).Mul(diff, diff)
		return new(big.Int).Sub(big.NewInt(2500), sq)
	}
	result := BinarySearchOptimalSize(big.NewInt(100), profit, 60)
	diff := new(big.Int).Sub(result, big.NewInt(50))
	assert.LessOrEqual(t, new(big.Int).Abs(diff).Int64(), int64(2))
}
