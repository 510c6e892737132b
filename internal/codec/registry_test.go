package codec

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.LoadJSON(RoleUniswapV2Router, v2RouterABIForTest); err != nil {
		t.Fatalf("load v2 router abi: %v", err)
	}
	if err := r.LoadJSON(RoleUniswapV2Pair, v2PairABIForTest); err != nil {
		t.Fatalf("load v2 pair abi: %v", err)
	}
	return r
}

const v2RouterABIForTest = `[{"type":"function","name":"swapExactTokensForTokens","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}]`

const v2PairABIForTest = `[{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}]`

func TestEncodeThenDecodeCallRoundTrips(t *testing.T) {
	r := testRegistry(t)
	tokenA := common.HexToAddress("0x1111111111111111111111111111111111111a")
	tokenB := common.HexToAddress("0x2222222222222222222222222222222222222b")
	to := common.HexToAddress("0x3333333333333333333333333333333333333c")

	data, err := r.EncodeV2SwapExactIn(big.NewInt(1_000_000), big.NewInt(900_000), []common.Address{tokenA, tokenB}, to, big.NewInt(9_999_999_999))
	if err != nil {
		t.Fatalf("EncodeV2SwapExactIn: %v", err)
	}

	decoded, known, err := r.DecodeCall(data)
	if err != nil {
		t.Fatalf("DecodeCall: %v", err)
	}
	if !known {
		t.Fatal("expected the selector to be recognized")
	}
	if decoded.Kind != RoleUniswapV2Router+".swapExactTokensForTokens" {
		t.Errorf("Kind = %q", decoded.Kind)
	}
	path, ok := decoded.Params["path"].([]common.Address)
	if !ok || len(path) != 2 || path[0] != tokenA || path[1] != tokenB {
		t.Errorf("path = %+v", decoded.Params["path"])
	}
	amountIn, ok := decoded.Params["amountIn"].(*big.Int)
	if !ok || amountIn.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("amountIn = %+v", decoded.Params["amountIn"])
	}
}

func TestDecodeCallUnknownSelectorIsNotAnError(t *testing.T) {
	r := testRegistry(t)
	decoded, known, err := r.DecodeCall([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	if err != nil {
		t.Fatalf("expected no error for an unknown selector, got %v", err)
	}
	if known {
		t.Fatal("expected known=false for an unrecognized selector")
	}
	if decoded != nil {
		t.Fatal("expected a nil DecodedCall for an unrecognized selector")
	}
}

func TestDecodeCallShortInputIsNotAnError(t *testing.T) {
	_, known, err := NewRegistry().DecodeCall([]byte{0x01, 0x02})
	if err != nil || known {
		t.Fatalf("expected (nil-ish, false, nil) for input shorter than a selector, got known=%v err=%v", known, err)
	}
}

func TestEncodeUnregisteredRoleErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Encode("not_a_role", "swapExactTokensForTokens"); err == nil {
		t.Fatal("expected an error for an unregistered role")
	}
}

func TestIsSelectorKnown(t *testing.T) {
	r := testRegistry(t)
	sel, ok := r.Selector(RoleUniswapV2Router, "swapExactTokensForTokens")
	if !ok {
		t.Fatal("expected the selector to resolve")
	}
	if !r.IsSelectorKnown(sel[:]) {
		t.Error("expected IsSelectorKnown to recognize the registered selector")
	}
	if r.IsSelectorKnown([]byte{0x00, 0x00, 0x00, 0x00}) {
		t.Error("expected IsSelectorKnown to reject an unregistered selector")
	}
}

func TestDecodePairGetReserves(t *testing.T) {
	r := testRegistry(t)
	abi, ok := r.ABI(RoleUniswapV2Pair)
	if !ok {
		t.Fatal("expected pair abi to be loaded")
	}
	packedOutputs, err := abi.Methods["getReserves"].Outputs.Pack(big.NewInt(500), big.NewInt(700), uint32(1_700_000_000))
	if err != nil {
		t.Fatalf("pack test outputs: %v", err)
	}

	r0, r1, ts, err := r.DecodePairGetReserves(packedOutputs)
	if err != nil {
		t.Fatalf("DecodePairGetReserves: %v", err)
	}
	if r0.Cmp(big.NewInt(500)) != 0 || r1.Cmp(big.NewInt(700)) != 0 {
		t.Errorf("reserves = %s, %s", r0, r1)
	}
	if ts != 1_700_000_000 {
		t.Errorf("blockTimestampLast = %d", ts)
	}
}

func TestSortTokens(t *testing.T) {
	a := common.HexToAddress("0x1111111111111111111111111111111111111a")
	b := common.HexToAddress("0x2222222222222222222222222222222222222b")

	t0, t1 := SortTokens(a, b)
	if t0 != a || t1 != b {
		t.Errorf("SortTokens(a, b) = %s, %s; want a, b", t0.Hex(), t1.Hex())
	}

	t0, t1 = SortTokens(b, a)
	if t0 != a || t1 != b {
		t.Errorf("SortTokens(b, a) = %s, %s; want a, b (canonical order)", t0.Hex(), t1.Hex())
	}
}
