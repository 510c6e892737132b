package state

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

func testPool(key string) coretypes.AmmPool {
	return coretypes.AmmPool{
		Family:   coretypes.FamilyUniswapV2,
		Pair:     common.HexToAddress("0x" + key + "000000000000000000000000000000000000"),
		Token0:   common.HexToAddress("0x1111111111111111111111111111111111111a"),
		Token1:   common.HexToAddress("0x2222222222222222222222222222222222222b"),
		Reserve0: big.NewInt(1000),
		Reserve1: big.NewInt(2000),
	}
}

func TestGetServesFreshEntryWithoutTouchingClient(t *testing.T) {
	c := NewPoolCache(nil, nil, 10, time.Minute)
	pool := testPool("1")
	key := pool.Key()
	c.entries[key] = &poolEntry{pool: pool, expiresAt: time.Now().Add(time.Minute)}

	got, err := c.Get(context.Background(), key, pool)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reserve0.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("Reserve0 = %s, want 1000", got.Reserve0)
	}
}

func TestGetServesStaleEntryWhenRefreshFails(t *testing.T) {
	c := NewPoolCache(nil, nil, 10, time.Minute)
	pool := testPool("2")
	pool.Family = coretypes.FamilyUnknown
	key := pool.Key()
	c.entries[key] = &poolEntry{pool: pool, expiresAt: time.Now().Add(-time.Minute)} // already expired

	got, err := c.Get(context.Background(), key, pool)
	if err != nil {
		t.Fatalf("expected stale data to be served without error, got %v", err)
	}
	if got.Reserve0.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("Reserve0 = %s, want the stale entry's 1000", got.Reserve0)
	}
}

func TestGetReturnsErrorForUnknownIdentityWithNoCachedEntry(t *testing.T) {
	c := NewPoolCache(nil, nil, 10, time.Minute)
	pool := testPool("3")
	pool.Family = coretypes.FamilyUnknown

	if _, err := c.Get(context.Background(), pool.Key(), pool); err == nil {
		t.Fatal("expected an error when there is no cached entry and the pool family is unrecognized")
	}
}

func TestTouchMovesKeyToFront(t *testing.T) {
	c := NewPoolCache(nil, nil, 10, time.Minute)
	c.lru = []string{"a", "b", "c"}

	c.touch("c")
	if c.lru[0] != "c" {
		t.Errorf("lru[0] = %q, want %q after touching an existing key", c.lru[0], "c")
	}
	if len(c.lru) != 3 {
		t.Errorf("lru length changed: %v", c.lru)
	}

	c.touch("new")
	if c.lru[0] != "new" || len(c.lru) != 4 {
		t.Errorf("expected touching an unseen key to prepend it, got %v", c.lru)
	}
}

func TestEvictIfFullDropsLeastRecentlyUsed(t *testing.T) {
	c := NewPoolCache(nil, nil, 2, time.Minute)
	c.entries["a"] = &poolEntry{pool: testPool("1")}
	c.entries["b"] = &poolEntry{pool: testPool("2")}
	c.entries["c"] = &poolEntry{pool: testPool("3")}
	c.lru = []string{"c", "b", "a"} // c most recent, a least recent

	c.evictIfFull()

	if len(c.entries) != 2 {
		t.Fatalf("entries = %v, want 2 after eviction", c.entries)
	}
	if _, ok := c.entries["a"]; ok {
		t.Error("expected the least-recently-used entry 'a' to be evicted")
	}
	if _, ok := c.entries["c"]; !ok {
		t.Error("expected the most-recently-used entry 'c' to survive")
	}
}
