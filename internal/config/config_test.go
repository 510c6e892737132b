package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestParseWeiEmptyStringIsZero(t *testing.T) {
	v, err := ParseWei("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Sign() != 0 {
		t.Errorf("expected 0, got %s", v.String())
	}
}

func TestParseWeiValidDecimal(t *testing.T) {
	v, err := ParseWei("1000000000000000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if v.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", v.String(), want.String())
	}
}

func TestParseWeiRejectsInvalidInput(t *testing.T) {
	if _, err := ParseWei("not-a-number"); err == nil {
		t.Fatal("expected an error for a non-decimal string")
	}
	if _, err := ParseWei("1.5"); err == nil {
		t.Fatal("expected an error for a fractional wei amount")
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	yamlDoc := `
rpc: "https://example.invalid/rpc"
chain_id: 1
contracts:
  uniswap_v2_router:
    address: "0x1111111111111111111111111111111111111a"
    abi: "abi/router.json"
    family: "uniswap_v2"
relays:
  - name: flashbots
    url: "https://relay.example.invalid"
    priority: 1
strategies:
  sandwich:
    enabled: true
    min_price_impact_pct: 0.5
    min_net_profit_wei: "1000000000000000"
    kelly_fraction: 0.5
target_pools:
  - name: weth-usdc
    family: uniswap_v2
    token0: "0x1111111111111111111111111111111111111a"
    token1: "0x2222222222222222222222222222222222222b"
    fee_bps: 30
    router: "0x3333333333333333333333333333333333333c"
    pair: "0x4444444444444444444444444444444444444d"
watched_positions:
  - protocol: aave_v3
    user: "0x5555555555555555555555555555555555555e"
bundle:
  router_v2: "0x3333333333333333333333333333333333333c"
  gas_limit_sandwich: 600000
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPC != "https://example.invalid/rpc" {
		t.Errorf("RPC = %q", cfg.RPC)
	}
	if cfg.ChainID != 1 {
		t.Errorf("ChainID = %d, want 1", cfg.ChainID)
	}
	if len(cfg.TargetPools) != 1 || cfg.TargetPools[0].Name != "weth-usdc" {
		t.Fatalf("TargetPools = %+v", cfg.TargetPools)
	}
	if len(cfg.WatchedPositions) != 1 || cfg.WatchedPositions[0].User == "" {
		t.Fatalf("WatchedPositions[0] not parsed: %+v", cfg.WatchedPositions)
	}
	if cfg.Bundle.GasLimitSandwich != 600000 {
		t.Errorf("Bundle.GasLimitSandwich = %d, want 600000", cfg.Bundle.GasLimitSandwich)
	}
	if !cfg.Strategies.Sandwich.Enabled {
		t.Error("expected sandwich strategy enabled")
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestDynamicStoreGetSetIsolated(t *testing.T) {
	s := NewDynamicStore(nil)
	if _, ok := s.Get("sandwich"); ok {
		t.Fatal("expected no entry before Set")
	}
	s.Set("sandwich", DynamicStrategyConfig{Enabled: false, MinSuccessProbability: 0.6})
	got, ok := s.Get("sandwich")
	if !ok {
		t.Fatal("expected entry after Set")
	}
	if got.Enabled || got.MinSuccessProbability != 0.6 {
		t.Errorf("got %+v", got)
	}
	if _, ok := s.Get("liquidation"); ok {
		t.Fatal("expected liquidation to remain unset")
	}
}
