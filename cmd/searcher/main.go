// Command searcher wires the chain client, codec registry, oracle
// aggregator, mempool monitor, state caches, strategy analyzers,
// opportunity manager, bundle builder, relay submitter, telemetry, and
// control plane into the running MEV searcher. The wiring sequence follows
// the teacher's cmd/main.go: load secrets from the environment, load YAML
// config, dial the chain client, build dependent components bottom-up, then
// start the long-running loops.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/bundle"
	"github.com/mev-labs/searcher-core/internal/chain"
	"github.com/mev-labs/searcher-core/internal/codec"
	"github.com/mev-labs/searcher-core/internal/config"
	"github.com/mev-labs/searcher-core/internal/controlplane"
	"github.com/mev-labs/searcher-core/internal/db"
	"github.com/mev-labs/searcher-core/internal/mempool"
	"github.com/mev-labs/searcher-core/internal/opportunity"
	"github.com/mev-labs/searcher-core/internal/oracle"
	"github.com/mev-labs/searcher-core/internal/pipeline"
	"github.com/mev-labs/searcher-core/internal/relay"
	"github.com/mev-labs/searcher-core/internal/signer"
	"github.com/mev-labs/searcher-core/internal/state"
	"github.com/mev-labs/searcher-core/internal/strategy/arbitrage"
	"github.com/mev-labs/searcher-core/internal/strategy/liquidation"
	"github.com/mev-labs/searcher-core/internal/strategy/sandwich"
	"github.com/mev-labs/searcher-core/internal/telemetry"
	coretypes "github.com/mev-labs/searcher-core/internal/types"

	"github.com/ethereum/go-ethereum/common"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("searcher exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	encPK := os.Getenv("ENC_PK")
	key := os.Getenv("KEY")
	if encPK == "" || key == "" {
		return fmt.Errorf("ENC_PK and KEY must be set")
	}
	pkHex, err := signer.Decrypt([]byte(key), []byte(encPK))
	if err != nil {
		return fmt.Errorf("decrypt signing key: %w", err)
	}

	cfg, err := config.Load("configs/config.yml")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	chainClient, err := chain.Dial(ctx, cfg.RPC, chain.DefaultConfig(), log)
	if err != nil {
		return fmt.Errorf("dial chain client: %w", err)
	}
	defer chainClient.Close()

	sign, err := signer.FromHex(string(pkHex), big.NewInt(cfg.ChainID))
	if err != nil {
		return fmt.Errorf("load signer: %w", err)
	}

	registry := codec.NewRegistry()
	for role, c := range cfg.Contracts {
		abiJSON, readErr := os.ReadFile(c.ABI)
		if readErr != nil {
			return fmt.Errorf("read abi for %s: %w", role, readErr)
		}
		if loadErr := registry.LoadJSON(role, string(abiJSON)); loadErr != nil {
			return fmt.Errorf("load abi for %s: %w", role, loadErr)
		}
	}

	poolCache := state.NewPoolCache(chainClient, registry, 1024, 12*time.Second)
	positionCache := state.NewPositionCache(chainClient, registry, 10*time.Second, aavePoolAddrs(cfg), aaveDataProviderAddrs(cfg), log)
	priceOracle := buildOracle(cfg, chainClient, registry, log)

	opps := opportunity.New(opportunity.Config{
		MaxQueueSize:  256,
		TTL:           2 * time.Minute,
		SweepInterval: 30 * time.Second,
		Weights:       opportunity.DefaultScoreWeights(),
	})

	relayEndpoints := make([]relay.Endpoint, 0, len(cfg.Relays))
	for _, r := range cfg.Relays {
		relayEndpoints = append(relayEndpoints, relay.Endpoint{Name: r.Name, URL: r.URL, Priority: r.Priority})
	}
	relaySubmitter := relay.New(relay.Config{
		Endpoints:               relayEndpoints,
		MaxConcurrentExecutions: 4,
		InclusionPollBlocks:     3,
		HTTPTimeout:             5 * time.Second,
		AllowPublicFallback: map[coretypes.StrategyTag]bool{
			coretypes.StrategyLiquidation: cfg.Strategies.Liquidation.AllowPublicFallback,
			coretypes.StrategyArbitrage:   cfg.Strategies.Arbitrage.AllowPublicFallback,
		},
	}, chainClient, log)

	bundleBuilder := bundle.New(bundle.Config{
		ChainID:             big.NewInt(cfg.ChainID),
		GasLimitSandwich:    orDefault(cfg.Bundle.GasLimitSandwich, 600_000),
		GasLimitLiquidation: orDefault(cfg.Bundle.GasLimitLiquidation, 800_000),
		GasLimitArbitrage:   orDefault(cfg.Bundle.GasLimitArbitrage, 500_000),
		RouterV2:            common.HexToAddress(cfg.Bundle.RouterV2),
		RouterV3:            common.HexToAddress(cfg.Bundle.RouterV3),
		LendingPool:         common.HexToAddress(cfg.Bundle.LendingPool),
		FlashloanReceiver:   common.HexToAddress(cfg.Bundle.FlashloanReceiver),
	}, chainClient, registry, sign)

	telem := telemetry.New(opps, log)
	go telem.RunPeriodicSummary(ctx, time.Duration(cfg.Telemetry.StatsIntervalSec)*time.Second)

	dynStore := config.NewDynamicStore(nil)
	cpService := controlplane.NewService(opps, dynStore, 500)

	if cfg.ControlPlane.Enabled {
		router := controlplane.NewHTTPRouter(cpService, telem.Registry())
		go func() {
			log.Info("control plane listening", zap.String("addr", cfg.ControlPlane.ListenAddr))
			if err := http.ListenAndServe(cfg.ControlPlane.ListenAddr, router); err != nil {
				log.Error("control plane server stopped", zap.Error(err))
			}
		}()
	}

	var recorder *db.Recorder
	if cfg.Database.Enabled {
		rec, recErr := db.NewRecorder(cfg.Database.DSN)
		if recErr != nil {
			log.Warn("execution record persistence disabled; failed to connect", zap.Error(recErr))
		} else {
			recorder = rec
			defer recorder.Close()
		}
	}

	mon := mempool.New(chainClient, registry, mempool.Config{
		WorkerPoolSize:     cfg.Mempool.WorkerPoolSize,
		FetchQueueDepth:    cfg.Mempool.FetchQueueDepth,
		ResubscribeBackoff: time.Duration(cfg.Mempool.ResubscribeBackoffMs) * time.Millisecond,
		KnownAddresses:     knownAddresses(cfg),
		MinNotionalWei:     mustWei(cfg.Mempool.MinNotionalWei),
		MaxGasPriceWei:     mustWei(cfg.Mempool.MaxGasPriceWei),
	}, log)
	go mon.Run(ctx)

	gasPriceWei, err := chainClient.SuggestGasTipCap(ctx)
	if err != nil || gasPriceWei.Sign() <= 0 {
		gasPriceWei = big.NewInt(1_500_000_000) // 1.5 gwei fallback
	}

	sandwichAnalyzer := sandwich.New(sandwich.Config{
		MinPriceImpactPct:     cfg.Strategies.Sandwich.MinPriceImpactPct,
		MinNetProfitWei:       mustWei(cfg.Strategies.Sandwich.MinNetProfitWei),
		MinSuccessProbability: cfg.Strategies.Sandwich.MinSuccessProbability,
		KellyFraction:         orDefaultFloat(cfg.Strategies.Sandwich.KellyFraction, 0.5),
		MaxPositionWei:        mustWei(cfg.Strategies.Sandwich.MaxPositionWei),
		FlashloanEnabled:      cfg.Strategies.Sandwich.FlashloanEnabled,
		GasPriceWei:           gasPriceWei,
		GasUnitsEstimate:      250_000,
		MinLiquidityWei:       mustWei(cfg.Strategies.Sandwich.MinLiquidityWei),
	}, poolCache, registry, mon.GasTracker(), log)

	liquidationAnalyzer := liquidation.New(liquidation.Config{
		MinNetProfitWei:           mustWei(cfg.Strategies.Liquidation.MinNetProfitWei),
		MinSuccessProbability:     cfg.Strategies.Liquidation.MinSuccessProbability,
		MaxPriceImpactPct:         cfg.Strategies.Liquidation.MaxPriceImpactPct,
		DebtDustThresholdWei:      mustWei(cfg.Strategies.Liquidation.DebtDustThresholdWei),
		LiquidationCloseFactorPct: 50,
		FlashloanPremiumBps:       cfg.Strategies.Liquidation.FlashloanPremiumBps,
		WalletBalances:            walletBalances(cfg),
		Aggregators:               liquidationAggregators(cfg),
		GasPriceWei:               gasPriceWei,
		GasUnitsEstimate:          400_000,
	}, poolCache, registry, priceOracle, log)

	arbitrageAnalyzer := arbitrage.New(arbitrage.Config{
		MinSpreadPct:          cfg.Strategies.Arbitrage.MinSpreadPct,
		MinNetProfitWei:       mustWei(cfg.Strategies.Arbitrage.MinNetProfitWei),
		MinSuccessProbability: cfg.Strategies.Arbitrage.MinSuccessProbability,
		MaxNotionalWei:        mustWei(cfg.Strategies.Arbitrage.MaxNotionalWei),
		GasPriceWei:           gasPriceWei,
		GasUnitsEstimate:      300_000,
		MaxOracleDeviationPct: cfg.Strategies.Arbitrage.MaxOracleDeviationPct,
	}, poolCache, priceOracle, log)

	pl := pipeline.New(
		pipelineConfig(cfg),
		chainClient, mon, poolCache, positionCache,
		sandwichAnalyzer, liquidationAnalyzer, arbitrageAnalyzer,
		opps, bundleBuilder, relaySubmitter, recorder, telem, cpService, log,
	)

	log.Info("searcher core started",
		zap.String("rpc", cfg.RPC),
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("signer", sign.Address().Hex()))

	pl.Run(ctx)
	log.Info("shutdown signal received, draining")
	return nil
}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func mustWei(s string) *big.Int {
	v, err := config.ParseWei(s)
	if err != nil {
		return big.NewInt(0)
	}
	return v
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// aavePoolAddrs and aaveDataProviderAddrs key into cfg.Contracts by the same
// role string the ABI-loading loop above registered that contract's ABI
// under (codec.RoleAaveV3Pool, codec.RoleAaveV3DataProvider), since
// ContractYAML's key does double duty as both the registry role and the
// on-chain address lookup.
func aavePoolAddrs(cfg *config.Config) map[coretypes.LendingProtocol]common.Address {
	out := make(map[coretypes.LendingProtocol]common.Address)
	if c, ok := cfg.Contracts[codec.RoleAaveV3Pool]; ok {
		out[coretypes.ProtocolAaveV3] = common.HexToAddress(c.Address)
	}
	return out
}

func aaveDataProviderAddrs(cfg *config.Config) map[coretypes.LendingProtocol]common.Address {
	out := make(map[coretypes.LendingProtocol]common.Address)
	if c, ok := cfg.Contracts[codec.RoleAaveV3DataProvider]; ok {
		out[coretypes.ProtocolAaveV3] = common.HexToAddress(c.Address)
	}
	return out
}

// buildOracle assembles the feeds named in cfg.Oracle into a price
// aggregator for the arbitrage analyzer's oracle sanity-check. Returns nil
// when no feeds are configured, which arbitrage.Analyzer treats as "skip
// the check" rather than an error.
func buildOracle(cfg *config.Config, client *chain.Client, registry *codec.Registry, log *zap.Logger) *oracle.Aggregator {
	var feeds []oracle.PriceFeed

	if len(cfg.Oracle.ChainlinkFeeds) > 0 {
		addrs := make(map[common.Address]common.Address, len(cfg.Oracle.ChainlinkFeeds))
		decimals := make(map[common.Address]uint8, len(cfg.Oracle.ChainlinkFeeds))
		for _, f := range cfg.Oracle.ChainlinkFeeds {
			token := common.HexToAddress(f.Token)
			addrs[token] = common.HexToAddress(f.Aggregator)
			decimals[token] = f.Decimals
		}
		feeds = append(feeds, oracle.NewChainlinkFeed(client, registry, addrs, decimals))
	}

	if len(cfg.Oracle.TWAPPools) > 0 {
		pools := make(map[common.Address]common.Address, len(cfg.Oracle.TWAPPools))
		for _, p := range cfg.Oracle.TWAPPools {
			pools[common.HexToAddress(p.Token)] = common.HexToAddress(p.Pool)
		}
		window := cfg.Oracle.TWAPWindowSec
		if window == 0 {
			window = 300
		}
		feeds = append(feeds, oracle.NewTWAPFeed(client, registry, pools, window))
	}

	if len(feeds) == 0 {
		return nil
	}

	oc := cfg.OracleConfig()
	return oracle.NewAggregator(feeds, oracle.Config{
		MaxStaleness:    oc.MaxStaleness,
		MaxDeviationPct: oc.MaxDeviationPct,
		MinSources:      oc.MinSources,
		Strategy:        parseAggregationStrategy(oc.Strategy),
	}, log)
}

func parseAggregationStrategy(s string) coretypes.AggregationStrategy {
	switch s {
	case "weighted_mean":
		return coretypes.AggregationWeightedMean
	case "first_available":
		return coretypes.AggregationFirstAvailable
	default:
		return coretypes.AggregationMedian
	}
}

// knownAddresses collects every router/pool/liquidator address the searcher
// knows about, for the mempool fast filter's known-`to` condition (spec
// §4.4): target pool routers, every configured contract address, and
// configured liquidation aggregator routers.
func knownAddresses(cfg *config.Config) map[common.Address]struct{} {
	out := make(map[common.Address]struct{})
	for _, t := range cfg.TargetPools {
		out[common.HexToAddress(t.Router)] = struct{}{}
	}
	for _, c := range cfg.Contracts {
		out[common.HexToAddress(c.Address)] = struct{}{}
	}
	for _, agg := range cfg.Strategies.Liquidation.Aggregators {
		out[common.HexToAddress(agg.Router)] = struct{}{}
	}
	return out
}

func walletBalances(cfg *config.Config) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(cfg.Strategies.Liquidation.WalletBalances))
	for _, w := range cfg.Strategies.Liquidation.WalletBalances {
		out[common.HexToAddress(w.Token)] = mustWei(w.Wei)
	}
	return out
}

func liquidationAggregators(cfg *config.Config) []liquidation.Aggregator {
	out := make([]liquidation.Aggregator, 0, len(cfg.Strategies.Liquidation.Aggregators))
	for _, a := range cfg.Strategies.Liquidation.Aggregators {
		out = append(out, liquidation.Aggregator{
			Name:   a.Name,
			Router: common.HexToAddress(a.Router),
			Pool:   toAmmPool(a.Pool),
		})
	}
	return out
}

// toCexVenue converts a static CEX price/depth snapshot into the runtime
// coretypes.CexVenue the arbitrage analyzer's linear depth model sizes
// against (spec.md §4.8, scenario S5). The feed never refreshes at runtime
// (live CEX market data is out of this repo's scope, spec.md:12); QuotedAt
// is stamped once at startup.
func toCexVenue(c *config.CexVenueYAML, startedAt time.Time) *coretypes.CexVenue {
	if c == nil {
		return nil
	}
	price := mustDecimal(c.PriceToken1PerToken0)
	return &coretypes.CexVenue{
		Name:        c.Name,
		Token0:      common.HexToAddress(c.Token0),
		Token1:      common.HexToAddress(c.Token1),
		Price:       price,
		DepthToken0: mustWei(c.DepthToken0Wei),
		FeeBps:      c.FeeBps,
		QuotedAt:    startedAt,
	}
}

func toArbVenue(pool *config.TargetPoolYAML, cex *config.CexVenueYAML, startedAt time.Time) arbitrage.Venue {
	if pool != nil {
		p := toAmmPool(*pool)
		return arbitrage.Venue{Pool: &p}
	}
	return arbitrage.Venue{Cex: toCexVenue(cex, startedAt)}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	targetPools := make(map[common.Address]coretypes.AmmPool, len(cfg.TargetPools))
	for _, t := range cfg.TargetPools {
		targetPools[common.HexToAddress(t.Router)] = toAmmPool(t)
	}

	positions := make([]pipeline.WatchedPosition, 0, len(cfg.WatchedPositions))
	for _, w := range cfg.WatchedPositions {
		protocol := coretypes.ProtocolUnknown
		if w.Protocol == "aave_v3" {
			protocol = coretypes.ProtocolAaveV3
		}
		positions = append(positions, pipeline.WatchedPosition{
			Protocol: protocol,
			User:     common.HexToAddress(w.User),
		})
	}

	startedAt := time.Now()
	venues := make([]pipeline.ArbVenue, 0, len(cfg.ArbitrageVenues))
	for _, v := range cfg.ArbitrageVenues {
		venues = append(venues, pipeline.ArbVenue{
			Symbol:    v.Symbol,
			TokenIn:   common.HexToAddress(v.TokenIn),
			TokenOut:  common.HexToAddress(v.TokenOut),
			BuyVenue:  toArbVenue(v.BuyPool, v.BuyCex, startedAt),
			SellVenue: toArbVenue(v.SellPool, v.SellCex, startedAt),
		})
	}

	return pipeline.Config{
		ScanInterval:     5 * time.Second,
		TargetBlockAhead: orDefault(cfg.Bundle.TargetBlockOffset, 1),
		ArbVenues:        venues,
		Positions:        positions,
		TargetPools:      targetPools,
	}
}

func toAmmPool(t config.TargetPoolYAML) coretypes.AmmPool {
	family := coretypes.FamilyUnknown
	switch t.Family {
	case "uniswap_v2":
		family = coretypes.FamilyUniswapV2
	case "uniswap_v3":
		family = coretypes.FamilyUniswapV3
	case "sushiswap":
		family = coretypes.FamilySushiswap
	case "pancakeswap":
		family = coretypes.FamilyPancakeswap
	}
	return coretypes.AmmPool{
		Family: family,
		Token0: common.HexToAddress(t.Token0),
		Token1: common.HexToAddress(t.Token1),
		FeeBps: t.FeeBps,
		Router: common.HexToAddress(t.Router),
		Pair:   common.HexToAddress(t.Pair),
	}
}
