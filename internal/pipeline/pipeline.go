// Package pipeline wires the mempool monitor, the three strategy analyzers,
// the opportunity manager, the bundle builder, and the relay submitter into
// the running searcher loop described end-to-end in spec.md §4. Detection is
// fanned out (sandwich reacts to mempool events, liquidation and arbitrage
// scan on a timer); execution is a single consumer loop per strategy so a
// slow relay never blocks detection.
package pipeline

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/bundle"
	"github.com/mev-labs/searcher-core/internal/chain"
	"github.com/mev-labs/searcher-core/internal/controlplane"
	"github.com/mev-labs/searcher-core/internal/db"
	"github.com/mev-labs/searcher-core/internal/mempool"
	"github.com/mev-labs/searcher-core/internal/opportunity"
	"github.com/mev-labs/searcher-core/internal/relay"
	"github.com/mev-labs/searcher-core/internal/state"
	"github.com/mev-labs/searcher-core/internal/strategy/arbitrage"
	"github.com/mev-labs/searcher-core/internal/strategy/liquidation"
	"github.com/mev-labs/searcher-core/internal/strategy/sandwich"
	"github.com/mev-labs/searcher-core/internal/telemetry"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// ArbVenue is one configured cross-venue pair the arbitrage scanner checks
// on every sweep. BuyVenue/SellVenue each carry either a DEX pool or a CEX
// price snapshot (spec.md §4.8's CEX-vs-DEX grouping).
type ArbVenue struct {
	Symbol            string
	TokenIn, TokenOut common.Address
	BuyVenue          arbitrage.Venue
	SellVenue         arbitrage.Venue
}

// WatchedPosition is one lending position the liquidation scanner polls. The
// swap venue for seized collateral isn't named per-position: it comes from
// the liquidation analyzer's configured, ordered aggregator list.
type WatchedPosition struct {
	Protocol coretypes.LendingProtocol
	User     common.Address
}

type Config struct {
	ScanInterval     time.Duration // liquidation/arbitrage scan cadence
	TargetBlockAhead uint64        // blocks ahead of current to target a bundle at
	ArbVenues        []ArbVenue
	Positions        []WatchedPosition
	// TargetPools maps a pool's router address (the pending tx's To field)
	// to the pool identity the sandwich analyzer should price against, so a
	// decoded swap can be matched back to a known pool without a discovery
	// pass over every incoming calldata.
	TargetPools map[common.Address]coretypes.AmmPool
}

// Pipeline owns the detection and execution goroutines.
type Pipeline struct {
	cfg Config

	client   *chain.Client
	mon      *mempool.Monitor
	pools    *state.PoolCache
	positions *state.PositionCache

	sandwichAnalyzer    *sandwich.Analyzer
	liquidationAnalyzer *liquidation.Analyzer
	arbitrageAnalyzer   *arbitrage.Analyzer

	opps     *opportunity.Manager
	builder  *bundle.Builder
	submitter *relay.Submitter
	recorder *db.Recorder // optional, may be nil
	telem    *telemetry.Telemetry
	cpSvc    *controlplane.Service

	log *zap.Logger
}

func New(
	cfg Config,
	client *chain.Client,
	mon *mempool.Monitor,
	pools *state.PoolCache,
	positions *state.PositionCache,
	sandwichAnalyzer *sandwich.Analyzer,
	liquidationAnalyzer *liquidation.Analyzer,
	arbitrageAnalyzer *arbitrage.Analyzer,
	opps *opportunity.Manager,
	builder *bundle.Builder,
	submitter *relay.Submitter,
	recorder *db.Recorder,
	telem *telemetry.Telemetry,
	cpSvc *controlplane.Service,
	log *zap.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:                 cfg,
		client:              client,
		mon:                 mon,
		pools:               pools,
		positions:           positions,
		sandwichAnalyzer:    sandwichAnalyzer,
		liquidationAnalyzer: liquidationAnalyzer,
		arbitrageAnalyzer:   arbitrageAnalyzer,
		opps:                opps,
		builder:             builder,
		submitter:           submitter,
		recorder:            recorder,
		telem:               telem,
		cpSvc:               cpSvc,
		log:                 log,
	}
}

// Run starts every detection and execution goroutine and blocks until ctx
// is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	go p.detectSandwiches(ctx)
	go p.scanLiquidations(ctx)
	go p.scanArbitrage(ctx)
	go p.sweepExpired(ctx)

	go p.executeStrategy(ctx, coretypes.StrategySandwich)
	go p.executeStrategy(ctx, coretypes.StrategyLiquidation)
	go p.executeStrategy(ctx, coretypes.StrategyArbitrage)

	<-ctx.Done()
}

func (p *Pipeline) currentBlock(ctx context.Context) uint64 {
	n, err := p.client.BlockNumber(ctx)
	if err != nil {
		return 0
	}
	return n
}

// detectSandwiches reacts to every decoded pending swap that targets a
// known pool, per spec.md §4.4/§4.6.
func (p *Pipeline) detectSandwiches(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pt, ok := <-p.mon.Out():
			if !ok {
				return
			}
			p.handlePendingSwap(ctx, pt)
		}
	}
}

func (p *Pipeline) handlePendingSwap(ctx context.Context, pt coretypes.PendingTransaction) {
	if pt.Decoded == nil || pt.To == nil {
		return
	}
	poolIdentity, ok := p.cfg.TargetPools[*pt.To]
	if !ok {
		return
	}

	tokenIn, tokenOut, amountIn, ok := swapParams(pt, poolIdentity)
	if !ok {
		return
	}

	opp, err := p.sandwichAnalyzer.Analyze(ctx, pt, poolIdentity, tokenIn, tokenOut, amountIn)
	if err != nil {
		if !coretypes.IsValidation(err) {
			p.log.Warn("sandwich analysis failed", zap.Error(err), zap.String("victim", pt.Hash.Hex()))
		}
		return
	}
	block := p.currentBlock(ctx)
	opp.ExpiryBlock = block + 2 // a sandwich candidate is stale after two blocks
	p.opps.Enqueue(*opp, block)
}

// swapParams extracts tokenIn/tokenOut/amountIn from a decoded V2-style swap
// call against the known pool identity. Only the common
// swapExactTokensForTokens shape is handled; other swap kinds are left for a
// future decoder extension (flagged, not silently misparsed).
func swapParams(pt coretypes.PendingTransaction, pool coretypes.AmmPool) (tokenIn, tokenOut common.Address, amountIn *big.Int, ok bool) {
	if pt.Decoded == nil {
		return common.Address{}, common.Address{}, nil, false
	}
	path, hasPath := pt.Decoded.Params["path"].([]common.Address)
	amount, hasAmount := pt.Decoded.Params["amountIn"].(*big.Int)
	if !hasPath || !hasAmount || len(path) < 2 {
		return common.Address{}, common.Address{}, nil, false
	}
	return path[0], path[len(path)-1], amount, true
}

// scanLiquidations polls every configured position on cfg.ScanInterval and
// analyzes the liquidatable ones, per spec.md §4.7.
func (p *Pipeline) scanLiquidations(ctx context.Context) {
	if p.positions == nil || len(p.cfg.Positions) == 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range p.cfg.Positions {
				pos, err := p.positions.Get(ctx, w.Protocol, w.User)
				if err != nil {
					continue
				}
				if !pos.Liquidatable() {
					continue
				}
				opp, err := p.liquidationAnalyzer.Analyze(ctx, pos)
				if err != nil {
					if !coretypes.IsValidation(err) {
						p.log.Warn("liquidation analysis failed", zap.Error(err), zap.String("user", w.User.Hex()))
					}
					continue
				}
				block := p.currentBlock(ctx)
				opp.ExpiryBlock = block + 5
				p.opps.Enqueue(*opp, block)
			}
		}
	}
}

// scanArbitrage compares every configured venue pair on cfg.ScanInterval,
// per spec.md §4.8.
func (p *Pipeline) scanArbitrage(ctx context.Context) {
	if len(p.cfg.ArbVenues) == 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, v := range p.cfg.ArbVenues {
				opp, err := p.arbitrageAnalyzer.Analyze(ctx, v.Symbol, v.BuyVenue, v.SellVenue, v.TokenIn, v.TokenOut)
				if err != nil {
					if !coretypes.IsValidation(err) {
						p.log.Warn("arbitrage analysis failed", zap.Error(err), zap.String("symbol", v.Symbol))
					}
					continue
				}
				block := p.currentBlock(ctx)
				opp.ExpiryBlock = block + 3
				p.opps.Enqueue(*opp, block)
			}
		}
	}
}

// sweepExpired periodically evicts stale opportunities so a long-idle queue
// doesn't retain unreachable entries, per spec.md §4.9.
func (p *Pipeline) sweepExpired(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := p.opps.Sweep(p.currentBlock(ctx))
			if removed > 0 {
				p.log.Debug("swept expired opportunities", zap.Int("removed", removed))
			}
		}
	}
}

// executeStrategy is the single consumer loop for one strategy: pop the
// best opportunity, build a bundle, submit it, record the outcome. Serial
// per strategy so nonce allocation in the builder never races itself.
func (p *Pipeline) executeStrategy(ctx context.Context, strategy coretypes.StrategyTag) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			block := p.currentBlock(ctx)
			if block == 0 {
				continue
			}
			opp, ok := p.opps.PopBest(strategy, block)
			if !ok {
				continue
			}
			p.executeOne(ctx, opp, block)
		}
	}
}

func (p *Pipeline) executeOne(ctx context.Context, opp coretypes.Opportunity, block uint64) {
	tipCap, err := p.client.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(1_500_000_000) // 1.5 gwei fallback
	}
	maxFee := new(big.Int).Mul(tipCap, big.NewInt(4))

	targetBlock := block + p.cfg.TargetBlockAhead
	b, rawTx, err := p.builder.Build(ctx, opp, targetBlock, maxFee, tipCap)
	if err == coretypes.ErrNonceStale {
		// Build re-reads the pending nonce, so one fresh attempt picks up
		// the advanced value.
		b, rawTx, err = p.builder.Build(ctx, opp, targetBlock, maxFee, tipCap)
	}
	if err != nil {
		p.log.Warn("bundle build failed", zap.Error(err), zap.String("opportunity", opp.ID), zap.String("strategy", string(opp.Strategy)))
		return
	}

	rec := p.submitter.Submit(ctx, *b, opp.Strategy, rawTx)
	p.opps.RecordExecution(rec)
	p.telem.RecordExecution(rec)
	if p.cpSvc != nil {
		p.cpSvc.RecordHistory(opp.Strategy, rec)
	}
	if p.recorder != nil {
		if err := p.recorder.Record(rec); err != nil {
			p.log.Warn("execution record persistence failed", zap.Error(err))
		}
	}
}
