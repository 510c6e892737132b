// Package mempool subscribes to pending transaction hashes and fans out
// fully-decoded PendingTransaction values to strategy analyzers, per
// spec.md §4.4. The teacher has no mempool-watching code of its own (it
// only waits for its own submitted transactions via txlistener.TxListener's
// polling loop); the bounded-worker-pool fetch pattern here is grounded on
// that same poll-then-act shape, generalized from "wait for one hash" to
// "fetch every incoming hash concurrently, bounded".
package mempool

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/chain"
	"github.com/mev-labs/searcher-core/internal/codec"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

type Config struct {
	WorkerPoolSize       int
	FetchQueueDepth      int
	ResubscribeBackoff   time.Duration

	// KnownAddresses gates the fast filter's "to" check to known
	// routers/pools/liquidator contracts (spec §4.4); a nil/empty set
	// disables this check (every "to" passes).
	KnownAddresses map[common.Address]struct{}
	MinNotionalWei *big.Int // tx value or decoded swap notional must clear this
	MaxGasPriceWei *big.Int // tx gas price must not exceed this
}

// Monitor owns the pending-tx subscription and the fetch worker pool.
type Monitor struct {
	client   *chain.Client
	registry *codec.Registry
	cfg      Config
	log      *zap.Logger

	out chan coretypes.PendingTransaction
	gas *GasTracker

	droppedMu sync.Mutex
	dropped   uint64
}

func New(client *chain.Client, registry *codec.Registry, cfg Config, log *zap.Logger) *Monitor {
	return &Monitor{
		client:   client,
		registry: registry,
		cfg:      cfg,
		log:      log,
		out:      make(chan coretypes.PendingTransaction, cfg.FetchQueueDepth),
		gas:      NewGasTracker(512),
	}
}

// Out is the fan-out channel every analyzer reads decoded transactions from.
func (m *Monitor) Out() <-chan coretypes.PendingTransaction { return m.out }

// GasTracker exposes the rolling window of observed gas prices so the
// sandwich analyzer can gauge how contested a given gas price currently is.
func (m *Monitor) GasTracker() *GasTracker { return m.gas }

func (m *Monitor) DroppedCount() uint64 {
	m.droppedMu.Lock()
	defer m.droppedMu.Unlock()
	return m.dropped
}

// Run subscribes and resubscribes with capped backoff until ctx is
// cancelled, closing Out() on return.
func (m *Monitor) Run(ctx context.Context) error {
	defer close(m.out)

	backoff := m.cfg.ResubscribeBackoff
	const maxBackoff = 30 * time.Second

	for {
		err := m.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("mempool subscription dropped, resubscribing", zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) error {
	hashes := make(chan common.Hash, m.cfg.FetchQueueDepth)
	sub, err := m.client.SubscribePendingTransactions(ctx, hashes)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	jobs := make(chan common.Hash, m.cfg.FetchQueueDepth)
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.WorkerPoolSize; i++ {
		wg.Add(1)
		go m.worker(ctx, jobs, &wg)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case h := <-hashes:
			select {
			case jobs <- h:
			default:
				m.droppedMu.Lock()
				m.dropped++
				m.droppedMu.Unlock()
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Monitor) worker(ctx context.Context, jobs <-chan common.Hash, wg *sync.WaitGroup) {
	defer wg.Done()
	for h := range jobs {
		tx, pending, err := m.client.TransactionByHash(ctx, h)
		if err != nil || !pending || tx == nil {
			continue
		}
		if !m.registry.IsSelectorKnown(tx.Data()) {
			continue
		}
		m.gas.Observe(tx.GasPrice())
		pt := m.decode(tx)
		if !m.passesFastFilter(tx, pt) {
			continue
		}
		select {
		case m.out <- pt:
		case <-ctx.Done():
			return
		}
	}
}

// passesFastFilter applies the three conditions of spec §4.4: `to` must be
// a known router/pool/liquidator, the tx's value or decoded swap notional
// must clear a lower bound, and its gas price must not exceed the
// configured ceiling. Selector-known (the cheapest check) is applied by the
// caller before paying for the full decode.
func (m *Monitor) passesFastFilter(tx *types.Transaction, pt coretypes.PendingTransaction) bool {
	if len(m.cfg.KnownAddresses) > 0 {
		if pt.To == nil {
			return false
		}
		if _, ok := m.cfg.KnownAddresses[*pt.To]; !ok {
			return false
		}
	}

	if m.cfg.MinNotionalWei != nil && m.cfg.MinNotionalWei.Sign() > 0 {
		if notional(pt).Cmp(m.cfg.MinNotionalWei) < 0 {
			return false
		}
	}

	if m.cfg.MaxGasPriceWei != nil && m.cfg.MaxGasPriceWei.Sign() > 0 {
		if tx.GasPrice().Cmp(m.cfg.MaxGasPriceWei) > 0 {
			return false
		}
	}

	return true
}

// notional is the larger of the tx's ETH value and its decoded swap's input
// amount, covering both plain ETH transfers and token-denominated swaps.
func notional(pt coretypes.PendingTransaction) *big.Int {
	best := new(big.Int)
	if pt.Value != nil {
		best.Set(pt.Value)
	}
	if pt.Decoded == nil {
		return best
	}
	amountIn, ok := pt.Decoded.Params["amountIn"].(*big.Int)
	if ok && amountIn != nil && amountIn.Cmp(best) > 0 {
		best = amountIn
	}
	return best
}

func (m *Monitor) decode(tx *types.Transaction) coretypes.PendingTransaction {
	decoded, ok, err := m.registry.DecodeCall(tx.Data())
	if err != nil || !ok {
		decoded = nil
	}
	return coretypes.PendingTransaction{
		Hash:  tx.Hash(),
		To:    tx.To(),
		Value: tx.Value(),
		Gas: coretypes.GasFields{
			MaxFeePerGas:         tx.GasFeeCap(),
			MaxPriorityFeePerGas: tx.GasTipCap(),
			GasLimit:             tx.Gas(),
		},
		Input:   tx.Data(),
		Nonce:   tx.Nonce(),
		Decoded: decoded,
	}
}
