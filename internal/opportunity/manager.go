// Package opportunity implements the per-strategy priority queues, dedup,
// scoring, and TTL sweep of spec.md §4.9. Opportunities are stored in one
// ID-indexed arena (map[string]*entry) and referenced everywhere else by ID
// string, never by pointer, per §9's "no cross-referenced cyclic ownership"
// guidance.
package opportunity

import (
	"container/heap"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

func bigZero() *big.Int { return big.NewInt(0) }

func addBig(a, b *big.Int) *big.Int {
	if a == nil {
		a = big.NewInt(0)
	}
	if b == nil {
		return a
	}
	return new(big.Int).Add(a, b)
}

func bigFromUint(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// ScoreWeights are the static weights in the §4.9 scoring formula:
// score = w_profit*f_profit(net) + w_risk*(1-risk) + w_timing*f_timing(deadline) + w_competition*(1-competition).
// Defaults favor profit; congestion-adjusted dynamic weighting (heavier
// w_profit under congestion, heavier w_timing/w_risk under competition) is
// left to the caller to recompute and pass in, not done here.
type ScoreWeights struct {
	ProfitWeight      float64
	RiskWeight        float64
	TimingWeight      float64
	CompetitionWeight float64
	MinProfitWei      *big.Int // normalization floor for f_profit's log scale
}

func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		ProfitWeight:      0.4,
		RiskWeight:        0.25,
		TimingWeight:      0.15,
		CompetitionWeight: 0.2,
		MinProfitWei:      big.NewInt(1_000_000_000_000_000), // 0.001 ETH
	}
}

type entry struct {
	opp       coretypes.Opportunity
	score     float64
	expiresAt time.Time
}

// queueItem is the heap element for one strategy's priority queue.
type queueItem struct {
	id    string
	score float64
	index int
}

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].score > pq[j].score } // max-heap
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

type Config struct {
	MaxQueueSize      int
	TTL               time.Duration
	SweepInterval     time.Duration
	Weights           ScoreWeights
}

// Manager owns the arena, the per-strategy queues, and the dedup index.
type Manager struct {
	mu      sync.Mutex
	arena   map[string]*entry
	queues  map[coretypes.StrategyTag]*priorityQueue
	items   map[string]*queueItem // id -> heap item, for removal/update
	dedup   map[string]string     // canonical target key -> id
	cfg     Config

	stats map[coretypes.StrategyTag]*coretypes.StrategyStats
}

func New(cfg Config) *Manager {
	m := &Manager{
		arena:  make(map[string]*entry),
		queues: make(map[coretypes.StrategyTag]*priorityQueue),
		items:  make(map[string]*queueItem),
		dedup:  make(map[string]string),
		cfg:    cfg,
		stats:  make(map[coretypes.StrategyTag]*coretypes.StrategyStats),
	}
	for _, tag := range []coretypes.StrategyTag{coretypes.StrategySandwich, coretypes.StrategyLiquidation, coretypes.StrategyArbitrage} {
		pq := &priorityQueue{}
		heap.Init(pq)
		m.queues[tag] = pq
		m.stats[tag] = &coretypes.StrategyStats{Strategy: tag, TotalProfitWei: bigZero(), TotalGasSpentWei: bigZero()}
	}
	return m
}

// Enqueue assigns an ID, scores, dedups, and inserts an opportunity. It
// returns the assigned ID, or "" if the opportunity was dropped as a
// duplicate of a still-pending entry with equal or better score.
func (m *Manager) Enqueue(opp coretypes.Opportunity, currentBlock uint64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	targetKey := opp.CanonicalTargetKey()
	score := m.score(opp, currentBlock)

	if existingID, ok := m.dedup[targetKey]; ok {
		if existing, ok := m.arena[existingID]; ok && existing.score >= score {
			return ""
		}
		m.removeLocked(existingID)
	}

	id := uuid.NewString()
	opp.ID = id
	e := &entry{opp: opp, score: score, expiresAt: time.Now().Add(m.cfg.TTL)}
	m.arena[id] = e
	m.dedup[targetKey] = id

	item := &queueItem{id: id, score: score}
	m.items[id] = item
	pq := m.queues[opp.Strategy]
	heap.Push(pq, item)

	m.evictIfFullLocked(opp.Strategy)

	stats := m.stats[opp.Strategy]
	stats.Detected++
	stats.Queued++

	return id
}

// PopBest removes and returns the highest-scored non-expired opportunity for
// strategy, or ok=false if the queue is empty.
func (m *Manager) PopBest(strategy coretypes.StrategyTag, currentBlock uint64) (coretypes.Opportunity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pq := m.queues[strategy]
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*queueItem)
		e, ok := m.arena[item.id]
		delete(m.items, item.id)
		if !ok {
			continue
		}
		if e.opp.Expired(currentBlock, time.Now()) {
			m.removeLocked(item.id)
			continue
		}
		m.removeLocked(item.id)
		stats := m.stats[strategy]
		stats.Queued--
		return e.opp, true
	}
	return coretypes.Opportunity{}, false
}

// RecordExecution updates strategy stats with the outcome of attempting an
// opportunity; it does not require the opportunity to still be queued.
func (m *Manager) RecordExecution(rec coretypes.ExecutionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats[rec.Strategy]
	if stats == nil {
		return
	}
	stats.Submitted++
	switch rec.Outcome {
	case coretypes.OutcomeIncluded:
		stats.Included++
		if rec.RealizedProfit != nil {
			stats.TotalProfitWei = addBig(stats.TotalProfitWei, rec.RealizedProfit)
		}
	default:
		stats.Failed++
	}
	if rec.GasUsed > 0 {
		gasCost := bigFromUint(rec.GasUsed)
		stats.TotalGasSpentWei = addBig(stats.TotalGasSpentWei, gasCost)
	}
	if stats.Submitted > 0 {
		stats.SuccessRate = float64(stats.Included) / float64(stats.Submitted)
	}
	n := float64(stats.Submitted)
	stats.AvgExecutionMS = ((n-1)*stats.AvgExecutionMS + float64(rec.ElapsedMS)) / n
}

// SnapshotStats returns a copy of the current per-strategy stats.
func (m *Manager) SnapshotStats() map[coretypes.StrategyTag]coretypes.StrategyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[coretypes.StrategyTag]coretypes.StrategyStats, len(m.stats))
	for tag, s := range m.stats {
		out[tag] = *s
	}
	return out
}

// Snapshot returns a non-destructive, unordered copy of every currently
// queued opportunity for strategy, for introspection surfaces (e.g.
// internal/controlplane) that must not consume the queue just to read it.
func (m *Manager) Snapshot(strategy coretypes.StrategyTag) []coretypes.Opportunity {
	m.mu.Lock()
	defer m.mu.Unlock()

	pq := m.queues[strategy]
	out := make([]coretypes.Opportunity, 0, pq.Len())
	for _, item := range *pq {
		if e, ok := m.arena[item.id]; ok {
			out = append(out, e.opp)
		}
	}
	return out
}

// Sweep removes expired entries from every queue; call periodically from a
// background goroutine at cfg.SweepInterval.
func (m *Manager) Sweep(currentBlock uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, e := range m.arena {
		if e.opp.Expired(currentBlock, now) {
			m.removeLocked(id)
			removed++
		}
	}
	return removed
}

func (m *Manager) removeLocked(id string) {
	e, ok := m.arena[id]
	if !ok {
		return
	}
	delete(m.arena, id)
	delete(m.dedup, e.opp.CanonicalTargetKey())
	if item, ok := m.items[id]; ok && item.index >= 0 {
		pq := m.queues[e.opp.Strategy]
		heap.Remove(pq, item.index)
		delete(m.items, id)
	}
}

func (m *Manager) evictIfFullLocked(strategy coretypes.StrategyTag) {
	pq := m.queues[strategy]
	for pq.Len() > m.cfg.MaxQueueSize {
		// Evict the lowest-scored item: scan since container/heap only pops
		// the max efficiently; queue sizes are small (bounded by
		// MaxQueueSize) so a linear scan here is cheap relative to an
		// eth_call.
		worst := -1
		var worstScore float64
		for i, it := range *pq {
			if worst == -1 || it.score < worstScore {
				worst = i
				worstScore = it.score
			}
		}
		if worst == -1 {
			break
		}
		item := (*pq)[worst]
		heap.Remove(pq, worst)
		delete(m.items, item.id)
		if e, ok := m.arena[item.id]; ok {
			delete(m.arena, item.id)
			delete(m.dedup, e.opp.CanonicalTargetKey())
		}
	}
}

// score implements the §4.9 formula: a weighted combination of
// log-normalized net profit, risk (inverse success probability), timing
// urgency, and competition.
func (m *Manager) score(opp coretypes.Opportunity, currentBlock uint64) float64 {
	w := m.cfg.Weights
	risk := 1 - opp.SuccessProbability
	return w.ProfitWeight*fProfit(opp.NetProfitWei, w.MinProfitWei) +
		w.RiskWeight*(1-risk) +
		w.TimingWeight*fTiming(opp, currentBlock) +
		w.CompetitionWeight*(1-competitionFor(opp))
}

// fProfit is clamp(log(net/min_profit)/10, 0, 1).
func fProfit(net, minProfit *big.Int) float64 {
	if net == nil || net.Sign() <= 0 || minProfit == nil || minProfit.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(net), new(big.Float).SetInt(minProfit))
	r, _ := ratio.Float64()
	if r <= 0 {
		return 0
	}
	return clamp01(math.Log(r) / 10)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// fTiming rises toward 1 as the opportunity's block-based deadline nears;
// wall-clock-only deadlines (arbitrage CEX legs) have no block to count
// down against, so they score a neutral midpoint.
func fTiming(opp coretypes.Opportunity, currentBlock uint64) float64 {
	if opp.ExpiryBlock > currentBlock {
		blocksLeft := float64(opp.ExpiryBlock - currentBlock)
		return 1 / (1 + blocksLeft)
	}
	return 0.5
}

// competitionFor returns an estimated [0,1] competition level. Sandwich
// opportunities carry an observed CompetitionLevel from the mempool;
// liquidation and arbitrage have no equivalent signal at this layer yet, so
// they default to a neutral midpoint.
func competitionFor(opp coretypes.Opportunity) float64 {
	if opp.Sandwich != nil {
		switch opp.Sandwich.Competition {
		case coretypes.CompetitionLow:
			return 0.2
		case coretypes.CompetitionMedium:
			return 0.5
		case coretypes.CompetitionHigh:
			return 0.8
		case coretypes.CompetitionCritical:
			return 1.0
		}
	}
	return 0.5
}
