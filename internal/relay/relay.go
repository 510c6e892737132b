// Package relay submits bundles to private relays via eth_sendBundle (per
// spec.md §6.2), falling back to public broadcast for Liquidation and
// Arbitrage only — never Sandwich, since a publicly broadcast front-run
// transaction can be copied by any observer before it's mined.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/mev-labs/searcher-core/internal/chain"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// Endpoint is one configured private relay. Submit tries endpoints in
// ascending Priority order (lower values first).
type Endpoint struct {
	Name     string
	URL      string
	Priority int
}

type Config struct {
	Endpoints               []Endpoint
	MaxConcurrentExecutions int
	InclusionPollBlocks     uint64
	HTTPTimeout             time.Duration
	// AllowPublicFallback gates public broadcast per strategy when every
	// configured relay rejects a bundle. Sandwich never falls back, even
	// when this map sets it to true, since a publicly broadcast front-run can be
	// copied by any observer before it's mined; the other strategies are
	// operator-configured (spec.md §6.2).
	AllowPublicFallback map[coretypes.StrategyTag]bool
}

// Submitter owns one circuit breaker per relay endpoint and the public
// fallback path through the chain client.
type Submitter struct {
	cfg      Config
	client   *chain.Client
	log      *zap.Logger
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
	httpc    *http.Client
	sem      chan struct{}
}

func New(cfg Config, client *chain.Client, log *zap.Logger) *Submitter {
	cfg.Endpoints = append([]Endpoint(nil), cfg.Endpoints...)
	sort.SliceStable(cfg.Endpoints, func(i, j int) bool {
		return cfg.Endpoints[i].Priority < cfg.Endpoints[j].Priority
	})
	breakers := make(map[string]*gobreaker.CircuitBreaker[*http.Response], len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		st := gobreaker.Settings{
			Name:    "relay-" + ep.Name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[ep.Name] = gobreaker.NewCircuitBreaker[*http.Response](st)
	}
	return &Submitter{
		cfg:      cfg,
		client:   client,
		log:      log,
		breakers: breakers,
		httpc:    &http.Client{Timeout: cfg.HTTPTimeout},
		sem:      make(chan struct{}, cfg.MaxConcurrentExecutions),
	}
}

// Submit tries every configured relay in priority order, falling back to
// public broadcast when allowed, and polls for inclusion up to
// InclusionPollBlocks target blocks before declaring a timeout.
func (s *Submitter) Submit(ctx context.Context, b coretypes.Bundle, strategy coretypes.StrategyTag, rawSignerTx *types.Transaction) coretypes.ExecutionRecord {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return coretypes.ExecutionRecord{OpportunityID: b.OpportunityID, Strategy: strategy, Outcome: coretypes.OutcomeCancelled, SubmittedAt: time.Now()}
	}

	started := time.Now()
	rec := coretypes.ExecutionRecord{
		OpportunityID: b.OpportunityID,
		Strategy:      strategy,
		BundleHash:    b.Hash,
		SubmittedAt:   started,
	}

	for _, ep := range s.cfg.Endpoints {
		if err := s.submitToRelay(ctx, ep, b); err != nil {
			s.log.Debug("relay submission failed", zap.String("relay", ep.Name), zap.Error(err))
			continue
		}
		rec.Relay = ep.Name
		break
	}

	if rec.Relay == "" {
		if strategy == coretypes.StrategySandwich || !s.cfg.AllowPublicFallback[strategy] {
			rec.Outcome = coretypes.OutcomeRejected
			rec.RejectReason = "all relays failed; public fallback not allowed for " + string(strategy)
			rec.ElapsedMS = time.Since(started).Milliseconds()
			return rec
		}
		if err := s.client.SendTransaction(ctx, rawSignerTx); err != nil {
			rec.Outcome = coretypes.OutcomeRejected
			rec.RejectReason = err.Error()
			rec.ElapsedMS = time.Since(started).Milliseconds()
			return rec
		}
		rec.Relay = "public"
	}

	var watchHash [32]byte
	if rawSignerTx != nil {
		watchHash = rawSignerTx.Hash()
	}
	outcome, includedHash, includedBlock := s.pollInclusion(ctx, b.TargetBlock, watchHash)
	rec.Outcome = outcome
	rec.IncludedTxHash = includedHash
	rec.IncludedBlock = includedBlock
	rec.ElapsedMS = time.Since(started).Milliseconds()
	return rec
}

func (s *Submitter) submitToRelay(ctx context.Context, ep Endpoint, b coretypes.Bundle) error {
	breaker, ok := s.breakers[ep.Name]
	if !ok {
		return fmt.Errorf("no breaker configured for %s", ep.Name)
	}

	payload := sendBundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendBundle",
		Params: []sendBundleParams{{
			Txs:         hexEncodeAll(b.SignedTxs),
			BlockNumber: fmt.Sprintf("0x%x", b.TargetBlock),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return coretypes.Wrap(coretypes.ErrEncodingFailure, err)
	}

	resp, err := breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return s.httpc.Do(req)
	})
	if err != nil {
		return coretypes.Wrap(coretypes.ErrRelayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return coretypes.Wrap(coretypes.ErrRelayRejected, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var rpcResp struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &rpcResp); err == nil && rpcResp.Error != nil {
		return coretypes.Wrap(coretypes.ErrRelayRejected, fmt.Errorf("%s", rpcResp.Error.Message))
	}
	return nil
}

// pollInclusion watches for watchHash's receipt to appear, bounded by
// InclusionPollBlocks target blocks past targetBlock, per §6.2's inclusion
// semantics.
func (s *Submitter) pollInclusion(ctx context.Context, targetBlock uint64, watchHash [32]byte) (coretypes.InclusionOutcome, [32]byte, uint64) {
	deadlineBlock := targetBlock + s.cfg.InclusionPollBlocks
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return coretypes.OutcomeCancelled, [32]byte{}, 0
		case <-ticker.C:
			if watchHash != ([32]byte{}) {
				if receipt, err := s.client.TransactionReceipt(ctx, watchHash); err == nil && receipt != nil {
					return coretypes.OutcomeIncluded, watchHash, receipt.BlockNumber.Uint64()
				}
			}
			current, err := s.client.BlockNumber(ctx)
			if err != nil {
				continue
			}
			if current > deadlineBlock {
				return coretypes.OutcomeTimeout, [32]byte{}, 0
			}
		}
	}
}

type sendBundleParams struct {
	Txs         []string `json:"txs"`
	BlockNumber string   `json:"blockNumber"`
}

type sendBundleRequest struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      int                `json:"id"`
	Method  string             `json:"method"`
	Params  []sendBundleParams `json:"params"`
}

func hexEncodeAll(txs [][]byte) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = "0x" + fmt.Sprintf("%x", tx)
	}
	return out
}
