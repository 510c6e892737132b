package controlplane

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mev-labs/searcher-core/internal/config"
	"github.com/mev-labs/searcher-core/internal/opportunity"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

func newTestService() *Service {
	opps := opportunity.New(opportunity.Config{
		MaxQueueSize:  16,
		TTL:           time.Minute,
		SweepInterval: time.Minute,
		Weights:       opportunity.DefaultScoreWeights(),
	})
	return NewService(opps, config.NewDynamicStore(nil), 10)
}

func TestStartStopStrategyTogglesEnabled(t *testing.T) {
	svc := newTestService()

	if err := svc.StopStrategy(coretypes.StrategySandwich); err != nil {
		t.Fatalf("StopStrategy: %v", err)
	}
	found := false
	for _, s := range svc.ListStrategies() {
		if s.Strategy == coretypes.StrategySandwich {
			found = true
			if s.Enabled {
				t.Error("expected sandwich to be disabled after StopStrategy")
			}
		}
	}
	_ = found // ListStrategies is seeded from opps.SnapshotStats, which always has all three tags

	if err := svc.StartStrategy(coretypes.StrategySandwich); err != nil {
		t.Fatalf("StartStrategy: %v", err)
	}
	for _, s := range svc.ListStrategies() {
		if s.Strategy == coretypes.StrategySandwich && !s.Enabled {
			t.Error("expected sandwich to be enabled again after StartStrategy")
		}
	}
}

func TestGetOpportunitiesReflectsEnqueuedEntries(t *testing.T) {
	svc := newTestService()
	if got := svc.GetOpportunities(coretypes.StrategySandwich); len(got) != 0 {
		t.Fatalf("expected no opportunities initially, got %d", len(got))
	}

	svc.opps.Enqueue(coretypes.Opportunity{
		Strategy:     coretypes.StrategySandwich,
		NetProfitWei: big.NewInt(1_000_000),
		Sandwich:     &coretypes.SandwichPayload{VictimTxHash: common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000aa")},
	}, 100)

	got := svc.GetOpportunities(coretypes.StrategySandwich)
	if len(got) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(got))
	}

	// Reading opportunities must not consume the queue.
	got2 := svc.GetOpportunities(coretypes.StrategySandwich)
	if len(got2) != 1 {
		t.Fatalf("GetOpportunities should be non-destructive; got %d on second read", len(got2))
	}
}

func TestRecordAndGetHistoryRespectsCapAndLimit(t *testing.T) {
	svc := newTestService()
	for i := 0; i < 15; i++ {
		svc.RecordHistory(coretypes.StrategyArbitrage, coretypes.ExecutionRecord{Strategy: coretypes.StrategyArbitrage})
	}

	all := svc.GetHistory(coretypes.StrategyArbitrage, 0)
	if len(all) != 10 {
		t.Fatalf("expected history capped at 10, got %d", len(all))
	}

	limited := svc.GetHistory(coretypes.StrategyArbitrage, 3)
	if len(limited) != 3 {
		t.Fatalf("expected 3 entries with limit=3, got %d", len(limited))
	}
}

func TestSetStrategyConfigPersistsToDynamicStore(t *testing.T) {
	svc := newTestService()
	if err := svc.SetStrategyConfig(coretypes.StrategyLiquidation, config.DynamicStrategyConfig{Enabled: false, MinSuccessProbability: 0.42}); err != nil {
		t.Fatalf("SetStrategyConfig: %v", err)
	}
	got, ok := svc.dynCfg.Get(string(coretypes.StrategyLiquidation))
	if !ok || got.MinSuccessProbability != 0.42 {
		t.Errorf("got %+v, ok=%v", got, ok)
	}
}

func TestHTTPRouterStrategiesEndpoint(t *testing.T) {
	svc := newTestService()
	router := NewHTTPRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var statuses []StrategyStatus
	if err := json.NewDecoder(rec.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("expected at least one strategy status")
	}
}

func TestHTTPRouterStartStopStrategy(t *testing.T) {
	svc := newTestService()
	router := NewHTTPRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/strategies/sandwich/stop", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stop status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/strategies/sandwich/start", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("start status = %d, want 204", rec.Code)
	}
}

func TestHTTPRouterSetConfigEndpoint(t *testing.T) {
	svc := newTestService()
	router := NewHTTPRouter(svc, nil)

	body := strings.NewReader(`{"Enabled":false,"MinSuccessProbability":0.8}`)
	req := httptest.NewRequest(http.MethodPut, "/strategies/arbitrage/config", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rec.Code, rec.Body.String())
	}

	got, ok := svc.dynCfg.Get(string(coretypes.StrategyArbitrage))
	if !ok || got.MinSuccessProbability != 0.8 {
		t.Errorf("got %+v, ok=%v", got, ok)
	}
}

func TestHTTPRouterSetConfigRejectsMalformedBody(t *testing.T) {
	svc := newTestService()
	router := NewHTTPRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPut, "/strategies/arbitrage/config", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHTTPRouterMetricsEndpointServedWhenRegistryProvided(t *testing.T) {
	registry := prometheus.NewRegistry()
	router := NewHTTPRouter(newTestService(), registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHTTPRouterMetricsEndpointAbsentWhenRegistryNil(t *testing.T) {
	router := NewHTTPRouter(newTestService(), nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when no metrics registry is configured", rec.Code)
	}
}
