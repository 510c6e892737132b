// Package controlplane exposes the five operations of spec.md §6.4 as a Go
// interface backed directly by the opportunity manager, telemetry, and the
// dynamic config store, plus a thin read-mostly gorilla/mux HTTP surface
// presenting the same operations as JSON. The UI that would consume this is
// explicitly out of scope (spec.md §1 Non-goals); only this interface-shaped
// surface is provided.
package controlplane

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mev-labs/searcher-core/internal/config"
	"github.com/mev-labs/searcher-core/internal/opportunity"
	coretypes "github.com/mev-labs/searcher-core/internal/types"
)

// ControlPlane is the in-process interface described by §6.4.
type ControlPlane interface {
	ListStrategies() []StrategyStatus
	StartStrategy(tag coretypes.StrategyTag) error
	StopStrategy(tag coretypes.StrategyTag) error
	GetOpportunities(tag coretypes.StrategyTag) []coretypes.Opportunity
	GetHistory(tag coretypes.StrategyTag, limit int) []coretypes.ExecutionRecord
	SetStrategyConfig(tag coretypes.StrategyTag, cfg config.DynamicStrategyConfig) error
}

type StrategyStatus struct {
	Strategy coretypes.StrategyTag        `json:"strategy"`
	Enabled  bool                         `json:"enabled"`
	Stats    coretypes.StrategyStats      `json:"stats"`
}

// Service is the concrete ControlPlane implementation wiring the pieces
// together. GetOpportunities reads a live snapshot from the opportunity
// manager's arena; history is an in-memory ring buffer since persistence
// is optional and never read back by the core (§6.6).
type Service struct {
	mu       sync.Mutex
	opps     *opportunity.Manager
	dynCfg   *config.DynamicStore
	history  map[coretypes.StrategyTag][]coretypes.ExecutionRecord
	historyCap int
}

func NewService(opps *opportunity.Manager, dynCfg *config.DynamicStore, historyCap int) *Service {
	return &Service{
		opps:       opps,
		dynCfg:     dynCfg,
		history:    make(map[coretypes.StrategyTag][]coretypes.ExecutionRecord),
		historyCap: historyCap,
	}
}

func (s *Service) ListStrategies() []StrategyStatus {
	stats := s.opps.SnapshotStats()
	out := make([]StrategyStatus, 0, len(stats))
	for tag, stat := range stats {
		enabled := true
		if dyn, ok := s.dynCfg.Get(string(tag)); ok {
			enabled = dyn.Enabled
		}
		out = append(out, StrategyStatus{Strategy: tag, Enabled: enabled, Stats: stat})
	}
	return out
}

func (s *Service) StartStrategy(tag coretypes.StrategyTag) error {
	dyn, _ := s.dynCfg.Get(string(tag))
	dyn.Enabled = true
	s.dynCfg.Set(string(tag), dyn)
	return nil
}

func (s *Service) StopStrategy(tag coretypes.StrategyTag) error {
	dyn, _ := s.dynCfg.Get(string(tag))
	dyn.Enabled = false
	s.dynCfg.Set(string(tag), dyn)
	return nil
}

func (s *Service) GetOpportunities(tag coretypes.StrategyTag) []coretypes.Opportunity {
	return s.opps.Snapshot(tag)
}

func (s *Service) RecordHistory(tag coretypes.StrategyTag, rec coretypes.ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[tag], rec)
	if len(h) > s.historyCap {
		h = h[len(h)-s.historyCap:]
	}
	s.history[tag] = h
}

func (s *Service) GetHistory(tag coretypes.StrategyTag, limit int) []coretypes.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[tag]
	if limit > 0 && limit < len(h) {
		return append([]coretypes.ExecutionRecord(nil), h[len(h)-limit:]...)
	}
	return append([]coretypes.ExecutionRecord(nil), h...)
}

func (s *Service) SetStrategyConfig(tag coretypes.StrategyTag, cfg config.DynamicStrategyConfig) error {
	s.dynCfg.Set(string(tag), cfg)
	return nil
}

// NewHTTPRouter exposes the five operations as JSON over a thin gorilla/mux
// surface, per §4/§6.4's "thin read-mostly HTTP" wiring, plus a /metrics
// endpoint serving metricsRegistry (internal/telemetry's private registry)
// in the standard Prometheus exposition format.
func NewHTTPRouter(svc ControlPlane, metricsRegistry *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	if metricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	r.HandleFunc("/strategies", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, svc.ListStrategies())
	}).Methods(http.MethodGet)

	r.HandleFunc("/strategies/{strategy}/start", func(w http.ResponseWriter, req *http.Request) {
		tag := coretypes.StrategyTag(mux.Vars(req)["strategy"])
		if err := svc.StartStrategy(tag); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/strategies/{strategy}/stop", func(w http.ResponseWriter, req *http.Request) {
		tag := coretypes.StrategyTag(mux.Vars(req)["strategy"])
		if err := svc.StopStrategy(tag); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/strategies/{strategy}/opportunities", func(w http.ResponseWriter, req *http.Request) {
		tag := coretypes.StrategyTag(mux.Vars(req)["strategy"])
		writeJSON(w, svc.GetOpportunities(tag))
	}).Methods(http.MethodGet)

	r.HandleFunc("/strategies/{strategy}/history", func(w http.ResponseWriter, req *http.Request) {
		tag := coretypes.StrategyTag(mux.Vars(req)["strategy"])
		writeJSON(w, svc.GetHistory(tag, 100))
	}).Methods(http.MethodGet)

	r.HandleFunc("/strategies/{strategy}/config", func(w http.ResponseWriter, req *http.Request) {
		tag := coretypes.StrategyTag(mux.Vars(req)["strategy"])
		var cfg config.DynamicStrategyConfig
		if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.SetStrategyConfig(tag, cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPut)

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
