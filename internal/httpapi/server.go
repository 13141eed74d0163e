// Package httpapi serves the engine's operational surface: risk and
// anomaly status, health, and Prometheus metrics. It is read-only; no
// endpoint mutates engine state.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tradeforge/optionrun/internal/anomaly"
	"github.com/tradeforge/optionrun/internal/risk"
)

// StatusSource is what the server reads from the engine.
type StatusSource interface {
	RiskStatus() risk.LedgerSnapshot
	AnomalyStatus() anomaly.Snapshot
	FeedConnected() bool
}

// Config holds server settings.
type Config struct {
	Addr         string        `yaml:"addr" default:":8787"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
}

// DefaultConfig returns the listener settings used in production.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8787",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is the operational HTTP endpoint.
type Server struct {
	config Config
	source StatusSource
	http   *http.Server
}

// New builds the server and its routes. metricsHandler serves /metrics;
// pass promhttp.Handler() or a registry-scoped handler.
func New(config Config, source StatusSource, metricsHandler http.Handler) *Server {
	s := &Server{config: config, source: source}

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status/risk", s.handleRiskStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/anomaly", s.handleAnomalyStatus).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "httpapi").Str("addr", s.config.Addr).Msg("listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	FeedConnected bool   `json:"feed_connected"`
	Halted        bool   `json:"halted"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ledger := s.source.RiskStatus()
	resp := healthResponse{
		Status:        "ok",
		FeedConnected: s.source.FeedConnected(),
		Halted:        ledger.Halted,
	}
	code := http.StatusOK
	if !resp.FeedConnected {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleRiskStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.RiskStatus())
}

func (s *Server) handleAnomalyStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.source.AnomalyStatus())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("component", "httpapi").Msg("encode response")
	}
}
