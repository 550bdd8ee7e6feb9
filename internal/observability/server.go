// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package observability serves the host's Prometheus metrics and health
// probes over HTTP.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/grindstone/scripthost/internal/bridge"
)

// ReadinessChecker returns whether the host has finished loading modules.
type ReadinessChecker func() bool

// Metrics contains host-level Prometheus metrics. Bridge metrics are
// registered alongside these by NewServer.
type Metrics struct {
	WatcherReloads *prometheus.CounterVec
	FramesTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers host metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WatcherReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_watcher_reloads_total",
				Help: "Total number of reloads triggered by source changes, by status",
			},
			[]string{"status"},
		),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scripthost_frames_total",
				Help: "Total number of update frames driven by the host, by mode",
			},
			[]string{"mode"},
		),
	}

	reg.MustRegister(m.WatcherReloads)
	reg.MustRegister(m.FramesTotal)

	return m
}

// Server exposes /metrics and the /healthz probes.
type Server struct {
	addr     string
	registry *prometheus.Registry
	metrics  *Metrics
	isReady  ReadinessChecker

	mu       sync.Mutex
	listener net.Listener
	srv      *http.Server
}

// NewServer creates a server for addr ("127.0.0.1:9100", or port 0 for an
// ephemeral port). A nil checker reports ready.
func NewServer(addr string, ready ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bridge.RegisterMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  ready,
	}
}

// Metrics returns the host metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the mux serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, true)
	})
	mux.HandleFunc("/healthz/readiness", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, s.isReady == nil || s.isReady())
	})
	return mux
}

func writeProbe(w http.ResponseWriter, ok bool) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	body := "ok\n"
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		body = "not ready\n"
	}
	//nolint:errcheck // probe clients may hang up early
	w.Write([]byte(body))
}

// Start listens and serves in the background. Serve failures are delivered
// on the returned channel, which is closed once the server stops.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil, oops.In("observability").With("addr", s.addr).Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener, s.srv = listener, srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("observability server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return oops.In("observability").With("operation", "shutdown").Wrap(err)
	}
	s.srv, s.listener = nil, nil

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" when the server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
