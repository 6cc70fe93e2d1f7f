/*
Copyright 2025 HZeroxium.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package server is the thin HTTP facade over the control plane: heartbeat
// submission, registry reads, health, and metrics. All drift logic lives
// behind the ingestion gateway and the batch processor.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/cache"
	"github.com/HZeroxium/central-config-server/pkg/confighash"
	"github.com/HZeroxium/central-config-server/pkg/config"
	"github.com/HZeroxium/central-config-server/pkg/ingestion"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

// RegistryReader is the read side of the facade.
type RegistryReader interface {
	FindByID(ctx context.Context, id string) (*models.ServiceInstance, error)
	FindByServiceID(ctx context.Context, serviceID string) ([]*models.ServiceInstance, error)
	FindServiceByDisplayName(ctx context.Context, name string) (*models.ApplicationService, error)
	RecentByService(ctx context.Context, serviceName string, limit int) ([]*models.DriftEvent, error)
}

// Pinger is a readiness-checkable dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies collects the facade's collaborators.
type Dependencies struct {
	Gateway      *ingestion.Gateway
	Reader       RegistryReader
	DB           Pinger
	RedisPing    func(ctx context.Context) error
	ConfigSource *confighash.Client
	Cache        *cache.DelegatingManager
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Server is the HTTP facade.
type Server struct {
	cfg          config.ServerConfig
	deps         Dependencies
	httpServer   *http.Server
	shuttingDown atomic.Bool
}

// New builds the facade with its routes mounted.
func New(cfg config.ServerConfig, deps Dependencies) *Server {
	s := &Server{cfg: cfg, deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(s.instrument)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/heartbeats", s.handleHeartbeat)
		r.Get("/instances/{instanceID}", s.handleGetInstance)
		r.Get("/services/{serviceName}/instances", s.handleServiceInstances)
		r.Get("/services/{serviceName}/drift-events", s.handleServiceDriftEvents)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		deps.Metrics.Gatherer(), promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
	}
	return s
}

// Handler exposes the router (tests drive it through httptest).
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.deps.Logger.Info("http facade listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// BeginShutdown flips readiness to 503 so load balancers drain this node
// before connections close.
func (s *Server) BeginShutdown() {
	s.shuttingDown.Store(true)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// instrument records per-route request counts and latency.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.deps.Metrics.HTTPRequests.WithLabelValues(
			r.Method, route, fmt.Sprintf("%d", ww.Status())).Inc()
		s.deps.Metrics.HTTPDuration.WithLabelValues(r.Method, route).
			Observe(time.Since(start).Seconds())
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.deps.Logger.Warn("response encode failed", zap.Error(err))
	}
}

// writeError renders an RFC 7807 problem-details response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(apperrors.KindOf(err))
	typeURI, title := apperrors.TypeAndTitle(status)
	body := apperrors.RFC7807Error{
		Type:      typeURI,
		Title:     title,
		Detail:    err.Error(),
		Status:    status,
		Instance:  r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
	}
	if status >= 500 {
		s.deps.Logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
