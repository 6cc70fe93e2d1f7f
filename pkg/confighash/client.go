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

package confighash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/config"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
)

// Source yields the expected configuration hash for a service and
// environment. found is false when the source authoritatively has no
// configuration; err reports transport-level exhaustion.
type Source interface {
	ExpectedHash(ctx context.Context, serviceName, environment string) (hash string, found bool, err error)
}

// errNoConfig marks an authoritative 404 from the source: there is no
// configuration, which is not a transport failure and must not be retried.
var errNoConfig = errors.New("config source has no document")

// Client fetches effective configuration from the external config source
// and digests it. Calls are decorated, outermost first, with retry, a
// circuit breaker, a concurrency bulkhead, and a per-attempt time limit.
// On exhaustion the last successfully fetched payload for the same
// (service, environment) is rehashed as a fallback.
type Client struct {
	http      *http.Client
	baseURL   string
	discovery config.ServiceDiscoveryConfig
	resolver  Resolver
	mock      config.MockModeConfig
	retry     config.RetryPolicy
	breaker   *gobreaker.CircuitBreaker
	bulkhead  *semaphore.Weighted
	timeout   time.Duration
	fallback  fallbackStore
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	nowFn     func() time.Time
}

// ClientConfig assembles a Client.
type ClientConfig struct {
	BaseURL   string
	Discovery config.ServiceDiscoveryConfig
	Resolver  Resolver // nil with Discovery.Enabled falls back to BaseURL
	MockMode  config.MockModeConfig
	Policies  config.Policies
	// OnBreakerChange observes breaker transitions (metrics).
	OnBreakerChange func(name string, from, to gobreaker.State)
}

// NewClient builds the resilient config source client.
func NewClient(cfg ClientConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	p := cfg.Policies
	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = 3
	}
	if p.Retry.InitialBackoff <= 0 {
		p.Retry.InitialBackoff = config.Duration(100 * time.Millisecond)
	}
	if p.Retry.MaxBackoff <= 0 {
		p.Retry.MaxBackoff = config.Duration(1 * time.Second)
	}
	if p.Bulkhead.MaxConcurrent <= 0 {
		p.Bulkhead.MaxConcurrent = 16
	}
	if p.TimeLimiter.Timeout <= 0 {
		p.TimeLimiter.Timeout = config.Duration(3 * time.Second)
	}
	windowSize := p.CircuitBreaker.SlidingWindowSize
	if windowSize <= 0 {
		windowSize = 10
	}
	failureRate := p.CircuitBreaker.FailureRateThreshold
	if failureRate <= 0 {
		failureRate = 0.5
	}
	openTimeout := p.CircuitBreaker.OpenTimeout.Std()
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	halfOpen := p.CircuitBreaker.HalfOpenMaxCalls
	if halfOpen <= 0 {
		halfOpen = 2
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "config-source",
		MaxRequests: uint32(halfOpen),
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(windowSize) {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("config source breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if cfg.OnBreakerChange != nil {
				cfg.OnBreakerChange(name, from, to)
			}
		},
	})

	return &Client{
		http:      &http.Client{Timeout: 2 * p.TimeLimiter.Timeout.Std()},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		discovery: cfg.Discovery,
		resolver:  cfg.Resolver,
		mock:      cfg.MockMode,
		retry:     p.Retry,
		breaker:   breaker,
		bulkhead:  semaphore.NewWeighted(int64(p.Bulkhead.MaxConcurrent)),
		timeout:   p.TimeLimiter.Timeout.Std(),
		fallback:  fallbackStore{payloads: make(map[string][]byte)},
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("confighash"),
		nowFn:     time.Now,
	}
}

// ExpectedHash implements Source.
func (c *Client) ExpectedHash(ctx context.Context, serviceName, environment string) (string, bool, error) {
	ctx, span := c.tracer.Start(ctx, "confighash.ExpectedHash",
		trace.WithAttributes(
			attribute.String("service", serviceName),
			attribute.String("environment", environment),
		))
	defer span.End()

	if mockApplies(c.mock, serviceName) {
		return mockHash(c.mock, serviceName, environment, c.nowFn()), true, nil
	}

	start := c.nowFn()
	doc, err := c.fetchWithRetry(ctx, serviceName, environment)
	c.metrics.ConfigHashFetchDuration.Observe(c.nowFn().Sub(start).Seconds())

	key := serviceName + ":" + environment
	switch {
	case err == nil:
		hash, herr := HashDocument(doc)
		if herr != nil {
			return "", false, herr
		}
		c.fallback.put(key, doc)
		return hash, true, nil
	case errors.Is(err, errNoConfig):
		return "", false, nil
	}

	// Terminal failure: serve the last good payload if one exists.
	if doc, ok := c.fallback.get(key); ok {
		hash, herr := HashDocument(doc)
		if herr == nil {
			c.metrics.ConfigHashFallbacks.Inc()
			c.logger.Warn("config source unreachable, serving cached fallback payload",
				zap.String("service", serviceName),
				zap.String("environment", environment),
				zap.Error(err))
			return hash, true, nil
		}
	}
	return "", false, err
}

func (c *Client) fetchWithRetry(ctx context.Context, serviceName, environment string) ([]byte, error) {
	backoff := c.retry.InitialBackoff.Std()
	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		doc, err := c.fetchOnce(ctx, serviceName, environment)
		if err == nil {
			return doc, nil
		}
		if errors.Is(err, errNoConfig) {
			return nil, err
		}
		lastErr = err
		// An open breaker will not recover within the retry budget.
		if apperrors.Is(err, apperrors.KindCircuitOpen) {
			break
		}
		if attempt < c.retry.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, apperrors.Wrap(apperrors.KindTimeout, "config fetch cancelled", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			if max := c.retry.MaxBackoff.Std(); backoff > max {
				backoff = max
			}
		}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, serviceName, environment string) ([]byte, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		if !c.bulkhead.TryAcquire(1) {
			return nil, apperrors.New(apperrors.KindExternalUnavailable, "config source bulkhead full")
		}
		defer c.bulkhead.Release(1)

		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.doFetch(opCtx, serviceName, environment)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, apperrors.Wrap(apperrors.KindCircuitOpen, "config source breaker open", err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, apperrors.Wrap(apperrors.KindTimeout, "config source timeout", err)
		case errors.Is(err, errNoConfig):
			return nil, err
		default:
			return nil, apperrors.Wrap(apperrors.KindExternalUnavailable, "config source fetch failed", err)
		}
	}
	return res.([]byte), nil
}

// doFetch tries discovery-resolved instances first, then the direct URL.
func (c *Client) doFetch(ctx context.Context, serviceName, environment string) ([]byte, error) {
	bases := c.candidateBases(ctx)
	if len(bases) == 0 {
		return nil, fmt.Errorf("no config source endpoint available")
	}
	var lastErr error
	for _, base := range bases {
		doc, err := c.fetchFrom(ctx, base, serviceName, environment)
		if err == nil || errors.Is(err, errNoConfig) {
			return doc, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) candidateBases(ctx context.Context) []string {
	if c.discovery.Enabled && c.resolver != nil {
		instances, err := c.resolver.Resolve(ctx, c.discovery.ServiceName)
		if err == nil && len(instances) > 0 {
			return instances
		}
		if err != nil {
			c.logger.Debug("service discovery failed for config source", zap.Error(err))
		}
		if !c.discovery.FallbackToURL {
			return nil
		}
	}
	if c.baseURL == "" {
		return nil
	}
	return []string{c.baseURL}
}

func (c *Client) fetchFrom(ctx context.Context, base, serviceName, environment string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), serviceName, environment)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNoConfig
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("config source returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

// fallbackStore retains the last good payload per (service, environment).
type fallbackStore struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

func (s *fallbackStore) put(key string, doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[key] = append([]byte(nil), doc...)
}

func (s *fallbackStore) get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.payloads[key]
	return doc, ok
}
