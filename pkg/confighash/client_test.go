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

package confighash_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/confighash"
	"github.com/HZeroxium/central-config-server/pkg/config"
)

func fastPolicies() config.Policies {
	return config.Policies{
		Retry: config.RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: config.Duration(time.Millisecond),
			MaxBackoff:     config.Duration(5 * time.Millisecond),
		},
		CircuitBreaker: config.BreakerPolicy{
			FailureRateThreshold: 0.5,
			SlidingWindowSize:    100,
			OpenTimeout:          config.Duration(time.Second),
			HalfOpenMaxCalls:     1,
		},
		Bulkhead:    config.BulkheadPolicy{MaxConcurrent: 4},
		TimeLimiter: config.TimeoutPolicy{Timeout: config.Duration(time.Second)},
	}
}

func newClient(baseURL string) *confighash.Client {
	return confighash.NewClient(confighash.ClientConfig{
		BaseURL:  baseURL,
		Policies: fastPolicies(),
	}, newTestMetrics(), zap.NewNop())
}

var _ = Describe("Client.ExpectedHash", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("fetches and digests the effective configuration", func() {
		var path atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path.Store(r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"b": 2, "a": 1}`))
		}))
		defer srv.Close()

		hash, found, err := newClient(srv.URL).ExpectedHash(ctx, "svc-A", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(path.Load()).To(Equal("/svc-A/prod"))

		want, _ := confighash.HashDocument([]byte(`{"a":1,"b":2}`))
		Expect(hash).To(Equal(want), "hash is over the canonical form")
	})

	It("treats 404 as an authoritative absence without retrying", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		hash, found, err := newClient(srv.URL).ExpectedHash(ctx, "svc-A", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeFalse())
		Expect(hash).To(BeEmpty())
		Expect(calls.Load()).To(Equal(int32(1)))
	})

	It("retries transient server errors until one attempt succeeds", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"a":1}`))
		}))
		defer srv.Close()

		_, found, err := newClient(srv.URL).ExpectedHash(ctx, "svc-A", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(calls.Load()).To(Equal(int32(3)))
	})

	It("serves the last good payload when the source becomes unreachable", func() {
		var failing atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if failing.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"a":1}`))
		}))
		defer srv.Close()

		client := newClient(srv.URL)
		first, found, err := client.ExpectedHash(ctx, "svc-A", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())

		failing.Store(true)
		second, found, err := client.ExpectedHash(ctx, "svc-A", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(second).To(Equal(first), "fallback rehashes the cached payload")
	})

	It("fails terminally for a pair that never succeeded", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, found, err := newClient(srv.URL).ExpectedHash(ctx, "svc-never", "prod")
		Expect(found).To(BeFalse())
		Expect(err).To(HaveOccurred())
		Expect(apperrors.Is(err, apperrors.KindExternalUnavailable)).To(BeTrue())
	})

	It("short-circuits once the breaker opens", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		policies := fastPolicies()
		policies.Retry.MaxAttempts = 1
		policies.CircuitBreaker.SlidingWindowSize = 2
		client := confighash.NewClient(confighash.ClientConfig{
			BaseURL:  srv.URL,
			Policies: policies,
		}, newTestMetrics(), zap.NewNop())

		_, _, _ = client.ExpectedHash(ctx, "svc-1", "prod")
		_, _, _ = client.ExpectedHash(ctx, "svc-2", "prod")
		before := calls.Load()

		_, found, err := client.ExpectedHash(ctx, "svc-3", "prod")
		Expect(found).To(BeFalse())
		Expect(apperrors.Is(err, apperrors.KindCircuitOpen)).To(BeTrue())
		Expect(calls.Load()).To(Equal(before), "no request reaches the source while open")
	})

	It("prefers discovery-resolved instances over the configured URL", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"a":1}`))
		}))
		defer srv.Close()

		client := confighash.NewClient(confighash.ClientConfig{
			BaseURL: "http://127.0.0.1:1", // unreachable on purpose
			Discovery: config.ServiceDiscoveryConfig{
				Enabled:     true,
				ServiceName: "config-source",
			},
			Resolver: confighash.NewStaticResolver([]string{srv.URL}),
			Policies: fastPolicies(),
		}, newTestMetrics(), zap.NewNop())

		_, found, err := client.ExpectedHash(ctx, "svc-A", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
	})
})

var _ = Describe("Mock mode", func() {
	ctx := context.Background()

	mockClient := func(mode config.MockModeConfig) *confighash.Client {
		return confighash.NewClient(confighash.ClientConfig{
			MockMode: mode,
			Policies: fastPolicies(),
		}, newTestMetrics(), zap.NewNop())
	}

	It("synthesizes a stable hash with the deterministic strategy", func() {
		client := mockClient(config.MockModeConfig{Enabled: true, Strategy: config.MockDeterministic})
		h1, found, err := client.ExpectedHash(ctx, "svc-A", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		h2, _, _ := client.ExpectedHash(ctx, "svc-A", "prod")
		Expect(h2).To(Equal(h1))
		other, _, _ := client.ExpectedHash(ctx, "svc-A", "dev")
		Expect(other).NotTo(Equal(h1))
	})

	It("returns the configured hash with the static strategy", func() {
		client := mockClient(config.MockModeConfig{Enabled: true, Strategy: config.MockStatic, StaticHash: "deadbeef"})
		hash, found, err := client.ExpectedHash(ctx, "svc-A", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(hash).To(Equal("deadbeef"))
	})

	It("varies per call with the random strategy", func() {
		client := mockClient(config.MockModeConfig{Enabled: true, Strategy: config.MockRandom})
		h1, _, _ := client.ExpectedHash(ctx, "svc-A", "prod")
		h2, _, _ := client.ExpectedHash(ctx, "svc-A", "prod")
		Expect(h1).NotTo(Equal(h2))
	})

	It("routes whitelisted services to the real source", func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`{"a":1}`))
		}))
		defer srv.Close()

		client := confighash.NewClient(confighash.ClientConfig{
			BaseURL:  srv.URL,
			MockMode: config.MockModeConfig{Enabled: true, Strategy: config.MockDeterministic, Whitelist: []string{"svc-real"}},
			Policies: fastPolicies(),
		}, newTestMetrics(), zap.NewNop())

		_, _, _ = client.ExpectedHash(ctx, "svc-mocked", "prod")
		Expect(calls.Load()).To(BeZero())

		_, found, err := client.ExpectedHash(ctx, "svc-real", "prod")
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(calls.Load()).To(Equal(int32(1)))
	})
})

var _ = Describe("StaticResolver", func() {
	It("rotates the instance order across calls", func() {
		resolver := confighash.NewStaticResolver([]string{"a", "b", "c"})
		first, err := resolver.Resolve(context.Background(), "config-source")
		Expect(err).NotTo(HaveOccurred())
		second, err := resolver.Resolve(context.Background(), "config-source")
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(HaveLen(3))
		Expect(second[0]).NotTo(Equal(first[0]))
	})

	It("errors when no instances are registered", func() {
		_, err := confighash.NewStaticResolver(nil).Resolve(context.Background(), "config-source")
		Expect(apperrors.Is(err, apperrors.KindNotFound)).To(BeTrue())
	})
})

var _ = Describe("Client.Health", func() {
	It("reports UP when the source health endpoint answers", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/actuator/health"))
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		details := newClient(srv.URL).Health(context.Background())
		Expect(details.Status).To(Equal("UP"))
		Expect(details.ResponseCode).To(Equal(http.StatusOK))
	})

	It("reports DOWN when the source is unreachable", func() {
		details := newClient("http://127.0.0.1:1").Health(context.Background())
		Expect(details.Status).To(Equal("DOWN"))
		Expect(details.Error).NotTo(BeEmpty())
	})

	It("reports UP in mock mode without probing", func() {
		client := confighash.NewClient(confighash.ClientConfig{
			MockMode: config.MockModeConfig{Enabled: true},
			Policies: fastPolicies(),
		}, newTestMetrics(), zap.NewNop())
		Expect(client.Health(context.Background()).Status).To(Equal("UP"))
	})
})
