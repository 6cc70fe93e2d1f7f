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

package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/cache"
	"github.com/HZeroxium/central-config-server/pkg/confighash"
	"github.com/HZeroxium/central-config-server/pkg/config"
	"github.com/HZeroxium/central-config-server/pkg/ingestion"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
	"github.com/HZeroxium/central-config-server/pkg/models"
	"github.com/HZeroxium/central-config-server/pkg/server"
)

type nullPublisher struct {
	published []models.HeartbeatPayload
}

func (p *nullPublisher) Publish(_ context.Context, payload models.HeartbeatPayload) error {
	p.published = append(p.published, payload)
	return nil
}

var _ = Describe("HTTP facade", func() {
	var (
		reader    *fakeReader
		publisher *nullPublisher
		db        *fakePinger
		redisErr  error
		srv       *server.Server
		now       time.Time
	)

	BeforeEach(func() {
		reader = newFakeReader()
		publisher = &nullPublisher{}
		db = &fakePinger{}
		redisErr = nil
		now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		m := metrics.NewMetricsWithRegistry("test", prometheus.NewRegistry())
		logger := zap.NewNop()

		local := cache.NewLocalProvider(func(string) int { return 0 })
		manager, err := cache.NewDelegatingManager(
			map[cache.ProviderKind]cache.Provider{cache.KindLocal: local},
			cache.KindLocal,
			cache.Settings{TTL: time.Minute},
			nil, m, logger)
		Expect(err).NotTo(HaveOccurred())

		source := confighash.NewClient(confighash.ClientConfig{
			MockMode: config.MockModeConfig{Enabled: true, Strategy: config.MockDeterministic},
		}, m, logger)

		srv = server.New(config.ServerConfig{Port: 0}, server.Dependencies{
			Gateway:      ingestion.NewGateway(publisher, m, logger),
			Reader:       reader,
			DB:           db,
			RedisPing:    func(context.Context) error { return redisErr },
			ConfigSource: source,
			Cache:        manager,
			Metrics:      m,
			Logger:       logger,
		})
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reqBody *strings.Reader
		if body == "" {
			reqBody = strings.NewReader("")
		} else {
			reqBody = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reqBody)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	Describe("POST /api/v1/heartbeats", func() {
		It("accepts a heartbeat with 202", func() {
			rec := do(http.MethodPost, "/api/v1/heartbeats",
				`{"instanceId":"i-1","serviceName":"svc-A","configHash":"aa"}`)
			Expect(rec.Code).To(Equal(http.StatusAccepted))

			var body map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("status", "accepted"))
			Expect(body).To(HaveKeyWithValue("instanceId", "i-1"))
			Expect(publisher.published).To(HaveLen(1))
		})

		It("rejects a syntactically broken body with a problem document", func() {
			rec := do(http.MethodPost, "/api/v1/heartbeats", `{"instanceId":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/problem+json"))

			var problem map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &problem)).To(Succeed())
			Expect(problem["status"]).To(BeEquivalentTo(http.StatusBadRequest))
			Expect(problem["instance"]).To(Equal("/api/v1/heartbeats"))
		})

		It("rejects a heartbeat missing required fields", func() {
			rec := do(http.MethodPost, "/api/v1/heartbeats", `{"serviceName":"svc-A"}`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(publisher.published).To(BeEmpty())
		})
	})

	Describe("GET /api/v1/instances/{instanceID}", func() {
		It("returns the instance record", func() {
			inst := models.NewServiceInstance("i-1", "svc-id", nil, now)
			inst.Status = models.StatusDrift
			reader.instances["i-1"] = inst

			rec := do(http.MethodGet, "/api/v1/instances/i-1", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var got models.ServiceInstance
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got.InstanceID).To(Equal("i-1"))
			Expect(got.Status).To(Equal(models.StatusDrift))
		})

		It("maps a missing instance to 404", func() {
			rec := do(http.MethodGet, "/api/v1/instances/ghost", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/problem+json"))
		})
	})

	Describe("GET /api/v1/services/{serviceName}/instances", func() {
		It("returns the service with its instances", func() {
			svc := models.NewOrphanService("svc-A", models.DetectedByBatch, now)
			reader.services["svc-A"] = svc
			reader.byService[svc.ID] = []*models.ServiceInstance{
				models.NewServiceInstance("i-1", svc.ID, nil, now),
			}

			rec := do(http.MethodGet, "/api/v1/services/svc-A/instances", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body struct {
				Service   models.ApplicationService `json:"service"`
				Instances []models.ServiceInstance  `json:"instances"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Service.DisplayName).To(Equal("svc-A"))
			Expect(body.Instances).To(HaveLen(1))
		})

		It("maps an unknown service to 404", func() {
			rec := do(http.MethodGet, "/api/v1/services/ghost/instances", "")
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/v1/services/{serviceName}/drift-events", func() {
		It("defaults the page size to 50", func() {
			rec := do(http.MethodGet, "/api/v1/services/svc-A/drift-events", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reader.lastLimit).To(Equal(50))
		})

		It("renders an empty event list as an array", func() {
			rec := do(http.MethodGet, "/api/v1/services/svc-A/drift-events", "")
			Expect(rec.Body.String()).To(ContainSubstring(`"events":[]`))
		})

		It("honors an explicit limit", func() {
			rec := do(http.MethodGet, "/api/v1/services/svc-A/drift-events?limit=5", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(reader.lastLimit).To(Equal(5))
		})

		It("rejects out-of-range limits", func() {
			Expect(do(http.MethodGet, "/api/v1/services/svc-A/drift-events?limit=0", "").Code).
				To(Equal(http.StatusBadRequest))
			Expect(do(http.MethodGet, "/api/v1/services/svc-A/drift-events?limit=nope", "").Code).
				To(Equal(http.StatusBadRequest))
		})
	})

	Describe("health endpoints", func() {
		It("reports UP when the core dependencies answer", func() {
			rec := do(http.MethodGet, "/health", "")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["status"]).To(Equal("UP"))
		})

		It("reports 503 when postgres is down", func() {
			db.err = context.DeadlineExceeded
			rec := do(http.MethodGet, "/health", "")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("reports 503 when redis is down", func() {
			redisErr = context.DeadlineExceeded
			rec := do(http.MethodGet, "/health", "")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("is always live", func() {
			Expect(do(http.MethodGet, "/health/live", "").Code).To(Equal(http.StatusOK))
		})

		It("flips readiness to 503 once shutdown begins", func() {
			Expect(do(http.MethodGet, "/health/ready", "").Code).To(Equal(http.StatusOK))
			srv.BeginShutdown()
			rec := do(http.MethodGet, "/health/ready", "")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Body.String()).To(ContainSubstring("SHUTTING_DOWN"))
		})

		It("gates readiness on the database", func() {
			db.err = context.DeadlineExceeded
			Expect(do(http.MethodGet, "/health/ready", "").Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("GET /metrics", func() {
		It("exposes the private registry", func() {
			do(http.MethodPost, "/api/v1/heartbeats",
				`{"instanceId":"i-1","serviceName":"svc-A"}`)
			rec := do(http.MethodGet, "/metrics", "")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("test_heartbeats_received_total"))
		})
	})
})
