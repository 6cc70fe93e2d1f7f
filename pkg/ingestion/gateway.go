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

// Package ingestion is the entry point for heartbeats. The gateway
// validates the payload and hands it to the bus producer keyed by service
// name; everything downstream is asynchronous.
package ingestion

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

// Publisher is the bus-facing side of the gateway.
type Publisher interface {
	Publish(ctx context.Context, payload models.HeartbeatPayload) error
}

// Gateway accepts heartbeats for asynchronous processing.
type Gateway struct {
	producer Publisher
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewGateway builds the ingestion gateway.
func NewGateway(producer Publisher, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	return &Gateway{
		producer: producer,
		validate: validator.New(),
		metrics:  m,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// Enqueue validates a heartbeat and hands it to the bus. Acceptance means
// the heartbeat will be processed eventually; it says nothing about drift
// evaluation, which happens in the batch processor.
func (g *Gateway) Enqueue(ctx context.Context, payload models.HeartbeatPayload) error {
	start := g.nowFn()
	if err := g.validate.Struct(payload); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidInput, "heartbeat requires instanceId and serviceName", err)
	}
	if payload.SentAt.IsZero() {
		payload.SentAt = start
	}
	if err := g.producer.Publish(ctx, payload); err != nil {
		return err
	}
	g.metrics.HeartbeatsReceived.Inc()
	g.metrics.IngestionLatency.Observe(g.nowFn().Sub(start).Seconds())
	g.logger.Debug("heartbeat accepted",
		zap.String("instance", payload.InstanceID),
		zap.String("service", payload.ServiceName))
	return nil
}
