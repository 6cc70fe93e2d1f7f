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

package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/config"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

// Producer appends heartbeats to the partitioned topic. Publish returns as
// soon as the delivery is handed to the broker write path; the gateway never
// waits on broker round trips. Broker failures surface asynchronously on the
// failed-heartbeats counter.
type Producer struct {
	client   redis.UniversalClient
	cfg      config.BusConfig
	breaker  *gobreaker.CircuitBreaker
	inflight *semaphore.Weighted
	wg       sync.WaitGroup
	metrics  *metrics.Metrics
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewProducer builds the heartbeat producer.
func NewProducer(client redis.UniversalClient, cfg config.BusConfig, policy config.Policies, m *metrics.Metrics, logger *zap.Logger) *Producer {
	windowSize := policy.CircuitBreaker.SlidingWindowSize
	if windowSize <= 0 {
		windowSize = 20
	}
	failureRate := policy.CircuitBreaker.FailureRateThreshold
	if failureRate <= 0 {
		failureRate = 0.5
	}
	openTimeout := policy.CircuitBreaker.OpenTimeout.Std()
	if openTimeout <= 0 {
		openTimeout = 10 * time.Second
	}
	halfOpen := policy.CircuitBreaker.HalfOpenMaxCalls
	if halfOpen <= 0 {
		halfOpen = 4
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 256
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bus-producer",
		MaxRequests: uint32(halfOpen),
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(windowSize) {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("bus producer breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			m.ObserveBreakerState(name, to)
		},
	})

	return &Producer{
		client:   client,
		cfg:      cfg,
		breaker:  breaker,
		inflight: semaphore.NewWeighted(int64(maxInFlight)),
		metrics:  m,
		logger:   logger,
		nowFn:    time.Now,
	}
}

// Publish appends a heartbeat to its service's partition. The append itself
// runs on a background goroutine; the returned error only reports immediate
// backpressure (in-flight budget exhausted) or encoding failure.
func (p *Producer) Publish(ctx context.Context, payload models.HeartbeatPayload) error {
	values, err := encodeValues(payload, p.nowFn())
	if err != nil {
		return err
	}
	if !p.inflight.TryAcquire(1) {
		return apperrors.New(apperrors.KindExternalUnavailable, "heartbeat bus backlog full")
	}

	stream := StreamName(p.cfg.Topic, Partition(payload.ServiceName, p.cfg.PartitionCount))
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inflight.Release(1)
		if err := p.append(stream, values); err != nil {
			p.metrics.HeartbeatsFailed.Inc()
			p.logger.Error("heartbeat append failed",
				zap.String("stream", stream),
				zap.String("instance", payload.InstanceID),
				zap.Error(err))
		}
	}()
	return nil
}

func (p *Producer) append(stream string, values map[string]any) error {
	timeout := p.cfg.ProduceTimeout.Std()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	_, err := p.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: values,
		}).Result()
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.Wrap(apperrors.KindCircuitOpen, "bus producer breaker open", err)
	default:
		return apperrors.Wrap(apperrors.KindExternalUnavailable, "bus append failed", err)
	}
}

// Close waits for in-flight appends to land.
func (p *Producer) Close() {
	p.wg.Wait()
}
