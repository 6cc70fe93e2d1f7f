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

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
)

// DistributedProvider is the Redis tier. Every operation runs through a
// sliding-window circuit breaker; while the breaker is open, reads degrade
// to the local fallback (when enabled) and writes are dropped.
//
// Keys on the wire are "<keyPrefix>::<cacheName>::<key>" so multiple
// deployments can share one Redis.
type DistributedProvider struct {
	client    redis.UniversalClient
	breaker   *gobreaker.CircuitBreaker
	keyPrefix string
	fallback  *LocalProvider // nil disables degraded reads
	publisher *InvalidationPublisher
	opTimeout time.Duration
	logger    *zap.Logger
}

// DistributedConfig configures the Redis tier.
type DistributedConfig struct {
	// KeyPrefix is the service-instance segment of wire keys.
	KeyPrefix string
	// OpTimeout bounds each Redis round trip.
	OpTimeout time.Duration
	// Breaker settings; zero values get sensible defaults.
	FailureRateThreshold float64
	SlidingWindowSize    int
	OpenTimeout          time.Duration
	HalfOpenMaxCalls     int
	// OnStateChange observes breaker transitions (metrics).
	OnStateChange func(name string, from, to gobreaker.State)
}

// NewDistributedProvider builds the Redis tier. fallback may be nil;
// publisher may be nil when pub/sub invalidation is disabled.
func NewDistributedProvider(client redis.UniversalClient, cfg DistributedConfig, fallback *LocalProvider, publisher *InvalidationPublisher, logger *zap.Logger) *DistributedProvider {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}
	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 0.5
	}
	if cfg.SlidingWindowSize <= 0 {
		cfg.SlidingWindowSize = 20
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 2
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "distributed-cache",
		MaxRequests: uint32(cfg.HalfOpenMaxCalls),
		Interval:    0, // sliding window handled by ReadyToTrip counts
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.SlidingWindowSize) {
				return false
			}
			rate := float64(counts.TotalFailures) / float64(counts.Requests)
			return rate >= cfg.FailureRateThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("distributed cache breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	})

	return &DistributedProvider{
		client:    client,
		breaker:   breaker,
		keyPrefix: cfg.KeyPrefix,
		fallback:  fallback,
		publisher: publisher,
		opTimeout: cfg.OpTimeout,
		logger:    logger,
	}
}

// Kind implements Provider.
func (p *DistributedProvider) Kind() ProviderKind { return KindDistributed }

func (p *DistributedProvider) wireKey(cacheName, key string) string {
	return fmt.Sprintf("%s::%s::%s", p.keyPrefix, cacheName, key)
}

// Get implements Provider.
func (p *DistributedProvider) Get(ctx context.Context, cacheName, key string) (Entry, bool, error) {
	res, err := p.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
		defer cancel()
		raw, err := p.client.Get(opCtx, p.wireKey(cacheName, key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		if p.fallback != nil {
			return p.fallback.Get(ctx, cacheName, key)
		}
		return Entry{}, false, p.classify(err)
	}
	if res == nil {
		return Entry{}, false, nil
	}
	entry, err := UnmarshalEntry(res.([]byte))
	if err != nil {
		// Poisoned entry: drop it rather than resurfacing forever.
		_ = p.Invalidate(ctx, cacheName, key)
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Set implements Provider. When the breaker is open the write is dropped
// and logged; the caller's value survives in whatever tier wrote through.
func (p *DistributedProvider) Set(ctx context.Context, cacheName, key string, entry Entry, ttl time.Duration) error {
	raw, err := entry.Marshal()
	if err != nil {
		return err
	}
	_, err = p.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
		defer cancel()
		return nil, p.client.Set(opCtx, p.wireKey(cacheName, key), raw, ttl).Err()
	})
	if err != nil {
		p.logger.Warn("distributed cache write dropped",
			zap.String("cache", cacheName),
			zap.String("key", key),
			zap.Error(err))
		return p.classify(err)
	}
	p.publisher.Publish(ctx, InvalidationMessage{CacheName: cacheName, Key: key})
	return nil
}

// Invalidate implements Provider.
func (p *DistributedProvider) Invalidate(ctx context.Context, cacheName, key string) error {
	_, err := p.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
		defer cancel()
		return nil, p.client.Del(opCtx, p.wireKey(cacheName, key)).Err()
	})
	if err != nil {
		return p.classify(err)
	}
	p.publisher.Publish(ctx, InvalidationMessage{CacheName: cacheName, Key: key})
	return nil
}

// InvalidatePattern implements Provider. The pattern applies to the bare
// key, not the wire prefix.
func (p *DistributedProvider) InvalidatePattern(ctx context.Context, cacheName, pattern string) error {
	err := p.scanDelete(ctx, p.wireKey(cacheName, pattern))
	if err != nil {
		return p.classify(err)
	}
	p.publisher.Publish(ctx, InvalidationMessage{CacheName: cacheName, Pattern: pattern})
	return nil
}

// Clear implements Provider.
func (p *DistributedProvider) Clear(ctx context.Context, cacheName string) error {
	err := p.scanDelete(ctx, p.wireKey(cacheName, "*"))
	if err != nil {
		return p.classify(err)
	}
	p.publisher.Publish(ctx, InvalidationMessage{CacheName: cacheName, ClearAll: true})
	return nil
}

func (p *DistributedProvider) scanDelete(ctx context.Context, match string) error {
	_, err := p.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, 4*p.opTimeout)
		defer cancel()
		var cursor uint64
		for {
			keys, next, err := p.client.Scan(opCtx, cursor, match, 256).Result()
			if err != nil {
				return nil, err
			}
			if len(keys) > 0 {
				if err := p.client.Del(opCtx, keys...).Err(); err != nil {
					return nil, err
				}
			}
			if next == 0 {
				return nil, nil
			}
			cursor = next
		}
	})
	return err
}

func (p *DistributedProvider) classify(err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.Wrap(apperrors.KindCircuitOpen, "distributed cache breaker open", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.KindTimeout, "distributed cache timeout", err)
	default:
		return apperrors.Wrap(apperrors.KindCacheUnavailable, "distributed cache error", err)
	}
}
