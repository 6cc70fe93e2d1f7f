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
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
)

// DelegatingManager is the cache tier facade. It resolves named-cache
// policies, dispatches to the active provider (or a per-cache override),
// deduplicates concurrent loads, and supports switching the active
// provider at runtime: the swap is a single atomic store, in-flight calls
// finish on the provider they captured.
//
// The manager does not migrate state between providers on a switch;
// callers orchestrate warmup externally.
type DelegatingManager struct {
	providers map[ProviderKind]Provider
	active    atomic.Pointer[Provider]
	defaults  Settings
	settings  map[string]Settings
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDelegatingManager wires the manager over the constructed providers.
// settings maps cache names to policies; defaults apply to unnamed caches.
func NewDelegatingManager(providers map[ProviderKind]Provider, initial ProviderKind, defaults Settings, settings map[string]Settings, m *metrics.Metrics, logger *zap.Logger) (*DelegatingManager, error) {
	mgr := &DelegatingManager{
		providers: providers,
		defaults:  defaults,
		settings:  settings,
		metrics:   m,
		logger:    logger,
	}
	p, ok := providers[initial]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindInvalidInput, "no %s cache provider constructed", initial)
	}
	mgr.active.Store(&p)
	return mgr, nil
}

// SettingsFor resolves the policy of a named cache.
func (m *DelegatingManager) SettingsFor(cacheName string) Settings {
	if s, ok := m.settings[cacheName]; ok {
		return s
	}
	return m.defaults
}

// ActiveKind reports the currently active provider.
func (m *DelegatingManager) ActiveKind() ProviderKind {
	return (*m.active.Load()).Kind()
}

// SwitchProvider atomically swaps the active provider. In-flight calls
// that captured the previous provider complete on it.
func (m *DelegatingManager) SwitchProvider(kind ProviderKind) error {
	p, ok := m.providers[kind]
	if !ok {
		return apperrors.Newf(apperrors.KindInvalidInput, "unknown cache provider %s", kind)
	}
	prev := m.ActiveKind()
	m.active.Store(&p)
	if prev != kind {
		m.logger.Info("cache provider switched",
			zap.String("from", string(prev)),
			zap.String("to", string(kind)))
	}
	return nil
}

func (m *DelegatingManager) provider(cacheName string) Provider {
	if s, ok := m.settings[cacheName]; ok && s.ProviderOverride != "" {
		if p, ok := m.providers[s.ProviderOverride]; ok {
			return p
		}
	}
	return *m.active.Load()
}

// GetOrLoad returns the cached value for (cacheName, key) or runs loader
// on a miss, storing the result. Concurrent misses for the same key share
// one loader call. Cache backend errors degrade to loader-only; loader
// failure yields Unavailable, never a fabricated value.
func (m *DelegatingManager) GetOrLoad(ctx context.Context, cacheName, key string, loader Loader) Lookup {
	p := m.provider(cacheName)
	tier := string(p.Kind())

	entry, ok, err := p.Get(ctx, cacheName, key)
	if err != nil {
		m.metrics.CacheErrors.WithLabelValues(tier, cacheName).Inc()
		m.logger.Debug("cache read degraded to loader",
			zap.String("cache", cacheName),
			zap.String("key", key),
			zap.Error(err))
	}
	if ok {
		m.metrics.CacheHits.WithLabelValues(tier, cacheName).Inc()
		if entry.IsNull() {
			return Lookup{State: Missing}
		}
		return Lookup{State: Found, Entry: entry}
	}
	m.metrics.CacheMisses.WithLabelValues(tier, cacheName).Inc()

	if loader == nil {
		return Lookup{State: Missing}
	}

	v, err, _ := m.group.Do(cacheName+"\x00"+key, func() (any, error) {
		loaded, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		m.store(ctx, p, cacheName, key, loaded)
		return loaded, nil
	})
	if err != nil {
		return Lookup{State: Unavailable, Err: err}
	}
	loaded := v.(Entry)
	if loaded.IsNull() {
		return Lookup{State: Missing}
	}
	return Lookup{State: Found, Entry: loaded}
}

// Put stores a value through the resolved provider.
func (m *DelegatingManager) Put(ctx context.Context, cacheName, key string, entry Entry) error {
	p := m.provider(cacheName)
	s := m.SettingsFor(cacheName)
	if entry.IsNull() && !s.AllowNullValues {
		return nil
	}
	return p.Set(ctx, cacheName, key, entry, s.TTL)
}

// Invalidate drops one key.
func (m *DelegatingManager) Invalidate(ctx context.Context, cacheName, key string) error {
	return m.provider(cacheName).Invalidate(ctx, cacheName, key)
}

// InvalidatePattern drops all keys matching a glob pattern.
func (m *DelegatingManager) InvalidatePattern(ctx context.Context, cacheName, pattern string) error {
	return m.provider(cacheName).InvalidatePattern(ctx, cacheName, pattern)
}

// Clear drops the whole named cache.
func (m *DelegatingManager) Clear(ctx context.Context, cacheName string) error {
	return m.provider(cacheName).Clear(ctx, cacheName)
}

func (m *DelegatingManager) store(ctx context.Context, p Provider, cacheName, key string, entry Entry) {
	s := m.SettingsFor(cacheName)
	if entry.IsNull() && !s.AllowNullValues {
		return
	}
	if err := p.Set(ctx, cacheName, key, entry, s.TTL); err != nil {
		m.metrics.CacheErrors.WithLabelValues(string(p.Kind()), cacheName).Inc()
		m.logger.Debug("cache store failed after load",
			zap.String("cache", cacheName),
			zap.String("key", key),
			zap.Error(err))
	}
}
