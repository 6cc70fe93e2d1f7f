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

// Package cache implements the layered cache tier: a bounded local
// provider, a circuit-breaker-guarded distributed provider, a two-level
// composition of both, and a noop provider, all behind a delegating
// manager whose active provider can be switched at runtime.
package cache

import (
	"context"
	"time"
)

// ProviderKind names a cache backend.
type ProviderKind string

const (
	KindLocal       ProviderKind = "LOCAL"
	KindDistributed ProviderKind = "DISTRIBUTED"
	KindTwoLevel    ProviderKind = "TWO_LEVEL"
	KindNoop        ProviderKind = "NOOP"
)

// Provider is one cache backend. Implementations are safe for concurrent
// use. cacheName scopes keys into independent named caches.
type Provider interface {
	Kind() ProviderKind
	Get(ctx context.Context, cacheName, key string) (Entry, bool, error)
	Set(ctx context.Context, cacheName, key string, entry Entry, ttl time.Duration) error
	Invalidate(ctx context.Context, cacheName, key string) error
	InvalidatePattern(ctx context.Context, cacheName, pattern string) error
	Clear(ctx context.Context, cacheName string) error
}

// Settings is the per-named-cache policy.
type Settings struct {
	TTL             time.Duration
	MaxSize         int
	AllowNullValues bool
	// ProviderOverride pins this cache to one backend regardless of the
	// manager's active provider. Empty means "follow the active provider".
	ProviderOverride ProviderKind
}

// Loader fetches the value for a key on a cache miss.
type Loader func(ctx context.Context) (Entry, error)

// LookupState classifies the outcome of GetOrLoad.
type LookupState int

const (
	// Found means a concrete value is present (cached or freshly loaded).
	Found LookupState = iota
	// Missing means the authoritative answer is "no value" (a cached or
	// loaded null).
	Missing
	// Unavailable means neither cache nor loader could answer. Callers
	// must treat the value as unknown, never as a mismatch.
	Unavailable
)

// Lookup is the result sum type returned by GetOrLoad.
type Lookup struct {
	State LookupState
	Entry Entry
	Err   error
}

// StringValue unwraps a Found string entry; ok is false for Missing,
// Unavailable, or a non-string entry.
func (l Lookup) StringValue() (string, bool) {
	if l.State != Found {
		return "", false
	}
	return l.Entry.AsString()
}
