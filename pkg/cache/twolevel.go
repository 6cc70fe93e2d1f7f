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
	"time"
)

// TwoLevelProvider composes the local tier (L1) over the distributed tier
// (L2). Reads fill L1 from L2 hits. In write-through mode a write lands in
// L2 first and then L1; otherwise the local entry is discarded after the
// confirmed L2 write so L1 can never serve a value L2 does not hold.
// Cross-node L1 discard rides on the distributed tier's invalidation
// publisher.
type TwoLevelProvider struct {
	l1           *LocalProvider
	l2           *DistributedProvider
	writeThrough bool
}

// NewTwoLevelProvider builds the composed tier.
func NewTwoLevelProvider(l1 *LocalProvider, l2 *DistributedProvider, writeThrough bool) *TwoLevelProvider {
	return &TwoLevelProvider{l1: l1, l2: l2, writeThrough: writeThrough}
}

// Kind implements Provider.
func (p *TwoLevelProvider) Kind() ProviderKind { return KindTwoLevel }

// Get implements Provider.
func (p *TwoLevelProvider) Get(ctx context.Context, cacheName, key string) (Entry, bool, error) {
	if entry, ok, err := p.l1.Get(ctx, cacheName, key); err == nil && ok {
		return entry, true, nil
	}
	entry, ok, err := p.l2.Get(ctx, cacheName, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	// Backfill without a write TTL of its own; the L2 TTL governs and the
	// invalidation channel keeps peers honest.
	_ = p.l1.Set(ctx, cacheName, key, entry, 0)
	return entry, true, nil
}

// Set implements Provider.
func (p *TwoLevelProvider) Set(ctx context.Context, cacheName, key string, entry Entry, ttl time.Duration) error {
	err := p.l2.Set(ctx, cacheName, key, entry, ttl)
	if err != nil {
		// L2 write dropped (breaker open or backend down). Keep the value
		// locally so this node still benefits, and report the degradation.
		_ = p.l1.Set(ctx, cacheName, key, entry, ttl)
		return err
	}
	if p.writeThrough {
		return p.l1.Set(ctx, cacheName, key, entry, ttl)
	}
	return p.l1.Invalidate(ctx, cacheName, key)
}

// Invalidate implements Provider.
func (p *TwoLevelProvider) Invalidate(ctx context.Context, cacheName, key string) error {
	_ = p.l1.Invalidate(ctx, cacheName, key)
	return p.l2.Invalidate(ctx, cacheName, key)
}

// InvalidatePattern implements Provider.
func (p *TwoLevelProvider) InvalidatePattern(ctx context.Context, cacheName, pattern string) error {
	_ = p.l1.InvalidatePattern(ctx, cacheName, pattern)
	return p.l2.InvalidatePattern(ctx, cacheName, pattern)
}

// Clear implements Provider.
func (p *TwoLevelProvider) Clear(ctx context.Context, cacheName string) error {
	_ = p.l1.Clear(ctx, cacheName)
	return p.l2.Clear(ctx, cacheName)
}
