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
	"container/list"
	"context"
	"path"
	"sync"
	"time"
)

// LocalProvider is the bounded in-memory tier. Each named cache is an
// independent LRU with two eviction clocks: expire-after-write (the TTL
// handed to Set) and an optional expire-after-access window.
//
// A plain mutex-protected map with an intrusive LRU list keeps Get/Set
// amortised O(1); sync.Map gives no control over eviction order.
type LocalProvider struct {
	mu        sync.Mutex
	caches    map[string]*localCache
	maxSize   func(cacheName string) int
	accessTTL time.Duration
	nowFn     func() time.Time
}

type localCache struct {
	entries map[string]*list.Element
	lru     *list.List // front = most recently used
}

type localEntry struct {
	key        string
	entry      Entry
	writtenAt  time.Time
	accessedAt time.Time
	ttl        time.Duration
}

// LocalOption tunes the local provider.
type LocalOption func(*LocalProvider)

// WithAccessTTL enables the expire-after-access clock.
func WithAccessTTL(d time.Duration) LocalOption {
	return func(p *LocalProvider) { p.accessTTL = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) LocalOption {
	return func(p *LocalProvider) { p.nowFn = now }
}

// NewLocalProvider builds the local tier. maxSize resolves the bound for a
// named cache (zero or negative means unbounded).
func NewLocalProvider(maxSize func(cacheName string) int, opts ...LocalOption) *LocalProvider {
	p := &LocalProvider{
		caches:  make(map[string]*localCache),
		maxSize: maxSize,
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kind implements Provider.
func (p *LocalProvider) Kind() ProviderKind { return KindLocal }

// Get implements Provider.
func (p *LocalProvider) Get(_ context.Context, cacheName, key string) (Entry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.caches[cacheName]
	if c == nil {
		return Entry{}, false, nil
	}
	el, ok := c.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	le := el.Value.(*localEntry)
	now := p.nowFn()
	if p.expired(le, now) {
		c.remove(el)
		return Entry{}, false, nil
	}
	le.accessedAt = now
	c.lru.MoveToFront(el)
	return le.entry, true, nil
}

// Set implements Provider. A zero ttl disables the write clock.
func (p *LocalProvider) Set(_ context.Context, cacheName, key string, entry Entry, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.caches[cacheName]
	if c == nil {
		c = &localCache{entries: make(map[string]*list.Element), lru: list.New()}
		p.caches[cacheName] = c
	}
	now := p.nowFn()
	if el, ok := c.entries[key]; ok {
		le := el.Value.(*localEntry)
		le.entry = entry
		le.writtenAt = now
		le.accessedAt = now
		le.ttl = ttl
		c.lru.MoveToFront(el)
		return nil
	}
	le := &localEntry{key: key, entry: entry, writtenAt: now, accessedAt: now, ttl: ttl}
	c.entries[key] = c.lru.PushFront(le)

	if max := p.maxSize(cacheName); max > 0 {
		for len(c.entries) > max {
			oldest := c.lru.Back()
			if oldest == nil {
				break
			}
			c.remove(oldest)
		}
	}
	return nil
}

// Invalidate implements Provider.
func (p *LocalProvider) Invalidate(_ context.Context, cacheName, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.caches[cacheName]; c != nil {
		if el, ok := c.entries[key]; ok {
			c.remove(el)
		}
	}
	return nil
}

// InvalidatePattern implements Provider. Patterns use glob syntax
// ('*', '?', character classes), matching the distributed tier's MATCH
// semantics closely enough for the keys this system uses.
func (p *LocalProvider) InvalidatePattern(_ context.Context, cacheName, pattern string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.caches[cacheName]
	if c == nil {
		return nil
	}
	for key, el := range c.entries {
		if ok, _ := path.Match(pattern, key); ok {
			c.remove(el)
		}
	}
	return nil
}

// Clear implements Provider.
func (p *LocalProvider) Clear(_ context.Context, cacheName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.caches, cacheName)
	return nil
}

// Len reports the live entry count of a named cache (tests, stats).
func (p *LocalProvider) Len(cacheName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.caches[cacheName]; c != nil {
		return len(c.entries)
	}
	return 0
}

func (p *LocalProvider) expired(le *localEntry, now time.Time) bool {
	if le.ttl > 0 && now.Sub(le.writtenAt) >= le.ttl {
		return true
	}
	if p.accessTTL > 0 && now.Sub(le.accessedAt) >= p.accessTTL {
		return true
	}
	return false
}

func (c *localCache) remove(el *list.Element) {
	le := el.Value.(*localEntry)
	c.lru.Remove(el)
	delete(c.entries, le.key)
}
