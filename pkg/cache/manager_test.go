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

package cache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/cache"
)

var _ = Describe("DelegatingManager", func() {
	var (
		ctx     context.Context
		local   *cache.LocalProvider
		manager *cache.DelegatingManager
		loads   atomic.Int32
	)

	loader := func(value string) cache.Loader {
		return func(context.Context) (cache.Entry, error) {
			loads.Add(1)
			return cache.StringEntry(value), nil
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		loads.Store(0)
		local = cache.NewLocalProvider(func(string) int { return 0 })
		var err error
		manager, err = cache.NewDelegatingManager(
			map[cache.ProviderKind]cache.Provider{
				cache.KindLocal: local,
				cache.KindNoop:  cache.NewNoopProvider(),
			},
			cache.KindLocal,
			cache.Settings{TTL: time.Minute, AllowNullValues: true},
			map[string]cache.Settings{
				"config-hash": {TTL: time.Minute, AllowNullValues: true},
				"pinned":      {TTL: time.Minute, ProviderOverride: cache.KindNoop},
			},
			newTestMetrics(), zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	It("loads once and serves subsequent reads from cache", func() {
		first := manager.GetOrLoad(ctx, "config-hash", "svc:prod", loader("aa"))
		Expect(first.State).To(Equal(cache.Found))

		second := manager.GetOrLoad(ctx, "config-hash", "svc:prod", loader("aa"))
		Expect(second.State).To(Equal(cache.Found))
		value, ok := second.StringValue()
		Expect(ok).To(BeTrue())
		Expect(value).To(Equal("aa"))
		Expect(loads.Load()).To(Equal(int32(1)))
	})

	It("caches an authoritative null as Missing", func() {
		nullLoader := func(context.Context) (cache.Entry, error) {
			loads.Add(1)
			return cache.NullEntry(), nil
		}
		Expect(manager.GetOrLoad(ctx, "config-hash", "gone:prod", nullLoader).State).To(Equal(cache.Missing))
		Expect(manager.GetOrLoad(ctx, "config-hash", "gone:prod", nullLoader).State).To(Equal(cache.Missing))
		Expect(loads.Load()).To(Equal(int32(1)), "the null answer itself is cached")
	})

	It("reports Unavailable when the loader fails", func() {
		result := manager.GetOrLoad(ctx, "config-hash", "svc:prod", func(context.Context) (cache.Entry, error) {
			return cache.Entry{}, errors.New("source down")
		})
		Expect(result.State).To(Equal(cache.Unavailable))
		Expect(result.Err).To(HaveOccurred())
	})

	It("honors a per-cache provider override", func() {
		Expect(manager.GetOrLoad(ctx, "pinned", "k", loader("v")).State).To(Equal(cache.Found))
		Expect(manager.GetOrLoad(ctx, "pinned", "k", loader("v")).State).To(Equal(cache.Found))
		Expect(loads.Load()).To(Equal(int32(2)), "the noop override never stores")
	})

	It("switches the active provider without losing prior entries", func() {
		Expect(manager.GetOrLoad(ctx, "config-hash", "svc:prod", loader("aa")).State).To(Equal(cache.Found))
		Expect(manager.ActiveKind()).To(Equal(cache.KindLocal))

		Expect(manager.SwitchProvider(cache.KindNoop)).To(Succeed())
		Expect(manager.ActiveKind()).To(Equal(cache.KindNoop))
		Expect(manager.GetOrLoad(ctx, "config-hash", "svc:prod", loader("aa")).State).To(Equal(cache.Found))
		Expect(loads.Load()).To(Equal(int32(2)), "noop always reloads")

		Expect(manager.SwitchProvider(cache.KindLocal)).To(Succeed())
		Expect(manager.GetOrLoad(ctx, "config-hash", "svc:prod", nil).State).To(Equal(cache.Found),
			"the local tier kept its entry across the switch")
	})

	It("rejects switching to an unconstructed provider", func() {
		Expect(manager.SwitchProvider(cache.KindDistributed)).NotTo(Succeed())
		Expect(manager.ActiveKind()).To(Equal(cache.KindLocal))
	})

	It("invalidates through the active provider", func() {
		Expect(manager.GetOrLoad(ctx, "config-hash", "svc:prod", loader("aa")).State).To(Equal(cache.Found))
		Expect(manager.Invalidate(ctx, "config-hash", "svc:prod")).To(Succeed())
		Expect(manager.GetOrLoad(ctx, "config-hash", "svc:prod", nil).State).To(Equal(cache.Missing))
	})
})
