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
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/cache"
)

var _ = Describe("TwoLevelProvider", func() {
	var (
		ctx      context.Context
		mini     *miniredis.Miniredis
		client   *redis.Client
		l1       *cache.LocalProvider
		l2       *cache.DistributedProvider
		provider *cache.TwoLevelProvider
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mini, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mini.Addr()})
		l1 = cache.NewLocalProvider(func(string) int { return 0 })
		l2 = cache.NewDistributedProvider(client, cache.DistributedConfig{
			KeyPrefix: "node-test",
			OpTimeout: time.Second,
		}, nil, nil, zap.NewNop())
		provider = cache.NewTwoLevelProvider(l1, l2, true)
	})

	AfterEach(func() {
		_ = client.Close()
		mini.Close()
	})

	It("writes through to both tiers", func() {
		Expect(provider.Set(ctx, "config-hash", "k", cache.StringEntry("v"), time.Minute)).To(Succeed())
		Expect(l1.Len("config-hash")).To(Equal(1))
		_, ok, _ := l2.Get(ctx, "config-hash", "k")
		Expect(ok).To(BeTrue())
	})

	It("backfills L1 from an L2 hit", func() {
		Expect(l2.Set(ctx, "config-hash", "k", cache.StringEntry("v"), time.Minute)).To(Succeed())
		Expect(l1.Len("config-hash")).To(BeZero())

		entry, ok, err := provider.Get(ctx, "config-hash", "k")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		value, _ := entry.AsString()
		Expect(value).To(Equal("v"))
		Expect(l1.Len("config-hash")).To(Equal(1))
	})

	It("keeps the value locally when the L2 write is dropped", func() {
		mini.Close()
		err := provider.Set(ctx, "config-hash", "k", cache.StringEntry("v"), time.Minute)
		Expect(err).To(HaveOccurred())

		_, ok, lerr := l1.Get(ctx, "config-hash", "k")
		Expect(lerr).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("discards the local entry after a confirmed remote write when write-through is off", func() {
		provider = cache.NewTwoLevelProvider(l1, l2, false)
		Expect(l1.Set(ctx, "config-hash", "k", cache.StringEntry("old"), 0)).To(Succeed())

		Expect(provider.Set(ctx, "config-hash", "k", cache.StringEntry("new"), time.Minute)).To(Succeed())
		Expect(l1.Len("config-hash")).To(BeZero())

		entry, ok, _ := provider.Get(ctx, "config-hash", "k")
		Expect(ok).To(BeTrue())
		value, _ := entry.AsString()
		Expect(value).To(Equal("new"))
	})

	It("invalidates both tiers", func() {
		Expect(provider.Set(ctx, "config-hash", "k", cache.StringEntry("v"), time.Minute)).To(Succeed())
		Expect(provider.Invalidate(ctx, "config-hash", "k")).To(Succeed())

		_, ok, _ := l1.Get(ctx, "config-hash", "k")
		Expect(ok).To(BeFalse())
		_, ok, _ = l2.Get(ctx, "config-hash", "k")
		Expect(ok).To(BeFalse())
	})
})
