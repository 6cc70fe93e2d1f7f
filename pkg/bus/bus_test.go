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

package bus_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/bus"
	"github.com/HZeroxium/central-config-server/pkg/config"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

type batchRecorder struct {
	mu       sync.Mutex
	batches  [][]bus.Message
	failures int
}

func (r *batchRecorder) handle(_ context.Context, batch []bus.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("transient handler failure")
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *batchRecorder) instanceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, batch := range r.batches {
		for _, msg := range batch {
			ids = append(ids, msg.Payload.InstanceID)
		}
	}
	return ids
}

var _ = Describe("Heartbeat bus", func() {
	var (
		mini     *miniredis.Miniredis
		client   *redis.Client
		busCfg   config.BusConfig
		batchCfg config.BatchConfig
	)

	BeforeEach(func() {
		var err error
		mini, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mini.Addr()})
		busCfg = config.BusConfig{
			Topic:          "heartbeats",
			PartitionCount: 4,
			ConsumerGroup:  "drift-processor",
			ProduceTimeout: config.Duration(time.Second),
			MaxInFlight:    16,
			ClaimMinIdle:   config.Duration(10 * time.Millisecond),
		}
		batchCfg = config.BatchConfig{MaxSize: 10, MaxWait: config.Duration(50 * time.Millisecond)}
	})

	AfterEach(func() {
		_ = client.Close()
		mini.Close()
	})

	Describe("Producer", func() {
		It("appends each heartbeat to its service's partition stream", func() {
			producer := bus.NewProducer(client, busCfg, config.Policies{}, newTestMetrics(), zap.NewNop())
			payload := models.HeartbeatPayload{InstanceID: "i-1", ServiceName: "svc-A", ConfigHash: "aa"}

			Expect(producer.Publish(context.Background(), payload)).To(Succeed())
			producer.Close()

			stream := bus.StreamName("heartbeats", bus.Partition("svc-A", 4))
			entries, err := client.XRange(context.Background(), stream, "-", "+").Result()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))

			var decoded models.HeartbeatPayload
			Expect(json.Unmarshal([]byte(entries[0].Values["payload"].(string)), &decoded)).To(Succeed())
			Expect(decoded.InstanceID).To(Equal("i-1"))
			Expect(decoded.ConfigHash).To(Equal("aa"))
			Expect(entries[0].Values).To(HaveKey("enqueuedAt"))
		})

		It("keeps one service on one partition across publishes", func() {
			producer := bus.NewProducer(client, busCfg, config.Policies{}, newTestMetrics(), zap.NewNop())
			for i := 0; i < 5; i++ {
				Expect(producer.Publish(context.Background(), models.HeartbeatPayload{
					InstanceID: "i-1", ServiceName: "svc-A",
				})).To(Succeed())
			}
			producer.Close()

			stream := bus.StreamName("heartbeats", bus.Partition("svc-A", 4))
			Expect(client.XLen(context.Background(), stream).Val()).To(Equal(int64(5)))
		})
	})

	Describe("Consumer", func() {
		var (
			ctx      context.Context
			cancel   context.CancelFunc
			recorder *batchRecorder
			consumer *bus.Consumer
		)

		BeforeEach(func() {
			ctx, cancel = context.WithCancel(context.Background())
			recorder = &batchRecorder{}
		})

		AfterEach(func() {
			cancel()
			consumer.Wait()
		})

		startConsumer := func() {
			consumer = bus.NewConsumer(client, busCfg, batchCfg, "node-test", recorder.handle, newTestMetrics(), zap.NewNop())
			Expect(consumer.Start(ctx)).To(Succeed())
		}

		publish := func(instanceID, serviceName string) {
			producer := bus.NewProducer(client, busCfg, config.Policies{}, newTestMetrics(), zap.NewNop())
			Expect(producer.Publish(context.Background(), models.HeartbeatPayload{
				InstanceID: instanceID, ServiceName: serviceName, ConfigHash: "aa",
			})).To(Succeed())
			producer.Close()
		}

		It("delivers published heartbeats and acks them", func() {
			publish("i-1", "svc-A")
			publish("i-2", "svc-B")
			startConsumer()

			Eventually(recorder.instanceIDs, 5*time.Second, 20*time.Millisecond).
				Should(ConsistOf("i-1", "i-2"))

			stream := bus.StreamName("heartbeats", bus.Partition("svc-A", 4))
			Eventually(func() int64 {
				pending, err := client.XPending(context.Background(), stream, busCfg.ConsumerGroup).Result()
				if err != nil {
					return -1
				}
				return pending.Count
			}, 5*time.Second, 20*time.Millisecond).Should(BeZero())
		})

		It("redelivers a batch the handler failed", func() {
			recorder.failures = 1
			publish("i-1", "svc-A")
			startConsumer()

			// First delivery errors and stays pending; the claim pass picks
			// it back up and the second delivery succeeds.
			Eventually(recorder.instanceIDs, 10*time.Second, 20*time.Millisecond).
				Should(ConsistOf("i-1"))
		})

		It("acks and skips entries that do not decode", func() {
			stream := bus.StreamName("heartbeats", bus.Partition("svc-A", 4))
			Expect(client.XAdd(context.Background(), &redis.XAddArgs{
				Stream: stream,
				Values: map[string]any{"payload": "not-json"},
			}).Err()).To(Succeed())
			publish("i-good", "svc-A")
			startConsumer()

			Eventually(recorder.instanceIDs, 5*time.Second, 20*time.Millisecond).
				Should(ConsistOf("i-good"))
			Eventually(func() int64 {
				pending, err := client.XPending(context.Background(), stream, busCfg.ConsumerGroup).Result()
				if err != nil {
					return -1
				}
				return pending.Count
			}, 5*time.Second, 20*time.Millisecond).Should(BeZero())
		})
	})
})
