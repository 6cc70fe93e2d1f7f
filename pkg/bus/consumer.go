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
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/config"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
)

// Handler processes one batch of heartbeats from a single partition. A nil
// return acks every delivery in the batch; an error leaves them pending for
// redelivery.
type Handler func(ctx context.Context, batch []Message) error

// Consumer reads the partitioned topic with one goroutine per partition.
// Batches are bounded by the batch size and the batch wait, whichever fills
// first. Deliveries stay pending until the handler succeeds, and entries
// abandoned by a dead consumer are claimed back after ClaimMinIdle.
type Consumer struct {
	client       redis.UniversalClient
	cfg          config.BusConfig
	batch        config.BatchConfig
	consumerName string
	handler      Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger

	wg sync.WaitGroup
}

// NewConsumer builds the partition consumer. consumerName must be unique per
// control-plane node so pending entries can be attributed and reclaimed.
func NewConsumer(client redis.UniversalClient, cfg config.BusConfig, batch config.BatchConfig, consumerName string, handler Handler, m *metrics.Metrics, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:       client,
		cfg:          cfg,
		batch:        batch,
		consumerName: consumerName,
		handler:      handler,
		metrics:      m,
		logger:       logger,
	}
}

// Start creates the consumer groups and launches the partition loops. It
// returns after the loops are running; cancel ctx and call Wait to stop.
func (c *Consumer) Start(ctx context.Context) error {
	for partition := 0; partition < c.cfg.PartitionCount; partition++ {
		stream := StreamName(c.cfg.Topic, partition)
		err := c.client.XGroupCreateMkStream(ctx, stream, c.cfg.ConsumerGroup, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	for partition := 0; partition < c.cfg.PartitionCount; partition++ {
		c.wg.Add(1)
		go c.runPartition(ctx, partition)
	}
	c.logger.Info("heartbeat consumer started",
		zap.String("topic", c.cfg.Topic),
		zap.Int("partitions", c.cfg.PartitionCount),
		zap.String("group", c.cfg.ConsumerGroup))
	return nil
}

// Wait blocks until every partition loop has finished its current batch and
// exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) runPartition(ctx context.Context, partition int) {
	defer c.wg.Done()
	stream := StreamName(c.cfg.Topic, partition)
	logger := c.logger.With(zap.String("stream", stream))

	claimEvery := c.cfg.ClaimMinIdle.Std()
	if claimEvery <= 0 {
		claimEvery = 30 * time.Second
	}
	lastClaim := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(lastClaim) >= claimEvery {
			c.claimAbandoned(ctx, stream, partition, logger)
			lastClaim = time.Now()
		}

		batch, err := c.read(ctx, stream, partition, logger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("partition read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}
		c.deliver(ctx, stream, batch, logger)
	}
}

func (c *Consumer) read(ctx context.Context, stream string, partition int, logger *zap.Logger) ([]Message, error) {
	maxWait := c.batch.MaxWait.Std()
	if maxWait <= 0 {
		maxWait = 500 * time.Millisecond
	}
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.consumerName,
		Streams:  []string{stream, ">"},
		Count:    int64(c.batch.MaxSize),
		Block:    maxWait,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var batch []Message
	for _, streamRes := range res {
		for _, entry := range streamRes.Messages {
			msg, derr := decodeMessage(partition, entry)
			if derr != nil {
				// Poison entries would wedge the partition if left pending.
				logger.Warn("dropping undecodable stream entry",
					zap.String("id", entry.ID), zap.Error(derr))
				c.metrics.HeartbeatsSkipped.WithLabelValues("malformed").Inc()
				c.client.XAck(context.WithoutCancel(ctx), stream, c.cfg.ConsumerGroup, entry.ID)
				continue
			}
			batch = append(batch, msg)
		}
	}
	return batch, nil
}

// deliver runs the handler and acks on success. The handler finishes its
// batch even during shutdown, so deliver uses a non-cancellable context for
// the ack round trip.
func (c *Consumer) deliver(ctx context.Context, stream string, batch []Message, logger *zap.Logger) {
	if err := c.handler(ctx, batch); err != nil {
		logger.Error("batch handler failed, leaving deliveries pending",
			zap.Int("batch", len(batch)), zap.Error(err))
		return
	}
	ids := make([]string, len(batch))
	for i, msg := range batch {
		ids[i] = msg.ID
	}
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.client.XAck(ackCtx, stream, c.cfg.ConsumerGroup, ids...).Err(); err != nil {
		logger.Warn("batch ack failed, expect redelivery", zap.Error(err))
	}
}

// claimAbandoned moves entries that sat pending on a dead consumer past
// ClaimMinIdle over to this consumer. They surface on the next read of the
// pending list, keeping at-least-once delivery across node failures.
func (c *Consumer) claimAbandoned(ctx context.Context, stream string, partition int, logger *zap.Logger) {
	minIdle := c.cfg.ClaimMinIdle.Std()
	if minIdle <= 0 {
		minIdle = 30 * time.Second
	}
	claimed, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.consumerName,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(c.batch.MaxSize),
	}).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			logger.Warn("pending claim failed", zap.Error(err))
		}
		return
	}
	if len(claimed) == 0 {
		return
	}

	var batch []Message
	for _, entry := range claimed {
		msg, derr := decodeMessage(partition, entry)
		if derr != nil {
			c.metrics.HeartbeatsSkipped.WithLabelValues("malformed").Inc()
			c.client.XAck(ctx, stream, c.cfg.ConsumerGroup, entry.ID)
			continue
		}
		batch = append(batch, msg)
	}
	if len(batch) == 0 {
		return
	}
	logger.Info("reprocessing claimed deliveries", zap.Int("count", len(batch)))
	c.deliver(ctx, stream, batch, logger)
}
