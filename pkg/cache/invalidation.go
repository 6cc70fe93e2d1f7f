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
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultInvalidationChannel is the pub/sub channel peers listen on.
const DefaultInvalidationChannel = "cache:invalidation"

// InvalidationMessage tells peer nodes to drop L1 entries after a remote
// write. Exactly one of Key, Pattern, or ClearAll is set.
type InvalidationMessage struct {
	CacheName string `json:"cacheName"`
	Key       string `json:"key,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	ClearAll  bool   `json:"clearAll,omitempty"`
	Origin    string `json:"origin"`
}

// InvalidationPublisher fans writes out on the invalidation channel.
// Publish failures are logged and swallowed: coherence degrades to TTL
// expiry, it never fails the write.
type InvalidationPublisher struct {
	client  redis.UniversalClient
	channel string
	origin  string
	logger  *zap.Logger
}

// NewInvalidationPublisher builds a publisher identified by origin (this
// node's id).
func NewInvalidationPublisher(client redis.UniversalClient, channel, origin string, logger *zap.Logger) *InvalidationPublisher {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	return &InvalidationPublisher{client: client, channel: channel, origin: origin, logger: logger}
}

// Publish sends one invalidation message.
func (p *InvalidationPublisher) Publish(ctx context.Context, msg InvalidationMessage) {
	if p == nil {
		return
	}
	msg.Origin = p.origin
	raw, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn("failed to encode invalidation message", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		p.logger.Warn("failed to publish cache invalidation",
			zap.String("cache", msg.CacheName),
			zap.Error(err))
	}
}

// InvalidationSubscriber drops matching L1 entries when a peer announces a
// write. Messages originated by this node are ignored.
type InvalidationSubscriber struct {
	client  redis.UniversalClient
	channel string
	origin  string
	l1      *LocalProvider
	logger  *zap.Logger
}

// NewInvalidationSubscriber wires the subscriber to the shared L1.
func NewInvalidationSubscriber(client redis.UniversalClient, channel, origin string, l1 *LocalProvider, logger *zap.Logger) *InvalidationSubscriber {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	return &InvalidationSubscriber{client: client, channel: channel, origin: origin, l1: l1, logger: logger}
}

// Start subscribes and consumes until ctx is cancelled. Subscription
// failures are non-fatal: the node logs and continues without cross-node
// L1 coherence.
func (s *InvalidationSubscriber) Start(ctx context.Context) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		s.logger.Warn("cache invalidation subscription failed, L1 coherence degraded to TTL",
			zap.String("channel", s.channel),
			zap.Error(err))
		_ = sub.Close()
		return
	}
	s.logger.Info("cache invalidation subscriber started", zap.String("channel", s.channel))

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				s.handle(ctx, []byte(m.Payload))
			}
		}
	}()
}

func (s *InvalidationSubscriber) handle(ctx context.Context, payload []byte) {
	var msg InvalidationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("dropping malformed invalidation message", zap.Error(err))
		return
	}
	if msg.Origin == s.origin {
		return
	}
	switch {
	case msg.ClearAll:
		_ = s.l1.Clear(ctx, msg.CacheName)
	case msg.Pattern != "":
		_ = s.l1.InvalidatePattern(ctx, msg.CacheName, msg.Pattern)
	case msg.Key != "":
		_ = s.l1.Invalidate(ctx, msg.CacheName, msg.Key)
	}
}
