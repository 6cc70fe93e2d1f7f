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

// Package bus carries heartbeats from the ingestion gateway to the batch
// processor over Redis Streams. The topic is split into a fixed number of
// partition streams and every heartbeat for one service name lands on the
// same partition, so per-service ordering holds end to end.
package bus

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

const (
	fieldPayload    = "payload"
	fieldEnqueuedAt = "enqueuedAt"
)

// Message is one heartbeat delivery read from a partition stream.
type Message struct {
	// ID is the stream entry id, used to ack the delivery.
	ID         string
	Partition  int
	Payload    models.HeartbeatPayload
	EnqueuedAt time.Time
}

// Partition maps a service name onto a partition index. All heartbeats of
// one service hash to the same partition.
func Partition(serviceName string, partitionCount int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(serviceName))
	return int(h.Sum32() % uint32(partitionCount))
}

// StreamName names the Redis stream backing one partition.
func StreamName(topic string, partition int) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

func encodeValues(payload models.HeartbeatPayload, enqueuedAt time.Time) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSerializationFailure, "encode heartbeat", err)
	}
	return map[string]any{
		fieldPayload:    string(raw),
		fieldEnqueuedAt: enqueuedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func decodeMessage(partition int, entry redis.XMessage) (Message, error) {
	msg := Message{ID: entry.ID, Partition: partition}
	raw, ok := entry.Values[fieldPayload].(string)
	if !ok {
		return msg, apperrors.New(apperrors.KindSerializationFailure, "stream entry missing payload field")
	}
	if err := json.Unmarshal([]byte(raw), &msg.Payload); err != nil {
		return msg, apperrors.Wrap(apperrors.KindSerializationFailure, "decode heartbeat", err)
	}
	if ts, ok := entry.Values[fieldEnqueuedAt].(string); ok {
		msg.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return msg, nil
}
