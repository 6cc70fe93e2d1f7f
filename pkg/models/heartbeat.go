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

// Package models holds the domain records exchanged between the ingestion
// gateway, the heartbeat bus, the batch processor, and the stores.
package models

import "time"

// DefaultEnvironment is assumed when a heartbeat omits its environment.
const DefaultEnvironment = "default"

// HeartbeatPayload is the immutable self-report an instance publishes on
// the heartbeat bus. Field names are the wire format.
type HeartbeatPayload struct {
	InstanceID  string            `json:"instanceId" validate:"required"`
	ServiceName string            `json:"serviceName" validate:"required"`
	Environment string            `json:"environment,omitempty"`
	Host        string            `json:"host,omitempty"`
	Port        int               `json:"port,omitempty"`
	Version     string            `json:"version,omitempty"`
	ConfigHash  string            `json:"configHash,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SentAt      time.Time         `json:"sentAt,omitempty"`
}

// EffectiveEnvironment returns the reported environment or the default.
func (p HeartbeatPayload) EffectiveEnvironment() string {
	if p.Environment == "" {
		return DefaultEnvironment
	}
	return p.Environment
}

// HashKey is the cache/config-source key for this payload's expected hash.
func (p HeartbeatPayload) HashKey() string {
	return p.ServiceName + ":" + p.EffectiveEnvironment()
}
