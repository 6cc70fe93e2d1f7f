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

package models

import "time"

// InstanceStatus is the drift-health classification of an instance.
type InstanceStatus string

const (
	StatusHealthy   InstanceStatus = "HEALTHY"
	StatusDrift     InstanceStatus = "DRIFT"
	StatusUnknown   InstanceStatus = "UNKNOWN"
	StatusUnhealthy InstanceStatus = "UNHEALTHY"
)

// ServiceInstance is the mutable registry record for one running instance,
// keyed by InstanceID. Only the batch processor mutates it.
//
// Invariants maintained by the processor:
//   - HasDrift ⇔ Status == DRIFT ⇔ DriftDetectedAt != nil
//   - Status == UNKNOWN ⇔ expected or applied hash is absent
//   - CreatedAt ≤ UpdatedAt ≤ LastSeenAt
type ServiceInstance struct {
	InstanceID string  `db:"instance_id" json:"instanceId"`
	ServiceID  string  `db:"service_id" json:"serviceId"`
	TeamID     *string `db:"team_id" json:"teamId,omitempty"`

	Host        string    `db:"host" json:"host,omitempty"`
	Port        int       `db:"port" json:"port,omitempty"`
	Environment string    `db:"environment" json:"environment"`
	Version     string    `db:"version" json:"version,omitempty"`
	Metadata    StringMap `db:"metadata" json:"metadata,omitempty"`

	Status          InstanceStatus `db:"status" json:"status"`
	HasDrift        bool           `db:"has_drift" json:"hasDrift"`
	DriftDetectedAt *time.Time     `db:"drift_detected_at" json:"driftDetectedAt,omitempty"`
	ExpectedHash    string         `db:"expected_hash" json:"expectedHash,omitempty"`
	ConfigHash      string         `db:"config_hash" json:"configHash,omitempty"`
	LastAppliedHash string         `db:"last_applied_hash" json:"lastAppliedHash,omitempty"`

	LastSeenAt time.Time `db:"last_seen_at" json:"lastSeenAt"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// NewServiceInstance builds the fresh HEALTHY shell for a first heartbeat.
func NewServiceInstance(instanceID, serviceID string, teamID *string, now time.Time) *ServiceInstance {
	return &ServiceInstance{
		InstanceID: instanceID,
		ServiceID:  serviceID,
		TeamID:     teamID,
		Status:     StatusHealthy,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastSeenAt: now,
	}
}
