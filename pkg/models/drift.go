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

import (
	"time"

	"github.com/google/uuid"
)

// DriftSeverity ranks a drift event.
type DriftSeverity string

const (
	SeverityLow      DriftSeverity = "LOW"
	SeverityMedium   DriftSeverity = "MEDIUM"
	SeverityHigh     DriftSeverity = "HIGH"
	SeverityCritical DriftSeverity = "CRITICAL"
)

// DriftEventStatus is the workflow state of a drift event.
type DriftEventStatus string

const (
	DriftDetected DriftEventStatus = "DETECTED"
	DriftResolved DriftEventStatus = "RESOLVED"
	DriftAck      DriftEventStatus = "ACK"
)

// DetectedByBatch marks events produced by the heartbeat batch processor.
const DetectedByBatch = "heartbeat-batch"

// DriftEvent is an append-only record of one transition into the DRIFT
// state. The logical dedup key (instanceId, expectedHash, appliedHash,
// detectedAt) makes redelivered batches idempotent.
type DriftEvent struct {
	ID           string           `db:"id" json:"id"`
	ServiceName  string           `db:"service_name" json:"serviceName"`
	InstanceID   string           `db:"instance_id" json:"instanceId"`
	ServiceID    string           `db:"service_id" json:"serviceId"`
	TeamID       *string          `db:"team_id" json:"teamId,omitempty"`
	Environment  string           `db:"environment" json:"environment"`
	ExpectedHash string           `db:"expected_hash" json:"expectedHash"`
	AppliedHash  string           `db:"applied_hash" json:"appliedHash"`
	Severity     DriftSeverity    `db:"severity" json:"severity"`
	Status       DriftEventStatus `db:"status" json:"status"`
	DetectedAt   time.Time        `db:"detected_at" json:"detectedAt"`
	DetectedBy   string           `db:"detected_by" json:"detectedBy"`
	Notes        string           `db:"notes" json:"notes,omitempty"`
}

// NewDriftEvent builds a DETECTED event for a drift transition.
func NewDriftEvent(inst *ServiceInstance, serviceName, expected, applied string, now time.Time) *DriftEvent {
	return &DriftEvent{
		ID:           uuid.NewString(),
		ServiceName:  serviceName,
		InstanceID:   inst.InstanceID,
		ServiceID:    inst.ServiceID,
		TeamID:       inst.TeamID,
		Environment:  inst.Environment,
		ExpectedHash: expected,
		AppliedHash:  applied,
		Severity:     SeverityMedium,
		Status:       DriftDetected,
		DetectedAt:   now,
		DetectedBy:   DetectedByBatch,
	}
}
