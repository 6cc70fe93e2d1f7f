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

package processor

import (
	"time"

	"github.com/HZeroxium/central-config-server/pkg/models"
)

// Outcome is the side effect of evaluating one heartbeat: at most one drift
// event (transition into DRIFT only) and an optional refresh request.
type Outcome struct {
	Event   *models.DriftEvent
	Refresh bool
}

// StateMachine applies one heartbeat to an instance record. It mutates the
// record in memory only; the processor commits the batch afterwards.
type StateMachine struct {
	backoff *BackoffTable
}

// NewStateMachine builds the per-heartbeat evaluator.
func NewStateMachine(backoff *BackoffTable) *StateMachine {
	return &StateMachine{backoff: backoff}
}

// Apply merges the heartbeat's bookkeeping fields and runs the drift
// transition. expected is the configuration hash the instance should carry;
// expectedKnown is false when neither cache, source, nor fallback could
// answer, in which case the instance goes UNKNOWN and never into drift.
func (sm *StateMachine) Apply(inst *models.ServiceInstance, payload models.HeartbeatPayload, expected string, expectedKnown bool, now time.Time) Outcome {
	applied := payload.ConfigHash

	if payload.Host != "" {
		inst.Host = payload.Host
	}
	if payload.Port != 0 {
		inst.Port = payload.Port
	}
	if payload.Version != "" {
		inst.Version = payload.Version
	}
	inst.Environment = payload.EffectiveEnvironment()
	if len(payload.Metadata) > 0 {
		if inst.Metadata == nil {
			inst.Metadata = models.StringMap{}
		}
		for k, v := range payload.Metadata {
			inst.Metadata[k] = v
		}
	}
	inst.LastAppliedHash = applied
	inst.LastSeenAt = now
	inst.UpdatedAt = now

	// A missing hash on either side can never count as drift.
	if !expectedKnown || expected == "" || applied == "" {
		inst.Status = models.StatusUnknown
		inst.HasDrift = false
		inst.DriftDetectedAt = nil
		sm.backoff.Clear(payload.ServiceName, inst.InstanceID)
		return Outcome{}
	}

	prev := inst.HasDrift
	inst.ExpectedHash = expected

	if expected == applied {
		inst.Status = models.StatusHealthy
		inst.HasDrift = false
		inst.DriftDetectedAt = nil
		sm.backoff.Clear(payload.ServiceName, inst.InstanceID)
		return Outcome{}
	}

	inst.Status = models.StatusDrift
	inst.HasDrift = true
	inst.ConfigHash = expected
	if !prev {
		detectedAt := now
		inst.DriftDetectedAt = &detectedAt
		sm.backoff.StartDrift(payload.ServiceName, inst.InstanceID)
		return Outcome{
			Event:   models.NewDriftEvent(inst, payload.ServiceName, expected, applied, now),
			Refresh: true,
		}
	}
	return Outcome{Refresh: sm.backoff.Advance(payload.ServiceName, inst.InstanceID)}
}
