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

// ServiceLifecycle tracks the lifecycle stage of an application service.
type ServiceLifecycle string

const (
	LifecycleActive     ServiceLifecycle = "ACTIVE"
	LifecycleDeprecated ServiceLifecycle = "DEPRECATED"
	LifecycleRetired    ServiceLifecycle = "RETIRED"
)

// ApplicationService maps a logical service (the heartbeat displayName) to
// its owning team and the environments it has been seen in. A nil
// OwnerTeamID marks an orphan created on demand by the batch processor.
type ApplicationService struct {
	ID           string           `db:"id" json:"id"`
	DisplayName  string           `db:"display_name" json:"displayName"`
	OwnerTeamID  *string          `db:"owner_team_id" json:"ownerTeamId,omitempty"`
	Environments StringList       `db:"environments" json:"environments"`
	Lifecycle    ServiceLifecycle `db:"lifecycle" json:"lifecycle"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updatedAt"`
	CreatedBy    string           `db:"created_by" json:"createdBy,omitempty"`
}

// NewOrphanService synthesizes the record persisted when a heartbeat names
// an unknown service. Orphans start with the three standard environments.
func NewOrphanService(displayName, createdBy string, now time.Time) *ApplicationService {
	return &ApplicationService{
		ID:           uuid.NewString(),
		DisplayName:  displayName,
		OwnerTeamID:  nil,
		Environments: StringList{"dev", "prod", "staging"},
		Lifecycle:    LifecycleActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    createdBy,
	}
}
