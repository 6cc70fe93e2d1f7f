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

// Package store holds the persistence ports for the instance registry,
// the drift log, and the application service registry, plus their
// PostgreSQL implementations.
package store

import (
	"context"
	"time"

	"github.com/HZeroxium/central-config-server/pkg/models"
)

// UpsertResult summarizes one bulk upsert.
type UpsertResult struct {
	Inserted int
	Modified int
}

// InstanceStore persists ServiceInstance records.
type InstanceStore interface {
	// BulkUpsert writes all records atomically (one transaction).
	BulkUpsert(ctx context.Context, instances []*models.ServiceInstance) (UpsertResult, error)
	// FindByIDs returns the records for the given instance ids; unknown
	// ids are simply absent from the result.
	FindByIDs(ctx context.Context, ids []string) ([]*models.ServiceInstance, error)
}

// DriftLog appends drift events. Record is idempotent on the logical key
// (instanceId, expectedHash, appliedHash, detectedAt) so redelivered
// batches do not duplicate events.
type DriftLog interface {
	Record(ctx context.Context, event *models.DriftEvent) error
	// RecentByService lists the newest events for one service (facade reads).
	RecentByService(ctx context.Context, serviceName string, limit int) ([]*models.DriftEvent, error)
}

// ServiceRegistry persists ApplicationService records.
type ServiceRegistry interface {
	FindByDisplayNames(ctx context.Context, names []string) (map[string]*models.ApplicationService, error)
	// Save creates the service if absent, idempotent on displayName, and
	// returns the persisted row (the existing one on conflict).
	Save(ctx context.Context, svc *models.ApplicationService) (*models.ApplicationService, error)
	// UpdateEnvironments persists a grown environment set.
	UpdateEnvironments(ctx context.Context, id string, envs models.StringList, updatedAt time.Time) error
}
