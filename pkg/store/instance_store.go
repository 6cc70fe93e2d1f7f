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

package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

const upsertInstanceQuery = `
INSERT INTO service_instances (
    instance_id, service_id, team_id,
    host, port, environment, version, metadata,
    status, has_drift, drift_detected_at,
    expected_hash, config_hash, last_applied_hash,
    last_seen_at, created_at, updated_at
) VALUES (
    :instance_id, :service_id, :team_id,
    :host, :port, :environment, :version, :metadata,
    :status, :has_drift, :drift_detected_at,
    :expected_hash, :config_hash, :last_applied_hash,
    :last_seen_at, :created_at, :updated_at
)
ON CONFLICT (instance_id) DO UPDATE SET
    service_id = EXCLUDED.service_id,
    team_id = EXCLUDED.team_id,
    host = EXCLUDED.host,
    port = EXCLUDED.port,
    environment = EXCLUDED.environment,
    version = EXCLUDED.version,
    metadata = EXCLUDED.metadata,
    status = EXCLUDED.status,
    has_drift = EXCLUDED.has_drift,
    drift_detected_at = EXCLUDED.drift_detected_at,
    expected_hash = EXCLUDED.expected_hash,
    config_hash = EXCLUDED.config_hash,
    last_applied_hash = EXCLUDED.last_applied_hash,
    last_seen_at = EXCLUDED.last_seen_at,
    updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

// BulkUpsert implements InstanceStore. The whole batch commits in one
// transaction; any row failure rolls everything back so the bus can
// redeliver the batch.
func (p *Postgres) BulkUpsert(ctx context.Context, instances []*models.ServiceInstance) (UpsertResult, error) {
	var result UpsertResult
	if len(instances) == 0 {
		return result, nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, apperrors.Wrap(apperrors.KindPersistenceFailure, "begin instance upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamedContext(ctx, upsertInstanceQuery)
	if err != nil {
		return result, apperrors.Wrap(apperrors.KindPersistenceFailure, "prepare instance upsert", err)
	}
	defer stmt.Close()

	for _, inst := range instances {
		var inserted bool
		if err := stmt.QueryRowxContext(ctx, inst).Scan(&inserted); err != nil {
			return UpsertResult{}, apperrors.Wrap(apperrors.KindPersistenceFailure, "upsert instance "+inst.InstanceID, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Modified++
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, apperrors.Wrap(apperrors.KindPersistenceFailure, "commit instance upsert", err)
	}
	return result, nil
}

// FindByIDs implements InstanceStore.
func (p *Postgres) FindByIDs(ctx context.Context, ids []string) ([]*models.ServiceInstance, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM service_instances WHERE instance_id IN (?)`, ids)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "build instance lookup", err)
	}
	query = p.db.Rebind(query)

	var out []*models.ServiceInstance
	if err := p.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistenceFailure, "load instances", err)
	}
	return out, nil
}

// FindByID returns one instance (facade reads).
func (p *Postgres) FindByID(ctx context.Context, id string) (*models.ServiceInstance, error) {
	var inst models.ServiceInstance
	err := p.db.GetContext(ctx, &inst, p.db.Rebind(`SELECT * FROM service_instances WHERE instance_id = ?`), id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, "instance "+id, err)
	}
	return &inst, nil
}

// FindByServiceID lists a service's instances (facade reads).
func (p *Postgres) FindByServiceID(ctx context.Context, serviceID string) ([]*models.ServiceInstance, error) {
	var out []*models.ServiceInstance
	err := p.db.SelectContext(ctx, &out,
		p.db.Rebind(`SELECT * FROM service_instances WHERE service_id = ? ORDER BY instance_id`), serviceID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistenceFailure, "load instances for service "+serviceID, err)
	}
	return out, nil
}
