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

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

const insertDriftEventQuery = `
INSERT INTO drift_events (
    id, instance_id, service_id, team_id, service_name, environment,
    expected_hash, applied_hash, severity, status,
    detected_by, detected_at, notes
) VALUES (
    :id, :instance_id, :service_id, :team_id, :service_name, :environment,
    :expected_hash, :applied_hash, :severity, :status,
    :detected_by, :detected_at, :notes
)
ON CONFLICT (instance_id, expected_hash, applied_hash, detected_at) DO NOTHING`

// Record implements DriftLog. Redelivered batches replay the same logical
// event and land on the conflict target, so the log stays duplicate free.
func (p *Postgres) Record(ctx context.Context, event *models.DriftEvent) error {
	if _, err := p.db.NamedExecContext(ctx, insertDriftEventQuery, event); err != nil {
		return apperrors.Wrap(apperrors.KindPersistenceFailure, "save drift event for "+event.InstanceID, err)
	}
	return nil
}

// RecentByService implements DriftLog.
func (p *Postgres) RecentByService(ctx context.Context, serviceName string, limit int) ([]*models.DriftEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.DriftEvent
	err := p.db.SelectContext(ctx, &out,
		p.db.Rebind(`SELECT * FROM drift_events WHERE service_name = ? ORDER BY detected_at DESC LIMIT ?`),
		serviceName, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistenceFailure, "load drift events for "+serviceName, err)
	}
	return out, nil
}
