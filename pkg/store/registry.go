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
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

// FindByDisplayNames implements ServiceRegistry.
func (p *Postgres) FindByDisplayNames(ctx context.Context, names []string) (map[string]*models.ApplicationService, error) {
	out := make(map[string]*models.ApplicationService, len(names))
	if len(names) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM application_services WHERE display_name IN (?)`, names)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternalError, "build service lookup", err)
	}
	query = p.db.Rebind(query)

	var rows []*models.ApplicationService
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistenceFailure, "load services", err)
	}
	for _, svc := range rows {
		out[svc.DisplayName] = svc
	}
	return out, nil
}

const insertServiceQuery = `
INSERT INTO application_services (
    id, display_name, owner_team_id, environments, lifecycle,
    created_at, updated_at, created_by
) VALUES (
    :id, :display_name, :owner_team_id, :environments, :lifecycle,
    :created_at, :updated_at, :created_by
)
ON CONFLICT (display_name) DO NOTHING`

// Save implements ServiceRegistry. Concurrent creators racing on the
// same displayName converge on whichever row won the insert.
func (p *Postgres) Save(ctx context.Context, svc *models.ApplicationService) (*models.ApplicationService, error) {
	if _, err := p.db.NamedExecContext(ctx, insertServiceQuery, svc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistenceFailure, "insert service "+svc.DisplayName, err)
	}
	var persisted models.ApplicationService
	err := p.db.GetContext(ctx, &persisted,
		p.db.Rebind(`SELECT * FROM application_services WHERE display_name = ?`), svc.DisplayName)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistenceFailure, "reread service "+svc.DisplayName, err)
	}
	return &persisted, nil
}

// UpdateEnvironments implements ServiceRegistry.
func (p *Postgres) UpdateEnvironments(ctx context.Context, id string, envs models.StringList, updatedAt time.Time) error {
	_, err := p.db.ExecContext(ctx,
		p.db.Rebind(`UPDATE application_services SET environments = ?, updated_at = ? WHERE id = ?`),
		envs, updatedAt, id)
	if err != nil {
		return apperrors.Wrap(apperrors.KindPersistenceFailure, "update environments for service "+id, err)
	}
	return nil
}

// FindServiceByID returns one service row (facade reads).
func (p *Postgres) FindServiceByID(ctx context.Context, id string) (*models.ApplicationService, error) {
	var svc models.ApplicationService
	err := p.db.GetContext(ctx, &svc, p.db.Rebind(`SELECT * FROM application_services WHERE id = ?`), id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, "service "+id, err)
	}
	return &svc, nil
}

// FindServiceByDisplayName returns one service row by its human name.
func (p *Postgres) FindServiceByDisplayName(ctx context.Context, name string) (*models.ApplicationService, error) {
	var svc models.ApplicationService
	err := p.db.GetContext(ctx, &svc, p.db.Rebind(`SELECT * FROM application_services WHERE display_name = ?`), name)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindNotFound, "service "+name, err)
	}
	return &svc, nil
}
