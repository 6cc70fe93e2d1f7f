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

// Package processor turns batches of heartbeats into registry updates,
// drift events, and refresh requests. One batch is one transactional
// cycle: bulk load, in-memory evaluation, bulk commit, post-commit
// refresh dispatch.
package processor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/bus"
	"github.com/HZeroxium/central-config-server/pkg/cache"
	"github.com/HZeroxium/central-config-server/pkg/confighash"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
	"github.com/HZeroxium/central-config-server/pkg/models"
	"github.com/HZeroxium/central-config-server/pkg/store"
)

// ConfigHashCache is the named cache holding expected hashes keyed by
// "serviceName:environment".
const ConfigHashCache = "config-hash"

// Refresher triggers a refresh broadcast after a batch commits.
type Refresher interface {
	Trigger(ctx context.Context, destination string) error
}

// Processor executes batch cycles. It is the only writer of ServiceInstance
// and DriftEvent records and owns the backoff table for the process.
type Processor struct {
	instances store.InstanceStore
	registry  store.ServiceRegistry
	driftLog  store.DriftLog
	cache     *cache.DelegatingManager
	hashes    confighash.Source
	refresher Refresher
	machine   *StateMachine
	metrics   *metrics.Metrics
	logger    *zap.Logger
	nowFn     func() time.Time
}

// NewProcessor wires the batch processor.
func NewProcessor(
	instances store.InstanceStore,
	registry store.ServiceRegistry,
	driftLog store.DriftLog,
	cacheManager *cache.DelegatingManager,
	hashes confighash.Source,
	refresher Refresher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		instances: instances,
		registry:  registry,
		driftLog:  driftLog,
		cache:     cacheManager,
		hashes:    hashes,
		refresher: refresher,
		machine:   NewStateMachine(NewBackoffTable()),
		metrics:   m,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// Backoff exposes the process-local backoff table.
func (p *Processor) Backoff() *BackoffTable { return p.machine.backoff }

// expectedHash is the resolved answer for one (service, environment) pair.
type expectedHash struct {
	hash  string
	known bool
}

// HandleBatch runs one transactional cycle over a batch read from a single
// partition. A returned error leaves the whole batch pending on the bus.
func (p *Processor) HandleBatch(ctx context.Context, batch []bus.Message) error {
	if len(batch) == 0 {
		return nil
	}
	start := p.nowFn()
	p.metrics.BatchSize.Observe(float64(len(batch)))

	instances, err := p.loadInstances(ctx, batch)
	if err != nil {
		p.metrics.BatchFailures.Inc()
		return err
	}
	services := p.loadServices(ctx, batch)
	hashes := p.loadExpectedHashes(ctx, batch)

	var (
		modified   = make(map[string]*models.ServiceInstance)
		order      []string
		events     []*models.DriftEvent
		refreshSet = make(map[string]struct{})
		refreshes  []string
		grown      = make(map[string]*models.ApplicationService)
	)
	now := p.nowFn()

	for _, msg := range batch {
		payload := msg.Payload
		if payload.InstanceID == "" || payload.ServiceName == "" {
			p.metrics.HeartbeatsSkipped.WithLabelValues("invalid").Inc()
			continue
		}
		svc, ok := services[payload.ServiceName]
		if !ok {
			p.metrics.HeartbeatsSkipped.WithLabelValues("service-unresolved").Inc()
			continue
		}

		inst, ok := instances[payload.InstanceID]
		if !ok {
			inst = models.NewServiceInstance(payload.InstanceID, svc.ID, svc.OwnerTeamID, now)
			instances[payload.InstanceID] = inst
		}
		inst.ServiceID = svc.ID
		inst.TeamID = svc.OwnerTeamID

		env := payload.EffectiveEnvironment()
		if merged, grew := svc.Environments.Merge(env); grew {
			svc.Environments = merged
			grown[svc.ID] = svc
		}

		resolved := hashes[payload.HashKey()]
		outcome := p.machine.Apply(inst, payload, resolved.hash, resolved.known, now)

		if _, seen := modified[inst.InstanceID]; !seen {
			order = append(order, inst.InstanceID)
		}
		modified[inst.InstanceID] = inst
		if outcome.Event != nil {
			events = append(events, outcome.Event)
		}
		if outcome.Refresh {
			dest := payload.ServiceName + ":" + inst.InstanceID
			if _, seen := refreshSet[dest]; !seen {
				refreshSet[dest] = struct{}{}
				refreshes = append(refreshes, dest)
			}
		}
	}

	if err := p.commit(ctx, order, modified, events, grown); err != nil {
		p.metrics.BatchFailures.Inc()
		return err
	}

	for _, dest := range refreshes {
		if err := p.refresher.Trigger(ctx, dest); err != nil {
			p.logger.Warn("refresh dispatch failed, next drift cycle retries",
				zap.String("destination", dest), zap.Error(err))
		}
	}

	p.metrics.BatchDuration.Observe(p.nowFn().Sub(start).Seconds())
	return nil
}

func (p *Processor) loadInstances(ctx context.Context, batch []bus.Message) (map[string]*models.ServiceInstance, error) {
	idSet := make(map[string]struct{}, len(batch))
	var ids []string
	for _, msg := range batch {
		id := msg.Payload.InstanceID
		if id == "" {
			continue
		}
		if _, ok := idSet[id]; !ok {
			idSet[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	rows, err := p.instances.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.ServiceInstance, len(rows))
	for _, inst := range rows {
		out[inst.InstanceID] = inst
	}
	return out, nil
}

// loadServices resolves every service name in the batch, creating orphan
// records for unknown names. A failed orphan insert skips only the payloads
// naming that service.
func (p *Processor) loadServices(ctx context.Context, batch []bus.Message) map[string]*models.ApplicationService {
	nameSet := make(map[string]struct{}, len(batch))
	var names []string
	for _, msg := range batch {
		name := msg.Payload.ServiceName
		if name == "" {
			continue
		}
		if _, ok := nameSet[name]; !ok {
			nameSet[name] = struct{}{}
			names = append(names, name)
		}
	}

	services, err := p.registry.FindByDisplayNames(ctx, names)
	if err != nil {
		p.logger.Error("service registry bulk read failed", zap.Error(err))
		services = make(map[string]*models.ApplicationService)
	}
	for _, name := range names {
		if _, ok := services[name]; ok {
			continue
		}
		orphan := models.NewOrphanService(name, models.DetectedByBatch, p.nowFn())
		persisted, err := p.registry.Save(ctx, orphan)
		if err != nil {
			p.logger.Warn("orphan service creation failed, skipping its heartbeats",
				zap.String("service", name), zap.Error(err))
			continue
		}
		services[name] = persisted
		p.metrics.OrphansCreated.Inc()
		p.logger.Info("orphan service created",
			zap.String("service", name), zap.String("id", persisted.ID))
	}
	return services
}

// loadExpectedHashes resolves the expected hash for every distinct
// (service, environment) pair through the cache tier. An unavailable answer
// maps to unknown; the state machine then refuses to classify drift.
func (p *Processor) loadExpectedHashes(ctx context.Context, batch []bus.Message) map[string]expectedHash {
	out := make(map[string]expectedHash)
	for _, msg := range batch {
		payload := msg.Payload
		if payload.ServiceName == "" {
			continue
		}
		key := payload.HashKey()
		if _, ok := out[key]; ok {
			continue
		}
		serviceName, environment := payload.ServiceName, payload.EffectiveEnvironment()
		lookup := p.cache.GetOrLoad(ctx, ConfigHashCache, key, func(ctx context.Context) (cache.Entry, error) {
			hash, found, err := p.hashes.ExpectedHash(ctx, serviceName, environment)
			if err != nil {
				return cache.Entry{}, err
			}
			if !found {
				return cache.NullEntry(), nil
			}
			return cache.StringEntry(hash), nil
		})
		switch lookup.State {
		case cache.Found:
			hash, ok := lookup.StringValue()
			out[key] = expectedHash{hash: hash, known: ok}
		default:
			if lookup.State == cache.Unavailable {
				p.logger.Warn("expected hash unavailable, instances go UNKNOWN",
					zap.String("key", key), zap.Error(lookup.Err))
			}
			out[key] = expectedHash{}
		}
	}
	return out
}

func (p *Processor) commit(ctx context.Context, order []string, modified map[string]*models.ServiceInstance, events []*models.DriftEvent, grown map[string]*models.ApplicationService) error {
	batch := make([]*models.ServiceInstance, 0, len(order))
	for _, id := range order {
		batch = append(batch, modified[id])
	}
	result, err := p.instances.BulkUpsert(ctx, batch)
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := p.driftLog.Record(ctx, event); err != nil {
			return err
		}
		p.metrics.DriftEventsEmitted.Inc()
	}
	for _, svc := range grown {
		if err := p.registry.UpdateEnvironments(ctx, svc.ID, svc.Environments, p.nowFn()); err != nil {
			// Environments re-merge on the next heartbeat; not worth a redelivery.
			p.logger.Warn("environment merge persist failed",
				zap.String("service", svc.DisplayName), zap.Error(err))
		}
	}
	p.logger.Debug("batch committed",
		zap.Int("inserted", result.Inserted),
		zap.Int("modified", result.Modified),
		zap.Int("driftEvents", len(events)))
	return nil
}
