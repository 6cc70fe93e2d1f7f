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

package confighash

import (
	"context"
	"sync/atomic"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
)

// Resolver resolves the config source's logical service name to base URLs.
type Resolver interface {
	Resolve(ctx context.Context, serviceName string) ([]string, error)
}

// StaticResolver load-balances round-robin over a fixed endpoint list.
// It stands in for a registry client in tests and single-node deployments.
type StaticResolver struct {
	endpoints []string
	next      atomic.Uint64
}

// NewStaticResolver builds a resolver over the configured endpoints.
func NewStaticResolver(endpoints []string) *StaticResolver {
	return &StaticResolver{endpoints: endpoints}
}

// Resolve implements Resolver, rotating the instance order per call.
func (r *StaticResolver) Resolve(_ context.Context, serviceName string) ([]string, error) {
	if len(r.endpoints) == 0 {
		return nil, apperrors.Newf(apperrors.KindNotFound, "no instances registered for %s", serviceName)
	}
	start := int(r.next.Add(1)-1) % len(r.endpoints)
	out := make([]string, 0, len(r.endpoints))
	out = append(out, r.endpoints[start:]...)
	out = append(out, r.endpoints[:start]...)
	return out, nil
}
