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

package cache

import (
	"context"
	"time"
)

// NoopProvider stores nothing; every Get is a miss so the loader runs on
// each call. Used to disable caching without touching call sites.
type NoopProvider struct{}

// NewNoopProvider returns the stateless noop tier.
func NewNoopProvider() *NoopProvider { return &NoopProvider{} }

// Kind implements Provider.
func (*NoopProvider) Kind() ProviderKind { return KindNoop }

// Get implements Provider.
func (*NoopProvider) Get(context.Context, string, string) (Entry, bool, error) {
	return Entry{}, false, nil
}

// Set implements Provider.
func (*NoopProvider) Set(context.Context, string, string, Entry, time.Duration) error { return nil }

// Invalidate implements Provider.
func (*NoopProvider) Invalidate(context.Context, string, string) error { return nil }

// InvalidatePattern implements Provider.
func (*NoopProvider) InvalidatePattern(context.Context, string, string) error { return nil }

// Clear implements Provider.
func (*NoopProvider) Clear(context.Context, string) error { return nil }
