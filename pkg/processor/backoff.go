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

import "sync"

// maxBackoffPow caps the refresh spacing at 2^4 = 16 drifting heartbeats.
const maxBackoffPow = 4

type backoffEntry struct {
	retry int
	pow   int
}

// BackoffTable spaces forced refreshes for persistently drifting instances.
// Entries are process-local, keyed by "serviceName:instanceId", and never
// persisted: after a restart the next drifting heartbeat simply starts the
// cadence over.
type BackoffTable struct {
	mu      sync.Mutex
	entries map[string]*backoffEntry
}

// NewBackoffTable builds an empty table.
func NewBackoffTable() *BackoffTable {
	return &BackoffTable{entries: make(map[string]*backoffEntry)}
}

func backoffKey(serviceName, instanceID string) string {
	return serviceName + ":" + instanceID
}

// StartDrift records a fresh drift transition. The first drifting heartbeat
// always refreshes, so the caller triggers unconditionally after this.
func (t *BackoffTable) StartDrift(serviceName, instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[backoffKey(serviceName, instanceID)] = &backoffEntry{retry: 1, pow: 0}
}

// Advance records one more drifting heartbeat and reports whether a refresh
// is due. When the retry count reaches 2^pow the counter resets and the
// exponent grows, doubling the spacing up to the cap.
func (t *BackoffTable) Advance(serviceName, instanceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := backoffKey(serviceName, instanceID)
	e, ok := t.entries[key]
	if !ok {
		// Drift predates this process (restart). Restart the cadence.
		e = &backoffEntry{}
		t.entries[key] = e
	}
	e.retry++
	if e.retry >= 1<<e.pow {
		e.retry = 0
		if e.pow < maxBackoffPow {
			e.pow++
		}
		return true
	}
	return false
}

// Clear drops the entry when drift resolves or the state goes unknown.
func (t *BackoffTable) Clear(serviceName, instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, backoffKey(serviceName, instanceID))
}

// Snapshot reports the current counters for one instance.
func (t *BackoffTable) Snapshot(serviceName, instanceID string) (retry, pow int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[backoffKey(serviceName, instanceID)]
	if !ok {
		return 0, 0, false
	}
	return e.retry, e.pow, true
}
