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
	"encoding/json"
	"fmt"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
)

// EntryKind tags the concrete type of a cached value so distributed reads
// can reconstruct it.
type EntryKind string

const (
	EntryString EntryKind = "string"
	EntryJSON   EntryKind = "json"
	EntryNull   EntryKind = "null"
)

// Entry is a cached value. Null entries record an authoritative "no value"
// for caches with allowNullValues.
type Entry struct {
	Kind  EntryKind       `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// StringEntry wraps a string value.
func StringEntry(s string) Entry {
	raw, _ := json.Marshal(s)
	return Entry{Kind: EntryString, Value: raw}
}

// JSONEntry wraps an arbitrary JSON document.
func JSONEntry(raw []byte) Entry {
	return Entry{Kind: EntryJSON, Value: json.RawMessage(raw)}
}

// NullEntry records an authoritative absent value.
func NullEntry() Entry { return Entry{Kind: EntryNull} }

// IsNull reports whether the entry is a cached null.
func (e Entry) IsNull() bool { return e.Kind == EntryNull }

// AsString unwraps a string entry.
func (e Entry) AsString() (string, bool) {
	if e.Kind != EntryString {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// Marshal encodes the entry in the tagged wire format used by the
// distributed tier.
func (e Entry) Marshal() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSerializationFailure, "encode cache entry", err)
	}
	return raw, nil
}

// UnmarshalEntry decodes the tagged wire format.
func UnmarshalEntry(raw []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, apperrors.Wrap(apperrors.KindSerializationFailure, "decode cache entry", err)
	}
	switch e.Kind {
	case EntryString, EntryJSON, EntryNull:
		return e, nil
	default:
		return Entry{}, apperrors.New(apperrors.KindSerializationFailure, fmt.Sprintf("unknown cache entry kind %q", e.Kind))
	}
}
