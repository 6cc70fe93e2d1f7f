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

// Package confighash fetches the authoritative configuration document for
// a (service, environment) pair from the external config source and
// reduces it to a stable SHA-256 digest.
package confighash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
)

// Canonicalize rewrites a JSON document into its canonical form: object
// keys sorted, no insignificant whitespace, numbers kept verbatim. Two
// documents that differ only in key order or formatting canonicalize to
// identical bytes.
func Canonicalize(doc []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSerializationFailure, "parse config document", err)
	}
	// encoding/json marshals map keys in sorted order and emits no
	// whitespace, which is exactly the canonical form.
	out, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSerializationFailure, "canonicalize config document", err)
	}
	return out, nil
}

// HashDocument canonicalizes doc and returns its lowercase hex SHA-256.
func HashDocument(doc []byte) (string, error) {
	canonical, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashString digests an arbitrary string (mock strategies).
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
