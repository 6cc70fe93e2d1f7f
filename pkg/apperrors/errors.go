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

// Package apperrors defines the error taxonomy shared across the control
// plane. Errors carry a Kind rather than a concrete type so callers can
// route on failure class without depending on the failing component.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation decisions.
type Kind string

const (
	KindInvalidInput         Kind = "InvalidInput"
	KindNotFound             Kind = "NotFound"
	KindExternalUnavailable  Kind = "ExternalUnavailable"
	KindTimeout              Kind = "Timeout"
	KindCircuitOpen          Kind = "CircuitOpen"
	KindCacheUnavailable     Kind = "CacheUnavailable"
	KindPersistenceFailure   Kind = "PersistenceFailure"
	KindSerializationFailure Kind = "SerializationFailure"
	KindInternalError        Kind = "InternalError"
)

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a kinded error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a kinded error wrapping cause. A nil cause returns nil so
// call sites can wrap unconditionally.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf creates a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, walking the wrap chain. Unclassified
// errors report KindInternalError; nil reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalError
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
