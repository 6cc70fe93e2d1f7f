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

// Package log provides the shared zap logger constructor used by every
// binary and component in the control plane.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the service logger.
type Options struct {
	// Development switches to the human-readable console encoder.
	Development bool
	// Level is the minimum enabled level (0 = info, -1 = debug).
	Level int
	// ServiceName is attached to every entry as the "service" field.
	ServiceName string
}

// NewLogger builds a zap logger with the service field pre-attached.
// Production mode emits JSON; development mode emits console output with
// stack traces on warnings.
func NewLogger(opts Options) *zap.Logger {
	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(opts.Level))

	logger, err := cfg.Build()
	if err != nil {
		// Config above is static and valid; a failure here means the
		// process cannot log at all, so fall back to the no-op logger.
		return zap.NewNop()
	}
	if opts.ServiceName != "" {
		logger = logger.With(zap.String("service", opts.ServiceName))
	}
	return logger
}

// Sync flushes buffered entries. Safe to defer in main; sync errors on
// stderr sinks are expected and ignored.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}
