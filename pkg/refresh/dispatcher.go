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

// Package refresh asks the external config source to broadcast a refresh
// to drifting instances. The broadcast is advisory: the control plane
// observes convergence through later heartbeats, never through the
// broadcast response.
package refresh

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
)

// Dispatcher triggers refresh broadcasts against the config source.
type Dispatcher struct {
	http    *http.Client
	baseURL string
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDispatcher builds the refresh dispatcher.
func NewDispatcher(baseURL string, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		http:    &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: m,
		logger:  logger,
	}
}

// Trigger requests a refresh broadcast. destination narrows the broadcast
// to one service or instance; the config source may still fan out wider,
// which is harmless because refreshed instances re-report their hash.
func (d *Dispatcher) Trigger(ctx context.Context, destination string) error {
	if d.baseURL == "" {
		return apperrors.New(apperrors.KindExternalUnavailable, "no config source URL for refresh broadcast")
	}
	url := d.baseURL + "/actuator/busrefresh"
	if destination != "" {
		url += "/" + destination
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("{}"))
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternalError, "build refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		d.metrics.RefreshFailed.Inc()
		return apperrors.Wrap(apperrors.KindExternalUnavailable, "refresh broadcast failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.metrics.RefreshFailed.Inc()
		return apperrors.New(apperrors.KindExternalUnavailable,
			fmt.Sprintf("refresh broadcast returned %d", resp.StatusCode))
	}
	d.metrics.RefreshTriggered.Inc()
	d.logger.Info("refresh broadcast requested", zap.String("destination", destination))
	return nil
}
