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
	"net/http"
	"time"
)

// HealthDetails is the config-source fragment of the /health contract.
type HealthDetails struct {
	Service      string `json:"service"`
	URL          string `json:"url"`
	Status       string `json:"status"`
	ResponseCode int    `json:"responseCode,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Health probes the config source and reports UP/DOWN with details.
// The probe bypasses the resilience chain: health must observe the real
// state of the source, not the breaker's.
func (c *Client) Health(ctx context.Context) HealthDetails {
	details := HealthDetails{
		Service: c.discovery.ServiceName,
		URL:     c.baseURL,
		Status:  "DOWN",
	}
	if details.Service == "" {
		details.Service = "config-source"
	}
	if c.mock.Enabled {
		details.Status = "UP"
		return details
	}
	if c.baseURL == "" {
		details.Error = "no config source URL configured"
		return details
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/actuator/health", nil)
	if err != nil {
		details.Error = err.Error()
		return details
	}
	resp, err := c.http.Do(req)
	if err != nil {
		details.Error = err.Error()
		return details
	}
	defer resp.Body.Close()

	details.ResponseCode = resp.StatusCode
	if resp.StatusCode < 500 {
		details.Status = "UP"
	}
	return details
}
