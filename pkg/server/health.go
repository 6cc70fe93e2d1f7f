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

package server

import (
	"context"
	"net/http"
	"time"
)

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports the aggregate health of the control plane and its
// dependencies. The config source being DOWN degrades to 200 with a DOWN
// component: the pipeline keeps running on cached hashes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	components := map[string]any{
		"postgres":     s.checkPinger(ctx, s.deps.DB.Ping),
		"redis":        s.checkPinger(ctx, s.deps.RedisPing),
		"configSource": s.deps.ConfigSource.Health(ctx),
	}
	components["cache"] = map[string]string{
		"status":   "UP",
		"provider": string(s.deps.Cache.ActiveKind()),
	}

	status := "UP"
	code := http.StatusOK
	for _, name := range []string{"postgres", "redis"} {
		if ch, ok := components[name].(componentHealth); ok && ch.Status != "UP" {
			status = "DOWN"
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}

func (s *Server) checkPinger(ctx context.Context, ping func(context.Context) error) componentHealth {
	if ping == nil {
		return componentHealth{Status: "UNKNOWN"}
	}
	if err := ping(ctx); err != nil {
		return componentHealth{Status: "DOWN", Error: err.Error()}
	}
	return componentHealth{Status: "UP"}
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// handleReadiness reports 503 once shutdown begins so load balancers stop
// routing here before the listener closes.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "SHUTTING_DOWN"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if ch := s.checkPinger(ctx, s.deps.DB.Ping); ch.Status != "UP" {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "DOWN",
			"postgres": ch,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}
