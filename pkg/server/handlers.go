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
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/HZeroxium/central-config-server/pkg/apperrors"
	"github.com/HZeroxium/central-config-server/pkg/models"
)

// handleHeartbeat accepts a heartbeat for asynchronous processing. 202
// means "queued", not "evaluated".
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var payload models.HeartbeatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, r, apperrors.Wrap(apperrors.KindInvalidInput, "malformed heartbeat body", err))
		return
	}
	if err := s.deps.Gateway.Enqueue(r.Context(), payload); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"instanceId": payload.InstanceID,
	})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "instanceID")
	inst, err := s.deps.Reader.FindByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleServiceInstances(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "serviceName")
	svc, err := s.deps.Reader.FindServiceByDisplayName(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	instances, err := s.deps.Reader.FindByServiceID(r.Context(), svc.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":   svc,
		"instances": instances,
	})
}

func (s *Server) handleServiceDriftEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "serviceName")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			s.writeError(w, r, apperrors.New(apperrors.KindInvalidInput, "limit must be an integer in [1,500]"))
			return
		}
		limit = parsed
	}
	events, err := s.deps.Reader.RecentByService(r.Context(), name, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*models.DriftEvent{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": name,
		"events":  events,
	})
}
