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

package apperrors

import "net/http"

// RFC7807Error is the problem-details payload returned by the HTTP facade.
type RFC7807Error struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Detail    string `json:"detail"`
	Status    int    `json:"status"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Error type URIs and titles used by the HTTP facade.
const (
	ErrorTypeValidationError    = "https://central-config.io/errors/validation-error"
	ErrorTypeNotFound           = "https://central-config.io/errors/not-found"
	ErrorTypeServiceUnavailable = "https://central-config.io/errors/service-unavailable"
	ErrorTypeInternalError      = "https://central-config.io/errors/internal-error"
	ErrorTypeUnknown            = "https://central-config.io/errors/unknown"

	TitleBadRequest          = "Bad Request"
	TitleNotFound            = "Not Found"
	TitleServiceUnavailable  = "Service Unavailable"
	TitleInternalServerError = "Internal Server Error"
	TitleUnknown             = "Unknown Error"
)

// HTTPStatus maps an error kind to the HTTP status the facade returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindExternalUnavailable, KindCircuitOpen, KindCacheUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// TypeAndTitle maps an HTTP status code to the RFC 7807 type URI and title.
func TypeAndTitle(statusCode int) (string, string) {
	switch statusCode {
	case http.StatusBadRequest:
		return ErrorTypeValidationError, TitleBadRequest
	case http.StatusNotFound:
		return ErrorTypeNotFound, TitleNotFound
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrorTypeServiceUnavailable, TitleServiceUnavailable
	case http.StatusInternalServerError:
		return ErrorTypeInternalError, TitleInternalServerError
	default:
		return ErrorTypeUnknown, TitleUnknown
	}
}
