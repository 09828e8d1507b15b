/*
 * Copyright (c) 2025, WSO2 LLC. (http://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package services

import (
	"context"
	"net/http"
	"time"

	"github.com/asgardeo/datacoord/internal/circuitbreaker"
	"github.com/asgardeo/datacoord/internal/system/log"
	"github.com/asgardeo/datacoord/internal/utils"
)

const readinessPingTimeout = 2 * time.Second

// Pinger checks the connectivity of the remote data service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status  string               `json:"status"`
	Circuit circuitbreaker.State `json:"circuit,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// HealthService serves the liveness and readiness probes.
type HealthService struct {
	breaker circuitbreaker.BreakerInterface
	pinger  Pinger
	logger  *log.Logger
}

// NewHealthService creates the service and registers its routes. The pinger may be nil.
func NewHealthService(mux *http.ServeMux, breaker circuitbreaker.BreakerInterface, pinger Pinger,
	logger *log.Logger) *HealthService {
	instance := &HealthService{
		breaker: breaker,
		pinger:  pinger,
		logger:  log.OrDefault(logger).With(log.String(log.LoggerKeyComponentName, "HealthService")),
	}
	instance.RegisterRoutes(mux)

	return instance
}

// RegisterRoutes registers the routes of the service.
func (s *HealthService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/liveness", s.HandleLivenessRequest)
	mux.HandleFunc("GET /health/readiness", s.HandleReadinessRequest)
}

// HandleLivenessRequest reports that the process is serving.
func (s *HealthService) HandleLivenessRequest(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, s.logger, http.StatusOK, HealthStatus{Status: "UP"})
}

// HandleReadinessRequest reports whether the remote data service can be reached. Cached data is
// still served while not ready.
func (s *HealthService) HandleReadinessRequest(w http.ResponseWriter, r *http.Request) {
	snap := s.breaker.Snapshot()
	if s.breaker.IsOpen() {
		utils.WriteJSON(w, s.logger, http.StatusServiceUnavailable, HealthStatus{Status: "DOWN", Circuit: snap.State})
		return
	}
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessPingTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("Readiness ping failed", log.Error(err))
			utils.WriteJSON(w, s.logger, http.StatusServiceUnavailable,
				HealthStatus{Status: "DOWN", Circuit: snap.State, Error: err.Error()})
			return
		}
	}
	utils.WriteJSON(w, s.logger, http.StatusOK, HealthStatus{Status: "UP", Circuit: snap.State})
}
