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
	"errors"
	"net/http"
	"time"

	"github.com/asgardeo/datacoord/internal/cache"
	"github.com/asgardeo/datacoord/internal/circuitbreaker"
	"github.com/asgardeo/datacoord/internal/coordinator"
	"github.com/asgardeo/datacoord/internal/dataaccess"
	"github.com/asgardeo/datacoord/internal/querylog"
	"github.com/asgardeo/datacoord/internal/rollout"
	"github.com/asgardeo/datacoord/internal/scheduler"
	"github.com/asgardeo/datacoord/internal/system/error/serviceerror"
	"github.com/asgardeo/datacoord/internal/system/log"
	"github.com/asgardeo/datacoord/internal/utils"
)

const paramWindow = "window"

// OpsDependencies are the components inspected and operated by the ops service.
type OpsDependencies struct {
	Data          dataaccess.ServiceInterface
	Store         cache.StoreInterface
	Coordinator   coordinator.CoordinatorInterface
	Scheduler     scheduler.SchedulerInterface
	Breaker       circuitbreaker.BreakerInterface
	Rollout       rollout.ControllerInterface
	QueryLog      querylog.RecorderInterface
	DefaultWindow time.Duration
}

// OpsService exposes the operator endpoints: cache, refresh, query log, circuit and flags.
type OpsService struct {
	deps   OpsDependencies
	logger *log.Logger
}

// CacheStatus is the response of the cache status endpoint.
type CacheStatus struct {
	Cache       cache.Metrics     `json:"cache"`
	Coordinator coordinator.Stats `json:"coordinator"`
	Refresh     scheduler.Stats   `json:"refresh"`
}

type invalidateRequest struct {
	Pattern string `json:"pattern"`
}

type cancelRequest struct {
	CallerID string `json:"callerId"`
}

type percentageRequest struct {
	Percentage int `json:"percentage"`
}

type countResponse struct {
	Count int `json:"count"`
}

// NewOpsService creates the service and registers its routes.
func NewOpsService(mux *http.ServeMux, deps OpsDependencies, logger *log.Logger) *OpsService {
	instance := &OpsService{
		deps:   deps,
		logger: log.OrDefault(logger).With(log.String(log.LoggerKeyComponentName, "OpsService")),
	}
	instance.RegisterRoutes(mux)

	return instance
}

// RegisterRoutes registers the routes of the service.
func (s *OpsService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ops/cache", s.HandleCacheStatusRequest)
	mux.HandleFunc("POST /ops/cache/invalidate", s.HandleInvalidateRequest)
	mux.HandleFunc("POST /ops/requests/cancel", s.HandleCancelRequest)

	mux.HandleFunc("GET /ops/refresh", s.HandleSchedulesRequest)
	mux.HandleFunc("POST /ops/refresh/{resource}", s.HandleForceRefreshRequest)

	mux.HandleFunc("GET /ops/queries", s.HandleQueryMetricsRequest)
	mux.HandleFunc("GET /ops/queries/analysis", s.HandleQueryAnalysisRequest)
	mux.HandleFunc("GET /ops/queries/suggestions", s.HandleSuggestionsRequest)

	mux.HandleFunc("GET /ops/circuit", s.HandleCircuitStatusRequest)
	mux.HandleFunc("POST /ops/circuit/reset", s.HandleCircuitResetRequest)

	mux.HandleFunc("GET /ops/flags", s.HandleFlagListRequest)
	mux.HandleFunc("GET /ops/flags/{name}/explain", s.HandleFlagExplainRequest)
	mux.HandleFunc("POST /ops/flags/{name}/enable", s.HandleFlagEnableRequest)
	mux.HandleFunc("POST /ops/flags/{name}/disable", s.HandleFlagDisableRequest)
	mux.HandleFunc("POST /ops/flags/{name}/percentage", s.HandleFlagPercentageRequest)
}

// HandleCacheStatusRequest returns the cache, coordinator and refresh statistics.
func (s *OpsService) HandleCacheStatusRequest(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, s.logger, http.StatusOK, CacheStatus{
		Cache:       s.deps.Store.Metrics(),
		Coordinator: s.deps.Coordinator.Stats(),
		Refresh:     s.deps.Scheduler.Stats(),
	})
}

// HandleInvalidateRequest invalidates the cache entries matching a pattern.
func (s *OpsService) HandleInvalidateRequest(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if req.Pattern == "" {
		s.badRequest(w, "pattern is required")
		return
	}

	removed := s.deps.Data.Invalidate(req.Pattern)
	s.logger.Info("Cache invalidated by operator", log.String("pattern", req.Pattern), log.Int("removed", removed))
	utils.WriteJSON(w, s.logger, http.StatusOK, countResponse{Count: removed})
}

// HandleCancelRequest rejects the pending requests of a caller.
func (s *OpsService) HandleCancelRequest(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if req.CallerID == "" {
		s.badRequest(w, "callerId is required")
		return
	}
	utils.WriteJSON(w, s.logger, http.StatusOK, countResponse{Count: s.deps.Data.CancelCaller(req.CallerID)})
}

// HandleSchedulesRequest lists the periodic refresh schedules.
func (s *OpsService) HandleSchedulesRequest(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, s.logger, http.StatusOK, s.deps.Scheduler.Schedules())
}

// HandleForceRefreshRequest refreshes every cached key of a resource.
func (s *OpsService) HandleForceRefreshRequest(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	started := s.deps.Scheduler.ForceRefresh(resource)
	s.logger.Info("Refresh forced by operator", log.String(log.LoggerKeyResource, resource), log.Int("started", started))
	utils.WriteJSON(w, s.logger, http.StatusAccepted, countResponse{Count: started})
}

// HandleQueryMetricsRequest returns the aggregate query metrics of a trailing window.
func (s *OpsService) HandleQueryMetricsRequest(w http.ResponseWriter, r *http.Request) {
	window, ok := s.window(w, r)
	if !ok {
		return
	}
	utils.WriteJSON(w, s.logger, http.StatusOK, s.deps.QueryLog.Metrics(window))
}

// HandleQueryAnalysisRequest returns the performance analysis of a trailing window.
func (s *OpsService) HandleQueryAnalysisRequest(w http.ResponseWriter, r *http.Request) {
	window, ok := s.window(w, r)
	if !ok {
		return
	}
	utils.WriteJSON(w, s.logger, http.StatusOK, s.deps.QueryLog.Analyze(window))
}

// HandleSuggestionsRequest returns the optimization suggestions of a trailing window.
func (s *OpsService) HandleSuggestionsRequest(w http.ResponseWriter, r *http.Request) {
	window, ok := s.window(w, r)
	if !ok {
		return
	}
	suggestions := s.deps.QueryLog.Suggestions(window)
	if suggestions == nil {
		suggestions = []querylog.Suggestion{}
	}
	utils.WriteJSON(w, s.logger, http.StatusOK, suggestions)
}

// HandleCircuitStatusRequest returns the circuit breaker snapshot.
func (s *OpsService) HandleCircuitStatusRequest(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, s.logger, http.StatusOK, s.deps.Breaker.Snapshot())
}

// HandleCircuitResetRequest forces the circuit breaker closed.
func (s *OpsService) HandleCircuitResetRequest(w http.ResponseWriter, r *http.Request) {
	s.deps.Breaker.Reset()
	s.logger.Info("Circuit breaker reset by operator")
	utils.WriteJSON(w, s.logger, http.StatusOK, s.deps.Breaker.Snapshot())
}

// HandleFlagListRequest lists the feature flags.
func (s *OpsService) HandleFlagListRequest(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, s.logger, http.StatusOK, s.deps.Rollout.Flags())
}

// HandleFlagExplainRequest tells whether a flag is active for the caller given in the query.
func (s *OpsService) HandleFlagExplainRequest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.flagExists(name) {
		utils.WriteJSONError(w, s.logger, http.StatusNotFound, serviceerror.ErrorFlagNotFound, nil)
		return
	}
	utils.WriteJSON(w, s.logger, http.StatusOK, s.deps.Rollout.Explain(name, r.URL.Query().Get("caller")))
}

// HandleFlagEnableRequest enables a flag.
func (s *OpsService) HandleFlagEnableRequest(w http.ResponseWriter, r *http.Request) {
	s.updateFlag(w, r.PathValue("name"), s.deps.Rollout.ManuallyEnable)
}

// HandleFlagDisableRequest disables a flag.
func (s *OpsService) HandleFlagDisableRequest(w http.ResponseWriter, r *http.Request) {
	s.updateFlag(w, r.PathValue("name"), s.deps.Rollout.ManuallyDisable)
}

// HandleFlagPercentageRequest sets the rollout percentage of a flag.
func (s *OpsService) HandleFlagPercentageRequest(w http.ResponseWriter, r *http.Request) {
	var req percentageRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	s.updateFlag(w, r.PathValue("name"), func(name string) error {
		return s.deps.Rollout.SetPercentage(name, req.Percentage)
	})
}

func (s *OpsService) updateFlag(w http.ResponseWriter, name string, update func(string) error) {
	if err := update(name); err != nil {
		if errors.Is(err, rollout.ErrFlagNotFound) {
			utils.WriteJSONError(w, s.logger, http.StatusNotFound, serviceerror.ErrorFlagNotFound, nil)
			return
		}
		s.badRequest(w, err.Error())
		return
	}
	for _, f := range s.deps.Rollout.Flags() {
		if f.Name == name {
			utils.WriteJSON(w, s.logger, http.StatusOK, f)
			return
		}
	}
	utils.WriteJSONError(w, s.logger, http.StatusNotFound, serviceerror.ErrorFlagNotFound, nil)
}

func (s *OpsService) flagExists(name string) bool {
	for _, f := range s.deps.Rollout.Flags() {
		if f.Name == name {
			return true
		}
	}
	return false
}

// window reads the window query parameter. It writes the error response and returns false when
// the value is not a valid duration.
func (s *OpsService) window(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get(paramWindow)
	if raw == "" {
		return s.deps.DefaultWindow, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		s.badRequest(w, "window must be a non-negative duration such as 5m")
		return 0, false
	}
	return d, true
}

func (s *OpsService) badRequest(w http.ResponseWriter, desc string) {
	utils.WriteJSONError(w, s.logger, http.StatusBadRequest, serviceerror.ErrorInvalidRequest.WithDescription(desc), nil)
}
