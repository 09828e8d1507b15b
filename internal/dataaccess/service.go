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

// Package dataaccess composes the cache, the request coordinator, the circuit breaker, the
// refresh scheduler, the rollout controller and the query log into the read pipeline.
package dataaccess

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/asgardeo/datacoord/internal/cache"
	"github.com/asgardeo/datacoord/internal/circuitbreaker"
	"github.com/asgardeo/datacoord/internal/coordinator"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/querylog"
	"github.com/asgardeo/datacoord/internal/rollout"
	"github.com/asgardeo/datacoord/internal/scheduler"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const loggerComponentName = "DataAccessService"

const preloadConcurrency = 4

// ServiceInterface defines the data access operations.
type ServiceInterface interface {
	Read(ctx context.Context, req Request) (Response, error)
	Invalidate(pattern string) int
	CancelCaller(callerID string) int
	Preload(ctx context.Context) error
	SchedulerTick() int
	ReportMetrics(window time.Duration) []rollout.Rollback
	Sweep() int
}

// Request is a read of a remote resource.
type Request struct {
	Query model.QueryDescriptor
	// BypassCache skips the cache lookup and the cache write.
	BypassCache bool
}

// Response carries the data with the flags a consumer needs to tell cached, stale and missing
// data apart.
type Response struct {
	Data                 model.ResultSet `json:"data"`
	Hit                  bool            `json:"hit"`
	IsStale              bool            `json:"isStale"`
	IsRefreshing         bool            `json:"isRefreshing"`
	IsCircuitBreakerOpen bool            `json:"isCircuitBreakerOpen"`
	Age                  time.Duration   `json:"age"`
	QueryID              string          `json:"queryId"`
}

// invalidationSource is implemented by stores that report invalidated keys.
type invalidationSource interface {
	OnInvalidate(fn func(keys []string))
}

// Config holds the service dependencies.
type Config struct {
	Store       cache.StoreInterface
	Coordinator coordinator.CoordinatorInterface
	Scheduler   scheduler.SchedulerInterface
	Breaker     circuitbreaker.BreakerInterface
	Rollout     rollout.ControllerInterface
	QueryLog    querylog.RecorderInterface
	Fetch       model.FetchFunc
	Policies    *PolicyTable
	Now         func() time.Time
	Logger      *log.Logger
}

// Service is the read pipeline.
type Service struct {
	store       cache.StoreInterface
	coordinator coordinator.CoordinatorInterface
	scheduler   scheduler.SchedulerInterface
	breaker     circuitbreaker.BreakerInterface
	rollout     rollout.ControllerInterface
	queryLog    querylog.RecorderInterface
	fetch       model.FetchFunc
	policies    *PolicyTable
	now         func() time.Time
	logger      *log.Logger
}

// NewService wires the pipeline. Keys invalidated in the store are dropped from the scheduler.
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	policies := cfg.Policies
	if policies == nil {
		policies = NewPolicyTable(model.ResourcePolicy{Priority: model.PriorityMedium})
	}
	s := &Service{
		store:       cfg.Store,
		coordinator: cfg.Coordinator,
		scheduler:   cfg.Scheduler,
		breaker:     cfg.Breaker,
		rollout:     cfg.Rollout,
		queryLog:    cfg.QueryLog,
		fetch:       cfg.Fetch,
		policies:    policies,
		now:         now,
		logger:      log.OrDefault(cfg.Logger).With(log.String(log.LoggerKeyComponentName, loggerComponentName)),
	}
	if src, ok := cfg.Store.(invalidationSource); ok {
		src.OnInvalidate(s.scheduler.CancelKeys)
	}
	return s
}

// features is the rollout decision for one caller.
type features struct {
	cache, dedup, breaker, refresh, prioritization bool
}

func (s *Service) featuresFor(callerID string) features {
	return features{
		cache:          s.rollout.IsActive(rollout.FlagCache, callerID),
		dedup:          s.rollout.IsActive(rollout.FlagDedup, callerID),
		breaker:        s.rollout.IsActive(rollout.FlagCircuitBreaker, callerID),
		refresh:        s.rollout.IsActive(rollout.FlagBackgroundRefresh, callerID),
		prioritization: s.rollout.IsActive(rollout.FlagPrioritization, callerID),
	}
}

// Read serves a query. A fresh or stale cache hit is returned without a remote call; a stale hit
// also schedules a background refresh. On a miss the fetch is deduplicated, gated by the circuit
// breaker and cached. When the fetch fails and an expired entry exists, the expired data is
// served flagged as stale.
func (s *Service) Read(ctx context.Context, req Request) (Response, error) {
	q := req.Query
	key := q.Key()
	policy := s.policies.Lookup(q.Resource)
	f := s.featuresFor(q.CallerID)
	useCache := f.cache && !req.BypassCache

	priority := policy.Priority
	if !f.prioritization {
		priority = model.PriorityMedium
	}

	start := s.now()
	id := s.queryLog.StartQuery(q, querylog.WithCircuitState(s.breaker.State()))

	var fallback cache.Result
	if useCache {
		res := s.store.Get(key)
		if res.Hit && res.Age < policy.MaxAge {
			if res.IsStale && f.refresh && !res.IsRefreshing {
				s.scheduler.ScheduleRefresh(key, q.Resource, s.refreshFunc(q), priority)
			}
			s.queryLog.CompleteQuery(id, s.now().Sub(start), len(res.Data), querylog.Perf{
				CacheHit: true,
				Stale:    res.IsStale,
				CacheAge: res.Age,
			})
			return Response{
				Data:                 res.Data,
				Hit:                  true,
				IsStale:              res.IsStale,
				IsRefreshing:         res.IsRefreshing,
				IsCircuitBreakerOpen: s.breaker.IsOpen(),
				Age:                  res.Age,
				QueryID:              id,
			}, nil
		}
		fallback = res
	}

	fetch := s.remote(q, f.breaker)
	var data model.ResultSet
	var err error
	deduplicated := false
	if f.dedup {
		deduplicated = s.coordinator.Pending(key) > 0
		data, err = s.coordinator.CoordinateQuery(ctx, q,
			func(ctx context.Context, _ model.QueryDescriptor) (model.ResultSet, error) {
				return fetch(ctx)
			}, priority)
	} else {
		data, err = fetch(ctx)
	}
	elapsed := s.now().Sub(start)

	if err != nil {
		s.queryLog.FailQuery(id, elapsed, err, 0)
		open := errors.Is(err, dataerror.ErrCircuitOpen) || s.breaker.IsOpen()
		if fallback.Hit {
			s.logger.Warn("Serving expired data after a failed fetch", log.String(log.LoggerKeyCacheKey, key),
				log.Duration("age", fallback.Age), log.Error(err))
			return Response{
				Data:                 fallback.Data,
				Hit:                  true,
				IsStale:              true,
				IsCircuitBreakerOpen: open,
				Age:                  fallback.Age,
				QueryID:              id,
			}, nil
		}
		return Response{IsCircuitBreakerOpen: open, QueryID: id}, err
	}

	if useCache {
		s.store.Set(key, data, cache.EntryConfig{
			StaleTime: policy.StaleTime,
			MaxAge:    policy.MaxAge,
			Priority:  policy.Priority,
		}, q)
		if policy.BackgroundRefresh && f.refresh {
			s.scheduler.Register(key, q.Resource, s.refreshFunc(q), priority)
		}
	}
	s.queryLog.CompleteQuery(id, elapsed, len(data), querylog.Perf{
		Deduplicated:  deduplicated,
		CacheBypassed: !useCache,
	})

	return Response{Data: data, QueryID: id}, nil
}

// remote returns the fetch of the query, gated by the breaker when enabled.
func (s *Service) remote(q model.QueryDescriptor, gated bool) coordinator.FetchFunc {
	call := func(ctx context.Context) (model.ResultSet, error) {
		return s.fetch(ctx, q)
	}
	if !gated {
		return call
	}
	return func(ctx context.Context) (model.ResultSet, error) {
		return s.breaker.Execute(ctx, call)
	}
}

// refreshFunc is the background refresh of a query. The rollout decision is taken when the
// refresh runs, and every attempt is logged.
func (s *Service) refreshFunc(q model.QueryDescriptor) scheduler.FetchFunc {
	return func(ctx context.Context) (model.ResultSet, error) {
		gated := s.rollout.IsActive(rollout.FlagCircuitBreaker, q.CallerID)
		start := s.now()
		id := s.queryLog.StartQuery(q, querylog.WithCircuitState(s.breaker.State()))
		data, err := s.remote(q, gated)(ctx)
		elapsed := s.now().Sub(start)
		if err != nil {
			s.queryLog.FailQuery(id, elapsed, err, 0)
			return nil, err
		}
		s.queryLog.CompleteQuery(id, elapsed, len(data), querylog.Perf{})
		return data, nil
	}
}

// Invalidate removes the matching cache entries, cancels their coordinated requests and drops
// their background refreshes. It returns the number of removed cache entries.
func (s *Service) Invalidate(pattern string) int {
	removed := s.store.Invalidate(pattern)
	cancelled := s.coordinator.CancelPattern(pattern)
	s.logger.Info("Invalidated cached data", log.String("pattern", pattern), log.Int("entries", removed),
		log.Int("cancelledRequests", cancelled))
	return removed
}

// CancelCaller rejects the pending requests of a caller.
func (s *Service) CancelCaller(callerID string) int {
	return s.coordinator.CancelCaller(callerID)
}

// Preload reads every resource marked for preloading. All failures are returned together.
func (s *Service) Preload(ctx context.Context) error {
	var (
		mu   sync.Mutex
		merr *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)
	for _, p := range s.policies.Preloaded() {
		p := p
		g.Go(func() error {
			res, err := s.Read(gctx, Request{Query: model.QueryDescriptor{Resource: p.Resource}})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merr = multierror.Append(merr, err)
				return nil
			}
			s.logger.Debug("Preloaded resource", log.String(log.LoggerKeyResource, p.Resource),
				log.Int("rows", len(res.Data)))
			return nil
		})
	}
	_ = g.Wait()
	return merr.ErrorOrNil()
}

// SchedulerTick runs the periodic refresh schedules that are due.
func (s *Service) SchedulerTick() int {
	return s.scheduler.Tick()
}

// ReportMetrics feeds the aggregate metrics of the trailing window to the rollout controller and
// evaluates the circuit breaker alerts. Nothing is reported for a window without finished queries.
func (s *Service) ReportMetrics(window time.Duration) []rollout.Rollback {
	s.breaker.CheckAlerts()

	m := s.queryLog.Metrics(window)
	finished := m.Successful + m.Failed
	if finished == 0 {
		return nil
	}

	sample := rollout.Sample{
		Timestamp: s.now(),
		Metrics: map[string]float64{
			rollout.MetricErrorRate:       m.ErrorRate,
			rollout.MetricAvgResponseTime: milliseconds(m.AverageDuration),
			rollout.MetricP95ResponseTime: milliseconds(m.P95Duration),
			rollout.MetricCacheHitRate:    m.CacheHitRate,
			rollout.MetricCircuitOpenRate: float64(m.CircuitOpenCount) / float64(finished),
		},
	}
	rollbacks := s.rollout.ReportMetrics(sample)
	if len(rollbacks) > 0 {
		s.logger.Warn("Metrics report rolled back features", log.Int("count", len(rollbacks)))
	}
	return rollbacks
}

// Sweep removes cache entries past their hard expiry.
func (s *Service) Sweep() int {
	return s.store.Sweep()
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
