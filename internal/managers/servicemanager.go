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

// Package managers builds the core components from the configuration and registers the HTTP
// services on top of them.
package managers

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/asgardeo/datacoord/internal/alert"
	"github.com/asgardeo/datacoord/internal/cache"
	"github.com/asgardeo/datacoord/internal/circuitbreaker"
	"github.com/asgardeo/datacoord/internal/coordinator"
	"github.com/asgardeo/datacoord/internal/dataaccess"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/querylog"
	"github.com/asgardeo/datacoord/internal/rollout"
	"github.com/asgardeo/datacoord/internal/scheduler"
	"github.com/asgardeo/datacoord/internal/services"
	"github.com/asgardeo/datacoord/internal/system/config"
	"github.com/asgardeo/datacoord/internal/system/database"
	"github.com/asgardeo/datacoord/internal/system/database/client"
	"github.com/asgardeo/datacoord/internal/system/database/provider"
	"github.com/asgardeo/datacoord/internal/system/log"
)

// ServiceManagerInterface defines the lifecycle of the server components.
type ServiceManagerInterface interface {
	RegisterServices(ctx context.Context) error
	Run(ctx context.Context)
	Close() error
}

// ServiceManager owns the core components and the HTTP services built on them.
type ServiceManager struct {
	mux    *http.ServeMux
	config *config.Config
	home   string
	logger *log.Logger

	dispatcher  *alert.Dispatcher
	store       *cache.Store
	coordinator *coordinator.Coordinator
	scheduler   *scheduler.Scheduler
	breaker     *circuitbreaker.Breaker
	rollout     *rollout.Controller
	queryLog    *querylog.Recorder
	dbClient    client.DBClientInterface
	data        *dataaccess.Service
}

// NewServiceManager creates a new instance of ServiceManager.
func NewServiceManager(mux *http.ServeMux, cfg *config.Config, home string, logger *log.Logger) *ServiceManager {
	return &ServiceManager{
		mux:    mux,
		config: cfg,
		home:   home,
		logger: log.OrDefault(logger).With(log.String(log.LoggerKeyComponentName, "ServiceManager")),
	}
}

// RegisterServices connects to the remote data service, builds the pipeline and registers the
// HTTP services.
func (sm *ServiceManager) RegisterServices(ctx context.Context) error {
	dbClient, err := provider.OpenDBClient(ctx, sm.config.Database.Remote, sm.home, sm.logger)
	if err != nil {
		return fmt.Errorf("failed to open the remote data service: %w", err)
	}
	fetcher := database.NewFetcher(dbClient, sm.config.Database.Remote.QueryTimeout, sm.logger)
	if err := sm.build(dbClient, fetcher.Fetch); err != nil {
		if closeErr := dbClient.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
		return err
	}

	services.NewDataService(sm.mux, sm.data, sm.config.CircuitBreaker.CoolDown, sm.logger)
	services.NewOpsService(sm.mux, services.OpsDependencies{
		Data:          sm.data,
		Store:         sm.store,
		Coordinator:   sm.coordinator,
		Scheduler:     sm.scheduler,
		Breaker:       sm.breaker,
		Rollout:       sm.rollout,
		QueryLog:      sm.queryLog,
		DefaultWindow: sm.config.Ticks.MetricsWindow,
	}, sm.logger)
	services.NewHealthService(sm.mux, sm.breaker, dbClient, sm.logger)

	sm.logger.Info("Services registered", log.String("remote", sm.config.Database.Remote.Type))
	return nil
}

// defaultRefreshSchedule is the schedule of a background refreshed resource without a configured
// one. It fires when the cached data turns stale.
func defaultRefreshSchedule(p model.ResourcePolicy) scheduler.Schedule {
	schedule, _ := scheduler.DefaultSchedule(p.Resource, scheduler.VolatilityFrequent)
	if p.StaleTime > 0 {
		schedule.Interval = p.StaleTime
	}
	schedule.Priority = p.Priority
	return schedule
}

// build constructs the core components around a fetch function.
func (sm *ServiceManager) build(dbClient client.DBClientInterface, fetch model.FetchFunc) error {
	cfg := sm.config

	policies, err := dataaccess.PoliciesFromConfig(cfg.Cache, cfg.Resources)
	if err != nil {
		return err
	}

	sm.dbClient = dbClient
	sm.dispatcher = alert.NewDispatcher(cfg.CircuitBreaker.Alerts.SuppressWindow, sm.logger)
	sm.store = cache.NewStore(cache.Config{
		MaxEntries:       cfg.Cache.MaxEntries,
		MaxBytes:         cfg.Cache.MaxBytes,
		DefaultStaleTime: cfg.Cache.DefaultStaleTime,
		DefaultMaxAge:    cfg.Cache.DefaultMaxAge,
		Logger:           sm.logger,
	})
	sm.coordinator = coordinator.NewCoordinator(sm.logger)
	sm.scheduler = scheduler.NewScheduler(scheduler.Config{
		Store:         sm.store,
		MaxConcurrent: cfg.Refresh.MaxConcurrent,
		Logger:        sm.logger,
	})
	for resource, interval := range policies.MinRefreshIntervals() {
		sm.scheduler.SetMinInterval(resource, interval)
	}
	scheduled := make(map[string]bool, len(cfg.Refresh.Schedules))
	for _, sc := range cfg.Refresh.Schedules {
		schedule, err := scheduler.ScheduleFromConfig(sc)
		if err != nil {
			sm.scheduler.Close()
			return err
		}
		sm.scheduler.SetSchedule(schedule)
		scheduled[schedule.Resource] = true
	}
	for _, p := range policies.BackgroundRefreshed() {
		if scheduled[p.Resource] {
			continue
		}
		sm.scheduler.SetSchedule(defaultRefreshSchedule(p))
	}

	breakerName := cfg.Database.Remote.Name
	if breakerName == "" {
		breakerName = cfg.Database.Remote.Type
	}
	alerts := cfg.CircuitBreaker.Alerts
	sm.breaker = circuitbreaker.NewBreaker(circuitbreaker.Config{
		Name:             breakerName,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		CoolDown:         cfg.CircuitBreaker.CoolDown,
		HalfOpenMaxCalls: cfg.CircuitBreaker.HalfOpenMaxCalls,
		SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		UptimeWindow:     cfg.CircuitBreaker.UptimeWindow,
		Alerts: circuitbreaker.AlertThresholds{
			FrequentOpenCount:       alerts.FrequentOpenCount,
			FrequentOpenWindow:      alerts.FrequentOpenWindow,
			LongOpenDuration:        alerts.LongOpenDuration,
			LowReliabilityThreshold: alerts.LowReliabilityThreshold,
			MinSampleSize:           alerts.MinSampleSize,
		},
		Dispatcher: sm.dispatcher,
		Logger:     sm.logger,
	})

	ctrl, err := sm.newRolloutController()
	if err != nil {
		sm.scheduler.Close()
		return err
	}
	sm.rollout = ctrl
	sm.rollout.OnRollback("", func(rb rollout.Rollback) {
		sm.logger.Warn("Feature rolled back", log.String("flag", rb.Flag), log.String("metric", rb.Metric),
			log.Float64("observed", rb.Observed), log.Float64("threshold", rb.Threshold))
	})

	sm.queryLog = querylog.NewRecorder(querylog.Config{
		Capacity:           cfg.QueryLog.Capacity,
		SlowQueryThreshold: cfg.QueryLog.SlowQueryThreshold,
		Logger:             sm.logger,
	})

	sm.data = dataaccess.NewService(dataaccess.Config{
		Store:       sm.store,
		Coordinator: sm.coordinator,
		Scheduler:   sm.scheduler,
		Breaker:     sm.breaker,
		Rollout:     sm.rollout,
		QueryLog:    sm.queryLog,
		Fetch:       fetch,
		Policies:    policies,
		Logger:      sm.logger,
	})
	return nil
}

// newRolloutController merges the configured flags over the defaults. The cache and refresh
// switches of the configuration turn the matching flags off.
func (sm *ServiceManager) newRolloutController() (*rollout.Controller, error) {
	cfg := sm.config
	flags := rollout.MergeFlags(rollout.DefaultFlags(), rollout.FlagsFromConfig(cfg.Rollout.Flags))
	for i := range flags {
		switch {
		case flags[i].Name == rollout.FlagCache && cfg.Cache.Disabled,
			flags[i].Name == rollout.FlagBackgroundRefresh && cfg.Refresh.Disabled:
			flags[i].Enabled = false
		}
	}

	var stateStore rollout.StateStore = rollout.NewMemoryStateStore()
	if cfg.Rollout.StatePath != "" {
		path := cfg.Rollout.StatePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(sm.home, path)
		}
		levelStore, err := rollout.OpenLevelDBStateStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open the flag state store: %w", err)
		}
		stateStore = levelStore
	}

	ctrl, err := rollout.NewController(rollout.Config{
		Flags:      flags,
		Store:      stateStore,
		Dispatcher: sm.dispatcher,
		Logger:     sm.logger,
	})
	if err != nil {
		if closeErr := stateStore.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
		return nil, err
	}
	return ctrl, nil
}

// Run preloads the configured resources and drives the periodic ticks until ctx is done.
func (sm *ServiceManager) Run(ctx context.Context) {
	if err := sm.data.Preload(ctx); err != nil {
		sm.logger.Warn("Preload finished with errors", log.Error(err))
	}

	ticks := sm.config.Ticks
	schedulerTick := newTicker(ticks.Scheduler)
	defer schedulerTick.Stop()
	reportTick := newTicker(ticks.MetricsReport)
	defer reportTick.Stop()
	sweepTick := newTicker(ticks.CacheSweep)
	defer sweepTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-schedulerTick.C:
			if !sm.config.Refresh.Disabled {
				sm.data.SchedulerTick()
			}
		case <-reportTick.C:
			sm.data.ReportMetrics(ticks.MetricsWindow)
		case <-sweepTick.C:
			if removed := sm.data.Sweep(); removed > 0 {
				sm.logger.Debug("Swept expired cache entries", log.Int("count", removed))
			}
		}
	}
}

// Close stops the scheduler and releases the flag state store and the database connection.
func (sm *ServiceManager) Close() error {
	var result *multierror.Error
	if sm.scheduler != nil {
		sm.scheduler.Close()
	}
	if sm.rollout != nil {
		if err := sm.rollout.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("flag state store: %w", err))
		}
	}
	if sm.dbClient != nil {
		if err := sm.dbClient.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("remote data service: %w", err))
		}
	}
	if sm.dispatcher != nil {
		sm.dispatcher.Close()
	}
	return result.ErrorOrNil()
}

// newTicker returns a ticker for positive intervals and a ticker that never fires otherwise.
func newTicker(interval time.Duration) *time.Ticker {
	if interval > 0 {
		return time.NewTicker(interval)
	}
	t := time.NewTicker(time.Hour)
	t.Stop()
	return t
}
