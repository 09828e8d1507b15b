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

// Package scheduler refreshes cached result sets in the background before they go stale.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/asgardeo/datacoord/internal/cache"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const loggerComponentName = "RefreshScheduler"

const (
	defaultMaxConcurrent = 4
	defaultMinInterval   = 5 * time.Second
)

// FetchFunc performs the remote call of a refresh.
type FetchFunc func(ctx context.Context) (model.ResultSet, error)

// SchedulerInterface defines the background refresh operations.
type SchedulerInterface interface {
	Register(key, resource string, fetch FetchFunc, priority model.Priority)
	ScheduleRefresh(key, resource string, fetch FetchFunc, priority model.Priority) bool
	SetSchedule(schedule Schedule)
	Tick() int
	ForceRefresh(resource string) int
	Cancel(resource string) bool
	CancelKeys(keys []string)
	Schedules() []Schedule
	Stats() Stats
}

// Config holds the scheduler dependencies.
type Config struct {
	Store cache.StoreInterface
	// MaxConcurrent bounds the number of refreshes running at once.
	MaxConcurrent int64
	// DefaultMinInterval throttles resources without their own minimum interval.
	DefaultMinInterval time.Duration
	Now                func() time.Time
	Logger             *log.Logger
}

// job is a registered refresh of one cache key.
type job struct {
	key      string
	resource string
	fetch    FetchFunc
	priority model.Priority
}

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Jobs      int   `json:"jobs"`
	InFlight  int   `json:"inFlight"`
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Throttled int64 `json:"throttled"`
	Discarded int64 `json:"discarded"`
}

// Scheduler runs fire-and-forget refreshes and periodic schedules. It never holds its own lock
// or the cache lock while a remote fetch is running.
type Scheduler struct {
	mu          sync.Mutex
	store       cache.StoreInterface
	sem         *semaphore.Weighted
	schedules   map[string]*Schedule
	jobs        map[string]*job
	inFlight    map[string]struct{}
	lastRun     map[string]time.Time
	minInterval map[string]time.Duration
	defaultMin  time.Duration
	stats       Stats
	now         func() time.Time
	logger      *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a background refresh scheduler.
func NewScheduler(cfg Config) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	defaultMin := cfg.DefaultMinInterval
	if defaultMin <= 0 {
		defaultMin = defaultMinInterval
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:       cfg.Store,
		sem:         semaphore.NewWeighted(maxConcurrent),
		schedules:   make(map[string]*Schedule),
		jobs:        make(map[string]*job),
		inFlight:    make(map[string]struct{}),
		lastRun:     make(map[string]time.Time),
		minInterval: make(map[string]time.Duration),
		defaultMin:  defaultMin,
		now:         now,
		logger:      log.OrDefault(cfg.Logger).With(log.String(log.LoggerKeyComponentName, loggerComponentName)),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetMinInterval sets the throttling interval of a resource.
func (s *Scheduler) SetMinInterval(resource string, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minInterval[resource] = interval
}

// Register enlists the key in the periodic schedule of its resource without refreshing it now.
func (s *Scheduler) Register(key, resource string, fetch FetchFunc, priority model.Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[key]; ok && existing.priority < priority {
		priority = existing.priority
	}
	s.jobs[key] = &job{key: key, resource: resource, fetch: fetch, priority: priority}
}

// ScheduleRefresh registers the key for refreshing and starts a refresh unless the resource was
// refreshed within its minimum interval. It returns immediately and reports whether a refresh
// was started.
func (s *Scheduler) ScheduleRefresh(key, resource string, fetch FetchFunc, priority model.Priority) bool {
	j := &job{key: key, resource: resource, fetch: fetch, priority: priority}

	s.mu.Lock()
	if existing, ok := s.jobs[key]; ok && existing.priority < j.priority {
		j.priority = existing.priority
	}
	s.jobs[key] = j
	now := s.now()
	if s.throttled(resource, now) {
		s.stats.Throttled++
		s.mu.Unlock()
		s.logger.Debug("Refresh throttled", log.String(log.LoggerKeyCacheKey, key),
			log.String(log.LoggerKeyResource, resource))
		return false
	}
	s.lastRun[resource] = now
	started := s.claim([]*job{j})
	s.mu.Unlock()

	s.dispatch(started)
	return len(started) > 0
}

// SetSchedule adds or replaces the periodic schedule of a resource.
func (s *Scheduler) SetSchedule(schedule Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule.NextDue.IsZero() && schedule.Interval > 0 {
		schedule.NextDue = s.now().Add(schedule.Interval)
	}
	sch := schedule
	s.schedules[schedule.Resource] = &sch
	s.logger.Debug("Refresh schedule set", log.String(log.LoggerKeyResource, schedule.Resource),
		log.Duration("interval", schedule.Interval), log.String("priority", schedule.Priority.String()),
		log.Bool("enabled", schedule.Enabled))
}

// Tick starts the refreshes of every enabled schedule that is due and returns how many
// refreshes were started.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	now := s.now()

	var due []*job
	for resource, sch := range s.schedules {
		if !sch.Enabled || sch.Interval <= 0 || now.Before(sch.NextDue) {
			continue
		}
		if s.throttled(resource, now) {
			s.stats.Throttled++
			continue
		}
		jobs := s.jobsOf(resource)
		if len(jobs) == 0 {
			sch.NextDue = now.Add(sch.Interval)
			continue
		}
		for _, j := range jobs {
			if j.priority > sch.Priority {
				j.priority = sch.Priority
			}
		}
		s.lastRun[resource] = now
		sch.LastAttempt = now
		sch.NextDue = now.Add(sch.Interval)
		due = append(due, jobs...)
	}
	started := s.claim(due)
	s.mu.Unlock()

	if len(started) > 0 {
		s.logger.Debug("Scheduler tick started refreshes", log.Int("count", len(started)))
	}
	s.dispatch(started)
	return len(started)
}

// ForceRefresh starts the refresh of every registered key of a resource, subject to throttling.
func (s *Scheduler) ForceRefresh(resource string) int {
	s.mu.Lock()
	now := s.now()
	if s.throttled(resource, now) {
		s.stats.Throttled++
		s.mu.Unlock()
		s.logger.Debug("Forced refresh throttled", log.String(log.LoggerKeyResource, resource))
		return 0
	}
	s.lastRun[resource] = now
	started := s.claim(s.jobsOf(resource))
	s.mu.Unlock()

	s.dispatch(started)
	return len(started)
}

// Cancel disables the schedule of a resource and drops its registered keys. Refreshes already
// running complete but their results are discarded.
func (s *Scheduler) Cancel(resource string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, j := range s.jobs {
		if j.resource == resource {
			delete(s.jobs, key)
		}
	}
	sch, ok := s.schedules[resource]
	if !ok {
		return false
	}
	sch.Enabled = false
	s.logger.Info("Refresh schedule cancelled", log.String(log.LoggerKeyResource, resource))
	return true
}

// CancelKeys drops the registered refreshes of the keys. Results of refreshes already running
// for them are discarded.
func (s *Scheduler) CancelKeys(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.jobs, key)
	}
}

// Schedules returns a snapshot of every schedule ordered by resource.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Schedule, 0, len(s.schedules))
	for _, sch := range s.schedules {
		out = append(out, *sch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Jobs = len(s.jobs)
	st.InFlight = len(s.inFlight)
	return st
}

// Close stops dispatching and waits for running refreshes to finish.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
	s.logger.Debug("Refresh scheduler stopped")
}

// throttled reports whether the resource ran within its minimum interval.
// The caller must hold the lock.
func (s *Scheduler) throttled(resource string, now time.Time) bool {
	last, ok := s.lastRun[resource]
	if !ok {
		return false
	}
	interval, ok := s.minInterval[resource]
	if !ok {
		interval = s.defaultMin
	}
	return now.Sub(last) < interval
}

// jobsOf returns the registered jobs of a resource. The caller must hold the lock.
func (s *Scheduler) jobsOf(resource string) []*job {
	var jobs []*job
	for _, j := range s.jobs {
		if j.resource == resource {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// claim marks the jobs as in flight, skipping keys already being refreshed, and returns them
// in priority order. The caller must hold the lock.
func (s *Scheduler) claim(jobs []*job) []*job {
	started := make([]*job, 0, len(jobs))
	for _, j := range jobs {
		if _, running := s.inFlight[j.key]; running {
			continue
		}
		s.inFlight[j.key] = struct{}{}
		s.stats.Started++
		started = append(started, j)
	}
	sort.SliceStable(started, func(a, b int) bool {
		if started[a].priority != started[b].priority {
			return started[a].priority < started[b].priority
		}
		return started[a].key < started[b].key
	})
	return started
}

// dispatch runs the jobs in order under the concurrency bound without blocking the caller.
func (s *Scheduler) dispatch(jobs []*job) {
	if len(jobs) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i, j := range jobs {
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				s.abandon(jobs[i:])
				return
			}
			s.wg.Add(1)
			go func(j *job) {
				defer s.wg.Done()
				defer s.sem.Release(1)
				s.refresh(j)
			}(j)
		}
	}()
}

// abandon releases the in-flight claims of jobs that never ran.
func (s *Scheduler) abandon(jobs []*job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range jobs {
		delete(s.inFlight, j.key)
	}
}

// refresh fetches and writes the result over the cached entry, keeping its key and policy.
// A failure keeps the existing entry.
func (s *Scheduler) refresh(j *job) {
	s.store.MarkRefreshing(j.key, true)
	start := s.now()
	data, err := j.fetch(s.ctx)
	now := s.now()

	s.mu.Lock()
	delete(s.inFlight, j.key)
	current := s.jobs[j.key] == j
	sch := s.schedules[j.resource]
	if err != nil {
		s.stats.Failed++
		if sch != nil {
			sch.Failures++
			sch.LastError = err.Error()
		}
		s.mu.Unlock()

		s.store.MarkRefreshing(j.key, false)
		recordRefresh(j.resource, "failure")
		s.logger.Warn("Background refresh failed, keeping cached data", log.String(log.LoggerKeyCacheKey, j.key),
			log.String(log.LoggerKeyResource, j.resource), log.Error(err))
		return
	}
	if sch != nil {
		sch.LastRefresh = now
		sch.Failures = 0
		sch.LastError = ""
		if sch.Interval > 0 {
			sch.NextDue = now.Add(sch.Interval)
		}
	}
	if !current {
		s.stats.Discarded++
	}
	s.mu.Unlock()

	if !current {
		s.store.MarkRefreshing(j.key, false)
		recordRefresh(j.resource, "discarded")
		s.logger.Debug("Discarded refresh of a cancelled key", log.String(log.LoggerKeyCacheKey, j.key))
		return
	}

	info, ok := s.store.Entry(j.key)
	if !ok {
		s.mu.Lock()
		if s.jobs[j.key] == j {
			delete(s.jobs, j.key)
		}
		s.stats.Discarded++
		s.mu.Unlock()
		recordRefresh(j.resource, "discarded")
		s.logger.Debug("Refreshed key is no longer cached", log.String(log.LoggerKeyCacheKey, j.key))
		return
	}

	s.store.Set(j.key, data, cache.EntryConfig{
		StaleTime: info.StaleTime,
		MaxAge:    info.MaxAge,
		Priority:  info.Priority,
	}, info.Query)

	s.mu.Lock()
	s.stats.Succeeded++
	s.mu.Unlock()
	recordRefresh(j.resource, "success")
	s.logger.Debug("Background refresh completed", log.String(log.LoggerKeyCacheKey, j.key),
		log.Int("rows", len(data)), log.Duration("elapsed", now.Sub(start)))
}
