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

// Package querylog records remote query performance in a bounded log and analyzes it.
package querylog

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/asgardeo/datacoord/internal/circuitbreaker"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const loggerComponentName = "QueryLogger"

const (
	defaultCapacity           = 1000
	defaultSlowQueryThreshold = time.Second
)

// RecorderInterface defines the query logging operations.
type RecorderInterface interface {
	StartQuery(query model.QueryDescriptor) string
	CompleteQuery(id string, duration time.Duration, resultCount int, perf Perf) bool
	FailQuery(id string, duration time.Duration, err error, retryCount int) bool
	Metrics(window time.Duration) QueryMetrics
	Analyze(window time.Duration) PerformanceAnalysis
	Suggestions(window time.Duration) []Suggestion
	Entries() []Entry
	Clear()
}

// Config holds the recorder configuration.
type Config struct {
	// Capacity is the number of entries kept. Older entries are dropped.
	Capacity           int
	SlowQueryThreshold time.Duration
	Now                func() time.Time
	Logger             *log.Logger
}

// Recorder keeps the most recent queries in a ring buffer.
type Recorder struct {
	mu            sync.Mutex
	ring          []*Entry
	next          int
	size          int
	index         map[string]*Entry
	entropy       *ulid.MonotonicEntropy
	slowThreshold time.Duration
	now           func() time.Time
	logger        *log.Logger
}

// NewRecorder creates a query recorder.
func NewRecorder(cfg Config) *Recorder {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	slow := cfg.SlowQueryThreshold
	if slow <= 0 {
		slow = defaultSlowQueryThreshold
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		ring:          make([]*Entry, capacity),
		index:         make(map[string]*Entry, capacity),
		entropy:       ulid.Monotonic(crand.Reader, 0),
		slowThreshold: slow,
		now:           now,
		logger:        log.OrDefault(cfg.Logger).With(log.String(log.LoggerKeyComponentName, loggerComponentName)),
	}
}

// SlowQueryThreshold returns the duration above which a query counts as slow.
func (r *Recorder) SlowQueryThreshold() time.Duration {
	return r.slowThreshold
}

// StartOption annotates a query when it starts.
type StartOption func(e *Entry)

// WithCircuitState records the breaker state at the time the query was issued.
func WithCircuitState(state circuitbreaker.State) StartOption {
	return func(e *Entry) {
		e.CircuitState = state
	}
}

// StartQuery logs a query and returns its identifier. The complexity is classified here and
// never changes afterwards.
func (r *Recorder) StartQuery(query model.QueryDescriptor, opts ...StartOption) string {
	s := analyzeProjection(query.Projection)
	complexity := classify(s, len(query.Filters))

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	id := ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
	e := &Entry{
		ID:           id,
		Resource:     query.Resource,
		CallerID:     query.CallerID,
		Key:          query.Key(),
		Projection:   query.ProjectionString(),
		Width:        s.width,
		FilterCount:  len(query.Filters),
		JoinCount:    s.joins,
		NestingDepth: s.nesting,
		Complexity:   complexity,
		StartedAt:    now,
		Status:       StatusPending,
		Query:        query,
	}
	for _, opt := range opts {
		opt(e)
	}

	if old := r.ring[r.next]; old != nil {
		delete(r.index, old.ID)
	}
	r.ring[r.next] = e
	r.index[id] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.size < len(r.ring) {
		r.size++
	}
	return id
}

// CompleteQuery records the success of a started query. It returns false when the entry is
// unknown, already finished or was dropped from the log.
func (r *Recorder) CompleteQuery(id string, duration time.Duration, resultCount int, perf Perf) bool {
	r.mu.Lock()
	e, ok := r.index[id]
	if !ok || e.Status != StatusPending {
		r.mu.Unlock()
		return false
	}
	e.Status = StatusSuccess
	e.Duration = duration
	e.HasDuration = true
	e.ResultCount = resultCount
	e.Perf = perf
	e.CacheAge = perf.CacheAge
	resource, complexity := e.Resource, e.Complexity
	r.mu.Unlock()

	recordDuration(resource, string(StatusSuccess), duration)
	if duration > r.slowThreshold {
		r.logger.Warn("Slow query", log.String(log.LoggerKeyResource, resource), log.Duration("duration", duration),
			log.String("complexity", string(complexity)), log.Int("rows", resultCount))
	}
	return true
}

// FailQuery records the failure of a started query with its taxonomy kind and retry count.
func (r *Recorder) FailQuery(id string, duration time.Duration, err error, retryCount int) bool {
	kind := dataerror.KindOf(err)
	if kind == "" {
		kind = dataerror.KindUnknown
	}

	r.mu.Lock()
	e, ok := r.index[id]
	if !ok || e.Status != StatusPending {
		r.mu.Unlock()
		return false
	}
	e.Status = StatusFailure
	if duration > 0 {
		e.Duration = duration
		e.HasDuration = true
	}
	e.ErrorKind = kind
	if err != nil {
		e.Error = err.Error()
	}
	e.RetryCount = retryCount
	resource := e.Resource
	r.mu.Unlock()

	recordDuration(resource, string(StatusFailure), duration)
	if kind != dataerror.KindCircuitOpen && kind != dataerror.KindCancelled {
		r.logger.Debug("Query failed", log.String(log.LoggerKeyResource, resource),
			log.String("kind", string(kind)), log.Int("retries", retryCount), log.Error(err))
	}
	return true
}

// Entries returns a copy of the log from oldest to newest.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(time.Time{})
}

// Clear empties the log.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.ring {
		r.ring[i] = nil
	}
	r.index = make(map[string]*Entry, len(r.ring))
	r.next = 0
	r.size = 0
	r.logger.Debug("Query log cleared")
}

// snapshot copies the entries started at or after since, oldest first.
// The caller must hold the lock.
func (r *Recorder) snapshot(since time.Time) []Entry {
	out := make([]Entry, 0, r.size)
	start := (r.next - r.size + len(r.ring)) % len(r.ring)
	for i := 0; i < r.size; i++ {
		e := r.ring[(start+i)%len(r.ring)]
		if e == nil || e.StartedAt.Before(since) {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// window returns the entries of the trailing window. A non-positive window returns every entry.
func (r *Recorder) window(window time.Duration) ([]Entry, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if window <= 0 {
		return r.snapshot(time.Time{}), now
	}
	return r.snapshot(now.Add(-window)), now
}

// Analyze analyzes the entries of the trailing window.
func (r *Recorder) Analyze(window time.Duration) PerformanceAnalysis {
	entries, _ := r.window(window)
	return Analyze(entries, r.slowThreshold)
}

// Suggestions returns the optimization advice for the entries of the trailing window.
func (r *Recorder) Suggestions(window time.Duration) []Suggestion {
	entries, _ := r.window(window)
	return SuggestOptimizations(entries, r.slowThreshold)
}
