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

// Package circuitbreaker isolates the remote data service when it degrades and monitors its health.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/asgardeo/datacoord/internal/alert"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const loggerComponentName = "CircuitBreaker"

const (
	defaultFailureThreshold = 5
	defaultCoolDown         = 30 * time.Second
	defaultHalfOpenMaxCalls = 3
	defaultSuccessThreshold = 2
	defaultUptimeWindow     = time.Hour
	defaultEventHistory     = 200
)

// BreakerInterface defines the circuit breaker operations used by the request pipeline.
type BreakerInterface interface {
	Allow() error
	Record(err error)
	Execute(ctx context.Context, fn func(ctx context.Context) (model.ResultSet, error)) (model.ResultSet, error)
	IsOpen() bool
	State() State
	Reset()
	CheckAlerts()
	Snapshot() Snapshot
}

// AlertThresholds configures the alerting rules. A zero value disables the rule.
type AlertThresholds struct {
	FrequentOpenCount       int
	FrequentOpenWindow      time.Duration
	LongOpenDuration        time.Duration
	LowReliabilityThreshold float64
	MinSampleSize           int
}

// Config holds the breaker configuration.
type Config struct {
	// Name identifies the protected service in logs and alerts.
	Name             string
	FailureThreshold int
	CoolDown         time.Duration
	HalfOpenMaxCalls int
	SuccessThreshold int
	UptimeWindow     time.Duration
	EventHistory     int
	Alerts           AlertThresholds
	Dispatcher       alert.DispatcherInterface
	Now              func() time.Time
	Logger           *log.Logger
}

// Breaker is a three state circuit breaker. Every transition goes through HALF_OPEN on the way
// back to CLOSED.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state               State
	stateSince          time.Time
	openedAt            time.Time
	consecutiveFailures int
	halfOpenInFlight    int
	halfOpenSuccesses   int
	recoveryStart       time.Time
	createdAt           time.Time

	successes int64
	failures  int64
	rejected  int64
	resets    int64

	openTransitions []time.Time
	openIntervals   []openInterval
	openTotal       time.Duration
	openCount       int64
	recoveryTotal   time.Duration
	recoveryCount   int64

	events  []Event
	metrics Metrics

	dispatcher alert.DispatcherInterface
	now        func() time.Time
	logger     *log.Logger
}

// NewBreaker creates a circuit breaker in the CLOSED state.
func NewBreaker(cfg Config) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = defaultCoolDown
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = defaultHalfOpenMaxCalls
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = defaultSuccessThreshold
	}
	if cfg.SuccessThreshold > cfg.HalfOpenMaxCalls {
		cfg.SuccessThreshold = cfg.HalfOpenMaxCalls
	}
	if cfg.UptimeWindow <= 0 {
		cfg.UptimeWindow = defaultUptimeWindow
	}
	if cfg.EventHistory <= 0 {
		cfg.EventHistory = defaultEventHistory
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	b := &Breaker{
		cfg:        cfg,
		state:      StateClosed,
		dispatcher: cfg.Dispatcher,
		now:        now,
		logger: log.OrDefault(cfg.Logger).With(log.String(log.LoggerKeyComponentName, loggerComponentName),
			log.String("breaker", cfg.Name)),
	}
	b.createdAt = now()
	b.stateSince = b.createdAt
	b.metrics = b.computeMetrics(b.createdAt)
	return b
}

// Allow reports whether a call may proceed. An open breaker whose cool-down elapsed moves to
// HALF_OPEN and admits up to the configured number of trial calls.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var pending []alert.Alert
	defer func() {
		b.mu.Unlock()
		b.publish(pending)
	}()

	now := b.now()
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.CoolDown {
		pending = append(pending, b.transition(StateHalfOpen, now)...)
	}

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.halfOpenInFlight < b.cfg.HalfOpenMaxCalls {
			b.halfOpenInFlight++
			return nil
		}
	}

	b.rejected++
	b.appendEvent(Event{Type: EventRejected, Timestamp: now})
	pending = append(pending, b.refresh(now)...)
	recordRejection(b.cfg.Name)
	return dataerror.ErrCircuitOpen
}

// Record reports the outcome of a call admitted by Allow. Cancellations release a trial slot
// without counting. Validation, not-found and permission errors come from a healthy service and
// count as successes.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	var pending []alert.Alert
	defer func() {
		b.mu.Unlock()
		b.publish(pending)
	}()

	now := b.now()
	switch dataerror.KindOf(err) {
	case dataerror.KindCancelled:
		if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		return
	case "", dataerror.KindValidation, dataerror.KindNotFound, dataerror.KindPermission:
		pending = b.onSuccess(now)
	default:
		pending = b.onFailure(err, now)
	}
}

// Execute runs fn when the breaker admits the call and records its outcome.
// While OPEN it fails fast with dataerror.ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (model.ResultSet, error)) (
	model.ResultSet, error) {
	if err := b.Allow(); err != nil {
		return nil, err
	}
	data, err := fn(ctx)
	b.Record(err)
	return data, err
}

func (b *Breaker) onSuccess(now time.Time) []alert.Alert {
	b.successes++
	b.appendEvent(Event{Type: EventSuccess, Timestamp: now})

	var pending []alert.Alert
	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			pending = append(pending, b.transition(StateClosed, now)...)
		}
	}
	return append(pending, b.refresh(now)...)
}

func (b *Breaker) onFailure(err error, now time.Time) []alert.Alert {
	b.failures++
	b.appendEvent(Event{Type: EventFailure, Error: err.Error(), Timestamp: now})

	var pending []alert.Alert
	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			pending = append(pending, b.transition(StateOpen, now)...)
		}
	case StateHalfOpen:
		pending = append(pending, b.transition(StateOpen, now)...)
	}
	return append(pending, b.refresh(now)...)
}

// IsOpen reports whether calls are currently short-circuited.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen && b.now().Sub(b.openedAt) < b.cfg.CoolDown
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset manually closes the breaker from any state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var pending []alert.Alert
	defer func() {
		b.mu.Unlock()
		b.publish(pending)
	}()

	now := b.now()
	from := b.state
	b.resets++
	b.appendEvent(Event{Type: EventReset, From: from, To: StateClosed, Timestamp: now})
	if from != StateClosed {
		b.enter(StateClosed, now)
	}
	b.consecutiveFailures = 0
	pending = b.refresh(now)

	b.logger.Info("Circuit breaker manually reset", log.String("from", string(from)))
	recordTransition(b.cfg.Name, StateClosed)
}

// CheckAlerts evaluates the time based alert rules. It is driven by the metrics tick since an
// open breaker may see no calls at all.
func (b *Breaker) CheckAlerts() {
	b.mu.Lock()
	pending := b.refresh(b.now())
	b.mu.Unlock()
	b.publish(pending)
}

// transition moves to the target state if the state machine permits it and returns the alerts
// it raised. The caller must hold the lock.
func (b *Breaker) transition(to State, now time.Time) []alert.Alert {
	from := b.state
	if !canTransition(from, to) {
		b.logger.Error("Rejected invalid circuit breaker transition", log.String("from", string(from)),
			log.String("to", string(to)))
		return nil
	}
	b.enter(to, now)
	b.appendEvent(Event{Type: EventStateChange, From: from, To: to, Timestamp: now})
	recordTransition(b.cfg.Name, to)

	if to == StateOpen {
		b.logger.Warn("Circuit breaker opened", log.String("from", string(from)),
			log.Int("consecutiveFailures", b.consecutiveFailures))
		b.openTransitions = append(b.openTransitions, now)
		return b.frequentOpeningAlert(now)
	}
	b.logger.Info("Circuit breaker state changed", log.String("from", string(from)), log.String("to", string(to)))
	return nil
}

// enter updates the bookkeeping of a state change. The caller must hold the lock.
func (b *Breaker) enter(to State, now time.Time) {
	from := b.state
	if from == StateOpen {
		b.closeOpenInterval(now)
	}
	if from == StateClosed && to != StateClosed {
		b.recoveryStart = now
	}

	b.state = to
	b.stateSince = now
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0

	switch to {
	case StateOpen:
		b.openedAt = now
		b.openIntervals = append(b.openIntervals, openInterval{start: now})
	case StateClosed:
		b.consecutiveFailures = 0
		if !b.recoveryStart.IsZero() {
			b.recoveryTotal += now.Sub(b.recoveryStart)
			b.recoveryCount++
			b.recoveryStart = time.Time{}
		}
	}
}

func (b *Breaker) closeOpenInterval(now time.Time) {
	if n := len(b.openIntervals); n > 0 && b.openIntervals[n-1].end.IsZero() {
		b.openIntervals[n-1].end = now
		b.openTotal += now.Sub(b.openIntervals[n-1].start)
		b.openCount++
	}
}

func (b *Breaker) appendEvent(e Event) {
	b.events = append(b.events, e)
	if over := len(b.events) - b.cfg.EventHistory; over > 0 {
		b.events = append(b.events[:0:0], b.events[over:]...)
	}
}

// refresh recomputes the rolling metrics and evaluates the level based alert rules.
// The caller must hold the lock.
func (b *Breaker) refresh(now time.Time) []alert.Alert {
	b.metrics = b.computeMetrics(now)
	var pending []alert.Alert
	pending = append(pending, b.longOpenAlert(now)...)
	pending = append(pending, b.lowReliabilityAlert(now)...)
	return pending
}

func (b *Breaker) publish(alerts []alert.Alert) {
	if b.dispatcher == nil {
		return
	}
	for _, a := range alerts {
		b.dispatcher.Publish(a)
	}
}
