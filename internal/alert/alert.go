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

// Package alert delivers operational alerts raised by the circuit breaker monitor and the
// rollout controller to registered listeners.
package alert

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/asgardeo/datacoord/internal/system/log"
)

const loggerComponentName = "AlertDispatcher"

// Severity is the urgency of an alert.
type Severity string

const (
	// SeverityInfo is informational.
	SeverityInfo Severity = "info"
	// SeverityWarning needs attention.
	SeverityWarning Severity = "warning"
	// SeverityCritical needs immediate attention.
	SeverityCritical Severity = "critical"
)

// Alert is a single observation delivered to listeners.
type Alert struct {
	Type      string                 `json:"type"`
	Severity  Severity               `json:"severity"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Listener receives alerts. Listeners must not block for long.
type Listener func(Alert)

// DispatcherInterface defines the alert sink used by the core services.
type DispatcherInterface interface {
	Register(listener Listener)
	Publish(a Alert) bool
}

// Dispatcher fans alerts out to listeners. Alerts of the same type and source are
// suppressed for the configured window after one is delivered.
type Dispatcher struct {
	mu         sync.RWMutex
	listeners  []Listener
	suppressed *ttlcache.Cache[string, struct{}]
	now        func() time.Time
	logger     *log.Logger
}

// NewDispatcher creates a dispatcher. A zero window disables suppression.
func NewDispatcher(window time.Duration, logger *log.Logger) *Dispatcher {
	d := &Dispatcher{
		now:    time.Now,
		logger: log.OrDefault(logger).With(log.String(log.LoggerKeyComponentName, loggerComponentName)),
	}
	if window > 0 {
		d.suppressed = ttlcache.New(
			ttlcache.WithTTL[string, struct{}](window),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
	}
	return d
}

// Register adds a listener.
func (d *Dispatcher) Register(listener Listener) {
	if listener == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, listener)
}

// Publish delivers the alert to every listener and reports whether it was delivered.
// Listener panics are recovered and logged.
func (d *Dispatcher) Publish(a Alert) bool {
	if a.Timestamp.IsZero() {
		a.Timestamp = d.now()
	}

	if d.suppressed != nil {
		key := a.Type + "|" + a.Source
		if _, found := d.suppressed.GetOrSet(key, struct{}{}); found {
			d.logger.Debug("Alert suppressed", log.String("type", a.Type), log.String("source", a.Source))
			return false
		}
	}

	d.logger.Warn(a.Message, log.String("type", a.Type), log.String("severity", string(a.Severity)),
		log.String("source", a.Source))

	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		d.deliver(l, a)
	}
	return true
}

func (d *Dispatcher) deliver(l Listener, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Alert listener panicked", log.String("type", a.Type), log.Any("panic", r))
		}
	}()
	l(a)
}

// Close releases the suppression cache.
func (d *Dispatcher) Close() {
	if d.suppressed != nil {
		d.suppressed.DeleteAll()
	}
}
