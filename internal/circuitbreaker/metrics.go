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

package circuitbreaker

import "time"

// Metrics are the rolling health figures of the protected service.
type Metrics struct {
	State               State         `json:"state"`
	TotalRequests       int64         `json:"totalRequests"`
	Successes           int64         `json:"successes"`
	Failures            int64         `json:"failures"`
	Rejected            int64         `json:"rejected"`
	Resets              int64         `json:"resets"`
	Reliability         float64       `json:"reliability"`
	Uptime              float64       `json:"uptime"`
	AverageOpenTime     time.Duration `json:"averageOpenTime"`
	AverageRecoveryTime time.Duration `json:"averageRecoveryTime"`
	OpenTransitions     int           `json:"openTransitions"`
}

// Snapshot is a point in time view of the breaker.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	StateSince          time.Time `json:"stateSince"`
	OpenedAt            time.Time `json:"openedAt,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	HalfOpenInFlight    int       `json:"halfOpenInFlight"`
	Metrics             Metrics   `json:"metrics"`
	Events              []Event   `json:"events"`
}

// Metrics returns the metrics computed on the latest event.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

// Snapshot returns the current state, freshly computed metrics and the event history.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.metrics = b.computeMetrics(now)
	events := make([]Event, len(b.events))
	copy(events, b.events)
	return Snapshot{
		Name:                b.cfg.Name,
		State:               b.state,
		StateSince:          b.stateSince,
		OpenedAt:            b.openedAt,
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenInFlight:    b.halfOpenInFlight,
		Metrics:             b.metrics,
		Events:              events,
	}
}

// computeMetrics derives the rolling metrics. The caller must hold the lock.
func (b *Breaker) computeMetrics(now time.Time) Metrics {
	m := Metrics{
		State:           b.state,
		TotalRequests:   b.successes + b.failures,
		Successes:       b.successes,
		Failures:        b.failures,
		Rejected:        b.rejected,
		Resets:          b.resets,
		Reliability:     1,
		Uptime:          b.uptime(now),
		OpenTransitions: len(b.openTransitions),
	}
	if m.TotalRequests > 0 {
		m.Reliability = float64(b.successes) / float64(m.TotalRequests)
	}
	if b.openCount > 0 {
		m.AverageOpenTime = b.openTotal / time.Duration(b.openCount)
	}
	if b.recoveryCount > 0 {
		m.AverageRecoveryTime = b.recoveryTotal / time.Duration(b.recoveryCount)
	}
	return m
}

// uptime is the fraction of the trailing window spent outside OPEN. Intervals that ended before
// the window are dropped.
func (b *Breaker) uptime(now time.Time) float64 {
	windowStart := now.Add(-b.cfg.UptimeWindow)
	if b.createdAt.After(windowStart) {
		windowStart = b.createdAt
	}
	span := now.Sub(windowStart)

	kept := b.openIntervals[:0]
	var open time.Duration
	for _, iv := range b.openIntervals {
		if !iv.end.IsZero() && iv.end.Before(windowStart) {
			continue
		}
		kept = append(kept, iv)

		start, end := iv.start, iv.end
		if end.IsZero() {
			end = now
		}
		if start.Before(windowStart) {
			start = windowStart
		}
		if end.After(start) {
			open += end.Sub(start)
		}
	}
	b.openIntervals = kept

	if span <= 0 {
		if b.state == StateOpen {
			return 0
		}
		return 1
	}
	up := 1 - float64(open)/float64(span)
	if up < 0 {
		return 0
	}
	return up
}
