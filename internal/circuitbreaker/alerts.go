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

import (
	"fmt"
	"time"

	"github.com/asgardeo/datacoord/internal/alert"
)

const (
	// AlertFrequentOpening is raised when the breaker opens too often within a window.
	AlertFrequentOpening = "circuit_frequent_opening"
	// AlertLongOpen is raised when the breaker stays open longer than a threshold.
	AlertLongOpen = "circuit_long_open"
	// AlertLowReliability is raised when the success ratio drops below a threshold.
	AlertLowReliability = "circuit_low_reliability"
)

func (b *Breaker) source() string {
	return "circuit_breaker:" + b.cfg.Name
}

// frequentOpeningAlert prunes open transitions outside the window and raises an alert when
// enough remain. The caller must hold the lock.
func (b *Breaker) frequentOpeningAlert(now time.Time) []alert.Alert {
	rule := b.cfg.Alerts
	if rule.FrequentOpenCount <= 0 || rule.FrequentOpenWindow <= 0 {
		return nil
	}

	cutoff := now.Add(-rule.FrequentOpenWindow)
	kept := b.openTransitions[:0]
	for _, t := range b.openTransitions {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	b.openTransitions = kept

	if len(kept) < rule.FrequentOpenCount {
		return nil
	}
	return []alert.Alert{{
		Type:     AlertFrequentOpening,
		Severity: alert.SeverityWarning,
		Source:   b.source(),
		Message: fmt.Sprintf("Circuit breaker %s opened %d times within %s", b.cfg.Name, len(kept),
			rule.FrequentOpenWindow),
		Data: map[string]interface{}{
			"openCount": len(kept),
			"window":    rule.FrequentOpenWindow.String(),
		},
		Timestamp: now,
	}}
}

// longOpenAlert raises an alert when the current outage has kept the breaker OPEN longer than the
// threshold. Trial failures from HALF_OPEN belong to the same outage. The caller must hold the lock.
func (b *Breaker) longOpenAlert(now time.Time) []alert.Alert {
	rule := b.cfg.Alerts
	if rule.LongOpenDuration <= 0 || b.state != StateOpen {
		return nil
	}
	since := b.recoveryStart
	if since.IsZero() {
		since = b.openedAt
	}
	outage := now.Sub(since)
	if outage <= rule.LongOpenDuration {
		return nil
	}
	return []alert.Alert{{
		Type:     AlertLongOpen,
		Severity: alert.SeverityCritical,
		Source:   b.source(),
		Message:  fmt.Sprintf("Circuit breaker %s has been open for %s", b.cfg.Name, outage.Round(time.Second)),
		Data: map[string]interface{}{
			"openFor":   outage.String(),
			"openedAt":  b.openedAt,
			"threshold": rule.LongOpenDuration.String(),
		},
		Timestamp: now,
	}}
}

// lowReliabilityAlert raises an alert when reliability drops below the threshold once the
// minimum sample size is reached. The caller must hold the lock.
func (b *Breaker) lowReliabilityAlert(now time.Time) []alert.Alert {
	rule := b.cfg.Alerts
	if rule.LowReliabilityThreshold <= 0 {
		return nil
	}
	m := b.metrics
	if m.TotalRequests < int64(rule.MinSampleSize) || m.TotalRequests == 0 {
		return nil
	}
	if m.Reliability >= rule.LowReliabilityThreshold {
		return nil
	}
	return []alert.Alert{{
		Type:     AlertLowReliability,
		Severity: alert.SeverityWarning,
		Source:   b.source(),
		Message: fmt.Sprintf("Reliability of %s dropped to %.2f", b.cfg.Name, m.Reliability),
		Data: map[string]interface{}{
			"reliability": m.Reliability,
			"threshold":   rule.LowReliabilityThreshold,
			"samples":     m.TotalRequests,
		},
		Timestamp: now,
	}}
}
