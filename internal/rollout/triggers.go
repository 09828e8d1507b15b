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

package rollout

import (
	"fmt"
	"math"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/asgardeo/datacoord/internal/alert"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const equalityTolerance = 1e-9

// ReportMetrics records a window sample and evaluates the rollback triggers of every enabled
// flag. A flag whose dependency chain is disabled is skipped. A breached trigger disables its
// flag, fires the rollback callbacks once and raises an alert.
func (c *Controller) ReportMetrics(sample Sample) []Rollback {
	c.mu.Lock()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = c.now()
	}
	c.samples = append(c.samples, sample)
	c.pruneSamples()

	names := make([]string, 0, len(c.flags))
	for name := range c.flags {
		names = append(names, name)
	}
	sort.Strings(names)

	var rollbacks []Rollback
	var overrides []Override
	var callbacks [][]RollbackCallback
	for _, name := range names {
		f := c.flags[name]
		if !f.Enabled || len(f.Triggers) == 0 {
			continue
		}
		if c.dependencyDisabled(f, mapset.NewThreadUnsafeSet[string]()) {
			continue
		}
		for _, t := range f.Triggers {
			observed, count := c.average(t, sample.Timestamp)
			if count == 0 || !holds(t.Operator, observed, t.Threshold) {
				continue
			}

			rb := Rollback{
				Flag:      name,
				Metric:    t.Metric,
				Operator:  t.Operator,
				Threshold: t.Threshold,
				Observed:  observed,
				Window:    t.Window,
				Samples:   count,
				Timestamp: sample.Timestamp,
			}
			f.Enabled = false
			f.DisabledReason = fmt.Sprintf("rolled back: %s %s %g (observed %g)", t.Metric, t.Operator,
				t.Threshold, observed)
			f.UpdatedAt = sample.Timestamp

			rollbacks = append(rollbacks, rb)
			overrides = append(overrides, overrideOf(f))
			cbs := append([]RollbackCallback(nil), c.callbacks[name]...)
			callbacks = append(callbacks, append(cbs, c.callbacks[""]...))
			break
		}
	}
	c.mu.Unlock()

	for i, rb := range rollbacks {
		c.logger.Warn("Feature flag rolled back", log.String("flag", rb.Flag), log.String("metric", rb.Metric),
			log.Float64("observed", rb.Observed), log.Float64("threshold", rb.Threshold))
		recordRollback(rb.Flag)
		_ = c.persist(rb.Flag, overrides[i])
		for _, cb := range callbacks[i] {
			c.invoke(cb, rb)
		}
		c.raise(rb)
	}
	return rollbacks
}

// pruneSamples drops samples older than the widest trigger window. The caller must hold the lock.
func (c *Controller) pruneSamples() {
	if len(c.samples) == 0 {
		return
	}
	latest := c.samples[len(c.samples)-1].Timestamp
	cutoff := latest.Add(-c.maxWindow)
	i := 0
	for i < len(c.samples) && c.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.samples = append(c.samples[:0:0], c.samples[i:]...)
	}
}

// average is the mean of the trigger metric over the samples inside the trigger window ending at
// now. Samples without the metric do not count.
// A zero window covers only the latest sample. The caller must hold the lock.
func (c *Controller) average(t Trigger, now time.Time) (float64, int) {
	cutoff := now.Add(-t.Window)
	var sum float64
	count := 0
	for i := len(c.samples) - 1; i >= 0; i-- {
		s := c.samples[i]
		if s.Timestamp.Before(cutoff) {
			break
		}
		if s.Timestamp.After(now) {
			continue
		}
		v, ok := s.Metrics[t.Metric]
		if !ok || math.IsNaN(v) {
			continue
		}
		sum += v
		count++
		if t.Window <= 0 {
			break
		}
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

func holds(op Operator, observed, threshold float64) bool {
	switch op {
	case OperatorGreater:
		return observed > threshold
	case OperatorLess:
		return observed < threshold
	case OperatorEqual:
		return math.Abs(observed-threshold) <= equalityTolerance
	default:
		return false
	}
}

// invoke runs a rollback callback. A panic is logged and swallowed.
func (c *Controller) invoke(cb RollbackCallback, rb Rollback) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Rollback callback panicked", log.String("flag", rb.Flag), log.Any("panic", r))
		}
	}()
	cb(rb)
}

func (c *Controller) raise(rb Rollback) {
	if c.dispatcher == nil {
		return
	}
	c.dispatcher.Publish(alert.Alert{
		Type:     AlertRollback,
		Severity: alert.SeverityCritical,
		Source:   "rollout:" + rb.Flag,
		Message: fmt.Sprintf("Feature %s rolled back: %s %s %g (observed %g)", rb.Flag, rb.Metric, rb.Operator,
			rb.Threshold, rb.Observed),
		Data: map[string]interface{}{
			"flag":      rb.Flag,
			"metric":    rb.Metric,
			"operator":  string(rb.Operator),
			"threshold": rb.Threshold,
			"observed":  rb.Observed,
			"window":    rb.Window.String(),
			"samples":   rb.Samples,
		},
		Timestamp: rb.Timestamp,
	})
}
