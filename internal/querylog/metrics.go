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

package querylog

import (
	"sort"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/axiomhq/hyperloglog"

	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const (
	topSlowest        = 10
	topRecentFailures = 10
	sketchAccuracy    = 0.01
)

// QueryMetrics aggregates the log over a trailing window.
type QueryMetrics struct {
	Window           time.Duration          `json:"window"`
	Total            int                    `json:"total"`
	Successful       int                    `json:"successful"`
	Failed           int                    `json:"failed"`
	Pending          int                    `json:"pending"`
	ErrorRate        float64                `json:"errorRate"`
	AverageDuration  time.Duration          `json:"averageDuration"`
	P50Duration      time.Duration          `json:"p50Duration"`
	P95Duration      time.Duration          `json:"p95Duration"`
	P99Duration      time.Duration          `json:"p99Duration"`
	CacheHitRate     float64                `json:"cacheHitRate"`
	CircuitOpenCount int                    `json:"circuitOpenCount"`
	Retries          int                    `json:"retries"`
	ErrorsByKind     map[dataerror.Kind]int `json:"errorsByKind"`
	DistinctCallers  uint64                 `json:"distinctCallers"`
	SlowestQueries   []Entry                `json:"slowestQueries"`
	RecentFailures   []Entry                `json:"recentFailures"`
}

// Metrics aggregates the entries started within the trailing window. A non-positive window
// covers the whole log.
func (r *Recorder) Metrics(window time.Duration) QueryMetrics {
	entries, _ := r.window(window)
	m := Aggregate(entries)
	m.Window = window

	if len(entries) > 0 && m.Successful+m.Failed > 0 {
		r.logger.Debug("Computed query metrics", log.Int("total", m.Total), log.Float64("errorRate", m.ErrorRate),
			log.Duration("p95", m.P95Duration))
	}
	return m
}

// Aggregate computes the metrics of a set of entries. The average and the percentiles only
// consider entries with a recorded duration.
func Aggregate(entries []Entry) QueryMetrics {
	m := QueryMetrics{
		Total:        len(entries),
		ErrorsByKind: make(map[dataerror.Kind]int),
	}

	sketch, _ := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	callers := hyperloglog.New14()

	var durationSum time.Duration
	durations := 0
	cacheHits := 0
	var completed, failures []Entry
	for _, e := range entries {
		if e.CallerID != "" {
			callers.Insert([]byte(e.CallerID))
		}
		switch e.Status {
		case StatusSuccess:
			m.Successful++
			if e.Perf.CacheHit {
				cacheHits++
			}
			completed = append(completed, e)
		case StatusFailure:
			m.Failed++
			m.ErrorsByKind[e.ErrorKind]++
			m.Retries += e.RetryCount
			if e.circuitOpen() {
				m.CircuitOpenCount++
			}
			failures = append(failures, e)
		default:
			m.Pending++
		}
		if e.HasDuration {
			durationSum += e.Duration
			durations++
			if sketch != nil {
				_ = sketch.Add(float64(e.Duration) / float64(time.Millisecond))
			}
		}
	}

	if finished := m.Successful + m.Failed; finished > 0 {
		m.ErrorRate = float64(m.Failed) / float64(finished)
	}
	if m.Successful > 0 {
		m.CacheHitRate = float64(cacheHits) / float64(m.Successful)
	}
	if durations > 0 {
		m.AverageDuration = durationSum / time.Duration(durations)
		if sketch != nil {
			m.P50Duration = quantile(sketch, 0.50)
			m.P95Duration = quantile(sketch, 0.95)
			m.P99Duration = quantile(sketch, 0.99)
		}
	}
	m.DistinctCallers = callers.Estimate()

	sort.SliceStable(completed, func(i, j int) bool { return completed[i].Duration > completed[j].Duration })
	if len(completed) > topSlowest {
		completed = completed[:topSlowest]
	}
	m.SlowestQueries = completed

	sort.SliceStable(failures, func(i, j int) bool { return failures[i].StartedAt.After(failures[j].StartedAt) })
	if len(failures) > topRecentFailures {
		failures = failures[:topRecentFailures]
	}
	m.RecentFailures = failures
	return m
}

func quantile(sketch *ddsketch.DDSketch, q float64) time.Duration {
	v, err := sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return time.Duration(v * float64(time.Millisecond))
}
