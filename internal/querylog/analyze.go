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
	"fmt"
	"sort"
	"time"
)

const (
	maxRanked             = 10
	cacheMissRateLimit    = 0.5
	cacheMissMinSamples   = 5
	errorProneRateLimit   = 0.1
	recommendationsPerKey = 3
)

// ResourceStat is the per resource summary used by the analysis.
type ResourceStat struct {
	Resource        string        `json:"resource"`
	Count           int           `json:"count"`
	Failed          int           `json:"failed"`
	AverageDuration time.Duration `json:"averageDuration"`
	ErrorRate       float64       `json:"errorRate"`
	CacheMissRate   float64       `json:"cacheMissRate"`
	CacheSamples    int           `json:"cacheSamples"`
}

// PerformanceAnalysis is the bottleneck report over a set of entries.
type PerformanceAnalysis struct {
	Metrics             QueryMetrics   `json:"metrics"`
	SlowestResources    []ResourceStat `json:"slowestResources"`
	ErrorProneResources []ResourceStat `json:"errorProneResources"`
	Bottlenecks         []Entry        `json:"bottlenecks"`
	CacheMissResources  []ResourceStat `json:"cacheMissResources"`
	Recommendations     []string       `json:"recommendations"`
}

type resourceAcc struct {
	stat        ResourceStat
	durationSum time.Duration
	durations   int
	finished    int
	misses      int
}

// Analyze ranks the resources of the given entries by latency and by error rate, lists complex
// queries as bottleneck candidates and flags resources that mostly miss the cache.
func Analyze(entries []Entry, slowThreshold time.Duration) PerformanceAnalysis {
	a := PerformanceAnalysis{Metrics: Aggregate(entries)}
	stats := resourceStats(entries)

	for _, s := range stats {
		if s.AverageDuration > 0 {
			a.SlowestResources = append(a.SlowestResources, s)
		}
		if s.Failed > 0 {
			a.ErrorProneResources = append(a.ErrorProneResources, s)
		}
		if s.CacheSamples > cacheMissMinSamples && s.CacheMissRate > cacheMissRateLimit {
			a.CacheMissResources = append(a.CacheMissResources, s)
		}
	}
	sort.SliceStable(a.SlowestResources, func(i, j int) bool {
		return a.SlowestResources[i].AverageDuration > a.SlowestResources[j].AverageDuration
	})
	sort.SliceStable(a.ErrorProneResources, func(i, j int) bool {
		return a.ErrorProneResources[i].ErrorRate > a.ErrorProneResources[j].ErrorRate
	})
	sort.SliceStable(a.CacheMissResources, func(i, j int) bool {
		return a.CacheMissResources[i].CacheMissRate > a.CacheMissResources[j].CacheMissRate
	})
	a.SlowestResources = truncate(a.SlowestResources, maxRanked)
	a.ErrorProneResources = truncate(a.ErrorProneResources, maxRanked)

	for _, e := range entries {
		if e.Complexity == ComplexityComplex {
			a.Bottlenecks = append(a.Bottlenecks, e)
		}
	}
	sort.SliceStable(a.Bottlenecks, func(i, j int) bool { return a.Bottlenecks[i].Duration > a.Bottlenecks[j].Duration })
	a.Bottlenecks = truncate(a.Bottlenecks, maxRanked)

	a.Recommendations = recommend(a, slowThreshold)
	return a
}

// resourceStats groups the entries by resource, ordered by resource name.
func resourceStats(entries []Entry) []ResourceStat {
	accs := make(map[string]*resourceAcc)
	for _, e := range entries {
		acc, ok := accs[e.Resource]
		if !ok {
			acc = &resourceAcc{stat: ResourceStat{Resource: e.Resource}}
			accs[e.Resource] = acc
		}
		acc.stat.Count++
		if e.HasDuration {
			acc.durationSum += e.Duration
			acc.durations++
		}
		switch e.Status {
		case StatusSuccess:
			acc.finished++
			acc.stat.CacheSamples++
			if !e.Perf.CacheHit {
				acc.misses++
			}
		case StatusFailure:
			acc.finished++
			acc.stat.Failed++
		}
	}

	out := make([]ResourceStat, 0, len(accs))
	for _, acc := range accs {
		s := acc.stat
		if acc.durations > 0 {
			s.AverageDuration = acc.durationSum / time.Duration(acc.durations)
		}
		if acc.finished > 0 {
			s.ErrorRate = float64(s.Failed) / float64(acc.finished)
		}
		if s.CacheSamples > 0 {
			s.CacheMissRate = float64(acc.misses) / float64(s.CacheSamples)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

func recommend(a PerformanceAnalysis, slowThreshold time.Duration) []string {
	var recs []string
	for i, s := range a.SlowestResources {
		if i == recommendationsPerKey {
			break
		}
		if s.AverageDuration > slowThreshold {
			recs = append(recs, fmt.Sprintf("Resource %q averages %s per query; narrow the projection or add an index",
				s.Resource, s.AverageDuration.Round(time.Millisecond)))
		}
	}
	for i, s := range a.ErrorProneResources {
		if i == recommendationsPerKey {
			break
		}
		if s.ErrorRate >= errorProneRateLimit {
			recs = append(recs, fmt.Sprintf("Resource %q fails %.0f%% of queries; check connectivity and permissions",
				s.Resource, s.ErrorRate*100))
		}
	}
	if n := len(a.Bottlenecks); n > 0 {
		recs = append(recs, fmt.Sprintf("%d complex queries found; split joins or reduce nesting", n))
	}
	for _, s := range a.CacheMissResources {
		recs = append(recs, fmt.Sprintf("Resource %q misses the cache on %.0f%% of %d queries; raise its stale time",
			s.Resource, s.CacheMissRate*100, s.CacheSamples))
	}
	return recs
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
