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

	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
)

// Category names a detected issue.
type Category string

const (
	// CategorySlowQuery flags queries slower than the slow query threshold.
	CategorySlowQuery Category = "slow_query"
	// CategoryComplexQuery flags complex projections and joins.
	CategoryComplexQuery Category = "complex_query"
	// CategoryExcessiveFilters flags queries with too many predicates.
	CategoryExcessiveFilters Category = "excessive_filters"
	// CategoryCacheBypass flags queries that skipped the cache.
	CategoryCacheBypass Category = "cache_bypass"
	// CategoryFrequentFailure flags resources that fail often.
	CategoryFrequentFailure Category = "frequent_failure"
)

// Level rates severity and impact.
type Level int

// Levels.
const (
	LevelLow Level = iota + 1
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalText renders the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

const (
	excessiveFilterCount = 5
	minFailures          = 3
	frequentFailureRate  = 0.1
)

// Suggestion is one optimization advisory.
type Suggestion struct {
	Category    Category `json:"category"`
	Resource    string   `json:"resource"`
	Severity    Level    `json:"severity"`
	Impact      Level    `json:"impact"`
	Occurrences int      `json:"occurrences"`
	Message     string   `json:"message"`
}

type finding struct {
	count      int
	byResource map[string]int
}

func (f *finding) add(resource string) {
	if f.byResource == nil {
		f.byResource = make(map[string]int)
	}
	f.count++
	f.byResource[resource]++
}

// top returns the resource with the most occurrences, the lowest name on ties.
func (f *finding) top() string {
	best, bestN := "", 0
	for r, n := range f.byResource {
		if n > bestN || (n == bestN && r < best) {
			best, bestN = r, n
		}
	}
	return best
}

// SuggestOptimizations emits at most one suggestion per category, ordered by severity plus
// impact, highest first.
func SuggestOptimizations(entries []Entry, slowThreshold time.Duration) []Suggestion {
	if len(entries) == 0 {
		return nil
	}

	var slow, complexity, filters, bypass, failures finding
	var slowest time.Duration
	finished := 0
	for _, e := range entries {
		if e.Status == StatusSuccess && e.Duration > slowThreshold {
			slow.add(e.Resource)
			if e.Duration > slowest {
				slowest = e.Duration
			}
		}
		if e.Complexity == ComplexityComplex {
			complexity.add(e.Resource)
		}
		if e.FilterCount > excessiveFilterCount {
			filters.add(e.Resource)
		}
		if e.Status == StatusSuccess && e.Perf.CacheBypassed {
			bypass.add(e.Resource)
		}
		if e.Status != StatusPending {
			finished++
		}
		if e.Status == StatusFailure && e.ErrorKind != dataerror.KindCancelled {
			failures.add(e.Resource)
		}
	}

	total := len(entries)
	var out []Suggestion
	if slow.count > 0 {
		severity := LevelMedium
		if slowest > 3*slowThreshold {
			severity = LevelHigh
		}
		out = append(out, Suggestion{
			Category: CategorySlowQuery, Resource: slow.top(), Severity: severity,
			Impact: impact(slow.count, total), Occurrences: slow.count,
			Message: fmt.Sprintf("%d queries exceeded %s, slowest took %s", slow.count, slowThreshold, slowest),
		})
	}
	if complexity.count > 0 {
		out = append(out, Suggestion{
			Category: CategoryComplexQuery, Resource: complexity.top(), Severity: LevelMedium,
			Impact: impact(complexity.count, total), Occurrences: complexity.count,
			Message: fmt.Sprintf("%d queries use wide projections or joins; fetch embedded resources separately",
				complexity.count),
		})
	}
	if filters.count > 0 {
		out = append(out, Suggestion{
			Category: CategoryExcessiveFilters, Resource: filters.top(), Severity: LevelLow,
			Impact: impact(filters.count, total), Occurrences: filters.count,
			Message: fmt.Sprintf("%d queries carry more than %d filters; consider a dedicated view",
				filters.count, excessiveFilterCount),
		})
	}
	if bypass.count > 0 {
		out = append(out, Suggestion{
			Category: CategoryCacheBypass, Resource: bypass.top(), Severity: LevelLow,
			Impact: impact(bypass.count, total), Occurrences: bypass.count,
			Message: fmt.Sprintf("%d queries bypassed the cache", bypass.count),
		})
	}
	if finished > 0 && failures.count >= minFailures {
		rate := float64(failures.count) / float64(finished)
		if rate >= frequentFailureRate {
			severity := LevelMedium
			if rate >= 0.25 {
				severity = LevelHigh
			}
			out = append(out, Suggestion{
				Category: CategoryFrequentFailure, Resource: failures.top(), Severity: severity,
				Impact: impact(failures.count, total), Occurrences: failures.count,
				Message: fmt.Sprintf("%.0f%% of queries failed", rate*100),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Severity+out[i].Impact, out[j].Severity+out[j].Impact
		if si != sj {
			return si > sj
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// impact rates a finding by the share of entries it affects.
func impact(n, total int) Level {
	share := float64(n) / float64(total)
	switch {
	case share >= 0.25:
		return LevelHigh
	case share >= 0.1:
		return LevelMedium
	default:
		return LevelLow
	}
}
