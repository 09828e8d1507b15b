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
	"strings"
	"time"

	"github.com/asgardeo/datacoord/internal/circuitbreaker"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
)

// Complexity is the shape classification of a query.
type Complexity string

const (
	// ComplexitySimple is a narrow query with few predicates.
	ComplexitySimple Complexity = "simple"
	// ComplexityMedium is a wider query or one with several predicates.
	ComplexityMedium Complexity = "medium"
	// ComplexityComplex is a query with joins, deep nesting or a very wide projection.
	ComplexityComplex Complexity = "complex"
)

// Status is the lifecycle state of a logged query.
type Status string

const (
	// StatusPending is a started query without an outcome.
	StatusPending Status = "pending"
	// StatusSuccess is a completed query.
	StatusSuccess Status = "success"
	// StatusFailure is a failed query.
	StatusFailure Status = "failure"
)

// Perf carries how a completed query was served. CacheAge is the age of the data served by a hit.
type Perf struct {
	CacheHit      bool          `json:"cacheHit"`
	Stale         bool          `json:"stale"`
	Deduplicated  bool          `json:"deduplicated"`
	CacheBypassed bool          `json:"cacheBypassed"`
	CacheAge      time.Duration `json:"cacheAge,omitempty"`
}

// Entry is one logged query.
type Entry struct {
	ID           string                `json:"id"`
	Resource     string                `json:"resource"`
	CallerID     string                `json:"callerId,omitempty"`
	Key          string                `json:"key"`
	Projection   string                `json:"projection"`
	Width        int                   `json:"width"`
	FilterCount  int                   `json:"filterCount"`
	JoinCount    int                   `json:"joinCount"`
	NestingDepth int                   `json:"nestingDepth"`
	Complexity   Complexity            `json:"complexity"`
	CircuitState circuitbreaker.State  `json:"circuitState,omitempty"`
	CacheAge     time.Duration         `json:"cacheAge"`
	StartedAt    time.Time             `json:"startedAt"`
	Status       Status                `json:"status"`
	Duration     time.Duration         `json:"duration"`
	HasDuration  bool                  `json:"hasDuration"`
	ResultCount  int                   `json:"resultCount"`
	Perf         Perf                  `json:"perf"`
	ErrorKind    dataerror.Kind        `json:"errorKind,omitempty"`
	Error        string                `json:"error,omitempty"`
	RetryCount   int                   `json:"retryCount"`
	Query        model.QueryDescriptor `json:"-"`
}

// circuitOpen reports whether the query was short-circuited by the breaker.
func (e *Entry) circuitOpen() bool {
	return e.Status == StatusFailure && e.ErrorKind == dataerror.KindCircuitOpen
}

// shape is the projection analysis used for complexity classification.
type shape struct {
	width   int
	joins   int
	nesting int
}

// analyzeProjection counts the top level columns, the embedded resources (join markers written
// as "alias:resource(columns)" or "resource(columns)") and the deepest nesting of a projection.
func analyzeProjection(projection []string) shape {
	var s shape
	for _, item := range projection {
		depth := 0
		topLevel := 1
		for _, r := range item {
			switch r {
			case '(':
				depth++
				s.joins++
				if depth > s.nesting {
					s.nesting = depth
				}
			case ')':
				if depth > 0 {
					depth--
				}
			case ',':
				if depth == 0 {
					topLevel++
				}
			}
		}
		if strings.TrimSpace(item) != "" {
			s.width += topLevel
		}
	}
	return s
}

// classify scores the query shape. It runs once when the query starts.
func classify(s shape, filters int) Complexity {
	score := 0
	switch {
	case s.width > 10:
		score += 2
	case s.width > 5:
		score++
	}
	switch {
	case filters > 5:
		score += 2
	case filters > 2:
		score++
	}
	score += 2 * s.joins
	if s.nesting > 1 {
		score += 2
	}

	switch {
	case score >= 5:
		return ComplexityComplex
	case score >= 2:
		return ComplexityMedium
	default:
		return ComplexitySimple
	}
}
