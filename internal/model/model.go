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

// Package model defines the types shared by the data access coordination services.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Priority is the importance tier of cached data and queued requests.
// Lower numeric values are served first.
type Priority int

const (
	// PriorityCritical is never evicted by the LRU pass.
	PriorityCritical Priority = iota
	// PriorityHigh is never evicted by the LRU pass.
	PriorityHigh
	// PriorityMedium is evictable by the LRU pass.
	PriorityMedium
	// PriorityLow is evictable by the LRU pass.
	PriorityLow
)

// String returns the lower-case name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority parses a priority name. Empty input yields PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "", "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority %q", s)
	}
}

// Filter is a single column predicate of a query.
type Filter struct {
	Column   string      `json:"column"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Order is a single ordering clause of a query.
type Order struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// QueryDescriptor identifies what is fetched from the remote data service and on whose behalf.
type QueryDescriptor struct {
	Resource   string   `json:"resource"`
	Projection []string `json:"projection,omitempty"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    []Order  `json:"orderBy,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	CallerID   string   `json:"callerId,omitempty"`
}

// ProjectionString returns the projection as it would appear in a select list.
func (q QueryDescriptor) ProjectionString() string {
	if len(q.Projection) == 0 {
		return "*"
	}
	return strings.Join(q.Projection, ",")
}

// Shape returns a canonical rendering of the query shape without the caller identity.
// Filters are sorted so that logically equal queries share a shape. Columns, operators and
// values are rendered as JSON tokens, so every section delimits itself and a value cannot
// pass for a separator or for a value of another type.
func (q QueryDescriptor) Shape() string {
	var b strings.Builder
	if len(q.Projection) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(encodeToken(q.Projection))
	}

	filters := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		op := f.Operator
		if op == "" {
			op = "eq"
		}
		filters = append(filters, encodeToken([]interface{}{f.Column, op, f.Value}))
	}
	sort.Strings(filters)
	if len(filters) > 0 {
		b.WriteString("|")
		b.WriteString(strings.Join(filters, "&"))
	}

	if len(q.OrderBy) > 0 {
		order := make([][2]string, 0, len(q.OrderBy))
		for _, o := range q.OrderBy {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			order = append(order, [2]string{o.Column, dir})
		}
		b.WriteString("|order=")
		b.WriteString(encodeToken(order))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "|limit=%d", q.Limit)
	}
	return b.String()
}

// encodeToken renders v as compact JSON. Values JSON cannot carry fall back to a quoted
// rendering tagged with their Go type.
func encodeToken(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return strconv.Quote(fmt.Sprintf("%T:%v", v, v))
	}
	return string(raw)
}

var resourceEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// Key derives the cache and coordination key: resource, query shape and caller identity.
// The resource never contains ":", so key prefixes of the form "resource:" select a resource.
func (q QueryDescriptor) Key() string {
	caller := q.CallerID
	if caller == "" {
		caller = "anonymous"
	}
	return resourceEscaper.Replace(q.Resource) + ":" + q.Shape() + ":" + caller
}

// Row is a single record of a result set. The schema is opaque to the coordination layer.
type Row map[string]interface{}

// ResultSet is the data returned by a remote fetch.
type ResultSet []Row

// FetchFunc performs the remote call for a query descriptor.
type FetchFunc func(ctx context.Context, query QueryDescriptor) (ResultSet, error)

// Fetcher is implemented by remote data service adapters.
type Fetcher interface {
	Fetch(ctx context.Context, query QueryDescriptor) (ResultSet, error)
}

// ResourcePolicy is the caching and refresh policy of a remote resource.
type ResourcePolicy struct {
	Resource           string
	StaleTime          time.Duration
	MaxAge             time.Duration
	Priority           Priority
	BackgroundRefresh  bool
	Preload            bool
	MinRefreshInterval time.Duration
}
