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
	"time"

	"github.com/asgardeo/datacoord/internal/system/config"
)

// Flags guarding the optimizations of the request pipeline.
const (
	FlagCache             = "cache"
	FlagDedup             = "dedup"
	FlagCircuitBreaker    = "circuit_breaker"
	FlagBackgroundRefresh = "background_refresh"
	FlagPrioritization    = "prioritization"
)

// Metrics reported to the controller on every metrics tick.
const (
	MetricErrorRate       = "error_rate"
	MetricAvgResponseTime = "avg_response_time_ms"
	MetricCacheHitRate    = "cache_hit_rate"
	MetricCircuitOpenRate = "circuit_open_rate"
	MetricP95ResponseTime = "p95_response_time_ms"
)

// Operator compares an observed metric with a trigger threshold.
type Operator string

const (
	// OperatorGreater holds when the observed value is above the threshold.
	OperatorGreater Operator = ">"
	// OperatorLess holds when the observed value is below the threshold.
	OperatorLess Operator = "<"
	// OperatorEqual holds when the observed value equals the threshold.
	OperatorEqual Operator = "="
)

// Trigger is a rollback rule of a flag.
type Trigger struct {
	Metric    string        `json:"metric"`
	Operator  Operator      `json:"operator"`
	Threshold float64       `json:"threshold"`
	Window    time.Duration `json:"window"`
}

// Flag is a feature flag definition and its current state.
type Flag struct {
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	Percentage     int       `json:"percentage"`
	DependsOn      []string  `json:"dependsOn,omitempty"`
	Description    string    `json:"description,omitempty"`
	Triggers       []Trigger `json:"triggers,omitempty"`
	DisabledReason string    `json:"disabledReason,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (f Flag) clone() Flag {
	f.DependsOn = append([]string(nil), f.DependsOn...)
	f.Triggers = append([]Trigger(nil), f.Triggers...)
	return f
}

// DefaultFlags returns the flags of the request pipeline optimizations, fully rolled out.
func DefaultFlags() []Flag {
	return []Flag{
		{
			Name:        FlagCache,
			Enabled:     true,
			Percentage:  100,
			Description: "Serve reads from the result-set cache",
			Triggers: []Trigger{
				{Metric: MetricErrorRate, Operator: OperatorGreater, Threshold: 0.25, Window: 5 * time.Minute},
			},
		},
		{
			Name:        FlagDedup,
			Enabled:     true,
			Percentage:  100,
			Description: "Share in-flight fetches between concurrent callers",
			Triggers: []Trigger{
				{Metric: MetricAvgResponseTime, Operator: OperatorGreater, Threshold: 5000, Window: 5 * time.Minute},
			},
		},
		{
			Name:        FlagCircuitBreaker,
			Enabled:     true,
			Percentage:  100,
			Description: "Short-circuit calls while the remote service is failing",
		},
		{
			Name:        FlagBackgroundRefresh,
			Enabled:     true,
			Percentage:  100,
			DependsOn:   []string{FlagCache},
			Description: "Refresh stale entries in the background",
			Triggers: []Trigger{
				{Metric: MetricErrorRate, Operator: OperatorGreater, Threshold: 0.5, Window: 5 * time.Minute},
			},
		},
		{
			Name:        FlagPrioritization,
			Enabled:     true,
			Percentage:  100,
			DependsOn:   []string{FlagDedup},
			Description: "Serve queued callers by resource priority",
		},
	}
}

// FlagsFromConfig converts configured flag definitions.
func FlagsFromConfig(cfgs []config.FlagConfig) []Flag {
	flags := make([]Flag, 0, len(cfgs))
	for _, c := range cfgs {
		f := Flag{
			Name:        c.Name,
			Enabled:     c.Enabled,
			Percentage:  c.Percentage,
			DependsOn:   append([]string(nil), c.DependsOn...),
			Description: c.Description,
		}
		for _, t := range c.Triggers {
			f.Triggers = append(f.Triggers, Trigger{
				Metric:    t.Metric,
				Operator:  Operator(t.Operator),
				Threshold: t.Threshold,
				Window:    t.Window,
			})
		}
		flags = append(flags, f)
	}
	return flags
}

// MergeFlags overlays configured flags on the defaults by name.
func MergeFlags(defaults, configured []Flag) []Flag {
	index := make(map[string]int, len(defaults))
	out := make([]Flag, 0, len(defaults)+len(configured))
	for _, f := range defaults {
		index[f.Name] = len(out)
		out = append(out, f)
	}
	for _, f := range configured {
		if i, ok := index[f.Name]; ok {
			out[i] = f
			continue
		}
		index[f.Name] = len(out)
		out = append(out, f)
	}
	return out
}
