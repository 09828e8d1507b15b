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

package scheduler

import (
	"fmt"
	"time"

	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/config"
)

// Volatility describes how often the data of a resource changes.
type Volatility string

const (
	// VolatilityFrequent is for data that changes during a session.
	VolatilityFrequent Volatility = "frequent"
	// VolatilityReference is for slow changing reference data.
	VolatilityReference Volatility = "reference"
	// VolatilityConfiguration is for configuration-like data that is never refreshed automatically.
	VolatilityConfiguration Volatility = "configuration"
)

// Schedule is the periodic refresh plan of a resource. LastRefresh only moves on success while
// NextDue moves every time the schedule fires.
type Schedule struct {
	Resource    string         `json:"resource"`
	Interval    time.Duration  `json:"interval"`
	Priority    model.Priority `json:"priority"`
	Enabled     bool           `json:"enabled"`
	LastRefresh time.Time      `json:"lastRefresh"`
	LastAttempt time.Time      `json:"lastAttempt"`
	NextDue     time.Time      `json:"nextDue"`
	Failures    int            `json:"failures"`
	LastError   string         `json:"lastError,omitempty"`
}

// DefaultSchedule returns the schedule of a resource for its data volatility.
func DefaultSchedule(resource string, volatility Volatility) (Schedule, error) {
	switch volatility {
	case VolatilityFrequent:
		return Schedule{Resource: resource, Interval: 30 * time.Second, Priority: model.PriorityMedium,
			Enabled: true}, nil
	case VolatilityReference:
		return Schedule{Resource: resource, Interval: 30 * time.Minute, Priority: model.PriorityHigh,
			Enabled: true}, nil
	case VolatilityConfiguration:
		return Schedule{Resource: resource, Interval: 24 * time.Hour, Priority: model.PriorityCritical,
			Enabled: false}, nil
	default:
		return Schedule{}, fmt.Errorf("unknown volatility %q for resource %s", volatility, resource)
	}
}

// ScheduleFromConfig builds a schedule from its configuration. Explicit values override the
// volatility defaults.
func ScheduleFromConfig(cfg config.ScheduleConfig) (Schedule, error) {
	volatility := Volatility(cfg.Volatility)
	if volatility == "" {
		volatility = VolatilityFrequent
	}
	s, err := DefaultSchedule(cfg.Resource, volatility)
	if err != nil {
		return Schedule{}, err
	}
	if cfg.Interval > 0 {
		s.Interval = cfg.Interval
	}
	if cfg.Priority != "" {
		p, err := model.ParsePriority(cfg.Priority)
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule %s: %w", cfg.Resource, err)
		}
		s.Priority = p
	}
	if cfg.Enabled != nil {
		s.Enabled = *cfg.Enabled
	}
	return s, nil
}
