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

package dataaccess

import (
	"fmt"
	"sort"
	"time"

	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/config"
)

// PolicyTable is the static lookup from resource name to caching policy.
type PolicyTable struct {
	policies map[string]model.ResourcePolicy
	fallback model.ResourcePolicy
}

// NewPolicyTable creates a table. Unknown resources get the fallback policy.
func NewPolicyTable(fallback model.ResourcePolicy, policies ...model.ResourcePolicy) *PolicyTable {
	t := &PolicyTable{policies: make(map[string]model.ResourcePolicy, len(policies)), fallback: fallback}
	for _, p := range policies {
		t.policies[p.Resource] = p
	}
	return t
}

// PoliciesFromConfig builds the table from the cache defaults and the resource policies.
func PoliciesFromConfig(cacheCfg config.CacheConfig, resources []config.ResourcePolicy) (*PolicyTable, error) {
	fallback := model.ResourcePolicy{
		StaleTime: cacheCfg.DefaultStaleTime,
		MaxAge:    cacheCfg.DefaultMaxAge,
		Priority:  model.PriorityMedium,
	}

	policies := make([]model.ResourcePolicy, 0, len(resources))
	for _, r := range resources {
		priority, err := model.ParsePriority(r.Priority)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", r.Name, err)
		}
		p := model.ResourcePolicy{
			Resource:           r.Name,
			StaleTime:          r.StaleTime,
			MaxAge:             r.MaxAge,
			Priority:           priority,
			BackgroundRefresh:  r.BackgroundRefresh,
			Preload:            r.Preload,
			MinRefreshInterval: r.MinRefreshInterval,
		}
		if p.StaleTime <= 0 {
			p.StaleTime = fallback.StaleTime
		}
		if p.MaxAge <= 0 {
			p.MaxAge = fallback.MaxAge
		}
		if p.MaxAge < p.StaleTime {
			p.MaxAge = p.StaleTime
		}
		policies = append(policies, p)
	}
	return NewPolicyTable(fallback, policies...), nil
}

// Lookup returns the policy of a resource.
func (t *PolicyTable) Lookup(resource string) model.ResourcePolicy {
	if p, ok := t.policies[resource]; ok {
		return p
	}
	p := t.fallback
	p.Resource = resource
	return p
}

// Preloaded returns the resources marked for preloading, ordered by priority then name.
func (t *PolicyTable) Preloaded() []model.ResourcePolicy {
	var out []model.ResourcePolicy
	for _, p := range t.policies {
		if p.Preload {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Resource < out[j].Resource
	})
	return out
}

// BackgroundRefreshed returns the resources kept warm by background refresh, ordered by name.
func (t *PolicyTable) BackgroundRefreshed() []model.ResourcePolicy {
	var out []model.ResourcePolicy
	for _, p := range t.policies {
		if p.BackgroundRefresh {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// MinRefreshIntervals returns the resources with their own refresh throttling interval.
func (t *PolicyTable) MinRefreshIntervals() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for name, p := range t.policies {
		if p.MinRefreshInterval > 0 {
			out[name] = p.MinRefreshInterval
		}
	}
	return out
}
