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

package cache

import (
	"time"
)

// counters are the running aggregates maintained on every operation.
type counters struct {
	hits                int64
	misses              int64
	staleHits           int64
	sets                int64
	evictions           int64
	evictionsByStrategy map[string]int64
	invalidations       int64
	expired             int64
}

// ResourceFootprint is the share of the store held by one resource.
type ResourceFootprint struct {
	Entries int   `json:"entries"`
	Bytes   int64 `json:"bytes"`
}

// Metrics is a snapshot of the store's aggregate statistics.
type Metrics struct {
	Entries             int                          `json:"entries"`
	Bytes               int64                        `json:"bytes"`
	MaxEntries          int                          `json:"maxEntries"`
	MaxBytes            int64                        `json:"maxBytes"`
	Hits                int64                        `json:"hits"`
	Misses              int64                        `json:"misses"`
	StaleHits           int64                        `json:"staleHits"`
	HitRate             float64                      `json:"hitRate"`
	Sets                int64                        `json:"sets"`
	StaleEntries        int                          `json:"staleEntries"`
	RefreshingEntries   int                          `json:"refreshingEntries"`
	AverageAge          time.Duration                `json:"averageAge"`
	Evictions           int64                        `json:"evictions"`
	EvictionsByStrategy map[string]int64             `json:"evictionsByStrategy"`
	Invalidations       int64                        `json:"invalidations"`
	Expired             int64                        `json:"expired"`
	Resources           map[string]ResourceFootprint `json:"resources"`
}

// Metrics returns the current aggregate statistics.
func (s *Store) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := Metrics{
		Entries:             len(s.entries),
		Bytes:               s.bytes,
		MaxEntries:          s.maxEntries,
		MaxBytes:            s.maxBytes,
		Hits:                s.stats.hits,
		Misses:              s.stats.misses,
		StaleHits:           s.stats.staleHits,
		Sets:                s.stats.sets,
		Evictions:           s.stats.evictions,
		EvictionsByStrategy: make(map[string]int64, len(s.stats.evictionsByStrategy)),
		Invalidations:       s.stats.invalidations,
		Expired:             s.stats.expired,
		Resources:           make(map[string]ResourceFootprint, len(s.footprint)),
	}
	if total := s.stats.hits + s.stats.misses; total > 0 {
		m.HitRate = float64(s.stats.hits) / float64(total)
	}
	for k, v := range s.stats.evictionsByStrategy {
		m.EvictionsByStrategy[k] = v
	}
	for k, v := range s.footprint {
		m.Resources[k] = *v
	}

	var totalAge time.Duration
	for _, e := range s.entries {
		age := e.age(now)
		totalAge += age
		if age > e.staleTime {
			m.StaleEntries++
		}
		if e.refreshing {
			m.RefreshingEntries++
		}
	}
	if len(s.entries) > 0 {
		m.AverageAge = totalAge / time.Duration(len(s.entries))
	}
	return m
}
