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
	"container/list"
	"time"

	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const (
	// StrategyExpired evicts entries older than twice their staleness threshold.
	StrategyExpired = "expired"
	// StrategyLRU evicts least recently used entries of medium or lower priority.
	StrategyLRU = "lru"
	// StrategyLargeIdle evicts large entries that are rarely and not recently accessed.
	StrategyLargeIdle = "large_idle"
	// StrategyForced evicts least recently used entries when every other strategy failed
	// to make room for the write.
	StrategyForced = "forced"
)

const (
	maxExpiredPerPass   = 50
	maxLRUPerPass       = 10
	maxLargeIdlePerPass = 5

	largeEntryBytes     = 100 * 1024
	largeEntryMinAccess = 3
	largeEntryIdleFor   = 5 * time.Minute
)

// exceedsBudget reports whether adding extraEntries and extraBytes would exceed a budget.
func (s *Store) exceedsBudget(extraEntries int, extraBytes int64) bool {
	if s.maxEntries > 0 && len(s.entries)+extraEntries > s.maxEntries {
		return true
	}
	if s.maxBytes > 0 && s.bytes+extraBytes > s.maxBytes {
		return true
	}
	return false
}

// hasHeadroom reports whether usage, including the pending write, is within the headroom
// fraction of capacity.
func (s *Store) hasHeadroom(extraBytes int64) bool {
	if s.maxEntries > 0 && float64(len(s.entries)) > float64(s.maxEntries)*s.headroom {
		return false
	}
	if s.maxBytes > 0 && float64(s.bytes+extraBytes) > float64(s.maxBytes)*s.headroom {
		return false
	}
	return true
}

// evict frees capacity before a write. The strategies run in order and eviction stops as soon
// as headroom exists. The key being written is never evicted.
// The caller must hold the lock.
func (s *Store) evict(extraEntries int, extraBytes int64, protect string) {
	now := s.now()
	before := len(s.entries)

	strategies := []struct {
		name  string
		limit int
		match func(e *entry) bool
	}{
		{StrategyExpired, maxExpiredPerPass, func(e *entry) bool {
			age := e.age(now)
			return age > 2*e.staleTime || age > e.maxAge
		}},
		{StrategyLRU, maxLRUPerPass, func(e *entry) bool {
			return e.priority >= model.PriorityMedium
		}},
		{StrategyLargeIdle, maxLargeIdlePerPass, func(e *entry) bool {
			return e.size > largeEntryBytes && e.accessCount < largeEntryMinAccess &&
				now.Sub(e.lastAccess) >= largeEntryIdleFor
		}},
	}

	for _, strategy := range strategies {
		if s.hasHeadroom(extraBytes) {
			break
		}
		s.evictPass(strategy.name, strategy.limit, strategy.match, extraBytes, protect)
	}

	// Bounded memory wins over priority when nothing else made room for the write.
	for s.exceedsBudget(extraEntries, extraBytes) {
		if !s.evictPass(StrategyForced, 1, func(e *entry) bool { return true }, extraBytes, protect) {
			break
		}
	}

	if evicted := before - len(s.entries); evicted > 0 {
		s.logger.Debug("Cache eviction completed", log.Int("evicted", evicted), log.Int("remaining", len(s.entries)),
			log.Int64("bytes", s.bytes))
	}
}

// evictPass walks the access order from least recently used and removes up to limit matching
// entries, stopping early once headroom exists. It reports whether anything was removed.
func (s *Store) evictPass(strategy string, limit int, match func(e *entry) bool, extraBytes int64,
	protect string) bool {
	removed := 0
	var prev *list.Element
	for el := s.accessOrder.Back(); el != nil && removed < limit; el = prev {
		prev = el.Prev()

		key := el.Value.(string)
		if key == protect {
			continue
		}
		e := s.entries[key]
		if !match(e) {
			continue
		}

		s.deleteEntry(key, e)
		removed++
		s.stats.evictions++
		s.stats.evictionsByStrategy[strategy]++
		recordEviction(strategy)

		if strategy != StrategyForced && s.hasHeadroom(extraBytes) {
			break
		}
	}
	return removed > 0
}
