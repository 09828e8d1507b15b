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

// Package cache provides the result-set cache store with staleness tracking and
// priority aware eviction.
package cache

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/log"
	"github.com/asgardeo/datacoord/internal/utils"
)

const loggerComponentName = "CacheStore"

const (
	defaultStaleTime = 5 * time.Minute
	defaultMaxAge    = 30 * time.Minute
	defaultHeadroom  = 0.8
)

// StoreInterface defines the cache store operations used by the request pipeline.
type StoreInterface interface {
	Get(key string) Result
	Set(key string, data model.ResultSet, cfg EntryConfig, query model.QueryDescriptor)
	Invalidate(pattern string) int
	Delete(key string) bool
	Entry(key string) (EntryInfo, bool)
	MarkRefreshing(key string, refreshing bool) bool
	Sweep() int
	Metrics() Metrics
}

// Config holds the budgets of a store.
type Config struct {
	// MaxEntries is the entry-count budget. Zero means unbounded.
	MaxEntries int
	// MaxBytes is the estimated byte budget. Zero means unbounded.
	MaxBytes int64
	// Headroom is the fraction of capacity eviction brings usage down to. Defaults to 0.8.
	Headroom         float64
	DefaultStaleTime time.Duration
	DefaultMaxAge    time.Duration
	Now              func() time.Time
	Logger           *log.Logger
}

// EntryConfig holds the freshness policy of a single entry.
type EntryConfig struct {
	StaleTime time.Duration
	MaxAge    time.Duration
	Priority  model.Priority
}

// Result is the outcome of a lookup. A miss is reported with Hit set to false.
type Result struct {
	Hit          bool
	Data         model.ResultSet
	IsStale      bool
	Age          time.Duration
	IsRefreshing bool
	Priority     model.Priority
}

// EntryInfo is a read-only view of an entry's metadata.
type EntryInfo struct {
	Key          string
	Query        model.QueryDescriptor
	CreatedAt    time.Time
	StaleTime    time.Duration
	MaxAge       time.Duration
	Priority     model.Priority
	AccessCount  int64
	LastAccess   time.Time
	Size         int64
	IsRefreshing bool
}

// entry is a cached result set with its freshness metadata.
type entry struct {
	key         string
	data        model.ResultSet
	createdAt   time.Time
	staleTime   time.Duration
	maxAge      time.Duration
	priority    model.Priority
	accessCount int64
	lastAccess  time.Time
	size        int64
	refreshing  bool
	query       model.QueryDescriptor
	listElement *list.Element
}

func (e *entry) age(now time.Time) time.Duration {
	age := now.Sub(e.createdAt)
	if age < 0 {
		return 0
	}
	return age
}

// Store is a mutex guarded cache of result sets.
// The access order list holds the most recently used key at the front.
type Store struct {
	mu           sync.Mutex
	entries      map[string]*entry
	accessOrder  *list.List
	bytes        int64
	maxEntries   int
	maxBytes     int64
	headroom     float64
	staleTime    time.Duration
	maxAge       time.Duration
	now          func() time.Time
	logger       *log.Logger
	stats        counters
	footprint    map[string]*ResourceFootprint
	onInvalidate []func(keys []string)
}

// NewStore creates a cache store.
func NewStore(cfg Config) *Store {
	s := &Store{
		entries:     make(map[string]*entry),
		accessOrder: list.New(),
		maxEntries:  cfg.MaxEntries,
		maxBytes:    cfg.MaxBytes,
		headroom:    cfg.Headroom,
		staleTime:   cfg.DefaultStaleTime,
		maxAge:      cfg.DefaultMaxAge,
		now:         cfg.Now,
		footprint:   make(map[string]*ResourceFootprint),
		stats:       counters{evictionsByStrategy: make(map[string]int64)},
	}
	if s.headroom <= 0 || s.headroom > 1 {
		s.headroom = defaultHeadroom
	}
	if s.staleTime <= 0 {
		s.staleTime = defaultStaleTime
	}
	if s.maxAge <= 0 {
		s.maxAge = defaultMaxAge
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.logger = log.OrDefault(cfg.Logger).With(log.String(log.LoggerKeyComponentName, loggerComponentName))

	s.logger.Debug("Initializing cache store", log.Int("maxEntries", s.maxEntries),
		log.Int64("maxBytes", s.maxBytes), log.Float64("headroom", s.headroom))
	return s
}

// OnInvalidate registers a hook invoked with the keys removed by Invalidate.
func (s *Store) OnInvalidate(fn func(keys []string)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInvalidate = append(s.onInvalidate, fn)
}

// Get looks up a key and computes its staleness. It never blocks on the network.
func (s *Store) Get(key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.stats.misses++
		recordMiss()
		return Result{}
	}

	now := s.now()
	age := e.age(now)
	e.accessCount++
	e.lastAccess = now
	s.accessOrder.MoveToFront(e.listElement)

	stale := age > e.staleTime
	s.stats.hits++
	if stale {
		s.stats.staleHits++
	}
	recordHit(stale)

	return Result{
		Hit:          true,
		Data:         e.data,
		IsStale:      stale,
		Age:          age,
		IsRefreshing: e.refreshing,
		Priority:     e.priority,
	}
}

// Set stores a result set. When the write would exceed a budget, eviction runs first.
// Overwriting an existing key keeps its access statistics.
func (s *Store) Set(key string, data model.ResultSet, cfg EntryConfig, query model.QueryDescriptor) {
	size := EstimateSize(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, exists := s.entries[key]

	var delta int64 = size
	extra := 1
	if exists {
		delta -= existing.size
		extra = 0
	}
	if s.exceedsBudget(extra, delta) {
		s.evict(extra, delta, key)
	}

	staleTime := cfg.StaleTime
	if staleTime <= 0 {
		staleTime = s.staleTime
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = s.maxAge
	}
	if maxAge < staleTime {
		maxAge = staleTime
	}

	if e, ok := s.entries[key]; ok {
		s.adjustFootprint(e.query.Resource, 0, -e.size)
		s.bytes -= e.size
		e.data = data
		e.createdAt = now
		e.staleTime = staleTime
		e.maxAge = maxAge
		e.priority = cfg.Priority
		e.size = size
		e.refreshing = false
		e.query = query
		e.lastAccess = now
		s.accessOrder.MoveToFront(e.listElement)
		s.bytes += size
		s.adjustFootprint(query.Resource, 0, size)
		s.stats.sets++
		return
	}

	e := &entry{
		key:        key,
		data:       data,
		createdAt:  now,
		staleTime:  staleTime,
		maxAge:     maxAge,
		priority:   cfg.Priority,
		lastAccess: now,
		size:       size,
		query:      query,
	}
	e.listElement = s.accessOrder.PushFront(key)
	s.entries[key] = e
	s.bytes += size
	s.adjustFootprint(query.Resource, 1, size)
	s.stats.sets++

	if s.logger.IsDebugEnabled() {
		s.logger.Debug("Cache entry set", log.String(log.LoggerKeyCacheKey, key), log.Int64("size", size),
			log.String("priority", cfg.Priority.String()))
	}
}

// Invalidate removes every key matching the pattern and returns how many were removed.
// A pattern without "*" matches as a substring; "*" matches any run of characters.
func (s *Store) Invalidate(pattern string) int {
	s.mu.Lock()
	var removed []string
	for key, e := range s.entries {
		if utils.MatchPattern(pattern, key) {
			s.deleteEntry(key, e)
			removed = append(removed, key)
		}
	}
	s.stats.invalidations += int64(len(removed))
	hooks := append([]func([]string){}, s.onInvalidate...)
	s.mu.Unlock()

	if len(removed) > 0 {
		s.logger.Debug("Cache entries invalidated", log.String("pattern", pattern), log.Int("count", len(removed)))
		for _, hook := range hooks {
			hook(removed)
		}
	}
	return len(removed)
}

// Delete removes a single key.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.deleteEntry(key, e)
	return true
}

// Clear removes all entries and resets the counters.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	s.accessOrder.Init()
	s.bytes = 0
	s.footprint = make(map[string]*ResourceFootprint)
	s.stats = counters{evictionsByStrategy: make(map[string]int64)}
	s.logger.Debug("Cleared all entries in the cache")
}

// Has reports whether the key is cached, regardless of staleness.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the cached keys matching the pattern in sorted order. An empty pattern matches
// every key.
func (s *Store) Keys(pattern string) []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if pattern == "" || utils.MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Entry returns the metadata of a cached key without counting as an access.
func (s *Store) Entry(key string) (EntryInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{
		Key:          e.key,
		Query:        e.query,
		CreatedAt:    e.createdAt,
		StaleTime:    e.staleTime,
		MaxAge:       e.maxAge,
		Priority:     e.priority,
		AccessCount:  e.accessCount,
		LastAccess:   e.lastAccess,
		Size:         e.size,
		IsRefreshing: e.refreshing,
	}, true
}

// MarkRefreshing sets the in-progress refresh flag of a key. It returns false when the key
// is not cached or the flag already had the requested value.
func (s *Store) MarkRefreshing(key string, refreshing bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.refreshing == refreshing {
		return false
	}
	e.refreshing = refreshing
	return true
}

// Sweep removes every entry past its hard expiry and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for key, e := range s.entries {
		if e.age(now) > e.maxAge {
			s.deleteEntry(key, e)
			cleaned++
		}
	}
	s.stats.expired += int64(cleaned)

	if cleaned > 0 {
		s.logger.Debug("Expired cache entries cleaned", log.Int("count", cleaned))
	}
	return cleaned
}

// deleteEntry removes an entry from the map, the access order list and the footprint.
// The caller must hold the lock.
func (s *Store) deleteEntry(key string, e *entry) {
	delete(s.entries, key)
	s.accessOrder.Remove(e.listElement)
	s.bytes -= e.size
	s.adjustFootprint(e.query.Resource, -1, -e.size)
}

func (s *Store) adjustFootprint(resource string, entries int, bytes int64) {
	fp, ok := s.footprint[resource]
	if !ok {
		fp = &ResourceFootprint{}
		s.footprint[resource] = fp
	}
	fp.Entries += entries
	fp.Bytes += bytes
	if fp.Entries <= 0 {
		delete(s.footprint, resource)
	}
}
