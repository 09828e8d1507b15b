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

// Package coordinator shares in-flight remote fetches between concurrent callers of the same key.
package coordinator

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const loggerComponentName = "RequestCoordinator"

// FetchFunc performs the remote call of a coordinated request.
type FetchFunc func(ctx context.Context) (model.ResultSet, error)

// CoordinatorInterface defines the request coordination operations.
type CoordinatorInterface interface {
	Coordinate(ctx context.Context, key string, fetch FetchFunc, priority model.Priority) (model.ResultSet, error)
	CoordinateQuery(ctx context.Context, query model.QueryDescriptor, fetch model.FetchFunc,
		priority model.Priority) (model.ResultSet, error)
	CancelPattern(pattern string) int
	CancelResource(resource string) int
	CancelCaller(callerID string) int
	Pending(key string) int
	Stats() Stats
}

// call tracks one in-flight fetch and the callers waiting for it.
type call struct {
	key      string
	resource string
	callerID string
	started  time.Time
	waiters  waitList
}

// Coordinator deduplicates concurrent fetches per key. Registering, joining and resolving a
// key's wait list all happen under one mutex.
type Coordinator struct {
	mu     sync.Mutex
	calls  map[string]*call
	seq    uint64
	stats  counters
	logger *log.Logger
}

type counters struct {
	fetches   int64
	joins     int64
	cancelled int64
	failures  int64
}

// InFlight describes a key with a fetch in progress.
type InFlight struct {
	Key      string        `json:"key"`
	Resource string        `json:"resource"`
	Waiters  int           `json:"waiters"`
	Age      time.Duration `json:"age"`
}

// Stats is a snapshot of the coordinator.
type Stats struct {
	InFlight  []InFlight `json:"inFlight"`
	Queued    int        `json:"queued"`
	Fetches   int64      `json:"fetches"`
	Joins     int64      `json:"joins"`
	Cancelled int64      `json:"cancelled"`
	Failures  int64      `json:"failures"`
}

// NewCoordinator creates a request coordinator.
func NewCoordinator(logger *log.Logger) *Coordinator {
	return &Coordinator{
		calls:  make(map[string]*call),
		logger: log.OrDefault(logger).With(log.String(log.LoggerKeyComponentName, loggerComponentName)),
	}
}

// Coordinate returns the result of fetch for key. When a fetch for the key is already in flight
// the caller joins its wait list instead of starting a second remote call. The resource is the
// key segment before the first ":" and the caller identity the segment after the last ":".
func (c *Coordinator) Coordinate(ctx context.Context, key string, fetch FetchFunc,
	priority model.Priority) (model.ResultSet, error) {
	resource, callerID := splitKey(key)
	return c.coordinate(ctx, key, resource, callerID, fetch, priority)
}

// CoordinateQuery coordinates the fetch of a query descriptor under its derived key.
func (c *Coordinator) CoordinateQuery(ctx context.Context, query model.QueryDescriptor, fetch model.FetchFunc,
	priority model.Priority) (model.ResultSet, error) {
	return c.coordinate(ctx, query.Key(), query.Resource, query.CallerID,
		func(ctx context.Context) (model.ResultSet, error) {
			return fetch(ctx, query)
		}, priority)
}

func (c *Coordinator) coordinate(ctx context.Context, key, resource, callerID string, fetch FetchFunc,
	priority model.Priority) (model.ResultSet, error) {
	w := &waiter{
		id:       uuid.NewString(),
		callerID: callerID,
		priority: priority,
		ch:       make(chan outcome, 1),
	}

	c.mu.Lock()
	c.seq++
	w.seq = c.seq
	cl, inFlight := c.calls[key]
	if !inFlight {
		cl = &call{key: key, resource: resource, callerID: callerID, started: time.Now()}
		c.calls[key] = cl
		c.stats.fetches++
	} else {
		c.stats.joins++
	}
	heap.Push(&cl.waiters, w)
	queued := cl.waiters.Len()
	c.mu.Unlock()

	if inFlight {
		recordJoin(resource)
		if c.logger.IsDebugEnabled() {
			c.logger.Debug("Joined in-flight fetch", log.String(log.LoggerKeyCacheKey, key),
				log.String("requestId", w.id), log.String("priority", priority.String()), log.Int("waiters", queued))
		}
	} else {
		recordFetch(resource)
		c.logger.Debug("Starting coordinated fetch", log.String(log.LoggerKeyCacheKey, key),
			log.String("requestId", w.id))
		// The fetch outlives the first caller's context so that joiners are not failed by it.
		go c.run(context.WithoutCancel(ctx), cl, fetch)
	}

	select {
	case o := <-w.ch:
		return o.data, o.err
	case <-ctx.Done():
		c.mu.Lock()
		removed := cl.waiters.remove(w)
		c.mu.Unlock()
		if !removed {
			o := <-w.ch
			return o.data, o.err
		}
		c.logger.Debug("Coordinated request abandoned by caller", log.String(log.LoggerKeyCacheKey, key),
			log.String("requestId", w.id))
		return nil, dataerror.New(dataerror.KindCancelled, "coordinate", resource, ctx.Err())
	}
}

// run executes the fetch and resolves the call.
func (c *Coordinator) run(ctx context.Context, cl *call, fetch FetchFunc) {
	data, err := invoke(ctx, fetch)
	c.resolve(cl, outcome{data: data, err: err})
}

func invoke(ctx context.Context, fetch FetchFunc) (data model.ResultSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = dataerror.New(dataerror.KindUnknown, "fetch", "", fmt.Errorf("fetch panicked: %v", r))
		}
	}()
	return fetch(ctx)
}

// resolve fans the outcome out to every waiter in service order and drops the tracker.
func (c *Coordinator) resolve(cl *call, o outcome) {
	c.mu.Lock()
	tracked := c.calls[cl.key] == cl
	if tracked {
		delete(c.calls, cl.key)
	}
	waiters := cl.waiters.drain()
	for _, w := range waiters {
		w.deliver(o)
	}
	if o.err != nil {
		c.stats.failures++
	}
	c.mu.Unlock()

	if !tracked {
		c.logger.Debug("Discarded result of an untracked fetch", log.String(log.LoggerKeyCacheKey, cl.key))
		return
	}
	if o.err != nil {
		c.logger.Debug("Coordinated fetch failed", log.String(log.LoggerKeyCacheKey, cl.key),
			log.Int("waiters", len(waiters)), log.Error(o.err))
		return
	}
	c.logger.Debug("Coordinated fetch resolved", log.String(log.LoggerKeyCacheKey, cl.key),
		log.Int("waiters", len(waiters)), log.Int("rows", len(o.data)),
		log.Duration("elapsed", time.Since(cl.started)))
}

// Pending returns the number of callers waiting on key.
func (c *Coordinator) Pending(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.calls[key]; ok {
		return cl.waiters.Len()
	}
	return 0
}

// Stats returns a snapshot of the coordinator.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	s := Stats{
		InFlight:  make([]InFlight, 0, len(c.calls)),
		Fetches:   c.stats.fetches,
		Joins:     c.stats.joins,
		Cancelled: c.stats.cancelled,
		Failures:  c.stats.failures,
	}
	for key, cl := range c.calls {
		s.InFlight = append(s.InFlight, InFlight{
			Key:      key,
			Resource: cl.resource,
			Waiters:  cl.waiters.Len(),
			Age:      now.Sub(cl.started),
		})
		s.Queued += cl.waiters.Len()
	}
	sort.Slice(s.InFlight, func(i, j int) bool { return s.InFlight[i].Key < s.InFlight[j].Key })
	return s
}

// splitKey extracts the resource and caller identity from a coordination key.
func splitKey(key string) (string, string) {
	first := strings.Index(key, ":")
	if first < 0 {
		return key, ""
	}
	last := strings.LastIndex(key, ":")
	if last == first {
		return key[:first], ""
	}
	return key[:first], key[last+1:]
}
