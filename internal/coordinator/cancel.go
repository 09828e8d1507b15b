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

package coordinator

import (
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
	"github.com/asgardeo/datacoord/internal/utils"
)

// CancelPattern untracks every in-flight key matching the pattern and rejects its waiters.
// The underlying remote calls keep running; their results are discarded.
// It returns the number of rejected callers.
func (c *Coordinator) CancelPattern(pattern string) int {
	rejected := c.cancelCalls(func(cl *call) bool {
		return utils.MatchPattern(pattern, cl.key)
	})
	if rejected > 0 {
		c.logger.Info("Cancelled coordinated requests", log.String("pattern", pattern), log.Int("rejected", rejected))
	}
	return rejected
}

// CancelResource untracks every in-flight key of a resource and rejects its waiters.
func (c *Coordinator) CancelResource(resource string) int {
	rejected := c.cancelCalls(func(cl *call) bool {
		return cl.resource == resource
	})
	if rejected > 0 {
		c.logger.Info("Cancelled coordinated requests", log.String(log.LoggerKeyResource, resource),
			log.Int("rejected", rejected))
	}
	return rejected
}

// CancelCaller rejects every queued request of a caller. Keys owned by the caller are untracked;
// waiters of other callers sharing a key keep waiting.
func (c *Coordinator) CancelCaller(callerID string) int {
	c.mu.Lock()
	var rejected []*waiter
	for key, cl := range c.calls {
		if cl.callerID == callerID {
			delete(c.calls, key)
			rejected = append(rejected, cl.waiters.drain()...)
			continue
		}
		for _, w := range append([]*waiter(nil), cl.waiters...) {
			if w.callerID == callerID && cl.waiters.remove(w) {
				rejected = append(rejected, w)
			}
		}
	}
	c.reject(rejected)
	c.mu.Unlock()

	if len(rejected) > 0 {
		c.logger.Info("Cancelled coordinated requests", log.String(log.LoggerKeyCallerID, callerID),
			log.Int("rejected", len(rejected)))
	}
	return len(rejected)
}

func (c *Coordinator) cancelCalls(match func(cl *call) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rejected []*waiter
	for key, cl := range c.calls {
		if !match(cl) {
			continue
		}
		delete(c.calls, key)
		rejected = append(rejected, cl.waiters.drain()...)
	}
	c.reject(rejected)
	return len(rejected)
}

// reject fails the waiters with the cancellation error. The caller must hold the lock.
func (c *Coordinator) reject(waiters []*waiter) {
	for _, w := range waiters {
		w.deliver(outcome{err: dataerror.ErrCancelled})
	}
	c.stats.cancelled += int64(len(waiters))
	if len(waiters) > 0 {
		recordCancel(len(waiters))
	}
}
