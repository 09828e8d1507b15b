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
	"container/heap"

	"github.com/asgardeo/datacoord/internal/model"
)

// outcome is the result delivered to a waiter.
type outcome struct {
	data model.ResultSet
	err  error
}

// waiter is a caller waiting for the resolution of a key.
type waiter struct {
	id       string
	callerID string
	priority model.Priority
	seq      uint64
	index    int
	ch       chan outcome
}

// deliver hands the outcome to the waiter. The channel is buffered so it never blocks.
func (w *waiter) deliver(o outcome) {
	w.ch <- o
}

// waitList orders waiters by priority and then by enqueue sequence.
type waitList []*waiter

func (wl waitList) Len() int { return len(wl) }

func (wl waitList) Less(i, j int) bool {
	if wl[i].priority != wl[j].priority {
		return wl[i].priority < wl[j].priority
	}
	return wl[i].seq < wl[j].seq
}

func (wl waitList) Swap(i, j int) {
	wl[i], wl[j] = wl[j], wl[i]
	wl[i].index = i
	wl[j].index = j
}

func (wl *waitList) Push(x interface{}) {
	w := x.(*waiter)
	w.index = len(*wl)
	*wl = append(*wl, w)
}

func (wl *waitList) Pop() interface{} {
	old := *wl
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*wl = old[:n-1]
	return w
}

// remove takes a waiter out of the list. It reports false when the waiter was already removed.
func (wl *waitList) remove(w *waiter) bool {
	if w.index < 0 || w.index >= wl.Len() || (*wl)[w.index] != w {
		return false
	}
	heap.Remove(wl, w.index)
	return true
}

// drain pops every waiter in service order.
func (wl *waitList) drain() []*waiter {
	out := make([]*waiter, 0, wl.Len())
	for wl.Len() > 0 {
		out = append(out, heap.Pop(wl).(*waiter))
	}
	return out
}
