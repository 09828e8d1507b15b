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

package circuitbreaker

import "time"

// State is the circuit breaker state.
type State string

const (
	// StateClosed lets every call through.
	StateClosed State = "CLOSED"
	// StateOpen short-circuits every call.
	StateOpen State = "OPEN"
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen State = "HALF_OPEN"
)

// allowedTransitions lists the only state changes outside a manual reset.
var allowedTransitions = map[State]State{
	StateClosed: StateOpen,
	StateOpen:   StateHalfOpen,
}

// canTransition reports whether from may move to to without a manual reset.
func canTransition(from, to State) bool {
	if from == StateHalfOpen {
		return to == StateClosed || to == StateOpen
	}
	next, ok := allowedTransitions[from]
	return ok && next == to
}

// EventType is the kind of a recorded breaker event.
type EventType string

const (
	// EventStateChange records a transition.
	EventStateChange EventType = "state_change"
	// EventSuccess records a successful call.
	EventSuccess EventType = "success"
	// EventFailure records a failed call.
	EventFailure EventType = "failure"
	// EventRejected records a call short-circuited while open.
	EventRejected EventType = "rejected"
	// EventReset records a manual reset.
	EventReset EventType = "reset"
)

// Event is one entry of the breaker history.
type Event struct {
	Type      EventType `json:"type"`
	From      State     `json:"from,omitempty"`
	To        State     `json:"to,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// openInterval is a period spent in the open state. A zero end means it is ongoing.
type openInterval struct {
	start time.Time
	end   time.Time
}
