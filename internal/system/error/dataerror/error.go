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

// Package dataerror defines the failure taxonomy of remote data fetches.
//
// Fetch functions should tag the errors they return with a Kind. KindOf falls back to
// well-known sentinel errors and, as a last resort, to message heuristics for opaque
// upstream errors.
package dataerror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind is the taxonomy tag of a fetch failure.
type Kind string

const (
	// KindNetwork denotes network or connectivity failures.
	KindNetwork Kind = "network"
	// KindPermission denotes authorization failures.
	KindPermission Kind = "permission"
	// KindNotFound denotes missing data.
	KindNotFound Kind = "not_found"
	// KindValidation denotes malformed queries or shape mismatches.
	KindValidation Kind = "validation"
	// KindCancelled denotes cancelled requests.
	KindCancelled Kind = "cancelled"
	// KindCircuitOpen denotes calls short-circuited by an open circuit breaker.
	KindCircuitOpen Kind = "circuit_open"
	// KindUnknown is used when no other kind applies.
	KindUnknown Kind = "unknown"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call without attempting it.
	ErrCircuitOpen = &Error{Kind: KindCircuitOpen, Op: "breaker", Err: errors.New("circuit breaker is open")}
	// ErrCancelled is returned to callers whose coordinated request was cancelled.
	ErrCancelled = &Error{Kind: KindCancelled, Op: "coordinate", Err: errors.New("request cancelled")}
)

// Error is a fetch failure tagged with its taxonomy kind.
type Error struct {
	Kind     Kind
	Op       string
	Resource string
	Err      error
}

// New creates a tagged error.
func New(kind Kind, op, resource string, err error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: err}
}

// Errorf creates a tagged error from a format string.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Resource != "" {
		b.WriteString(e.Resource)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a tagged error of the same kind with no more specific cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t == e || (t.Kind == e.Kind && (t == ErrCircuitOpen || t == ErrCancelled))
}

// KindOf classifies an error into the taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var tagged *Error
	if errors.As(err, &tagged) && tagged.Kind != "" {
		return tagged.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	case errors.Is(err, sql.ErrNoRows):
		return KindNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	return classifyMessage(err.Error())
}

// classifyMessage is the heuristic used for errors that carry no tag.
func classifyMessage(msg string) Kind {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, "network", "connection", "timeout", "unreachable", "fetch failed", "eof"):
		return KindNetwork
	case containsAny(msg, "permission", "unauthorized", "forbidden", "access denied", "row-level security"):
		return KindPermission
	case containsAny(msg, "not found", "no rows", "does not exist"):
		return KindNotFound
	case containsAny(msg, "invalid", "violates", "syntax", "malformed", "validation"):
		return KindValidation
	case containsAny(msg, "cancel", "abort"):
		return KindCancelled
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
