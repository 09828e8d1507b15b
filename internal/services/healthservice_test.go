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

package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgardeo/datacoord/internal/circuitbreaker"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func networkFailure() error {
	return dataerror.New(dataerror.KindNetwork, "query", "visits", errors.New("connection refused"))
}

func serveHealth(t *testing.T, breaker circuitbreaker.BreakerInterface, pinger Pinger, target string) (int, HealthStatus) {
	t.Helper()
	mux := http.NewServeMux()
	NewHealthService(mux, breaker, pinger, log.NewNop())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestLiveness(t *testing.T) {
	breaker := circuitbreaker.NewBreaker(circuitbreaker.Config{FailureThreshold: 1, Logger: log.NewNop()})
	breaker.Record(networkFailure())

	code, body := serveHealth(t, breaker, nil, "/health/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body.Status)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		open   bool
		ping   error
		status int
		state  string
	}{
		{"ready", false, nil, http.StatusOK, "UP"},
		{"circuit open", true, nil, http.StatusServiceUnavailable, "DOWN"},
		{"ping failure", false, errors.New("dial tcp: refused"), http.StatusServiceUnavailable, "DOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := circuitbreaker.NewBreaker(circuitbreaker.Config{FailureThreshold: 1, Logger: log.NewNop()})
			if tt.open {
				breaker.Record(networkFailure())
			}
			pinger := pingerFunc(func(context.Context) error { return tt.ping })

			code, body := serveHealth(t, breaker, pinger, "/health/readiness")
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.state, body.Status)
		})
	}
}
