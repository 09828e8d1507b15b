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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/config"
)

func TestPoliciesFromConfig(t *testing.T) {
	cacheCfg := config.CacheConfig{DefaultStaleTime: 30 * time.Second, DefaultMaxAge: 10 * time.Minute}
	table, err := PoliciesFromConfig(cacheCfg, []config.ResourcePolicy{
		{Name: "visits", StaleTime: time.Minute, MaxAge: 20 * time.Second, Priority: "high", Preload: true},
		{Name: "rooms", Priority: "critical", Preload: true, MinRefreshInterval: time.Minute},
		{Name: "staff", Priority: "low", BackgroundRefresh: true},
	})
	require.NoError(t, err)

	visits := table.Lookup("visits")
	assert.Equal(t, time.Minute, visits.StaleTime)
	assert.Equal(t, time.Minute, visits.MaxAge, "max age is raised to the stale time")
	assert.Equal(t, model.PriorityHigh, visits.Priority)

	rooms := table.Lookup("rooms")
	assert.Equal(t, 30*time.Second, rooms.StaleTime)
	assert.Equal(t, 10*time.Minute, rooms.MaxAge)

	unknown := table.Lookup("wards")
	assert.Equal(t, "wards", unknown.Resource)
	assert.Equal(t, model.PriorityMedium, unknown.Priority)
	assert.Equal(t, 30*time.Second, unknown.StaleTime)

	preloaded := table.Preloaded()
	require.Len(t, preloaded, 2)
	assert.Equal(t, "rooms", preloaded[0].Resource)
	assert.Equal(t, "visits", preloaded[1].Resource)

	assert.Equal(t, map[string]time.Duration{"rooms": time.Minute}, table.MinRefreshIntervals())
}

func TestPoliciesFromConfigRejectsUnknownPriority(t *testing.T) {
	_, err := PoliciesFromConfig(config.CacheConfig{}, []config.ResourcePolicy{{Name: "visits", Priority: "urgent"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visits")
}
