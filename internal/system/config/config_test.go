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

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const testResourceDir = "../../../tests/resources"

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) getFilePath(filename string) string {
	return filepath.Join(testResourceDir, filename)
}

func (suite *ConfigTestSuite) TestLoadConfigValid() {
	cfg, err := LoadConfig(suite.getFilePath("deployment.yaml"))

	assert.NoError(suite.T(), err)
	assert.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), 8095, cfg.Server.Port)
	assert.True(suite.T(), cfg.Security.TLSEnabled())
	assert.Equal(suite.T(), "repository/resources/security/server.key", cfg.Security.KeyFile)

	assert.Equal(suite.T(), "postgres", cfg.Database.Remote.Type)
	assert.Equal(suite.T(), "db.internal", cfg.Database.Remote.Hostname)
	assert.Equal(suite.T(), 5*time.Second, cfg.Database.Remote.QueryTimeout)
	// Values missing from the file keep their defaults.
	assert.Equal(suite.T(), 20, cfg.Database.Remote.MaxOpenConns)

	assert.Equal(suite.T(), 500, cfg.Cache.MaxEntries)
	assert.Equal(suite.T(), int64(1048576), cfg.Cache.MaxBytes)
	assert.Equal(suite.T(), time.Minute, cfg.Cache.DefaultStaleTime)
	assert.Equal(suite.T(), 30*time.Minute, cfg.Cache.DefaultMaxAge)

	assert.Len(suite.T(), cfg.Resources, 2)
	clinicians, ok := cfg.ResourcePolicyFor("clinicians")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), 30*time.Second, clinicians.StaleTime)
	assert.Equal(suite.T(), "high", clinicians.Priority)
	assert.True(suite.T(), clinicians.Preload)

	assert.Len(suite.T(), cfg.Refresh.Schedules, 3)
	assert.Equal(suite.T(), "configuration", cfg.Refresh.Schedules[2].Volatility)
	assert.Nil(suite.T(), cfg.Refresh.Schedules[2].Enabled)

	assert.Equal(suite.T(), 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(suite.T(), 15*time.Second, cfg.CircuitBreaker.CoolDown)
	assert.Equal(suite.T(), 2, cfg.CircuitBreaker.Alerts.FrequentOpenCount)
	assert.Equal(suite.T(), 5*time.Minute, cfg.CircuitBreaker.Alerts.LongOpenDuration)

	assert.Len(suite.T(), cfg.Rollout.Flags, 2)
	assert.Equal(suite.T(), []string{"cache"}, cfg.Rollout.Flags[1].DependsOn)
	assert.Equal(suite.T(), ">", cfg.Rollout.Flags[0].Triggers[0].Operator)

	assert.Equal(suite.T(), 200, cfg.QueryLog.Capacity)
	assert.Equal(suite.T(), 10*time.Second, cfg.Ticks.MetricsReport)
	assert.Equal(suite.T(), 5*time.Minute, cfg.Ticks.CacheSweep)
}

func (suite *ConfigTestSuite) TestLoadConfigFileNotFound() {
	cfg, err := LoadConfig(suite.getFilePath("non_existent_config.yaml"))

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
	assert.Contains(suite.T(), err.Error(), "no such file or directory")
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidYAML() {
	cfg, err := LoadConfig(suite.getFilePath("invalid_deployment.yaml"))

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidRollout() {
	cfg, err := LoadConfig(suite.getFilePath("invalid_rollout.yaml"))

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
	assert.Contains(suite.T(), err.Error(), "percentage must be within 0-100")
	assert.Contains(suite.T(), err.Error(), `unsupported trigger operator ">="`)
}

func (suite *ConfigTestSuite) TestValidateDefaults() {
	assert.NoError(suite.T(), Default().Validate())
	assert.False(suite.T(), Default().Security.TLSEnabled())

	cfg := Default()
	cfg.Resources = []ResourcePolicy{{Name: "x", StaleTime: time.Hour, MaxAge: time.Minute}}
	assert.ErrorContains(suite.T(), cfg.Validate(), "stale_time exceeds max_age")
}
