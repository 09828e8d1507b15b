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

// Package config provides structures and functions for loading and managing server configurations.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/asgardeo/datacoord/internal/system/log"

	yaml "gopkg.in/yaml.v3"
)

// ServerConfig holds the server configuration details.
type ServerConfig struct {
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
}

// SecurityConfig holds the TLS certificate and key of the HTTP listener. The server listens on
// plain HTTP when either is empty.
type SecurityConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TLSEnabled reports whether both the certificate and the key are configured.
func (s SecurityConfig) TLSEnabled() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// DataSource holds the remote data service connection details.
type DataSource struct {
	Type            string        `yaml:"type"`
	Hostname        string        `yaml:"hostname"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	Options         string        `yaml:"options"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DatabaseConfig holds the database configuration details.
type DatabaseConfig struct {
	Remote DataSource `yaml:"remote"`
}

// CacheConfig holds the cache store budgets.
type CacheConfig struct {
	Disabled         bool          `yaml:"disabled"`
	MaxEntries       int           `yaml:"max_entries"`
	MaxBytes         int64         `yaml:"max_bytes"`
	DefaultStaleTime time.Duration `yaml:"default_stale_time"`
	DefaultMaxAge    time.Duration `yaml:"default_max_age"`
}

// ResourcePolicy maps a remote resource to its caching and refresh behaviour.
type ResourcePolicy struct {
	Name               string        `yaml:"name"`
	StaleTime          time.Duration `yaml:"stale_time"`
	MaxAge             time.Duration `yaml:"max_age"`
	Priority           string        `yaml:"priority"`
	BackgroundRefresh  bool          `yaml:"background_refresh"`
	Preload            bool          `yaml:"preload"`
	MinRefreshInterval time.Duration `yaml:"min_refresh_interval"`
}

// ScheduleConfig holds a static refresh schedule.
// Volatility ("frequent", "reference", "configuration") fills interval, priority and enabled
// when they are not set explicitly.
type ScheduleConfig struct {
	Resource   string        `yaml:"resource"`
	Volatility string        `yaml:"volatility"`
	Interval   time.Duration `yaml:"interval"`
	Priority   string        `yaml:"priority"`
	Enabled    *bool         `yaml:"enabled"`
}

// RefreshConfig holds the background refresh scheduler configuration.
type RefreshConfig struct {
	Disabled      bool             `yaml:"disabled"`
	MaxConcurrent int64            `yaml:"max_concurrent"`
	Schedules     []ScheduleConfig `yaml:"schedules"`
}

// AlertConfig holds the circuit breaker alerting thresholds.
type AlertConfig struct {
	FrequentOpenCount       int           `yaml:"frequent_open_count"`
	FrequentOpenWindow      time.Duration `yaml:"frequent_open_window"`
	LongOpenDuration        time.Duration `yaml:"long_open_duration"`
	LowReliabilityThreshold float64       `yaml:"low_reliability_threshold"`
	MinSampleSize           int           `yaml:"min_sample_size"`
	SuppressWindow          time.Duration `yaml:"suppress_window"`
}

// CircuitBreakerConfig holds the circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
	SuccessThreshold int           `yaml:"success_threshold"`
	UptimeWindow     time.Duration `yaml:"uptime_window"`
	Alerts           AlertConfig   `yaml:"alerts"`
}

// TriggerConfig holds a rollback trigger rule.
type TriggerConfig struct {
	Metric    string        `yaml:"metric"`
	Operator  string        `yaml:"operator"`
	Threshold float64       `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// FlagConfig holds a feature flag definition.
type FlagConfig struct {
	Name        string          `yaml:"name"`
	Enabled     bool            `yaml:"enabled"`
	Percentage  int             `yaml:"percentage"`
	DependsOn   []string        `yaml:"depends_on"`
	Description string          `yaml:"description"`
	Triggers    []TriggerConfig `yaml:"triggers"`
}

// RolloutConfig holds the feature rollout configuration.
type RolloutConfig struct {
	StatePath string       `yaml:"state_path"`
	Flags     []FlagConfig `yaml:"flags"`
}

// QueryLogConfig holds the query performance logger configuration.
type QueryLogConfig struct {
	Capacity           int           `yaml:"capacity"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// TickConfig holds the intervals of the externally driven ticks.
type TickConfig struct {
	Scheduler     time.Duration `yaml:"scheduler"`
	MetricsReport time.Duration `yaml:"metrics_report"`
	MetricsWindow time.Duration `yaml:"metrics_window"`
	CacheSweep    time.Duration `yaml:"cache_sweep"`
}

// Config holds the complete configuration details of the server.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Security       SecurityConfig       `yaml:"security"`
	Database       DatabaseConfig       `yaml:"database"`
	Cache          CacheConfig          `yaml:"cache"`
	Resources      []ResourcePolicy     `yaml:"resources"`
	Refresh        RefreshConfig        `yaml:"refresh"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Rollout        RolloutConfig        `yaml:"rollout"`
	QueryLog       QueryLogConfig       `yaml:"query_log"`
	Ticks          TickConfig           `yaml:"ticks"`
}

// Default returns the configuration used when a value is not present in the deployment file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname: "localhost",
			Port:     8090,
		},
		Database: DatabaseConfig{
			Remote: DataSource{
				Type:            "postgres",
				Hostname:        "localhost",
				Port:            5432,
				SSLMode:         "disable",
				MaxOpenConns:    20,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				QueryTimeout:    10 * time.Second,
			},
		},
		Cache: CacheConfig{
			MaxEntries:       1000,
			MaxBytes:         50 * 1024 * 1024,
			DefaultStaleTime: 5 * time.Minute,
			DefaultMaxAge:    30 * time.Minute,
		},
		Refresh: RefreshConfig{
			MaxConcurrent: 4,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			CoolDown:         30 * time.Second,
			HalfOpenMaxCalls: 3,
			SuccessThreshold: 2,
			UptimeWindow:     time.Hour,
			Alerts: AlertConfig{
				FrequentOpenCount:       3,
				FrequentOpenWindow:      10 * time.Minute,
				LongOpenDuration:        5 * time.Minute,
				LowReliabilityThreshold: 0.9,
				MinSampleSize:           20,
				SuppressWindow:          time.Minute,
			},
		},
		QueryLog: QueryLogConfig{
			Capacity:           1000,
			SlowQueryThreshold: time.Second,
		},
		Ticks: TickConfig{
			Scheduler:     time.Second,
			MetricsReport: 30 * time.Second,
			MetricsWindow: 5 * time.Minute,
			CacheSweep:    5 * time.Minute,
		},
	}
}

// LoadConfig loads the configurations from the specified YAML file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	path = filepath.Clean(path)

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if ferr := file.Close(); ferr != nil {
			log.GetLogger().Error("Failed to close config file", log.Error(ferr))
		}
	}()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the services cannot work with.
func (c *Config) Validate() error {
	var errs []error

	if c.Cache.MaxEntries < 0 || c.Cache.MaxBytes < 0 {
		errs = append(errs, errors.New("cache budgets must not be negative"))
	}
	for _, r := range c.Resources {
		if r.Name == "" {
			errs = append(errs, errors.New("resource policy without a name"))
		}
		if r.MaxAge > 0 && r.StaleTime > r.MaxAge {
			errs = append(errs, fmt.Errorf("resource %s: stale_time exceeds max_age", r.Name))
		}
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		errs = append(errs, errors.New("circuit_breaker.failure_threshold must be positive"))
	}
	for _, f := range c.Rollout.Flags {
		if f.Name == "" {
			errs = append(errs, errors.New("feature flag without a name"))
		}
		if f.Percentage < 0 || f.Percentage > 100 {
			errs = append(errs, fmt.Errorf("flag %s: percentage must be within 0-100", f.Name))
		}
		for _, t := range f.Triggers {
			switch t.Operator {
			case ">", "<", "=":
			default:
				errs = append(errs, fmt.Errorf("flag %s: unsupported trigger operator %q", f.Name, t.Operator))
			}
		}
	}
	if c.QueryLog.Capacity <= 0 {
		errs = append(errs, errors.New("query_log.capacity must be positive"))
	}

	return errors.Join(errs...)
}

// ResourcePolicyFor returns the policy configured for a resource.
func (c *Config) ResourcePolicyFor(name string) (ResourcePolicy, bool) {
	for _, r := range c.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourcePolicy{}, false
}
