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

// Package rollout gates the request pipeline optimizations behind feature flags with staged
// percentage rollout and automatic metric driven rollback.
package rollout

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/asgardeo/datacoord/internal/alert"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const loggerComponentName = "RolloutController"

// AlertRollback is raised when a trigger disables a flag.
const AlertRollback = "feature_rollback"

// ErrFlagNotFound is returned for operations on an unknown flag.
var ErrFlagNotFound = errors.New("feature flag not found")

// ControllerInterface defines the rollout operations.
type ControllerInterface interface {
	IsActive(flag, callerID string) bool
	Explain(flag, callerID string) Explanation
	ReportMetrics(sample Sample) []Rollback
	ManuallyEnable(flag string) error
	ManuallyDisable(flag string) error
	SetPercentage(flag string, percentage int) error
	Flags() []Flag
	OnRollback(flag string, cb RollbackCallback)
}

// Sample is one window sample of aggregate metrics.
type Sample struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Rollback describes an automatic disablement.
type Rollback struct {
	Flag      string        `json:"flag"`
	Metric    string        `json:"metric"`
	Operator  Operator      `json:"operator"`
	Threshold float64       `json:"threshold"`
	Observed  float64       `json:"observed"`
	Window    time.Duration `json:"window"`
	Samples   int           `json:"samples"`
	Timestamp time.Time     `json:"timestamp"`
}

// RollbackCallback is invoked once per automatic rollback.
type RollbackCallback func(Rollback)

// Explanation tells why a flag is or is not active for a caller.
type Explanation struct {
	Flag     string `json:"flag"`
	CallerID string `json:"callerId"`
	Bucket   int    `json:"bucket"`
	Active   bool   `json:"active"`
	Reason   string `json:"reason"`
}

// Config holds the controller dependencies.
type Config struct {
	Flags      []Flag
	Store      StateStore
	Dispatcher alert.DispatcherInterface
	Now        func() time.Time
	Logger     *log.Logger
}

// Controller evaluates feature flags. It never returns an error from an evaluation; an unknown
// flag, a disabled dependency or a dependency cycle yields false.
type Controller struct {
	mu         sync.RWMutex
	flags      map[string]*Flag
	samples    []Sample
	maxWindow  time.Duration
	callbacks  map[string][]RollbackCallback
	store      StateStore
	dispatcher alert.DispatcherInterface
	now        func() time.Time
	logger     *log.Logger
}

// NewController creates a controller from the flag definitions and applies the persisted
// overrides on top of them.
func NewController(cfg Config) (*Controller, error) {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStateStore()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		flags:      make(map[string]*Flag, len(cfg.Flags)),
		callbacks:  make(map[string][]RollbackCallback),
		store:      store,
		dispatcher: cfg.Dispatcher,
		now:        now,
		logger:     log.OrDefault(cfg.Logger).With(log.String(log.LoggerKeyComponentName, loggerComponentName)),
	}

	for _, f := range cfg.Flags {
		if err := validateFlag(f); err != nil {
			return nil, err
		}
		flag := f.clone()
		c.flags[f.Name] = &flag
		for _, t := range f.Triggers {
			if t.Window > c.maxWindow {
				c.maxWindow = t.Window
			}
		}
	}

	overrides, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load flag overrides: %w", err)
	}
	for name, o := range overrides {
		f, ok := c.flags[name]
		if !ok {
			continue
		}
		f.Enabled = o.Enabled
		f.Percentage = o.Percentage
		f.DisabledReason = o.Reason
		f.UpdatedAt = o.UpdatedAt
		c.logger.Info("Applied persisted flag override", log.String("flag", name), log.Bool("enabled", o.Enabled),
			log.Int("percentage", o.Percentage))
	}
	return c, nil
}

func validateFlag(f Flag) error {
	if f.Name == "" {
		return errors.New("feature flag without a name")
	}
	if f.Percentage < 0 || f.Percentage > 100 {
		return fmt.Errorf("flag %s: percentage must be within 0-100", f.Name)
	}
	for _, t := range f.Triggers {
		switch t.Operator {
		case OperatorGreater, OperatorLess, OperatorEqual:
		default:
			return fmt.Errorf("flag %s: unsupported trigger operator %q", f.Name, t.Operator)
		}
	}
	return nil
}

// Bucket maps a caller to its rollout bucket: the 64-bit xxHash of the UTF-8 caller identity,
// modulo 100. A caller is inside a rollout of p percent when its bucket is below p.
func Bucket(callerID string) int {
	return int(xxhash.Sum64String(callerID) % 100)
}

// IsActive reports whether the flag is active for the caller.
func (c *Controller) IsActive(flag, callerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	active, _ := c.evaluate(flag, Bucket(callerID), mapset.NewThreadUnsafeSet[string]())
	return active
}

// Explain reports the activation of a flag for a caller with the gate that decided it.
func (c *Controller) Explain(flag, callerID string) Explanation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bucket := Bucket(callerID)
	active, reason := c.evaluate(flag, bucket, mapset.NewThreadUnsafeSet[string]())
	return Explanation{Flag: flag, CallerID: callerID, Bucket: bucket, Active: active, Reason: reason}
}

// evaluate walks the flag and its dependencies. The caller must hold the lock.
func (c *Controller) evaluate(name string, bucket int, visiting mapset.Set[string]) (bool, string) {
	f, ok := c.flags[name]
	if !ok {
		return false, fmt.Sprintf("flag %s is not defined", name)
	}
	if !f.Enabled {
		return false, fmt.Sprintf("flag %s is disabled", name)
	}
	if !visiting.Add(name) {
		return false, fmt.Sprintf("dependency cycle through %s", name)
	}
	defer visiting.Remove(name)

	for _, dep := range f.DependsOn {
		if active, reason := c.evaluate(dep, bucket, visiting); !active {
			return false, fmt.Sprintf("dependency %s inactive: %s", dep, reason)
		}
	}
	if bucket >= f.Percentage {
		return false, fmt.Sprintf("bucket %d outside rollout of %d%%", bucket, f.Percentage)
	}
	return true, "active"
}

// dependencyDisabled reports whether the dependency chain of a flag contains a flag that is
// disabled for everyone, is undefined or loops. The caller must hold the lock.
func (c *Controller) dependencyDisabled(f *Flag, visiting mapset.Set[string]) bool {
	if !visiting.Add(f.Name) {
		return true
	}
	defer visiting.Remove(f.Name)

	for _, dep := range f.DependsOn {
		d, ok := c.flags[dep]
		if !ok || !d.Enabled || d.Percentage == 0 {
			return true
		}
		if c.dependencyDisabled(d, visiting) {
			return true
		}
	}
	return false
}

// ManuallyEnable re-enables a flag and clears its rollback reason.
func (c *Controller) ManuallyEnable(flag string) error {
	return c.setEnabled(flag, true, "")
}

// ManuallyDisable disables a flag.
func (c *Controller) ManuallyDisable(flag string) error {
	return c.setEnabled(flag, false, "manually disabled")
}

func (c *Controller) setEnabled(name string, enabled bool, reason string) error {
	c.mu.Lock()
	f, ok := c.flags[name]
	if !ok {
		c.mu.Unlock()
		return ErrFlagNotFound
	}
	f.Enabled = enabled
	f.DisabledReason = reason
	f.UpdatedAt = c.now()
	override := overrideOf(f)
	c.mu.Unlock()

	c.logger.Info("Feature flag updated by operator", log.String("flag", name), log.Bool("enabled", enabled))
	return c.persist(name, override)
}

// SetPercentage changes the rollout percentage of a flag.
func (c *Controller) SetPercentage(name string, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return fmt.Errorf("percentage must be within 0-100, got %d", percentage)
	}
	c.mu.Lock()
	f, ok := c.flags[name]
	if !ok {
		c.mu.Unlock()
		return ErrFlagNotFound
	}
	f.Percentage = percentage
	f.UpdatedAt = c.now()
	override := overrideOf(f)
	c.mu.Unlock()

	c.logger.Info("Feature flag rollout changed", log.String("flag", name), log.Int("percentage", percentage))
	return c.persist(name, override)
}

// Flag returns a copy of a flag.
func (c *Controller) Flag(name string) (Flag, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.flags[name]
	if !ok {
		return Flag{}, false
	}
	return f.clone(), true
}

// Flags returns a copy of every flag ordered by name.
func (c *Controller) Flags() []Flag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Flag, 0, len(c.flags))
	for _, f := range c.flags {
		out = append(out, f.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OnRollback registers a callback for rollbacks of a flag. An empty flag name registers for
// every flag.
func (c *Controller) OnRollback(flag string, cb RollbackCallback) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks[flag] = append(c.callbacks[flag], cb)
}

// Close closes the state store.
func (c *Controller) Close() error {
	return c.store.Close()
}

func (c *Controller) persist(name string, o Override) error {
	if err := c.store.Save(name, o); err != nil {
		c.logger.Error("Failed to persist flag override", log.String("flag", name), log.Error(err))
		return err
	}
	return nil
}

func overrideOf(f *Flag) Override {
	return Override{
		Enabled:    f.Enabled,
		Percentage: f.Percentage,
		Reason:     f.DisabledReason,
		UpdatedAt:  f.UpdatedAt,
	}
}
