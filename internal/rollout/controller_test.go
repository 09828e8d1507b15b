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

package rollout

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/asgardeo/datacoord/internal/alert"
	"github.com/asgardeo/datacoord/internal/system/config"
	"github.com/asgardeo/datacoord/internal/system/log"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (d *recordingDispatcher) Register(listener alert.Listener) {}

func (d *recordingDispatcher) Publish(a alert.Alert) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, a)
	return true
}

type ControllerTestSuite struct {
	suite.Suite
	now        time.Time
	store      *MemoryStateStore
	dispatcher *recordingDispatcher
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func (suite *ControllerTestSuite) SetupTest() {
	suite.now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	suite.store = NewMemoryStateStore()
	suite.dispatcher = &recordingDispatcher{}
}

func (suite *ControllerTestSuite) newController(flags ...Flag) *Controller {
	c, err := NewController(Config{
		Flags:      flags,
		Store:      suite.store,
		Dispatcher: suite.dispatcher,
		Now:        func() time.Time { return suite.now },
		Logger:     log.NewNop(),
	})
	require.NoError(suite.T(), err)
	return c
}

func (suite *ControllerTestSuite) sample(offset time.Duration, metrics map[string]float64) Sample {
	return Sample{Timestamp: suite.now.Add(offset), Metrics: metrics}
}

func errorRateFlag(name string, threshold float64) Flag {
	return Flag{
		Name:       name,
		Enabled:    true,
		Percentage: 100,
		Triggers: []Trigger{
			{Metric: MetricErrorRate, Operator: OperatorGreater, Threshold: threshold, Window: 5 * time.Minute},
		},
	}
}

func (suite *ControllerTestSuite) TestActivationIsDeterministic() {
	c := suite.newController(Flag{Name: FlagCache, Enabled: true, Percentage: 50})

	for i := 0; i < 20; i++ {
		caller := fmt.Sprintf("tenant-%d", i)
		first := c.IsActive(FlagCache, caller)
		for j := 0; j < 5; j++ {
			assert.Equal(suite.T(), first, c.IsActive(FlagCache, caller))
		}
		assert.Equal(suite.T(), Bucket(caller) < 50, first)
	}
}

func (suite *ControllerTestSuite) TestPercentageBoundary() {
	caller := "clinic-42"
	bucket := Bucket(caller)
	require.GreaterOrEqual(suite.T(), bucket, 0)
	require.Less(suite.T(), bucket, 100)

	c := suite.newController(Flag{Name: FlagCache, Enabled: true, Percentage: bucket})
	assert.False(suite.T(), c.IsActive(FlagCache, caller))

	require.NoError(suite.T(), c.SetPercentage(FlagCache, bucket+1))
	assert.True(suite.T(), c.IsActive(FlagCache, caller))

	require.NoError(suite.T(), c.SetPercentage(FlagCache, 0))
	assert.False(suite.T(), c.IsActive(FlagCache, caller))
	assert.Error(suite.T(), c.SetPercentage(FlagCache, 101))
}

func (suite *ControllerTestSuite) TestDependenciesFailClosed() {
	c := suite.newController(
		Flag{Name: FlagCache, Enabled: false, Percentage: 100},
		Flag{Name: FlagBackgroundRefresh, Enabled: true, Percentage: 100, DependsOn: []string{FlagCache}},
		Flag{Name: "a", Enabled: true, Percentage: 100, DependsOn: []string{"b"}},
		Flag{Name: "b", Enabled: true, Percentage: 100, DependsOn: []string{"a"}},
		Flag{Name: "orphan", Enabled: true, Percentage: 100, DependsOn: []string{"missing"}},
	)

	assert.False(suite.T(), c.IsActive(FlagBackgroundRefresh, "tenant-a"))
	assert.False(suite.T(), c.IsActive("a", "tenant-a"))
	assert.False(suite.T(), c.IsActive("orphan", "tenant-a"))
	assert.False(suite.T(), c.IsActive("undefined", "tenant-a"))

	require.NoError(suite.T(), c.ManuallyEnable(FlagCache))
	assert.True(suite.T(), c.IsActive(FlagBackgroundRefresh, "tenant-a"))
}

func (suite *ControllerTestSuite) TestExplain() {
	c := suite.newController(
		Flag{Name: FlagDedup, Enabled: false, Percentage: 100},
		Flag{Name: FlagPrioritization, Enabled: true, Percentage: 100, DependsOn: []string{FlagDedup}},
	)

	e := c.Explain(FlagPrioritization, "tenant-a")
	assert.False(suite.T(), e.Active)
	assert.Equal(suite.T(), Bucket("tenant-a"), e.Bucket)
	assert.Contains(suite.T(), e.Reason, "dependency dedup inactive")
	assert.Contains(suite.T(), e.Reason, "disabled")
}

func (suite *ControllerTestSuite) TestRollbackFiresExactlyOnce() {
	c := suite.newController(errorRateFlag(FlagCache, 0.1))
	var fired []Rollback
	c.OnRollback(FlagCache, func(rb Rollback) { fired = append(fired, rb) })
	var any int
	c.OnRollback("", func(rb Rollback) { any++ })

	assert.Empty(suite.T(), c.ReportMetrics(suite.sample(0, map[string]float64{MetricErrorRate: 0.05})))
	rollbacks := c.ReportMetrics(suite.sample(time.Minute, map[string]float64{MetricErrorRate: 0.3}))
	require.Len(suite.T(), rollbacks, 1)
	assert.InDelta(suite.T(), 0.175, rollbacks[0].Observed, 0.0001)
	assert.Equal(suite.T(), 2, rollbacks[0].Samples)

	assert.Empty(suite.T(), c.ReportMetrics(suite.sample(2*time.Minute, map[string]float64{MetricErrorRate: 0.9})))

	assert.Len(suite.T(), fired, 1)
	assert.Equal(suite.T(), 1, any)
	require.Len(suite.T(), suite.dispatcher.alerts, 1)
	assert.Equal(suite.T(), AlertRollback, suite.dispatcher.alerts[0].Type)
	assert.Equal(suite.T(), alert.SeverityCritical, suite.dispatcher.alerts[0].Severity)

	f, ok := c.Flag(FlagCache)
	require.True(suite.T(), ok)
	assert.False(suite.T(), f.Enabled)
	assert.Contains(suite.T(), f.DisabledReason, "rolled back")
	assert.False(suite.T(), c.IsActive(FlagCache, "tenant-a"))

	saved, err := suite.store.Load()
	require.NoError(suite.T(), err)
	assert.False(suite.T(), saved[FlagCache].Enabled)
}

func (suite *ControllerTestSuite) TestSamplesOutsideWindowAreIgnored() {
	c := suite.newController(errorRateFlag(FlagCache, 0.1))

	assert.Empty(suite.T(), c.ReportMetrics(suite.sample(0, map[string]float64{"other": 1})))
	assert.Len(suite.T(), c.ReportMetrics(suite.sample(time.Minute, map[string]float64{MetricErrorRate: 0.9})), 1)

	d := suite.newController(errorRateFlag(FlagDedup, 0.1))
	assert.Len(suite.T(), d.ReportMetrics(suite.sample(0, map[string]float64{MetricErrorRate: 0.09})), 0)
	assert.Len(suite.T(), d.ReportMetrics(suite.sample(10*time.Minute, map[string]float64{MetricErrorRate: 0.0})), 0)
	// Only the samples at 10m and 11m fall inside the window: (0.0 + 0.3) / 2.
	assert.Len(suite.T(), d.ReportMetrics(suite.sample(11*time.Minute, map[string]float64{MetricErrorRate: 0.3})), 1)
}

func (suite *ControllerTestSuite) TestOperators() {
	c := suite.newController(
		Flag{Name: "hit_rate", Enabled: true, Percentage: 100, Triggers: []Trigger{
			{Metric: MetricCacheHitRate, Operator: OperatorLess, Threshold: 0.2, Window: time.Minute},
		}},
		Flag{Name: "open", Enabled: true, Percentage: 100, Triggers: []Trigger{
			{Metric: MetricCircuitOpenRate, Operator: OperatorEqual, Threshold: 1, Window: time.Minute},
		}},
	)

	rollbacks := c.ReportMetrics(suite.sample(0, map[string]float64{
		MetricCacheHitRate:    0.1,
		MetricCircuitOpenRate: 1,
	}))
	require.Len(suite.T(), rollbacks, 2)
	assert.Equal(suite.T(), "hit_rate", rollbacks[0].Flag)
	assert.Equal(suite.T(), "open", rollbacks[1].Flag)
}

func (suite *ControllerTestSuite) TestDependencyDisabledSkipsTriggers() {
	c := suite.newController(
		Flag{Name: FlagCache, Enabled: false, Percentage: 100},
		Flag{Name: FlagBackgroundRefresh, Enabled: true, Percentage: 100, DependsOn: []string{FlagCache},
			Triggers: []Trigger{{Metric: MetricErrorRate, Operator: OperatorGreater, Threshold: 0.1,
				Window: time.Minute}}},
	)

	assert.Empty(suite.T(), c.ReportMetrics(suite.sample(0, map[string]float64{MetricErrorRate: 0.9})))
	f, _ := c.Flag(FlagBackgroundRefresh)
	assert.True(suite.T(), f.Enabled)
}

func (suite *ControllerTestSuite) TestCallbackPanicIsSwallowed() {
	c := suite.newController(errorRateFlag(FlagCache, 0.1))
	c.OnRollback(FlagCache, func(rb Rollback) { panic("listener bug") })

	assert.NotPanics(suite.T(), func() {
		c.ReportMetrics(suite.sample(0, map[string]float64{MetricErrorRate: 0.5}))
	})
	assert.Len(suite.T(), suite.dispatcher.alerts, 1)
}

func (suite *ControllerTestSuite) TestManualOverridesPersist() {
	c := suite.newController(DefaultFlags()...)

	assert.ErrorIs(suite.T(), c.ManuallyDisable("unknown"), ErrFlagNotFound)
	require.NoError(suite.T(), c.ManuallyDisable(FlagDedup))
	require.NoError(suite.T(), c.SetPercentage(FlagCache, 25))

	restarted := suite.newController(DefaultFlags()...)
	dedup, _ := restarted.Flag(FlagDedup)
	assert.False(suite.T(), dedup.Enabled)
	assert.Equal(suite.T(), "manually disabled", dedup.DisabledReason)
	cacheFlag, _ := restarted.Flag(FlagCache)
	assert.Equal(suite.T(), 25, cacheFlag.Percentage)

	require.NoError(suite.T(), restarted.ManuallyEnable(FlagDedup))
	dedup, _ = restarted.Flag(FlagDedup)
	assert.True(suite.T(), dedup.Enabled)
	assert.Empty(suite.T(), dedup.DisabledReason)
}

func (suite *ControllerTestSuite) TestInvalidFlagsAreRejected() {
	_, err := NewController(Config{Flags: []Flag{{Name: "x", Percentage: 120}}, Logger: log.NewNop()})
	assert.Error(suite.T(), err)

	_, err = NewController(Config{Flags: []Flag{{Name: "x", Percentage: 10,
		Triggers: []Trigger{{Metric: "m", Operator: ">="}}}}, Logger: log.NewNop()})
	assert.Error(suite.T(), err)
}

func (suite *ControllerTestSuite) TestFlagsOrderedByName() {
	c := suite.newController(DefaultFlags()...)
	var names []string
	for _, f := range c.Flags() {
		names = append(names, f.Name)
	}
	assert.Equal(suite.T(), []string{FlagBackgroundRefresh, FlagCache, FlagCircuitBreaker, FlagDedup,
		FlagPrioritization}, names)
}

func TestLevelDBStateStore(t *testing.T) {
	store, err := OpenLevelDBStateStoreWith(storage.NewMemStorage())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	updated := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(FlagCache, Override{Enabled: false, Percentage: 40, Reason: "rolled back",
		UpdatedAt: updated}))
	require.NoError(t, store.Save(FlagDedup, Override{Enabled: true, Percentage: 100, UpdatedAt: updated}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 40, loaded[FlagCache].Percentage)
	assert.Equal(t, "rolled back", loaded[FlagCache].Reason)
	assert.True(t, loaded[FlagCache].UpdatedAt.Equal(updated))
	assert.True(t, loaded[FlagDedup].Enabled)
}

func TestFlagsFromConfigMergesOverDefaults(t *testing.T) {
	configured := FlagsFromConfig([]config.FlagConfig{
		{Name: FlagCache, Enabled: true, Percentage: 10, Triggers: []config.TriggerConfig{
			{Metric: MetricErrorRate, Operator: ">", Threshold: 0.05, Window: time.Minute},
		}},
		{Name: "new_feature", Enabled: false, Percentage: 0},
	})

	merged := MergeFlags(DefaultFlags(), configured)
	require.Len(t, merged, 6)
	assert.Equal(t, FlagCache, merged[0].Name)
	assert.Equal(t, 10, merged[0].Percentage)
	assert.Equal(t, OperatorGreater, merged[0].Triggers[0].Operator)
	assert.Equal(t, "new_feature", merged[5].Name)
}
