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

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/asgardeo/datacoord/internal/alert"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
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

func (d *recordingDispatcher) types() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, a := range d.alerts {
		out = append(out, a.Type)
	}
	return out
}

type BreakerTestSuite struct {
	suite.Suite
	now        time.Time
	dispatcher *recordingDispatcher
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerTestSuite))
}

func (suite *BreakerTestSuite) SetupTest() {
	suite.now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	suite.dispatcher = &recordingDispatcher{}
}

func (suite *BreakerTestSuite) advance(d time.Duration) {
	suite.now = suite.now.Add(d)
}

func (suite *BreakerTestSuite) newBreaker(alerts AlertThresholds) *Breaker {
	return NewBreaker(Config{
		Name:             "remote",
		FailureThreshold: 3,
		CoolDown:         30 * time.Second,
		HalfOpenMaxCalls: 3,
		SuccessThreshold: 2,
		UptimeWindow:     time.Hour,
		Alerts:           alerts,
		Dispatcher:       suite.dispatcher,
		Now:              func() time.Time { return suite.now },
		Logger:           log.NewNop(),
	})
}

var errNetwork = dataerror.New(dataerror.KindNetwork, "fetch", "clinicians", errors.New("connection refused"))

func (suite *BreakerTestSuite) fail(b *Breaker, times int) {
	for i := 0; i < times; i++ {
		require.NoError(suite.T(), b.Allow())
		b.Record(errNetwork)
	}
}

func (suite *BreakerTestSuite) succeed(b *Breaker, times int) {
	for i := 0; i < times; i++ {
		require.NoError(suite.T(), b.Allow())
		b.Record(nil)
	}
}

func (suite *BreakerTestSuite) TestThreeFailuresOpenTheCircuit() {
	b := suite.newBreaker(AlertThresholds{})

	suite.fail(b, 2)
	assert.Equal(suite.T(), StateClosed, b.State())
	suite.fail(b, 1)
	assert.Equal(suite.T(), StateOpen, b.State())
	assert.True(suite.T(), b.IsOpen())

	invoked := false
	_, err := b.Execute(context.Background(), func(ctx context.Context) (model.ResultSet, error) {
		invoked = true
		return nil, nil
	})
	assert.ErrorIs(suite.T(), err, dataerror.ErrCircuitOpen)
	assert.Equal(suite.T(), dataerror.KindCircuitOpen, dataerror.KindOf(err))
	assert.False(suite.T(), invoked)
	assert.Equal(suite.T(), int64(1), b.Metrics().Rejected)
}

func (suite *BreakerTestSuite) TestRecoveryGoesThroughHalfOpen() {
	b := suite.newBreaker(AlertThresholds{})
	suite.fail(b, 3)

	suite.advance(29 * time.Second)
	assert.ErrorIs(suite.T(), b.Allow(), dataerror.ErrCircuitOpen)

	suite.advance(time.Second)
	require.NoError(suite.T(), b.Allow())
	assert.Equal(suite.T(), StateHalfOpen, b.State())
	b.Record(nil)
	assert.Equal(suite.T(), StateHalfOpen, b.State())

	suite.succeed(b, 1)
	assert.Equal(suite.T(), StateClosed, b.State())

	var transitions [][2]State
	for _, e := range b.Snapshot().Events {
		if e.Type == EventStateChange {
			transitions = append(transitions, [2]State{e.From, e.To})
		}
	}
	assert.Equal(suite.T(), [][2]State{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, transitions)
}

func (suite *BreakerTestSuite) TestFailedTrialReturnsToOpen() {
	b := suite.newBreaker(AlertThresholds{})
	suite.fail(b, 3)
	suite.advance(30 * time.Second)

	suite.succeed(b, 1)
	suite.fail(b, 1)

	assert.Equal(suite.T(), StateOpen, b.State())
	assert.ErrorIs(suite.T(), b.Allow(), dataerror.ErrCircuitOpen)
}

func (suite *BreakerTestSuite) TestHalfOpenAdmitsLimitedTrials() {
	b := suite.newBreaker(AlertThresholds{})
	suite.fail(b, 3)
	suite.advance(30 * time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(suite.T(), b.Allow())
	}
	assert.ErrorIs(suite.T(), b.Allow(), dataerror.ErrCircuitOpen)
	assert.Equal(suite.T(), 3, b.Snapshot().HalfOpenInFlight)

	b.Record(context.Canceled)
	assert.Equal(suite.T(), StateHalfOpen, b.State())
	assert.NoError(suite.T(), b.Allow())
}

func (suite *BreakerTestSuite) TestSuccessResetsConsecutiveFailures() {
	b := suite.newBreaker(AlertThresholds{})
	suite.fail(b, 2)
	suite.succeed(b, 1)
	suite.fail(b, 2)

	assert.Equal(suite.T(), StateClosed, b.State())
	assert.Equal(suite.T(), 2, b.Snapshot().ConsecutiveFailures)
}

func (suite *BreakerTestSuite) TestHealthyServiceErrorsDoNotTrip() {
	b := suite.newBreaker(AlertThresholds{})
	for i := 0; i < 5; i++ {
		require.NoError(suite.T(), b.Allow())
		b.Record(dataerror.New(dataerror.KindValidation, "fetch", "clinicians", errors.New("bad column")))
		require.NoError(suite.T(), b.Allow())
		b.Record(dataerror.New(dataerror.KindNotFound, "fetch", "clinicians", errors.New("no rows")))
	}
	assert.Equal(suite.T(), StateClosed, b.State())
	assert.Equal(suite.T(), float64(1), b.Metrics().Reliability)
}

func (suite *BreakerTestSuite) TestManualReset() {
	b := suite.newBreaker(AlertThresholds{})
	suite.fail(b, 3)

	b.Reset()

	snap := b.Snapshot()
	assert.Equal(suite.T(), StateClosed, snap.State)
	assert.Equal(suite.T(), int64(1), snap.Metrics.Resets)
	assert.Equal(suite.T(), EventReset, snap.Events[len(snap.Events)-1].Type)
	assert.NoError(suite.T(), b.Allow())
}

func (suite *BreakerTestSuite) TestRollingMetrics() {
	b := suite.newBreaker(AlertThresholds{})
	suite.advance(10 * time.Minute)
	suite.fail(b, 3)
	suite.advance(30 * time.Second)
	suite.succeed(b, 2)
	suite.advance(9*time.Minute + 30*time.Second)

	m := b.Snapshot().Metrics
	assert.Equal(suite.T(), int64(5), m.TotalRequests)
	assert.InDelta(suite.T(), 0.4, m.Reliability, 0.0001)
	assert.InDelta(suite.T(), 0.975, m.Uptime, 0.0001)
	assert.Equal(suite.T(), 30*time.Second, m.AverageOpenTime)
	assert.Equal(suite.T(), 30*time.Second, m.AverageRecoveryTime)
	assert.Equal(suite.T(), StateClosed, m.State)
}

func (suite *BreakerTestSuite) TestUptimeDropsWhileOpen() {
	b := suite.newBreaker(AlertThresholds{})
	suite.advance(30 * time.Minute)
	suite.fail(b, 3)
	suite.advance(30 * time.Minute)

	assert.InDelta(suite.T(), 0.5, b.Snapshot().Metrics.Uptime, 0.0001)
}

func (suite *BreakerTestSuite) TestAlertRules() {
	b := suite.newBreaker(AlertThresholds{
		FrequentOpenCount:       2,
		FrequentOpenWindow:      10 * time.Minute,
		LongOpenDuration:        5 * time.Minute,
		LowReliabilityThreshold: 0.9,
		MinSampleSize:           5,
	})

	suite.fail(b, 3)
	assert.Empty(suite.T(), suite.dispatcher.types())

	suite.advance(30 * time.Second)
	suite.fail(b, 1)
	assert.Equal(suite.T(), []string{AlertFrequentOpening}, suite.dispatcher.types())

	suite.advance(6 * time.Minute)
	b.CheckAlerts()
	assert.Contains(suite.T(), suite.dispatcher.types(), AlertLongOpen)
	assert.NotContains(suite.T(), suite.dispatcher.types(), AlertLowReliability)

	suite.fail(b, 1)
	assert.Contains(suite.T(), suite.dispatcher.types(), AlertLowReliability)
	assert.Equal(suite.T(), StateOpen, b.State(), "alerts never change state")
}

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to State
		allowed  bool
	}{
		{StateClosed, StateOpen, true},
		{StateClosed, StateHalfOpen, false},
		{StateOpen, StateHalfOpen, true},
		{StateOpen, StateClosed, false},
		{StateHalfOpen, StateClosed, true},
		{StateHalfOpen, StateOpen, true},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.allowed, canTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
