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

package alert

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/asgardeo/datacoord/internal/system/log"
)

type DispatcherTestSuite struct {
	suite.Suite
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func (suite *DispatcherTestSuite) TestPublishDeliversToAllListeners() {
	d := NewDispatcher(0, log.NewNop())
	var first, second []Alert
	d.Register(func(a Alert) { first = append(first, a) })
	d.Register(func(a Alert) { second = append(second, a) })
	d.Register(nil)

	delivered := d.Publish(Alert{Type: "frequent_opening", Severity: SeverityWarning, Source: "remote"})

	assert.True(suite.T(), delivered)
	assert.Len(suite.T(), first, 1)
	assert.Len(suite.T(), second, 1)
	assert.False(suite.T(), first[0].Timestamp.IsZero())
}

func (suite *DispatcherTestSuite) TestListenerPanicIsContained() {
	d := NewDispatcher(0, log.NewNop())
	var received int
	d.Register(func(Alert) { panic("listener failure") })
	d.Register(func(Alert) { received++ })

	assert.NotPanics(suite.T(), func() {
		d.Publish(Alert{Type: "rollback", Source: "cache"})
	})
	assert.Equal(suite.T(), 1, received)
}

func (suite *DispatcherTestSuite) TestSuppressionWindow() {
	d := NewDispatcher(time.Hour, log.NewNop())
	defer d.Close()
	var received []Alert
	d.Register(func(a Alert) { received = append(received, a) })

	assert.True(suite.T(), d.Publish(Alert{Type: "long_open", Source: "remote"}))
	assert.False(suite.T(), d.Publish(Alert{Type: "long_open", Source: "remote"}))
	assert.True(suite.T(), d.Publish(Alert{Type: "long_open", Source: "other"}))
	assert.True(suite.T(), d.Publish(Alert{Type: "low_reliability", Source: "remote"}))

	assert.Len(suite.T(), received, 3)
}

func (suite *DispatcherTestSuite) TestConcurrentPublishDeliversOnce() {
	d := NewDispatcher(time.Hour, log.NewNop())
	defer d.Close()
	var received int32
	d.Register(func(Alert) { atomic.AddInt32(&received, 1) })

	var delivered int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if d.Publish(Alert{Type: "frequent_opening", Source: "remote"}) {
				atomic.AddInt32(&delivered, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(suite.T(), int32(1), delivered)
	assert.Equal(suite.T(), int32(1), atomic.LoadInt32(&received))
}
