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

package managers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"

	"github.com/asgardeo/datacoord/internal/dataaccess"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/rollout"
	"github.com/asgardeo/datacoord/internal/scheduler"
	"github.com/asgardeo/datacoord/internal/system/config"
	"github.com/asgardeo/datacoord/internal/system/constants"
	"github.com/asgardeo/datacoord/internal/system/log"
)

type ServiceManagerTestSuite struct {
	suite.Suite
	home string
	cfg  *config.Config
}

func TestServiceManagerSuite(t *testing.T) {
	suite.Run(t, new(ServiceManagerTestSuite))
}

func (suite *ServiceManagerTestSuite) SetupTest() {
	suite.home = suite.T().TempDir()

	db, err := sql.Open("sqlite", filepath.Join(suite.home, "clinic.db"))
	suite.Require().NoError(err)
	_, err = db.Exec(`CREATE TABLE visits (id INTEGER PRIMARY KEY, status TEXT NOT NULL)`)
	suite.Require().NoError(err)
	_, err = db.Exec(`INSERT INTO visits (id, status) VALUES (1, 'open'), (2, 'closed'), (3, 'open')`)
	suite.Require().NoError(err)
	suite.Require().NoError(db.Close())

	suite.cfg = config.Default()
	suite.cfg.Database.Remote = config.DataSource{
		Type:         "sqlite",
		Name:         "clinic",
		Path:         "clinic.db",
		MaxOpenConns: 2,
	}
	suite.cfg.Rollout.StatePath = "state"
}

func (suite *ServiceManagerTestSuite) start() (*ServiceManager, *http.ServeMux) {
	mux := http.NewServeMux()
	sm := NewServiceManager(mux, suite.cfg, suite.home, log.NewNop())
	suite.Require().NoError(sm.RegisterServices(context.Background()))
	return sm, mux
}

func (suite *ServiceManagerTestSuite) do(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(constants.CallerIDHeaderName, "clinic-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func (suite *ServiceManagerTestSuite) TestReadThroughCache() {
	sm, mux := suite.start()
	defer func() { suite.NoError(sm.Close()) }()

	rec := suite.do(mux, http.MethodGet, "/data/visits?status=eq.open&order=id")
	suite.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	suite.Equal("MISS", rec.Header().Get("X-Cache"))

	var body dataaccess.Response
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	suite.Require().Len(body.Data, 2)
	suite.EqualValues(1, body.Data[0]["id"])
	suite.EqualValues(3, body.Data[1]["id"])

	rec = suite.do(mux, http.MethodGet, "/data/visits?status=eq.open&order=id")
	suite.Equal(http.StatusOK, rec.Code)
	suite.Equal("HIT", rec.Header().Get("X-Cache"))

	suite.Equal(http.StatusNotFound, suite.do(mux, http.MethodGet, "/data/missing").Code)
	suite.Equal(http.StatusOK, suite.do(mux, http.MethodGet, "/health/readiness").Code)
	suite.Equal(http.StatusOK, suite.do(mux, http.MethodGet, "/ops/cache").Code)
}

func (suite *ServiceManagerTestSuite) TestBackgroundRefreshedResourcesGetSchedules() {
	suite.cfg.Resources = []config.ResourcePolicy{
		{Name: "clinicians", StaleTime: 2 * time.Minute, MaxAge: time.Hour, Priority: "high", BackgroundRefresh: true},
		{Name: "visits", StaleTime: time.Minute, MaxAge: time.Hour, BackgroundRefresh: true},
		{Name: "rooms", StaleTime: time.Minute, MaxAge: time.Hour},
	}
	suite.cfg.Refresh.Schedules = []config.ScheduleConfig{{Resource: "visits", Volatility: "reference"}}

	sm, _ := suite.start()
	defer func() { suite.NoError(sm.Close()) }()

	byResource := map[string]scheduler.Schedule{}
	for _, sch := range sm.scheduler.Schedules() {
		byResource[sch.Resource] = sch
	}
	suite.Require().Contains(byResource, "clinicians")
	suite.True(byResource["clinicians"].Enabled)
	suite.Equal(2*time.Minute, byResource["clinicians"].Interval)
	suite.Equal(model.PriorityHigh, byResource["clinicians"].Priority)
	suite.False(byResource["clinicians"].NextDue.IsZero())

	suite.Equal(30*time.Minute, byResource["visits"].Interval, "a configured schedule wins")
	suite.NotContains(byResource, "rooms")
}

func (suite *ServiceManagerTestSuite) TestFlagStateSurvivesRestart() {
	sm, mux := suite.start()
	rec := suite.do(mux, http.MethodPost, "/ops/flags/"+rollout.FlagDedup+"/disable")
	suite.Require().Equal(http.StatusOK, rec.Code)
	suite.Require().NoError(sm.Close())

	sm, mux = suite.start()
	defer func() { suite.NoError(sm.Close()) }()

	rec = suite.do(mux, http.MethodGet, "/ops/flags/"+rollout.FlagDedup+"/explain?caller=clinic-1")
	suite.Require().Equal(http.StatusOK, rec.Code)
	var explanation rollout.Explanation
	suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &explanation))
	suite.False(explanation.Active)
}

func (suite *ServiceManagerTestSuite) TestDisabledCacheSwitchesFlagOff() {
	suite.cfg.Cache.Disabled = true
	suite.cfg.Rollout.StatePath = ""
	sm, mux := suite.start()
	defer func() { suite.NoError(sm.Close()) }()

	suite.False(sm.rollout.IsActive(rollout.FlagCache, "clinic-1"))
	for i := 0; i < 2; i++ {
		rec := suite.do(mux, http.MethodGet, "/data/visits")
		suite.Require().Equal(http.StatusOK, rec.Code)
		suite.Equal("MISS", rec.Header().Get("X-Cache"))
	}
}

func (suite *ServiceManagerTestSuite) TestRegisterServicesFailsWithoutDataSource() {
	suite.cfg.Database.Remote = config.DataSource{Type: "sqlite", Name: "clinic"}
	sm := NewServiceManager(http.NewServeMux(), suite.cfg, suite.home, log.NewNop())
	suite.Error(sm.RegisterServices(context.Background()))
}

func (suite *ServiceManagerTestSuite) TestRunStopsWithContext() {
	suite.cfg.Resources = []config.ResourcePolicy{{Name: "visits", Preload: true}}
	sm, mux := suite.start()
	defer func() { suite.NoError(sm.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sm.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	rec := suite.do(mux, http.MethodGet, "/ops/cache")
	suite.Equal(http.StatusOK, rec.Code)
}
