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

package client

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/asgardeo/datacoord/internal/system/database/model"
	"github.com/asgardeo/datacoord/internal/system/log"
)

type DBClientTestSuite struct {
	suite.Suite
	mockDB   *sql.DB
	mock     sqlmock.Sqlmock
	dbClient *DBClient
}

func TestDBClientSuite(t *testing.T) {
	suite.Run(t, new(DBClientTestSuite))
}

func (suite *DBClientTestSuite) SetupTest() {
	var err error
	suite.mockDB, suite.mock, err = sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual), sqlmock.MonitorPingsOption(true))
	if err != nil {
		suite.T().Fatalf("Failed to create mock database: %v", err)
	}
	suite.dbClient = NewDBClient(suite.mockDB, model.DBTypePostgres, log.NewNop())
}

func (suite *DBClientTestSuite) TearDownTest() {
	if err := suite.mock.ExpectationsWereMet(); err != nil {
		suite.T().Fatalf("There were unfulfilled expectations: %v", err)
	}
}

func (suite *DBClientTestSuite) TestQuerySuccess() {
	testQuery := model.DBQuery{
		ID:            "test_query_success",
		Query:         "SELECT id, name FROM users WHERE id = ?",
		PostgresQuery: "SELECT id, name FROM users WHERE id = $1",
	}

	rows := sqlmock.NewRows([]string{"ID", "name"}).
		AddRow(1, "John Doe").
		AddRow(2, []byte("Jane Smith"))
	suite.mock.ExpectQuery("SELECT id, name FROM users WHERE id = $1").
		WithArgs(driver.Value(1)).
		WillReturnRows(rows)

	results, err := suite.dbClient.Query(context.Background(), testQuery, 1)

	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), results, 2)
	assert.Equal(suite.T(), int64(1), results[0]["id"])
	assert.Equal(suite.T(), "John Doe", results[0]["name"])
	assert.Equal(suite.T(), "Jane Smith", results[1]["name"])
}

func (suite *DBClientTestSuite) TestQueryEmptyResults() {
	suite.mock.ExpectQuery("SELECT id FROM users").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	results, err := suite.dbClient.Query(context.Background(), model.DBQuery{ID: "empty", Query: "SELECT id FROM users"})

	assert.NoError(suite.T(), err)
	assert.NotNil(suite.T(), results)
	assert.Empty(suite.T(), results)
}

func (suite *DBClientTestSuite) TestQueryDatabaseError() {
	expectedErr := errors.New("table not found")
	suite.mock.ExpectQuery("SELECT id FROM missing").WillReturnError(expectedErr)

	results, err := suite.dbClient.Query(context.Background(), model.DBQuery{ID: "err", Query: "SELECT id FROM missing"})

	assert.Equal(suite.T(), expectedErr, err)
	assert.Nil(suite.T(), results)
}

func (suite *DBClientTestSuite) TestQueryRowError() {
	rows := sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).RowError(1, errors.New("connection reset"))
	suite.mock.ExpectQuery("SELECT id FROM users").WillReturnRows(rows)

	results, err := suite.dbClient.Query(context.Background(), model.DBQuery{ID: "rowerr", Query: "SELECT id FROM users"})

	assert.EqualError(suite.T(), err, "connection reset")
	assert.Nil(suite.T(), results)
}

func (suite *DBClientTestSuite) TestPingAndClose() {
	suite.mock.ExpectPing()
	suite.mock.ExpectClose()

	assert.NoError(suite.T(), suite.dbClient.Ping(context.Background()))
	assert.Equal(suite.T(), model.DBTypePostgres, suite.dbClient.DBType())
	assert.NoError(suite.T(), suite.dbClient.Close())
}
