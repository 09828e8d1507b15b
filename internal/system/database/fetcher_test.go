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

package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/database/client"
	dbmodel "github.com/asgardeo/datacoord/internal/system/database/model"
	"github.com/asgardeo/datacoord/internal/system/database/querybuilder"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

type FetcherTestSuite struct {
	suite.Suite
	mockDB  *sql.DB
	mock    sqlmock.Sqlmock
	fetcher *Fetcher
}

func TestFetcherSuite(t *testing.T) {
	suite.Run(t, new(FetcherTestSuite))
}

func (suite *FetcherTestSuite) SetupTest() {
	var err error
	suite.mockDB, suite.mock, err = sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	suite.Require().NoError(err)
	c := client.NewDBClient(suite.mockDB, dbmodel.DBTypePostgres, log.NewNop())
	suite.fetcher = NewFetcher(c, 0, log.NewNop())
}

func (suite *FetcherTestSuite) TearDownTest() {
	suite.NoError(suite.mock.ExpectationsWereMet())
}

func (suite *FetcherTestSuite) TestFetchRunsRenderedQuery() {
	suite.mock.ExpectQuery("SELECT id, name FROM patients WHERE ward = $1 ORDER BY name LIMIT 10").
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Ada").AddRow(int64(2), "Grace"))

	result, err := suite.fetcher.Fetch(context.Background(), model.QueryDescriptor{
		Resource:   "patients",
		Projection: []string{"id", "name"},
		Filters:    []model.Filter{{Column: "ward", Value: "a"}},
		OrderBy:    []model.Order{{Column: "name"}},
		Limit:      10,
		CallerID:   "u1",
	})

	suite.Require().NoError(err)
	suite.Equal(model.ResultSet{
		{"id": int64(1), "name": "Ada"},
		{"id": int64(2), "name": "Grace"},
	}, result)
}

func (suite *FetcherTestSuite) TestInvalidQueryIsValidationError() {
	_, err := suite.fetcher.Fetch(context.Background(), model.QueryDescriptor{
		Resource:   "visits",
		Projection: []string{"patient:patients(id)"},
	})

	suite.Equal(dataerror.KindValidation, dataerror.KindOf(err))
	suite.ErrorIs(err, querybuilder.ErrEmbeddedResource)
}

func (suite *FetcherTestSuite) TestDriverErrorsAreTagged() {
	suite.mock.ExpectQuery("SELECT * FROM secrets").
		WillReturnError(&pq.Error{Code: "42501", Message: "permission denied for table secrets"})

	_, err := suite.fetcher.Fetch(context.Background(), model.QueryDescriptor{Resource: "secrets"})

	var tagged *dataerror.Error
	suite.Require().True(errors.As(err, &tagged))
	suite.Equal(dataerror.KindPermission, tagged.Kind)
	suite.Equal("secrets", tagged.Resource)
	suite.Equal("query", tagged.Op)
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected dataerror.Kind
	}{
		{name: "InsufficientPrivilege", err: &pq.Error{Code: "42501"}, expected: dataerror.KindPermission},
		{name: "InvalidPassword", err: &pq.Error{Code: "28P01"}, expected: dataerror.KindPermission},
		{name: "UndefinedTable", err: &pq.Error{Code: "42P01"}, expected: dataerror.KindNotFound},
		{name: "UndefinedColumn", err: &pq.Error{Code: "42703"}, expected: dataerror.KindValidation},
		{name: "InvalidText", err: &pq.Error{Code: "22P02"}, expected: dataerror.KindValidation},
		{name: "ConnectionFailure", err: &pq.Error{Code: "08006"}, expected: dataerror.KindNetwork},
		{name: "TooManyConnections", err: &pq.Error{Code: "53300"}, expected: dataerror.KindNetwork},
		{name: "QueryCanceled", err: &pq.Error{Code: "57014"}, expected: dataerror.KindCancelled},
		{name: "Wrapped", err: errors.Join(errors.New("outer"), &pq.Error{Code: "42501"}),
			expected: dataerror.KindPermission},
		{name: "NoRows", err: sql.ErrNoRows, expected: dataerror.KindNotFound},
		{name: "Deadline", err: context.DeadlineExceeded, expected: dataerror.KindNetwork},
		{name: "Plain", err: errors.New("something odd"), expected: dataerror.KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.err))
		})
	}
}

func TestFetcherSatisfiesFetchFunc(t *testing.T) {
	var fn model.FetchFunc = NewFetcher(nil, 0, log.NewNop()).Fetch
	require.NotNil(t, fn)
}
