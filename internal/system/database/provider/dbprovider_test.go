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

package provider

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgardeo/datacoord/internal/system/config"
	"github.com/asgardeo/datacoord/internal/system/database/model"
	"github.com/asgardeo/datacoord/internal/system/log"
)

func TestGetDBConfig(t *testing.T) {
	testCases := []struct {
		name       string
		dataSource config.DataSource
		driver     string
		dsn        string
		wantErr    bool
	}{
		{
			name: "Postgres",
			dataSource: config.DataSource{Type: "postgres", Hostname: "db", Port: 5432, Name: "records",
				Username: "reader", Password: "secret", SSLMode: "disable"},
			driver: "postgres",
			dsn:    "host=db port=5432 user=reader password=secret dbname=records sslmode=disable",
		},
		{
			name:       "SQLiteRelative",
			dataSource: config.DataSource{Type: "sqlite", Path: "data/records.db", Options: "_pragma=busy_timeout(5000)"},
			driver:     "sqlite",
			dsn:        filepath.Join("/srv", "data/records.db") + "?_pragma=busy_timeout(5000)&_pragma=query_only(1)",
		},
		{
			name:       "SQLiteAbsolute",
			dataSource: config.DataSource{Type: "sqlite", Path: "/tmp/records.db", Options: "?mode=ro"},
			driver:     "sqlite",
			dsn:        "/tmp/records.db?mode=ro&_pragma=query_only(1)",
		},
		{name: "SQLiteWithoutPath", dataSource: config.DataSource{Type: "sqlite"}, wantErr: true},
		{name: "Unsupported", dataSource: config.DataSource{Type: "mysql"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := getDBConfig(tc.dataSource, "/srv")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.driver, cfg.driverName)
			assert.Equal(t, tc.dsn, cfg.dsn)
		})
	}
}

func TestOpenSQLiteClient(t *testing.T) {
	dir := t.TempDir()
	ds := config.DataSource{Type: "sqlite", Name: "records", Path: "records.db", MaxOpenConns: 1, MaxIdleConns: 1}

	c, err := OpenDBClient(context.Background(), ds, dir, log.NewNop())
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, c.Close())
	}()

	assert.Equal(t, model.DBTypeSQLite, c.DBType())
	assert.FileExists(t, filepath.Join(dir, "records.db"))

	rows, err := c.Query(context.Background(), model.DBQuery{ID: "select_one", Query: "SELECT 1 AS One, 'x' AS name"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["one"])
	assert.Equal(t, "x", rows[0]["name"])

	_, err = c.Query(context.Background(), model.DBQuery{ID: "write", Query: "CREATE TABLE visits (id INTEGER)"})
	assert.Error(t, err, "connections are read-only")
}
