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

// Package model defines the data structures and interfaces for database operations.
package model

import (
	"context"
	"database/sql"
)

// Supported database types.
const (
	DBTypePostgres = "postgres"
	DBTypeSQLite   = "sqlite"
)

// DBQuery represents a database query with an identifier and its dialect specific renderings.
type DBQuery struct {
	// ID is the identifier of the query used for logging.
	ID string `json:"id"`
	// Query is the default SQL string.
	Query string `json:"query"`
	// PostgresQuery is used against PostgreSQL when set.
	PostgresQuery string `json:"postgres_query,omitempty"`
	// SQLiteQuery is used against SQLite when set.
	SQLiteQuery string `json:"sqlite_query,omitempty"`
}

// GetID returns the identifier of the query.
func (d DBQuery) GetID() string {
	return d.ID
}

// GetQuery returns the SQL string for the given database type.
func (d DBQuery) GetQuery(dbType string) string {
	switch dbType {
	case DBTypePostgres:
		if d.PostgresQuery != "" {
			return d.PostgresQuery
		}
	case DBTypeSQLite:
		if d.SQLiteQuery != "" {
			return d.SQLiteQuery
		}
	}
	return d.Query
}

// DBInterface is the subset of *sql.DB used by the client.
type DBInterface interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}
