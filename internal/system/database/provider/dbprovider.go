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

// Package provider opens database clients for configured data sources.
package provider

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/asgardeo/datacoord/internal/system/config"
	"github.com/asgardeo/datacoord/internal/system/database/client"
	"github.com/asgardeo/datacoord/internal/system/database/model"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const (
	pingTimeout          = 5 * time.Second
	sqliteReadOnlyPragma = "_pragma=query_only(1)"
)

// dbConfig represents the resolved driver configuration.
type dbConfig struct {
	dsn        string
	driverName string
}

// OpenDBClient opens a pooled connection to the data source and verifies it. Relative SQLite
// paths are resolved against home.
func OpenDBClient(ctx context.Context, dataSource config.DataSource, home string,
	logger *log.Logger) (*client.DBClient, error) {
	logger = log.OrDefault(logger).With(log.String(log.LoggerKeyComponentName, "DBProvider"))

	dbConfig, err := getDBConfig(dataSource, home)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dbConfig.driverName, dbConfig.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %w", dataSource.Name, err)
	}

	db.SetMaxOpenConns(dataSource.MaxOpenConns)
	db.SetMaxIdleConns(dataSource.MaxIdleConns)
	db.SetConnMaxLifetime(dataSource.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database %s: %w (close error: %w)", dataSource.Name, err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database %s: %w", dataSource.Name, err)
	}

	logger.Info("Connected to remote data source", log.String("type", dataSource.Type),
		log.String("name", dataSource.Name))
	return client.NewDBClient(db, dbConfig.driverName, logger), nil
}

// getDBConfig returns the driver name and DSN for the data source.
func getDBConfig(dataSource config.DataSource, home string) (dbConfig, error) {
	switch dataSource.Type {
	case model.DBTypePostgres:
		return dbConfig{
			driverName: model.DBTypePostgres,
			dsn: fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				dataSource.Hostname, dataSource.Port, dataSource.Username, dataSource.Password,
				dataSource.Name, dataSource.SSLMode),
		}, nil
	case model.DBTypeSQLite:
		if dataSource.Path == "" {
			return dbConfig{}, fmt.Errorf("sqlite data source %s has no path", dataSource.Name)
		}
		// Every pooled connection is read-only.
		options := "?" + sqliteReadOnlyPragma
		if o := strings.TrimPrefix(dataSource.Options, "?"); o != "" {
			options = "?" + o + "&" + sqliteReadOnlyPragma
		}
		p := dataSource.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(home, p)
		}
		return dbConfig{driverName: model.DBTypeSQLite, dsn: p + options}, nil
	default:
		return dbConfig{}, fmt.Errorf("unsupported database type: %s", dataSource.Type)
	}
}
