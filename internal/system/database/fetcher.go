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

// Package database adapts a relational database to the remote fetch contract.
package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/database/client"
	"github.com/asgardeo/datacoord/internal/system/database/querybuilder"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

// Fetcher runs query descriptors against a database client.
type Fetcher struct {
	client  client.DBClientInterface
	timeout time.Duration
	logger  *log.Logger
}

// NewFetcher creates a fetcher. A positive timeout bounds every query.
func NewFetcher(c client.DBClientInterface, timeout time.Duration, logger *log.Logger) *Fetcher {
	return &Fetcher{
		client:  c,
		timeout: timeout,
		logger:  log.OrDefault(logger).With(log.String(log.LoggerKeyComponentName, "RemoteFetcher")),
	}
}

// Fetch renders the descriptor and runs it. Every returned error is tagged with its kind.
func (f *Fetcher) Fetch(ctx context.Context, q model.QueryDescriptor) (model.ResultSet, error) {
	query, args, err := querybuilder.BuildSelect(q)
	if err != nil {
		return nil, dataerror.New(dataerror.KindValidation, "build", q.Resource, err)
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	rows, err := f.client.Query(ctx, query, args...)
	if err != nil {
		kind := Classify(err)
		f.logger.Debug("Remote query failed", log.String(log.LoggerKeyResource, q.Resource),
			log.String("kind", string(kind)), log.Error(err))
		return nil, dataerror.New(kind, "query", q.Resource, err)
	}

	result := make(model.ResultSet, len(rows))
	for i, row := range rows {
		result[i] = model.Row(row)
	}
	return result, nil
}

// Classify maps driver errors to the taxonomy and falls back to dataerror.KindOf.
func Classify(err error) dataerror.Kind {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgres(pqErr)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return classifySQLite(liteErr)
	}
	return dataerror.KindOf(err)
}

func classifyPostgres(err *pq.Error) dataerror.Kind {
	switch err.Code {
	case "42501":
		return dataerror.KindPermission
	case "57014":
		return dataerror.KindCancelled
	case "42P01":
		return dataerror.KindNotFound
	}
	switch err.Code.Class() {
	case "08", "53", "57":
		return dataerror.KindNetwork
	case "28":
		return dataerror.KindPermission
	case "22", "42":
		return dataerror.KindValidation
	}
	return dataerror.KindOf(err)
}

func classifySQLite(err *sqlite.Error) dataerror.Kind {
	switch err.Code() & 0xff {
	case sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH, sqlite3.SQLITE_READONLY:
		return dataerror.KindPermission
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
		return dataerror.KindNetwork
	case sqlite3.SQLITE_INTERRUPT:
		return dataerror.KindCancelled
	case sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_CONSTRAINT:
		return dataerror.KindValidation
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such table"):
		return dataerror.KindNotFound
	case strings.Contains(msg, "no such column"), strings.Contains(msg, "syntax error"):
		return dataerror.KindValidation
	}
	return dataerror.KindOf(err)
}
