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

// Package querybuilder renders query descriptors as parameterized SELECT statements.
package querybuilder

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/asgardeo/datacoord/internal/model"
	dbmodel "github.com/asgardeo/datacoord/internal/system/database/model"
)

// ErrEmbeddedResource is returned for projections that embed another resource.
var ErrEmbeddedResource = errors.New("embedded resources are not supported by the relational adapter")

type operator struct {
	postgres string
	sqlite   string
}

var operators = map[string]operator{
	"eq":    {"=", "="},
	"neq":   {"<>", "<>"},
	"gt":    {">", ">"},
	"gte":   {">=", ">="},
	"lt":    {"<", "<"},
	"lte":   {"<=", "<="},
	"like":  {"LIKE", "LIKE"},
	"ilike": {"ILIKE", "LIKE"},
}

// dialect accumulates one rendering of the statement.
type dialect struct {
	b           strings.Builder
	placeholder func(n int) string
}

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func sqlitePlaceholder(int) string { return "?" }

// BuildSelect renders the descriptor for both supported dialects. The argument slice is shared:
// both renderings bind the same values in the same order.
func BuildSelect(q model.QueryDescriptor) (dbmodel.DBQuery, []interface{}, error) {
	if err := validateKey(q.Resource); err != nil {
		return dbmodel.DBQuery{}, nil, fmt.Errorf("invalid resource name: %w", err)
	}

	columns, err := selectList(q.Projection)
	if err != nil {
		return dbmodel.DBQuery{}, nil, err
	}

	pg := &dialect{placeholder: postgresPlaceholder}
	lite := &dialect{placeholder: sqlitePlaceholder}
	both := func(format string, a ...interface{}) {
		fmt.Fprintf(&pg.b, format, a...)
		fmt.Fprintf(&lite.b, format, a...)
	}

	both("SELECT %s FROM %s", columns, q.Resource)

	var args []interface{}
	for i, f := range q.Filters {
		if err := validateKey(f.Column); err != nil {
			return dbmodel.DBQuery{}, nil, fmt.Errorf("invalid filter column: %w", err)
		}
		if i == 0 {
			both(" WHERE ")
		} else {
			both(" AND ")
		}

		opName := strings.ToLower(f.Operator)
		switch opName {
		case "is":
			if f.Value != nil {
				return dbmodel.DBQuery{}, nil, fmt.Errorf("filter %s: operator is only supports null", f.Column)
			}
			both("%s IS NULL", f.Column)
			continue
		case "in":
			values, err := listValues(f.Value)
			if err != nil {
				return dbmodel.DBQuery{}, nil, fmt.Errorf("filter %s: %w", f.Column, err)
			}
			pgHolders := make([]string, len(values))
			liteHolders := make([]string, len(values))
			for j, v := range values {
				args = append(args, v)
				pgHolders[j] = pg.placeholder(len(args))
				liteHolders[j] = lite.placeholder(len(args))
			}
			fmt.Fprintf(&pg.b, "%s IN (%s)", f.Column, strings.Join(pgHolders, ", "))
			fmt.Fprintf(&lite.b, "%s IN (%s)", f.Column, strings.Join(liteHolders, ", "))
			continue
		case "":
			opName = "eq"
		}

		op, ok := operators[opName]
		if !ok {
			return dbmodel.DBQuery{}, nil, fmt.Errorf("filter %s: unsupported operator %q", f.Column, f.Operator)
		}
		args = append(args, f.Value)
		fmt.Fprintf(&pg.b, "%s %s %s", f.Column, op.postgres, pg.placeholder(len(args)))
		fmt.Fprintf(&lite.b, "%s %s %s", f.Column, op.sqlite, lite.placeholder(len(args)))
	}

	for i, o := range q.OrderBy {
		if err := validateKey(o.Column); err != nil {
			return dbmodel.DBQuery{}, nil, fmt.Errorf("invalid order column: %w", err)
		}
		if i == 0 {
			both(" ORDER BY ")
		} else {
			both(", ")
		}
		both("%s", o.Column)
		if o.Descending {
			both(" DESC")
		}
	}

	if q.Limit > 0 {
		both(" LIMIT %d", q.Limit)
	}

	return dbmodel.DBQuery{
		ID:            "select:" + q.Resource,
		Query:         pg.b.String(),
		PostgresQuery: pg.b.String(),
		SQLiteQuery:   lite.b.String(),
	}, args, nil
}

// selectList renders the projection. Items are columns or "alias:column"; an item may hold
// several comma separated columns.
func selectList(projection []string) (string, error) {
	var cols []string
	for _, item := range projection {
		if strings.ContainsAny(item, "()") {
			return "", ErrEmbeddedResource
		}
		for _, col := range strings.Split(item, ",") {
			col = strings.TrimSpace(col)
			if col == "" {
				continue
			}
			if col == "*" {
				cols = append(cols, col)
				continue
			}
			alias, name, aliased := strings.Cut(col, ":")
			if !aliased {
				name, alias = alias, ""
			}
			if err := validateKey(name); err != nil {
				return "", fmt.Errorf("invalid column name: %w", err)
			}
			if alias == "" {
				cols = append(cols, name)
				continue
			}
			if err := validateKey(alias); err != nil {
				return "", fmt.Errorf("invalid column alias: %w", err)
			}
			cols = append(cols, name+" AS "+alias)
		}
	}
	if len(cols) == 0 {
		return "*", nil
	}
	return strings.Join(cols, ", "), nil
}

func listValues(v interface{}) ([]interface{}, error) {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, errors.New("operator in requires a list value")
	}
	if rv.Len() == 0 {
		return nil, errors.New("operator in requires at least one value")
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// validateKey ensures that the provided key contains only safe characters (alphanumeric and underscores).
func validateKey(key string) error {
	if key == "" {
		return errors.New("empty identifier")
	}
	for _, char := range key {
		if !(char >= 'a' && char <= 'z' || char >= 'A' && char <= 'Z' ||
			char >= '0' && char <= '9' || char == '_' || char == '.') {
			return fmt.Errorf("key '%s' contains invalid characters", key)
		}
	}
	return nil
}
