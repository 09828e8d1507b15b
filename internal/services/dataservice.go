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

package services

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/asgardeo/datacoord/internal/dataaccess"
	"github.com/asgardeo/datacoord/internal/model"
	"github.com/asgardeo/datacoord/internal/system/constants"
	"github.com/asgardeo/datacoord/internal/system/error/dataerror"
	"github.com/asgardeo/datacoord/internal/system/error/serviceerror"
	"github.com/asgardeo/datacoord/internal/system/log"
	"github.com/asgardeo/datacoord/internal/utils"
)

// Query parameters with a fixed meaning. Every other parameter is a column filter.
const (
	paramSelect = "select"
	paramOrder  = "order"
	paramLimit  = "limit"
	paramFresh  = "fresh"
)

// Cache status reported in the X-Cache response header.
const (
	cacheHeaderName = constants.CacheResultHeaderName
	cacheHit        = "HIT"
	cacheStale      = "STALE"
	cacheMiss       = "MISS"
)

var filterOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"like": true, "ilike": true, "is": true, "in": true,
}

// DataService serves reads of remote resources through the data access pipeline.
type DataService struct {
	service    dataaccess.ServiceInterface
	retryAfter time.Duration
	logger     *log.Logger
}

// NewDataService creates the service and registers its routes. retryAfter is advertised to
// callers rejected by an open circuit.
func NewDataService(mux *http.ServeMux, service dataaccess.ServiceInterface, retryAfter time.Duration,
	logger *log.Logger) *DataService {
	instance := &DataService{
		service:    service,
		retryAfter: retryAfter,
		logger:     log.OrDefault(logger).With(log.String(log.LoggerKeyComponentName, "DataService")),
	}
	instance.RegisterRoutes(mux)

	return instance
}

// RegisterRoutes registers the routes of the service.
func (s *DataService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /data/{resource}", s.HandleReadRequest)
}

// HandleReadRequest reads a resource. The query string follows the select, order, limit and
// column=operator.value conventions of REST data services.
func (s *DataService) HandleReadRequest(w http.ResponseWriter, r *http.Request) {
	query, err := ParseQuery(r.PathValue("resource"), r.URL.Query())
	if err != nil {
		utils.WriteJSONError(w, s.logger, http.StatusBadRequest,
			serviceerror.ErrorInvalidRequest.WithDescription(err.Error()), nil)
		return
	}
	query.CallerID = utils.CallerID(r)
	fresh, _ := strconv.ParseBool(r.URL.Query().Get(paramFresh))

	res, err := s.service.Read(r.Context(), dataaccess.Request{Query: query, BypassCache: fresh})
	if err != nil {
		status, svcErr, headers := errorResponse(err, s.retryAfter)
		utils.WriteJSONError(w, s.logger, status, svcErr, headers)
		return
	}

	switch {
	case res.Hit && res.IsStale:
		w.Header().Set(cacheHeaderName, cacheStale)
	case res.Hit:
		w.Header().Set(cacheHeaderName, cacheHit)
	default:
		w.Header().Set(cacheHeaderName, cacheMiss)
	}
	utils.WriteJSON(w, s.logger, http.StatusOK, res)

	if s.logger.IsDebugEnabled() {
		s.logger.Debug("Read response sent", log.String(log.LoggerKeyResource, query.Resource),
			log.String(log.LoggerKeyCallerID, query.CallerID), log.Bool("hit", res.Hit),
			log.Bool("stale", res.IsStale), log.Int("rows", len(res.Data)))
	}
}

// ParseQuery builds a query descriptor from a resource name and its query string.
func ParseQuery(resource string, values url.Values) (model.QueryDescriptor, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return model.QueryDescriptor{}, errors.New("resource name is required")
	}
	q := model.QueryDescriptor{Resource: resource}

	if sel := strings.TrimSpace(values.Get(paramSelect)); sel != "" {
		q.Projection = []string{sel}
	}

	if order := values.Get(paramOrder); order != "" {
		for _, item := range strings.Split(order, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			column, dir, _ := strings.Cut(item, ".")
			switch dir {
			case "", "asc":
				q.OrderBy = append(q.OrderBy, model.Order{Column: column})
			case "desc":
				q.OrderBy = append(q.OrderBy, model.Order{Column: column, Descending: true})
			default:
				return model.QueryDescriptor{}, errors.New("order direction must be asc or desc: " + item)
			}
		}
	}

	if limit := values.Get(paramLimit); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return model.QueryDescriptor{}, errors.New("limit must be a non-negative integer")
		}
		q.Limit = n
	}

	columns := make([]string, 0, len(values))
	for column := range values {
		switch column {
		case paramSelect, paramOrder, paramLimit, paramFresh:
			continue
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)
	for _, column := range columns {
		for _, v := range values[column] {
			q.Filters = append(q.Filters, parseFilter(column, v))
		}
	}
	return q, nil
}

// parseFilter reads "operator.value". A value without a known operator prefix is an equality.
func parseFilter(column, raw string) model.Filter {
	op, value, found := strings.Cut(raw, ".")
	if !found || !filterOperators[op] {
		return model.Filter{Column: column, Operator: "eq", Value: raw}
	}
	switch op {
	case "is":
		if strings.EqualFold(value, "null") {
			return model.Filter{Column: column, Operator: op}
		}
		return model.Filter{Column: column, Operator: op, Value: value}
	case "in":
		value = strings.TrimSuffix(strings.TrimPrefix(value, "("), ")")
		var list []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		return model.Filter{Column: column, Operator: op, Value: list}
	}
	return model.Filter{Column: column, Operator: op, Value: value}
}

// errorResponse maps a fetch failure to the HTTP status, error body and headers.
func errorResponse(err error, retryAfter time.Duration) (int, serviceerror.ServiceError, map[string]string) {
	switch dataerror.KindOf(err) {
	case dataerror.KindValidation:
		return http.StatusBadRequest, serviceerror.ErrorInvalidRequest.WithDescription(err.Error()), nil
	case dataerror.KindNotFound:
		return http.StatusNotFound, serviceerror.ErrorResourceNotFound, nil
	case dataerror.KindPermission:
		return http.StatusForbidden, serviceerror.ErrorForbidden, nil
	case dataerror.KindCircuitOpen:
		var headers map[string]string
		if secs := int(retryAfter.Seconds()); secs > 0 {
			headers = map[string]string{"Retry-After": strconv.Itoa(secs)}
		}
		return http.StatusServiceUnavailable,
			serviceerror.ErrorUnavailable.WithDescription("The remote data service is failing, retry later"), headers
	case dataerror.KindNetwork, dataerror.KindCancelled:
		return http.StatusServiceUnavailable, serviceerror.ErrorUnavailable, nil
	default:
		return http.StatusInternalServerError, serviceerror.ErrorInternalServerError, nil
	}
}
