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

// Package utils provides helpers shared by the HTTP services and the core components.
package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/asgardeo/datacoord/internal/system/constants"
	"github.com/asgardeo/datacoord/internal/system/error/serviceerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const maxRequestBodyBytes = 1 << 20

// CallerID returns the caller identity carried by the request, trimmed. It is empty when the
// header is absent.
func CallerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(constants.CallerIDHeaderName))
}

// DecodeJSONBody decodes a bounded JSON request body into v. Unknown fields are rejected.
func DecodeJSONBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, logger *log.Logger, statusCode int, v interface{}) {
	w.Header().Set(constants.ContentTypeHeaderName, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.OrDefault(logger).Error("Error encoding response", log.Error(err))
	}
}

// WriteJSONError writes a JSON error response with the given details.
func WriteJSONError(w http.ResponseWriter, logger *log.Logger, statusCode int, svcErr serviceerror.ServiceError,
	responseHeaders map[string]string) {
	logger = log.OrDefault(logger)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("Error in HTTP response", log.String("code", svcErr.Code),
			log.String("description", svcErr.ErrorDescription))
	} else {
		logger.Debug("Client error in HTTP response", log.String("code", svcErr.Code),
			log.String("description", svcErr.ErrorDescription))
	}

	for key, value := range responseHeaders {
		w.Header().Set(key, value)
	}
	WriteJSON(w, logger, statusCode, svcErr)
}
