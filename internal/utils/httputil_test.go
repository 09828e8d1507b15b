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

package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asgardeo/datacoord/internal/system/error/serviceerror"
	"github.com/asgardeo/datacoord/internal/system/log"
)

func TestCallerID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/data/patients", nil)
	assert.Equal(t, "", CallerID(r))

	r.Header.Set("X-Caller-ID", "  tenant-a ")
	assert.Equal(t, "tenant-a", CallerID(r))
}

func TestDecodeJSONBody(t *testing.T) {
	var body struct {
		Pattern string `json:"pattern"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"pattern":"patients:*"}`))
	require.NoError(t, DecodeJSONBody(r, &body))
	assert.Equal(t, "patients:*", body.Pattern)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`))
	assert.Error(t, DecodeJSONBody(r, &body))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.EqualError(t, DecodeJSONBody(r, &body), "request body is empty")
}

func TestWriteJSONError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSONError(w, log.NewNop(), http.StatusBadRequest, serviceerror.ErrorInvalidRequest,
		map[string]string{"Cache-Control": "no-store"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var got serviceerror.ServiceError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, serviceerror.ErrorInvalidRequest, got)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, nil, http.StatusOK, map[string]int{"count": 2})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, w.Body.String())
}
