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

// Package serviceerror defines the error structures for the service layer.
package serviceerror

// ServiceErrorType defines the type of service error.
type ServiceErrorType string

const (
	// ClientErrorType denotes the client error type.
	ClientErrorType ServiceErrorType = "client_error"
	// ServerErrorType denotes the server error type.
	ServerErrorType ServiceErrorType = "server_error"
)

// ServiceError defines a generic error structure that can be used across the service layer.
type ServiceError struct {
	Code             string           `json:"code"`
	Type             ServiceErrorType `json:"type"`
	Error            string           `json:"error"`
	ErrorDescription string           `json:"error_description,omitempty"`
}

var (
	// ErrorInvalidRequest is returned when the request cannot be parsed.
	ErrorInvalidRequest = ServiceError{
		Code:             "DCS-1001",
		Type:             ClientErrorType,
		Error:            "Invalid request",
		ErrorDescription: "The request could not be parsed",
	}
	// ErrorFlagNotFound is returned when an operator targets an unknown feature flag.
	ErrorFlagNotFound = ServiceError{
		Code:             "DCS-1002",
		Type:             ClientErrorType,
		Error:            "Feature flag not found",
		ErrorDescription: "No feature flag is registered with the given name",
	}
	// ErrorResourceNotFound is returned when the remote resource does not exist.
	ErrorResourceNotFound = ServiceError{
		Code:             "DCS-1003",
		Type:             ClientErrorType,
		Error:            "Resource not found",
		ErrorDescription: "The remote data service has no such resource",
	}
	// ErrorForbidden is returned when the remote data service denies access.
	ErrorForbidden = ServiceError{
		Code:             "DCS-1004",
		Type:             ClientErrorType,
		Error:            "Forbidden",
		ErrorDescription: "The remote data service denied access to the resource",
	}
	// ErrorUnavailable is returned when neither cached nor fresh data can be served.
	ErrorUnavailable = ServiceError{
		Code:             "DCS-5001",
		Type:             ServerErrorType,
		Error:            "Data unavailable",
		ErrorDescription: "No data is available for the request, retry later",
	}
	// ErrorInternalServerError is returned for unexpected failures.
	ErrorInternalServerError = ServiceError{
		Code:             "DCS-5000",
		Type:             ServerErrorType,
		Error:            "Internal server error",
		ErrorDescription: "An unexpected error occurred while processing the request",
	}
)

// WithDescription returns a copy of the error with a different description.
func (e ServiceError) WithDescription(desc string) ServiceError {
	e.ErrorDescription = desc
	return e
}
