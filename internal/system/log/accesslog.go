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

package log

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/asgardeo/datacoord/internal/system/constants"
)

const healthPathPrefix = "/health/"

// AccessLogHandler logs one structured entry per HTTP request with the caller identity, the
// response status and the cache result of reads. Health probes are logged at debug level.
func AccessLogHandler(logger *Logger, next http.Handler) http.Handler {
	logger = OrDefault(logger).With(String(LoggerKeyComponentName, "AccessLog"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		fields := []Field{
			String("remote", host),
			String("method", r.Method),
			String("uri", r.RequestURI),
			Int("status", lrw.statusCode),
			Int("bytes", lrw.size),
			Duration("elapsed", time.Since(start)),
		}
		if caller := r.Header.Get(constants.CallerIDHeaderName); caller != "" {
			fields = append(fields, String(LoggerKeyCallerID, caller))
		}
		if cacheResult := lrw.Header().Get(constants.CacheResultHeaderName); cacheResult != "" {
			fields = append(fields, String("cache", cacheResult))
		}

		if strings.HasPrefix(r.URL.Path, healthPathPrefix) {
			logger.Debug("HTTP request served", fields...)
			return
		}
		logger.Info("HTTP request served", fields...)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	size, err := lrw.ResponseWriter.Write(b)
	lrw.size += size
	return size, err
}
