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

package querylog

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var durationHistogram metric.Float64Histogram

func init() {
	meter := otel.Meter("github.com/asgardeo/datacoord/internal/querylog")

	var err error
	durationHistogram, err = meter.Float64Histogram(
		"datacoord.query.duration",
		metric.WithDescription("Duration of remote queries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		log.Fatalf("failed to create query.duration histogram: %v", err)
	}
}

func recordDuration(resource, status string, d time.Duration) {
	durationHistogram.Record(context.Background(), float64(d)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("status", status),
	))
}
