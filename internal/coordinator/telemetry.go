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

package coordinator

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	fetchCounter  metric.Int64Counter
	joinCounter   metric.Int64Counter
	cancelCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/asgardeo/datacoord/internal/coordinator")

	var err error
	fetchCounter, err = meter.Int64Counter(
		"datacoord.coordinator.fetches",
		metric.WithDescription("Number of remote fetches started by the coordinator"),
	)
	if err != nil {
		log.Fatalf("failed to create coordinator.fetches counter: %v", err)
	}

	joinCounter, err = meter.Int64Counter(
		"datacoord.coordinator.joins",
		metric.WithDescription("Number of callers that joined an in-flight fetch"),
	)
	if err != nil {
		log.Fatalf("failed to create coordinator.joins counter: %v", err)
	}

	cancelCounter, err = meter.Int64Counter(
		"datacoord.coordinator.cancellations",
		metric.WithDescription("Number of queued callers rejected by cancellation"),
	)
	if err != nil {
		log.Fatalf("failed to create coordinator.cancellations counter: %v", err)
	}
}

func recordFetch(resource string) {
	fetchCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("resource", resource)))
}

func recordJoin(resource string) {
	joinCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("resource", resource)))
}

func recordCancel(n int) {
	cancelCounter.Add(context.Background(), int64(n))
}
