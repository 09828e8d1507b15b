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

package scheduler

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var refreshCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/asgardeo/datacoord/internal/scheduler")

	var err error
	refreshCounter, err = meter.Int64Counter(
		"datacoord.scheduler.refreshes",
		metric.WithDescription("Number of background refreshes by outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create scheduler.refreshes counter: %v", err)
	}
}

func recordRefresh(resource, outcome string) {
	refreshCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("outcome", outcome),
	))
}
