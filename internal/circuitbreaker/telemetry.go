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

package circuitbreaker

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	transitionCounter metric.Int64Counter
	rejectionCounter  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/asgardeo/datacoord/internal/circuitbreaker")

	var err error
	transitionCounter, err = meter.Int64Counter(
		"datacoord.circuitbreaker.transitions",
		metric.WithDescription("Number of circuit breaker state transitions by target state"),
	)
	if err != nil {
		log.Fatalf("failed to create circuitbreaker.transitions counter: %v", err)
	}

	rejectionCounter, err = meter.Int64Counter(
		"datacoord.circuitbreaker.rejections",
		metric.WithDescription("Number of calls short-circuited by the circuit breaker"),
	)
	if err != nil {
		log.Fatalf("failed to create circuitbreaker.rejections counter: %v", err)
	}
}

func recordTransition(name string, to State) {
	transitionCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("state", string(to)),
	))
}

func recordRejection(name string) {
	rejectionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("breaker", name)))
}
