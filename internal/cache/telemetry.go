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

package cache

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	lookupCounter   metric.Int64Counter
	evictionCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/asgardeo/datacoord/internal/cache")

	var err error
	lookupCounter, err = meter.Int64Counter(
		"datacoord.cache.lookups",
		metric.WithDescription("Number of cache lookups by outcome"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.lookups counter: %v", err)
	}

	evictionCounter, err = meter.Int64Counter(
		"datacoord.cache.evictions",
		metric.WithDescription("Number of cache entries evicted by strategy"),
	)
	if err != nil {
		log.Fatalf("failed to create cache.evictions counter: %v", err)
	}
}

func recordHit(stale bool) {
	outcome := "hit"
	if stale {
		outcome = "stale_hit"
	}
	lookupCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordMiss() {
	lookupCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", "miss")))
}

func recordEviction(strategy string) {
	evictionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}
