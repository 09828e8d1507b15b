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
	"fmt"

	"github.com/asgardeo/datacoord/internal/model"
)

const (
	rowOverhead   = 16
	fieldOverhead = 8
	scalarSize    = 8
)

// EstimateSize approximates the in-memory footprint of a result set in bytes.
func EstimateSize(data model.ResultSet) int64 {
	var size int64
	for _, row := range data {
		size += rowOverhead
		for k, v := range row {
			size += fieldOverhead + int64(len(k)) + estimateValue(v)
		}
	}
	return size
}

func estimateValue(v interface{}) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(val))
	case []byte:
		return int64(len(val))
	case bool:
		return 1
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return scalarSize
	case map[string]interface{}:
		var size int64
		for k, inner := range val {
			size += fieldOverhead + int64(len(k)) + estimateValue(inner)
		}
		return size
	case model.Row:
		return estimateValue(map[string]interface{}(val))
	case []interface{}:
		var size int64
		for _, inner := range val {
			size += fieldOverhead + estimateValue(inner)
		}
		return size
	default:
		return int64(len(fmt.Sprint(val)))
	}
}
