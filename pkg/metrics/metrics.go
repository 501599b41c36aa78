// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics labels.
const (
	LblType   = "type"
	LblResult = "result"

	opSucc   = "ok"
	opFailed = "err"

	LblHashAgg  = "hash_agg"
	LblSampleBy = "sample_by"
	LblPartial  = "partial"
	LblFinal    = "final"
)

func init() {
	InitMetrics()
}

// InitMetrics is used to initialize metrics.
func InitMetrics() {
	InitExecutorMetrics()
}

// RegisterMetrics registers the metrics which are ONLY used in the
// aggregation executors.
func RegisterMetrics() {
	prometheus.MustRegister(AggDurationHistogram)
	prometheus.MustRegister(AggWorkerCounter)
	prometheus.MustRegister(PromotedBytesCounter)
	prometheus.MustRegister(ArenaAllocBytesCounter)
	prometheus.MustRegister(GroupKeyTableGrowCounter)
	prometheus.MustRegister(MergedSlotsCounter)
	prometheus.MustRegister(MaskedTagCounter)
}

// RetLabel returns "ok" when err == nil and "err" when err != nil.
// This could be useful when you need to observe the operation result.
func RetLabel(err error) string {
	if err == nil {
		return opSucc
	}
	return opFailed
}
