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

// Metrics of the text aggregation executors.
var (
	AggDurationHistogram     *prometheus.HistogramVec
	AggWorkerCounter         *prometheus.CounterVec
	PromotedBytesCounter     prometheus.Counter
	ArenaAllocBytesCounter   prometheus.Counter
	GroupKeyTableGrowCounter prometheus.Counter
	MergedSlotsCounter       prometheus.Counter
	MaskedTagCounter         prometheus.Counter
)

// InitExecutorMetrics initializes the executor metrics.
func InitExecutorMetrics() {
	AggDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "textagg",
			Subsystem: "executor",
			Name:      "aggregation_duration_seconds",
			Help:      "Bucketed histogram of the time (s) of one aggregation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 24), // 100us ~ 14min
		}, []string{LblType, LblResult})

	AggWorkerCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "textagg",
			Subsystem: "executor",
			Name:      "worker_total",
			Help:      "Counter of started aggregation workers.",
		}, []string{LblType})

	PromotedBytesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textagg",
			Subsystem: "executor",
			Name:      "promoted_bytes_total",
			Help:      "Counter of text bytes copied out of row batches before recycling.",
		})

	ArenaAllocBytesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textagg",
			Subsystem: "executor",
			Name:      "arena_alloc_bytes_total",
			Help:      "Counter of bytes held by private copy arenas when they are freed.",
		})

	GroupKeyTableGrowCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textagg",
			Subsystem: "executor",
			Name:      "group_key_table_grow_total",
			Help:      "Counter of group key table index growth.",
		})

	MergedSlotsCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textagg",
			Subsystem: "executor",
			Name:      "merged_slots_total",
			Help:      "Counter of partial slot blocks merged by final workers.",
		})

	MaskedTagCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "textagg",
			Subsystem: "executor",
			Name:      "masked_tag_total",
			Help:      "Counter of results whose reference carried stray tag bits.",
		})
}
