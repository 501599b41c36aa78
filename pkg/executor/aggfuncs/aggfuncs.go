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

package aggfuncs

import (
	"sync"
	"unsafe"

	"github.com/pingcap/textagg/pkg/metrics"
	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"go.uber.org/zap"
)

// All the AggFunc implementations are listed here for navigation.
var (
	// All the AggFunc implementations for "FIRST" are listed here.
	_ AggFunc = (*first4Text)(nil)

	// All the AggFunc implementations for "FIRST_NOT_NULL" are listed here.
	_ AggFunc = (*firstNotNull4Text)(nil)

	// All the AggFunc implementations for "LAST" are listed here.
	_ AggFunc = (*last4Text)(nil)

	// All the AggFunc implementations for "LAST_NOT_NULL" are listed here.
	_ AggFunc = (*lastNotNull4Text)(nil)
)

func init() {
	types.SetStrayTagHandler(onStrayTag)
}

var strayTagOnce sync.Once

// onStrayTag counts every text value whose stray tag bits were masked
// before it reached a consumer, and warns once.
func onStrayTag(tagBits uintptr) {
	metrics.MaskedTagCounter.Inc()
	strayTagOnce.Do(func() {
		logutil.BgLogger().Warn("text reference carries stray tag bits, masked before exposure",
			zap.Uintptr("tagBits", tagBits))
	})
}

// PartialResult represents data structure to store the partial result for the
// aggregate functions. Here we use unsafe.Pointer to allow the partial result
// to be any type.
type PartialResult unsafe.Pointer

// AggFuncUpdateContext is the context the aggregate functions are driven in.
// Each worker owns one, it is never shared.
type AggFuncUpdateContext interface {
	// Allocator returns the private copy arena of the worker.
	Allocator() types.Allocator
	// OrderKey returns the order key of the row.
	OrderKey(row chunk.Row) types.OrderKey
}

// OrderKeyFunc computes the order key of a row.
type OrderKeyFunc func(row chunk.Row) types.OrderKey

// ArrivalOrder orders rows by input branch, then by arrival.
func ArrivalOrder(row chunk.Row) types.OrderKey {
	return types.OrderKey{Major: row.Branch(), Minor: row.Seq()}
}

// TimestampOrder orders rows by the timestamp column colIdx, then by arrival.
func TimestampOrder(colIdx int) OrderKeyFunc {
	return func(row chunk.Row) types.OrderKey {
		return types.OrderKey{Major: row.GetInt64(colIdx), Minor: row.Seq()}
	}
}

// UpdateContext is the AggFuncUpdateContext used by the aggregation workers.
type UpdateContext struct {
	alloc      types.Allocator
	orderKeyOf OrderKeyFunc
}

// NewUpdateContext creates an UpdateContext. A nil orderKeyOf means
// ArrivalOrder.
func NewUpdateContext(alloc types.Allocator, orderKeyOf OrderKeyFunc) *UpdateContext {
	if orderKeyOf == nil {
		orderKeyOf = ArrivalOrder
	}
	return &UpdateContext{alloc: alloc, orderKeyOf: orderKeyOf}
}

// Allocator implements the AggFuncUpdateContext interface.
func (c *UpdateContext) Allocator() types.Allocator {
	return c.alloc
}

// OrderKey implements the AggFuncUpdateContext interface.
func (c *UpdateContext) OrderKey(row chunk.Row) types.OrderKey {
	return c.orderKeyOf(row)
}

// AggFunc is the interface to evaluate the aggregate functions.
type AggFunc interface {
	// AllocPartialResult allocates a specific data structure to store the
	// partial result, initializes it, and converts it to PartialResult to
	// return back. The second returned value is the memDelta used to trace
	// memory usage.
	AllocPartialResult() (pr PartialResult, memDelta int64)

	// ResetPartialResult resets the partial result to the original state for a
	// specific aggregate function. Owned memory the partial result holds is
	// kept for reuse by the next promotion.
	ResetPartialResult(pr PartialResult)

	// UpdatePartialResult updates the specific partial result for an aggregate
	// function using the input rows which all belonging to the same data group.
	// Rows must be given in arrival order. Text values are borrowed from the
	// rows, nothing is copied.
	UpdatePartialResult(sctx AggFuncUpdateContext, rowsInGroup []chunk.Row, pr PartialResult) (memDelta int64, err error)

	// MergePartialResult will be called in the final phase when parallelly
	// executing. It merges the partial result src into dst by comparing the
	// order keys the held values come from, so the result does not depend on
	// the merge order. src must not hold borrowed values.
	MergePartialResult(sctx AggFuncUpdateContext, src, dst PartialResult) (memDelta int64, err error)

	// AppendFinalResult2Chunk finalizes the partial result and appends the
	// stripped final result to the reference column of chk.
	AppendFinalResult2Chunk(sctx AggFuncUpdateContext, pr PartialResult, chk *chunk.Chunk) error

	// Snapshot returns the stripped current value without changing the
	// partial result.
	Snapshot(pr PartialResult) types.StrippedText

	// PromoteBorrowed copies a held value still aliasing the row batch of
	// generation liveGen into owned memory. It must be called before the
	// batch is recycled. It returns the number of bytes copied.
	PromoteBorrowed(sctx AggFuncUpdateContext, pr PartialResult, liveGen uint64) (copied int64)
}

type baseAggFunc struct {
	// args are the column offsets of the arguments.
	args []int

	// ordinal stores the ordinal of the columns in the output chunk, which is
	// used to append the final result of this function.
	ordinal int

	// retTp means the target type of the final agg should return.
	retTp *types.FieldType
}

// RetType returns the result type of the function.
func (e *baseAggFunc) RetType() *types.FieldType {
	return e.retTp
}
