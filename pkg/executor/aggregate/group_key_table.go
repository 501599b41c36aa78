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

package aggregate

import (
	"strings"
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/textagg/pkg/executor/aggfuncs"
	"github.com/pingcap/textagg/pkg/metrics"
	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
	"github.com/pingcap/textagg/pkg/util/hack"
	"github.com/pingcap/textagg/pkg/util/memory"
)

// SlotBlockID identifies the slot block of one group key. It never changes
// once assigned, even when the index grows.
type SlotBlockID uint32

const (
	defaultGroupKeyTableCap = 64

	sizeOfPartialResult = int64(unsafe.Sizeof(aggfuncs.PartialResult(nil)))
	sizeOfString        = int64(unsafe.Sizeof(""))
	sizeOfSlice         = int64(unsafe.Sizeof([]aggfuncs.PartialResult(nil)))
)

// GroupKeyTable maps encoded group keys to slot blocks, one slot per
// aggregate function. The index is an open addressing hash map; the slot
// blocks live in a separate slab and never move, so partial results stay at
// stable addresses across index growth.
//
// GroupKeyTable is NOT thread-safe. Each worker owns its own table.
type GroupKeyTable struct {
	aggFuncs []aggfuncs.AggFunc

	index  *swiss.Map[string, SlotBlockID]
	keys   []string
	blocks [][]aggfuncs.PartialResult

	// indexLimit is the number of entries the index holds before it has to
	// grow.
	indexLimit int
	bucketSize int64
	queryID    uint64

	memTracker *memory.Tracker
}

// NewGroupKeyTable creates a table for aggFuncs. The table's tracker is
// attached to parent when parent is not nil.
func NewGroupKeyTable(aggFuncs []aggfuncs.AggFunc, initCap int, parent *memory.Tracker) *GroupKeyTable {
	if initCap <= 0 {
		initCap = defaultGroupKeyTableCap
	}
	t := &GroupKeyTable{
		aggFuncs:   aggFuncs,
		index:      swiss.NewMap[string, SlotBlockID](uint32(initCap)),
		keys:       make([]string, 0, initCap),
		blocks:     make([][]aggfuncs.PartialResult, 0, initCap),
		bucketSize: int64(hack.EstimateBucketMemoryUsage[string, SlotBlockID]()),
		memTracker: memory.NewTracker(memory.LabelForGroupKeyTable, -1),
	}
	t.indexLimit = t.index.Count() + t.index.Capacity()
	if parent != nil {
		t.memTracker.AttachTo(parent)
	}
	t.memTracker.Consume(t.indexMemUsage(t.indexLimit) + int64(initCap)*(sizeOfString+sizeOfSlice))
	return t
}

// SetQueryID sets the query id reported by allocation failures.
func (t *GroupKeyTable) SetQueryID(queryID uint64) {
	t.queryID = queryID
}

func (t *GroupKeyTable) indexMemUsage(limit int) int64 {
	// A bucket holds 8 entries.
	return int64(limit) * hack.LoadFactorDen / hack.LoadFactorNum * t.bucketSize / 8
}

// GetOrCreate returns the slot block of key, creating an empty one when the
// key is new. key is copied on insertion, so it may alias a reused buffer.
func (t *GroupKeyTable) GetOrCreate(key string) (id SlotBlockID, created bool) {
	if id, ok := t.index.Get(key); ok {
		return id, false
	}
	if t.index.Capacity() == 0 {
		t.grow()
	}

	key = strings.Clone(key)
	id = SlotBlockID(len(t.blocks))
	block := make([]aggfuncs.PartialResult, len(t.aggFuncs))
	memDelta := int64(len(key)) + int64(len(t.aggFuncs))*sizeOfPartialResult
	for i, af := range t.aggFuncs {
		pr, delta := af.AllocPartialResult()
		block[i] = pr
		memDelta += delta
	}
	if len(t.blocks) == cap(t.blocks) {
		memDelta += int64(cap(t.blocks)) * (sizeOfString + sizeOfSlice)
	}
	t.memTracker.Consume(memDelta)

	t.keys = append(t.keys, key)
	t.blocks = append(t.blocks, block)
	t.index.Put(key, id)
	t.indexLimit = t.index.Count() + t.index.Capacity()
	return id, true
}

// grow accounts for the rehash the next insertion triggers. The index
// roughly doubles. Running out of quota here aborts the aggregation.
func (t *GroupKeyTable) grow() {
	failpoint.Inject("groupKeyTableGrowFail", func() {
		panic(exeerrors.ErrMemoryExceedForQuery.GenWithStackByArgs(t.queryID))
	})
	t.memTracker.Consume(t.indexMemUsage(t.indexLimit))
	metrics.GroupKeyTableGrowCounter.Inc()
}

// Len returns the number of group keys in the table.
func (t *GroupKeyTable) Len() int {
	return len(t.blocks)
}

// Key returns the encoded group key of id.
func (t *GroupKeyTable) Key(id SlotBlockID) string {
	return t.keys[id]
}

// Block returns the slots of id, one per aggregate function.
func (t *GroupKeyTable) Block(id SlotBlockID) []aggfuncs.PartialResult {
	return t.blocks[id]
}

// Reset empties every slot of id. Owned capacity stays with the slots.
func (t *GroupKeyTable) Reset(id SlotBlockID) {
	for i, af := range t.aggFuncs {
		af.ResetPartialResult(t.blocks[id][i])
	}
}

// Snapshot returns the current value of the fnIdx-th slot of id.
func (t *GroupKeyTable) Snapshot(id SlotBlockID, fnIdx int) types.StrippedText {
	return t.aggFuncs[fnIdx].Snapshot(t.blocks[id][fnIdx])
}

// ForEach calls fn for every group key in insertion order until fn returns
// false.
func (t *GroupKeyTable) ForEach(fn func(key string, id SlotBlockID) bool) {
	for i, key := range t.keys {
		if !fn(key, SlotBlockID(i)) {
			return
		}
	}
}

// PromoteBorrowed copies every value in the slots of ids still borrowed from
// the batch of generation liveGen into owned memory. It returns the number
// of bytes copied.
func (t *GroupKeyTable) PromoteBorrowed(sctx aggfuncs.AggFuncUpdateContext, ids []SlotBlockID, liveGen uint64) int64 {
	var copied int64
	for _, id := range ids {
		block := t.blocks[id]
		for i, af := range t.aggFuncs {
			copied += af.PromoteBorrowed(sctx, block[i], liveGen)
		}
	}
	return copied
}

// MemTracker returns the tracker of the table.
func (t *GroupKeyTable) MemTracker() *memory.Tracker {
	return t.memTracker
}

// Close releases the table. It is safe to call Close more than once.
func (t *GroupKeyTable) Close() {
	if t.index == nil {
		return
	}
	t.index = nil
	t.keys = nil
	t.blocks = nil
	t.memTracker.Consume(-t.memTracker.BytesConsumed())
	t.memTracker.Detach()
}
