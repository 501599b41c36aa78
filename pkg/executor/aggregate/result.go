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
	"slices"
	"strings"

	"github.com/pingcap/textagg/pkg/metrics"
	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/arena"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/codec"
	"github.com/pingcap/textagg/pkg/util/memory"
)

// ResultSet holds the finalized result of one aggregation, one row per
// group key and one value per aggregate function.
//
// Values are plain references into the memory of the aggregation, which
// the ResultSet owns. They stay valid until Close.
type ResultSet struct {
	keys     []string
	values   *chunk.Chunk
	numFuncs int
	order    []int

	arenas     []*arena.BlockAllocator
	tables     []*GroupKeyTable
	memTracker *memory.Tracker
}

func newResultSet(numFuncs int, pieces []*AfFinalResult) *ResultSet {
	numRows := 0
	for _, piece := range pieces {
		numRows += len(piece.keys)
	}
	rs := &ResultSet{
		keys:     make([]string, 0, numRows),
		values:   chunk.NewRefChunk(numFuncs, max(numRows, 1)),
		numFuncs: numFuncs,
		order:    make([]int, numRows),
	}
	for _, piece := range pieces {
		rs.keys = append(rs.keys, piece.keys...)
		for i := range piece.keys {
			for j := 0; j < numFuncs; j++ {
				rs.values.AppendRef(j, piece.chk.Column(j).GetRef(i))
			}
		}
	}
	for i := range rs.order {
		rs.order[i] = i
	}
	return rs
}

// NumRows returns the number of rows, one per group key.
func (rs *ResultSet) NumRows() int {
	return len(rs.order)
}

// NumFuncs returns the number of values in each row.
func (rs *ResultSet) NumFuncs() int {
	return rs.numFuncs
}

// EncodedKey returns the encoded group key of the i-th row.
func (rs *ResultSet) EncodedKey(i int) string {
	return rs.keys[rs.order[i]]
}

// Key returns the decoded group-by values of the i-th row. A nil element is
// a NULL.
func (rs *ResultSet) Key(i int) ([][]byte, error) {
	return codec.DecodeKey([]byte(rs.EncodedKey(i)))
}

// Value returns the result of the j-th aggregate function of the i-th row.
func (rs *ResultSet) Value(i, j int) types.StrippedText {
	return rs.values.Column(j).GetRef(rs.order[i])
}

// SortByKey orders the rows by group key. NULL sorts before every value.
func (rs *ResultSet) SortByKey() {
	slices.SortFunc(rs.order, func(a, b int) int {
		return strings.Compare(rs.keys[a], rs.keys[b])
	})
}

// MemTracker returns the tracker the memory of the result is charged to.
func (rs *ResultSet) MemTracker() *memory.Tracker {
	return rs.memTracker
}

// Close releases the memory the values live in.
func (rs *ResultSet) Close() {
	for _, a := range rs.arenas {
		metrics.ArenaAllocBytesCounter.Add(float64(a.Allocated()))
		a.Free()
	}
	for _, t := range rs.tables {
		t.Close()
	}
	rs.arenas, rs.tables = nil, nil
}
