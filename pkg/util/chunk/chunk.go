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

package chunk

import (
	"github.com/pingcap/textagg/pkg/types"
	"go.uber.org/atomic"
)

// InitialCapacity is the default capacity of a chunk.
const InitialCapacity = 32

var globalGeneration atomic.Uint64

func nextGeneration() uint64 {
	return globalGeneration.Inc()
}

// Chunk stores a batch of rows in columnar format.
//
// Every chunk has a generation which is bumped each time the chunk is reset
// for reuse. Generations are unique among all chunks, so a Borrowed text
// reference can tell whether the batch it aliases is still alive.
// Rows carry an arrival sequence, baseSeq plus the row index, and the
// ordinal of the input branch which produced them.
type Chunk struct {
	columns  []*Column
	capacity int
	gen      uint64
	baseSeq  uint64
	branch   int64
}

// New creates a new chunk.
//
//	fields: the types of the columns.
//	capacity: the max number of rows the chunk is expected to hold.
func New(fields []*types.FieldType, capacity int) *Chunk {
	chk := &Chunk{
		columns:  make([]*Column, 0, len(fields)),
		capacity: capacity,
		gen:      nextGeneration(),
	}
	for _, f := range fields {
		chk.columns = append(chk.columns, NewColumn(f, capacity))
	}
	return chk
}

// NewRefChunk creates a chunk of numCols reference columns.
func NewRefChunk(numCols, capacity int) *Chunk {
	chk := &Chunk{
		columns:  make([]*Column, 0, numCols),
		capacity: capacity,
		gen:      nextGeneration(),
	}
	for i := 0; i < numCols; i++ {
		chk.columns = append(chk.columns, NewRefColumn(capacity))
	}
	return chk
}

// NumCols returns the number of columns in the chunk.
func (c *Chunk) NumCols() int {
	return len(c.columns)
}

// NumRows returns the number of rows in the chunk.
func (c *Chunk) NumRows() int {
	if c.NumCols() == 0 {
		return 0
	}
	return c.columns[0].length
}

// Capacity returns the capacity of the chunk.
func (c *Chunk) Capacity() int {
	return c.capacity
}

// IsFull returns whether the chunk reaches its capacity.
func (c *Chunk) IsFull() bool {
	return c.NumRows() >= c.capacity
}

// Column returns the specific column.
func (c *Chunk) Column(colIdx int) *Column {
	return c.columns[colIdx]
}

// GetRow gets the Row in the chunk with the row index.
func (c *Chunk) GetRow(idx int) Row {
	return Row{c: c, idx: idx}
}

// Generation returns the generation of the chunk.
func (c *Chunk) Generation() uint64 {
	return c.gen
}

// BaseSeq returns the arrival sequence of the first row.
func (c *Chunk) BaseSeq() uint64 {
	return c.baseSeq
}

// Branch returns the ordinal of the input branch the rows come from.
func (c *Chunk) Branch() int64 {
	return c.branch
}

// SetOrigin sets the input branch and the arrival sequence of the first row.
func (c *Chunk) SetOrigin(branch int64, baseSeq uint64) {
	c.branch = branch
	c.baseSeq = baseSeq
}

// Reset empties the chunk for reuse and bumps its generation. References
// borrowed from the rows before become invalid.
func (c *Chunk) Reset() {
	for _, col := range c.columns {
		col.reset()
	}
	c.gen = nextGeneration()
	c.baseSeq = 0
	c.branch = 0
}

// AppendText appends a text value to the chunk.
func (c *Chunk) AppendText(colIdx int, b []byte, isASCII bool) {
	c.columns[colIdx].AppendText(b, isASCII)
}

// AppendString appends a string value to the chunk.
func (c *Chunk) AppendString(colIdx int, s string) {
	c.columns[colIdx].AppendString(s)
}

// AppendInt64 appends an int64 value to the chunk.
func (c *Chunk) AppendInt64(colIdx int, v int64) {
	c.columns[colIdx].AppendInt64(v)
}

// AppendRef appends a stripped reference to the chunk.
func (c *Chunk) AppendRef(colIdx int, s types.StrippedText) {
	c.columns[colIdx].AppendRef(s)
}

// AppendNull appends a NULL value to the chunk.
func (c *Chunk) AppendNull(colIdx int) {
	c.columns[colIdx].AppendNull()
}

// MemoryUsage returns the total memory usage of the chunk in bytes.
func (c *Chunk) MemoryUsage() int64 {
	var sum int64
	for _, col := range c.columns {
		sum += col.MemoryUsage()
	}
	return sum
}
