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
	"unsafe"

	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/hack"
)

const fixedElemLen = 8

type columnKind uint8

const (
	kindText columnKind = iota
	kindFixed
	kindRef
)

// Column stores one column of a Chunk.
//
// Text columns keep every value in one byte buffer, values are located by
// offsets. Fixed columns keep 8 bytes per value. Reference columns keep
// stripped references to text owned by somebody else, they are used to
// hand aggregation results to the consumer without copying.
type Column struct {
	kind        columnKind
	length      int
	nullBitmap  []byte // bit 1 is not null, bit 0 is null
	asciiBitmap []byte // bit 1 is ascii, text columns only
	offsets     []int64
	data        []byte
	refs        []types.StrippedText
}

// NewColumn creates a column for values of type ft.
func NewColumn(ft *types.FieldType, capacity int) *Column {
	switch {
	case ft.IsText():
		return &Column{
			kind:        kindText,
			nullBitmap:  make([]byte, 0, (capacity+7)>>3),
			asciiBitmap: make([]byte, 0, (capacity+7)>>3),
			offsets:     make([]int64, 1, capacity+1),
			data:        make([]byte, 0, capacity*16),
		}
	case ft.IsFixedLen():
		return &Column{
			kind:       kindFixed,
			nullBitmap: make([]byte, 0, (capacity+7)>>3),
			data:       make([]byte, 0, capacity*fixedElemLen),
		}
	}
	panic("unsupported column type " + ft.String())
}

// NewRefColumn creates a reference column.
func NewRefColumn(capacity int) *Column {
	return &Column{
		kind: kindRef,
		refs: make([]types.StrippedText, 0, capacity),
	}
}

// Len returns the number of values in the column.
func (c *Column) Len() int {
	return c.length
}

func appendBit(bitmap []byte, length int, on bool) []byte {
	idx := length >> 3
	if idx >= len(bitmap) {
		bitmap = append(bitmap, 0)
	}
	if on {
		pos := uint(length) & 7
		bitmap[idx] |= byte(1 << pos)
	}
	return bitmap
}

func bitOn(bitmap []byte, i int) bool {
	return bitmap[i>>3]&(1<<(uint(i)&7)) != 0
}

// AppendText appends a text value.
func (c *Column) AppendText(b []byte, isASCII bool) {
	c.nullBitmap = appendBit(c.nullBitmap, c.length, true)
	c.asciiBitmap = appendBit(c.asciiBitmap, c.length, isASCII)
	c.data = append(c.data, b...)
	c.offsets = append(c.offsets, int64(len(c.data)))
	c.length++
}

// AppendString appends a text value, the ascii flag is computed.
func (c *Column) AppendString(s string) {
	c.AppendText(hack.Slice(s), isASCII(s))
}

// AppendInt64 appends an int64 value.
func (c *Column) AppendInt64(v int64) {
	c.nullBitmap = appendBit(c.nullBitmap, c.length, true)
	c.data = append(c.data, make([]byte, fixedElemLen)...)
	*(*int64)(unsafe.Pointer(&c.data[c.length*fixedElemLen])) = v
	c.length++
}

// AppendRef appends a stripped reference.
func (c *Column) AppendRef(s types.StrippedText) {
	c.refs = append(c.refs, s)
	c.length++
}

// AppendNull appends a NULL value.
func (c *Column) AppendNull() {
	switch c.kind {
	case kindText:
		c.nullBitmap = appendBit(c.nullBitmap, c.length, false)
		c.asciiBitmap = appendBit(c.asciiBitmap, c.length, false)
		c.offsets = append(c.offsets, int64(len(c.data)))
	case kindFixed:
		c.nullBitmap = appendBit(c.nullBitmap, c.length, false)
		c.data = append(c.data, make([]byte, fixedElemLen)...)
	case kindRef:
		c.refs = append(c.refs, types.StrippedText{IsNull: true})
	}
	c.length++
}

// IsNull returns whether the rowIdx-th value is NULL.
func (c *Column) IsNull(rowIdx int) bool {
	if c.kind == kindRef {
		return c.refs[rowIdx].IsNull
	}
	return !bitOn(c.nullBitmap, rowIdx)
}

// IsASCII returns the ascii flag of the rowIdx-th text value.
func (c *Column) IsASCII(rowIdx int) bool {
	if c.kind == kindRef {
		return c.refs[rowIdx].IsASCII
	}
	return bitOn(c.asciiBitmap, rowIdx)
}

// GetBytes returns the rowIdx-th text value. The slice aliases the column.
func (c *Column) GetBytes(rowIdx int) []byte {
	if c.kind == kindRef {
		return c.refs[rowIdx].Bytes()
	}
	start, end := c.offsets[rowIdx], c.offsets[rowIdx+1]
	return c.data[start:end:end]
}

// GetString returns the rowIdx-th text value as a string sharing memory.
func (c *Column) GetString(rowIdx int) string {
	return hack.String(c.GetBytes(rowIdx))
}

// GetInt64 returns the rowIdx-th int64 value.
func (c *Column) GetInt64(rowIdx int) int64 {
	return *(*int64)(unsafe.Pointer(&c.data[rowIdx*fixedElemLen]))
}

// GetRef returns the rowIdx-th stripped reference.
func (c *Column) GetRef(rowIdx int) types.StrippedText {
	return c.refs[rowIdx]
}

// GetText returns a Borrowed reference aliasing the rowIdx-th text value.
// gen is the generation of the chunk the column belongs to.
func (c *Column) GetText(rowIdx int, gen uint64) types.TextRef {
	if c.IsNull(rowIdx) {
		return types.NullText()
	}
	start, end := c.offsets[rowIdx], c.offsets[rowIdx+1]
	if start == end {
		return types.BorrowText(nil, 0, c.IsASCII(rowIdx), false, gen)
	}
	return types.BorrowText(unsafe.Pointer(&c.data[start]), uint32(end-start), c.IsASCII(rowIdx), false, gen)
}

// MemoryUsage returns the bytes held by the column buffers.
func (c *Column) MemoryUsage() int64 {
	return int64(cap(c.nullBitmap)+cap(c.asciiBitmap)+cap(c.data)) +
		int64(cap(c.offsets))*8 + int64(cap(c.refs))*int64(unsafe.Sizeof(types.StrippedText{}))
}

// reset truncates the column, the buffers are kept and overwritten by the
// next values.
func (c *Column) reset() {
	c.length = 0
	c.nullBitmap = c.nullBitmap[:0]
	c.asciiBitmap = c.asciiBitmap[:0]
	c.data = c.data[:0]
	c.refs = c.refs[:0]
	if c.kind == kindText {
		c.offsets = c.offsets[:1]
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
