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
)

// Row represents a row of data, can be used to access values.
type Row struct {
	c   *Chunk
	idx int
}

// Chunk returns the Chunk which the row belongs to.
func (r Row) Chunk() *Chunk {
	return r.c
}

// Idx returns the row index of Chunk.
func (r Row) Idx() int {
	return r.idx
}

// IsEmpty returns true if the Row is empty.
func (r Row) IsEmpty() bool {
	return r == Row{}
}

// Seq returns the arrival sequence of the row.
func (r Row) Seq() uint64 {
	return r.c.baseSeq + uint64(r.idx)
}

// Branch returns the ordinal of the input branch of the row.
func (r Row) Branch() int64 {
	return r.c.branch
}

// IsNull returns if the datum in the chunk.Row is null.
func (r Row) IsNull(colIdx int) bool {
	return r.c.columns[colIdx].IsNull(r.idx)
}

// GetBytes returns the bytes value with the colIdx.
func (r Row) GetBytes(colIdx int) []byte {
	return r.c.columns[colIdx].GetBytes(r.idx)
}

// GetString returns the string value with the colIdx.
func (r Row) GetString(colIdx int) string {
	return r.c.columns[colIdx].GetString(r.idx)
}

// GetInt64 returns the int64 value with the colIdx.
func (r Row) GetInt64(colIdx int) int64 {
	return r.c.columns[colIdx].GetInt64(r.idx)
}

// GetText returns a Borrowed reference to the text value with the colIdx.
func (r Row) GetText(colIdx int) types.TextRef {
	return r.c.columns[colIdx].GetText(r.idx, r.c.gen)
}

// GetRef returns the stripped reference with the colIdx.
func (r Row) GetRef(colIdx int) types.StrippedText {
	return r.c.columns[colIdx].GetRef(r.idx)
}
