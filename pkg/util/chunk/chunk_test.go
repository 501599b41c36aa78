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
	"sync"
	"testing"
	"unsafe"

	"github.com/pingcap/textagg/pkg/types"
	"github.com/stretchr/testify/require"
)

func testFields() []*types.FieldType {
	return []*types.FieldType{
		types.NewFieldType(types.TypeVarchar),
		types.NewFieldType(types.TypeTimestamp),
		types.NewFieldType(types.TypeString),
	}
}

func TestAppendAndGet(t *testing.T) {
	chk := New(testFields(), 4)
	chk.AppendText(0, []byte("abc"), true)
	chk.AppendInt64(1, 42)
	chk.AppendNull(2)

	chk.AppendString(0, "héllo")
	chk.AppendNull(1)
	chk.AppendText(2, []byte{}, true)

	require.Equal(t, 2, chk.NumRows())
	require.Equal(t, 3, chk.NumCols())

	row := chk.GetRow(0)
	require.Equal(t, "abc", row.GetString(0))
	require.True(t, chk.Column(0).IsASCII(0))
	require.Equal(t, int64(42), row.GetInt64(1))
	require.True(t, row.IsNull(2))
	require.True(t, row.GetText(2).IsNull())

	row = chk.GetRow(1)
	require.Equal(t, "héllo", row.GetString(0))
	require.False(t, chk.Column(0).IsASCII(1))
	require.True(t, row.IsNull(1))
	require.False(t, row.IsNull(2))
	empty := row.GetText(2)
	require.False(t, empty.IsNull())
	require.Equal(t, uint32(0), empty.Len())
}

func TestGetTextAliasesColumn(t *testing.T) {
	chk := New(testFields()[:1], 2)
	chk.AppendText(0, []byte("something"), true)
	ref := chk.GetRow(0).GetText(0)
	require.True(t, ref.IsBorrowed())
	require.Equal(t, chk.Generation(), ref.Generation())
	require.Equal(t, "something", ref.Strip().String())

	oldGen := chk.Generation()
	chk.Reset()
	require.NotEqual(t, oldGen, chk.Generation())
	require.Equal(t, 0, chk.NumRows())

	// The buffer is reused, the borrowed bytes are overwritten.
	chk.AppendText(0, []byte("overwrite"), true)
	require.Equal(t, "overwrite", ref.Strip().String())
}

func TestSeqAndBranch(t *testing.T) {
	chk := New(testFields()[:1], 4)
	chk.SetOrigin(2, 100)
	chk.AppendString(0, "a")
	chk.AppendString(0, "b")
	require.Equal(t, uint64(101), chk.GetRow(1).Seq())
	require.Equal(t, int64(2), chk.GetRow(1).Branch())
	require.False(t, chk.IsFull())
	require.True(t, Row{}.IsEmpty())
}

func TestRefChunk(t *testing.T) {
	text := New(testFields()[:1], 1)
	text.AppendString(0, "value")
	chk := NewRefChunk(2, 2)
	chk.AppendRef(0, text.Column(0).GetText(0, text.Generation()).Strip())
	chk.AppendNull(1)
	row := chk.GetRow(0)
	require.Equal(t, "value", string(row.GetBytes(0)))
	require.True(t, row.IsNull(1))
	require.True(t, row.GetRef(0).IsASCII)
	require.Greater(t, chk.MemoryUsage(), int64(0))
}

func TestGetTextBorrowsColumnStorage(t *testing.T) {
	chk := New(testFields(), 2)
	chk.AppendString(0, "something")
	chk.AppendInt64(1, 1)
	chk.AppendNull(2)

	ref := chk.Column(0).GetText(0, chk.Generation())
	require.True(t, ref.IsBorrowed())
	require.False(t, ref.IsOwned())
	require.Equal(t, chk.Generation(), ref.Generation())
	require.True(t, chk.Column(2).GetText(0, chk.Generation()).IsNull())

	s := ref.Strip()
	data := chk.GetRow(0).GetBytes(0)
	require.Equal(t, uintptr(unsafe.Pointer(unsafe.SliceData(data))), s.Addr)
	// The reference aliases the column, so it sees writes to it.
	data[0] = 'S'
	require.Equal(t, "Something", s.String())
}

func TestPool(t *testing.T) {
	pool := NewPool(testFields(), 8)
	chk := pool.GetChunk()
	chk.AppendString(0, "a")
	gen := chk.Generation()
	pool.PutChunk(chk)
	again := pool.GetChunk()
	require.Same(t, chk, again)
	require.Equal(t, 0, again.NumRows())
	require.NotEqual(t, gen, again.Generation())
	require.Equal(t, int64(1), pool.Created())
	require.Equal(t, int64(1), pool.Recycled())
	require.Len(t, pool.Fields(), 3)
}

func TestMPMCQueue(t *testing.T) {
	q := NewMPMCQueue(2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			chk := New(testFields()[:1], 1)
			chk.AppendString(0, "x")
			require.Equal(t, OK, q.Push(chk))
		}
		q.Close()
	}()
	n := 0
	for {
		chk, res := q.Pop()
		if res == QueueClosed {
			break
		}
		require.Equal(t, 1, chk.NumRows())
		n++
	}
	wg.Wait()
	require.Equal(t, 10, n)
	require.Equal(t, Closed, q.GetStatus())
	require.Equal(t, QueueClosed, q.Push(New(testFields()[:1], 1)))
}
