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

package arena

import (
	"testing"
	"unsafe"

	"github.com/pingcap/textagg/pkg/util/memory"
	"github.com/stretchr/testify/require"
)

func TestAllocStableAddress(t *testing.T) {
	a := NewAllocator(64, nil)
	first := a.Alloc(10)
	copy(first, "0123456789")
	addr := unsafe.Pointer(unsafe.SliceData(first))

	// Fill several blocks, the first buffer must neither move nor change.
	for i := 0; i < 100; i++ {
		buf := a.Alloc(24)
		for j := range buf {
			buf[j] = 'x'
		}
	}
	require.Equal(t, addr, unsafe.Pointer(unsafe.SliceData(first)))
	require.Equal(t, "0123456789", string(first))
	require.Equal(t, 10, cap(first))
	require.Greater(t, len(a.blocks), 1)
}

func TestAllocLarge(t *testing.T) {
	parent := memory.NewTracker(memory.LabelForHashAgg, -1)
	a := NewAllocator(32, parent)
	buf := a.Alloc(100)
	require.Len(t, buf, 100)
	require.Len(t, a.large, 1)
	require.Equal(t, int64(104), parent.BytesConsumed())

	a.Reset()
	require.Empty(t, a.large)
	require.Equal(t, int64(0), parent.BytesConsumed())
	require.Equal(t, int64(0), a.Used())
}

func TestResetReusesBlocks(t *testing.T) {
	parent := memory.NewTracker(memory.LabelForHashAgg, -1)
	a := NewAllocator(64, parent)
	for i := 0; i < 8; i++ {
		a.Alloc(32)
	}
	allocated := a.Allocated()
	require.Equal(t, int64(4*64), allocated)
	require.Equal(t, allocated, parent.BytesConsumed())

	a.Reset()
	for i := 0; i < 8; i++ {
		a.Alloc(32)
	}
	require.Equal(t, allocated, a.Allocated())
	require.Equal(t, int64(8*32), a.Used())

	a.Free()
	require.Equal(t, int64(0), a.Allocated())
	require.Equal(t, int64(0), parent.BytesConsumed())
	require.Equal(t, int64(0), a.MemTracker().BytesConsumed())
}

func TestAllocZero(t *testing.T) {
	a := NewAllocator(0, nil)
	buf := a.Alloc(0)
	require.NotNil(t, buf)
	require.Len(t, buf, 0)
	require.Equal(t, int64(0), a.Allocated())
}

func TestAllocExceedQuota(t *testing.T) {
	parent := memory.NewTracker(memory.LabelForHashAgg, 100)
	parent.SetActionOnExceed(&memory.PanicOnExceed{})
	a := NewAllocator(64, parent)
	a.Alloc(8)
	require.Panics(t, func() { a.Alloc(64) })
}

func TestStdAllocator(t *testing.T) {
	buf := StdAllocator.Alloc(5)
	require.Len(t, buf, 5)
	StdAllocator.Reset()
}
