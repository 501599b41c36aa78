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
	"github.com/pingcap/textagg/pkg/util/memory"
)

// DefaultBlockSize is the default size of an arena block.
const DefaultBlockSize = 64 * 1024

// alignment of every allocation handed out by the arena.
const alignment = 8

// Allocator allocates byte buffers.
type Allocator interface {
	// Alloc returns a buffer with length n. The buffer is valid until Reset
	// or Free is called.
	Alloc(n int) []byte
	// Reset makes the whole capacity reusable. Buffers handed out before
	// must not be used afterwards.
	Reset()
}

// BlockAllocator is an append-only allocator owned by one aggregation
// instance. Memory is carved from fixed-size blocks, and a buffer never
// moves once handed out, so addresses stay stable until Reset or Free.
// Allocations larger than a block get a dedicated block of their own.
//
// BlockAllocator is NOT thread-safe.
type BlockAllocator struct {
	blocks    [][]byte // regular blocks, kept across Reset for reuse
	large     [][]byte // oversized blocks, dropped on Reset
	cur       int      // index of the block being carved
	offset    int      // offset in the current block
	blockSize int

	allocated int64 // bytes of blocks held
	used      int64 // bytes handed out since the last Reset

	memTracker *memory.Tracker
}

// NewAllocator creates a BlockAllocator. blockSize <= 0 means
// DefaultBlockSize. The allocator charges every block it holds to its own
// tracker, which is attached to parent when parent is not nil.
func NewAllocator(blockSize int, parent *memory.Tracker) *BlockAllocator {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	a := &BlockAllocator{
		blockSize:  blockSize,
		memTracker: memory.NewTracker(memory.LabelForArena, -1),
	}
	if parent != nil {
		a.memTracker.AttachTo(parent)
	}
	return a
}

// Alloc implements the Allocator interface.
func (a *BlockAllocator) Alloc(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	size := (n + alignment - 1) &^ (alignment - 1)
	a.used += int64(size)
	if size > a.blockSize {
		buf := a.grow(size)
		a.large = append(a.large, buf)
		return buf[:n:n]
	}
	if len(a.blocks) == 0 || a.offset+size > a.blockSize {
		a.nextBlock()
	}
	block := a.blocks[a.cur]
	buf := block[a.offset : a.offset+n : a.offset+n]
	a.offset += size
	return buf
}

func (a *BlockAllocator) nextBlock() {
	if len(a.blocks) > 0 {
		a.cur++
	}
	a.offset = 0
	if a.cur < len(a.blocks) {
		return
	}
	a.blocks = append(a.blocks, a.grow(a.blockSize))
	a.cur = len(a.blocks) - 1
}

// grow charges size bytes to the tracker before allocating them, so an
// exceeded quota aborts before the memory is taken.
func (a *BlockAllocator) grow(size int) []byte {
	a.memTracker.Consume(int64(size))
	a.allocated += int64(size)
	return make([]byte, size)
}

// Reset implements the Allocator interface. Regular blocks are kept for
// reuse, oversized blocks are released.
func (a *BlockAllocator) Reset() {
	for _, buf := range a.large {
		a.allocated -= int64(len(buf))
		a.memTracker.Consume(-int64(len(buf)))
	}
	a.large = nil
	a.cur = 0
	a.offset = 0
	a.used = 0
}

// Free releases every block at once and detaches the tracker. The
// allocator can still be used afterwards, it starts from scratch.
func (a *BlockAllocator) Free() {
	a.blocks = nil
	a.large = nil
	a.cur = 0
	a.offset = 0
	a.used = 0
	a.memTracker.Consume(-a.allocated)
	a.allocated = 0
	a.memTracker.Detach()
}

// Allocated returns the bytes of blocks held by the allocator.
func (a *BlockAllocator) Allocated() int64 {
	return a.allocated
}

// Used returns the bytes handed out since the last Reset.
func (a *BlockAllocator) Used() int64 {
	return a.used
}

// MemTracker returns the tracker of the allocator.
func (a *BlockAllocator) MemTracker() *memory.Tracker {
	return a.memTracker
}

// StdAllocator allocates every buffer from the Go heap. It is used where
// buffers are owned by their users and the arena bookkeeping is not needed.
var StdAllocator Allocator = stdAllocator{}

type stdAllocator struct{}

func (stdAllocator) Alloc(n int) []byte {
	return make([]byte, n)
}

func (stdAllocator) Reset() {}
