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
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"go.uber.org/atomic"
)

// RowSource produces the input batches of an aggregation.
//
// Text values in a batch are valid until the batch is given back. Next is
// called by one goroutine, GiveBack may be called concurrently.
type RowSource interface {
	// Next returns the next batch, or nil at the end of the input.
	Next(ctx context.Context) (*chunk.Chunk, error)
	// GiveBack returns a batch the aggregation no longer references.
	GiveBack(chk *chunk.Chunk)
}

// ChunkSource serves a fixed list of chunks. Chunks are reset when they are
// given back, so the caller must not read them afterwards.
type ChunkSource struct {
	chks     []*chunk.Chunk
	cursor   int
	seq      uint64
	returned atomic.Int64
}

// NewChunkSource creates a ChunkSource over chks. Rows are numbered in the
// order of chks.
func NewChunkSource(chks ...*chunk.Chunk) *ChunkSource {
	return &ChunkSource{chks: chks}
}

// Next implements the RowSource interface.
func (s *ChunkSource) Next(ctx context.Context) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	for s.cursor < len(s.chks) {
		chk := s.chks[s.cursor]
		s.cursor++
		if chk.NumRows() == 0 {
			s.GiveBack(chk)
			continue
		}
		chk.SetOrigin(0, s.seq)
		s.seq += uint64(chk.NumRows())
		return chk, nil
	}
	return nil, nil
}

// GiveBack implements the RowSource interface.
func (s *ChunkSource) GiveBack(chk *chunk.Chunk) {
	chk.Reset()
	s.returned.Inc()
}

// Returned returns the number of chunks given back.
func (s *ChunkSource) Returned() int64 {
	return s.returned.Load()
}

// UnionSource concatenates several sources. Rows keep arriving in branch
// order, and each batch records the ordinal of the branch it comes from.
type UnionSource struct {
	branches []RowSource
	cursor   int
	seq      uint64
}

// NewUnionSource creates a UnionSource over branches.
func NewUnionSource(branches ...RowSource) *UnionSource {
	return &UnionSource{branches: branches}
}

// Next implements the RowSource interface.
func (s *UnionSource) Next(ctx context.Context) (*chunk.Chunk, error) {
	for s.cursor < len(s.branches) {
		chk, err := s.branches[s.cursor].Next(ctx)
		if err != nil {
			return nil, err
		}
		if chk == nil {
			s.cursor++
			continue
		}
		chk.SetOrigin(int64(s.cursor), s.seq)
		s.seq += uint64(chk.NumRows())
		return chk, nil
	}
	return nil, nil
}

// GiveBack implements the RowSource interface.
func (s *UnionSource) GiveBack(chk *chunk.Chunk) {
	s.branches[chk.Branch()].GiveBack(chk)
}

// QueueSource reads batches from a queue filled by a producer and recycles
// them into pool. The producer closes the queue at the end of the input.
type QueueSource struct {
	queue *chunk.MPMCQueue
	pool  *chunk.Pool
	seq   uint64
}

// NewQueueSource creates a QueueSource.
func NewQueueSource(queue *chunk.MPMCQueue, pool *chunk.Pool) *QueueSource {
	return &QueueSource{queue: queue, pool: pool}
}

// Next implements the RowSource interface. Cancelling ctx closes the queue.
func (s *QueueSource) Next(ctx context.Context) (*chunk.Chunk, error) {
	stop := context.AfterFunc(ctx, s.queue.Close)
	defer stop()
	for {
		chk, res := s.queue.Pop()
		if err := ctx.Err(); err != nil {
			if chk != nil {
				s.pool.PutChunk(chk)
			}
			return nil, errors.Trace(err)
		}
		if res == chunk.QueueClosed {
			return nil, nil
		}
		if chk.NumRows() == 0 {
			s.pool.PutChunk(chk)
			continue
		}
		chk.SetOrigin(0, s.seq)
		s.seq += uint64(chk.NumRows())
		return chk, nil
	}
}

// GiveBack implements the RowSource interface.
func (s *QueueSource) GiveBack(chk *chunk.Chunk) {
	s.pool.PutChunk(chk)
}
