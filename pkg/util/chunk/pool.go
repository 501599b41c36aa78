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
	"container/list"
	"sync"

	"github.com/pingcap/textagg/pkg/types"
	"go.uber.org/atomic"
)

// Pool recycles chunks of one schema. A chunk put back is reset, which
// bumps its generation, and its buffers are overwritten by the next user.
type Pool struct {
	fields   []*types.FieldType
	capacity int

	mu   sync.Mutex
	free *list.List

	created  atomic.Int64
	recycled atomic.Int64
}

// NewPool creates a Pool of chunks with the given schema and capacity.
func NewPool(fields []*types.FieldType, capacity int) *Pool {
	return &Pool{
		fields:   fields,
		capacity: capacity,
		free:     list.New(),
	}
}

// Fields returns the schema of the pooled chunks.
func (p *Pool) Fields() []*types.FieldType {
	return p.fields
}

// GetChunk returns an empty chunk, reusing a recycled one when possible.
func (p *Pool) GetChunk() *Chunk {
	p.mu.Lock()
	if p.free.Len() > 0 {
		chk := p.free.Remove(p.free.Front()).(*Chunk)
		p.mu.Unlock()
		return chk
	}
	p.mu.Unlock()
	p.created.Inc()
	return New(p.fields, p.capacity)
}

// PutChunk resets chk and keeps it for reuse.
func (p *Pool) PutChunk(chk *Chunk) {
	chk.Reset()
	p.recycled.Inc()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free.PushFront(chk)
}

// Created returns the number of chunks allocated by the pool.
func (p *Pool) Created() int64 {
	return p.created.Load()
}

// Recycled returns the number of chunks put back to the pool.
func (p *Pool) Recycled() int64 {
	return p.recycled.Load()
}
