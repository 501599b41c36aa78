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
)

// Status is the status of a MPMCQueue.
type Status int

// Result is the result of a Push or Pop.
type Result int

const (
	// Open means the queue is normal.
	Open Status = iota
	// Closed means the queue has been closed.
	Closed
)

const (
	// OK means that Push or Pop is successful.
	OK Result = iota
	// QueueClosed means the queue has been closed and, for Pop, drained.
	QueueClosed
)

// DefaultMPMCQueueLimitNum is the default limit of chunks in a MPMCQueue.
const DefaultMPMCQueueLimitNum = 100

// MPMCQueue means multi producer and multi consumer.
// Chunks pushed before Close are still delivered by Pop.
type MPMCQueue struct {
	lock  *sync.Mutex
	cond  *sync.Cond
	queue list.List

	// Maximum number of chunks the queue could store.
	limitNum int

	status Status
}

// NewMPMCQueue creates a new MPMCQueue
func NewMPMCQueue(limit int) *MPMCQueue {
	if limit <= 0 {
		limit = DefaultMPMCQueueLimitNum
	}

	lock := sync.Mutex{}
	return &MPMCQueue{
		lock:     &lock,
		cond:     sync.NewCond(&lock),
		limitNum: limit,
		status:   Open,
	}
}

// Push pushes a chunk into queue with thread safety. It blocks while the
// queue is full.
func (m *MPMCQueue) Push(chk *Chunk) Result {
	m.lock.Lock()
	defer m.lock.Unlock()

	for m.queue.Len() >= m.limitNum && m.status == Open {
		m.cond.Wait()
	}

	if m.status != Open {
		return QueueClosed
	}

	m.queue.PushBack(chk)
	m.cond.Broadcast()
	return OK
}

// Pop pops a chunk from queue with thread safety. It blocks while the
// queue is empty and open.
func (m *MPMCQueue) Pop() (*Chunk, Result) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for m.queue.Len() == 0 && m.status == Open {
		m.cond.Wait()
	}

	if m.queue.Len() == 0 {
		return nil, QueueClosed
	}

	elem := m.queue.Front()
	chk, ok := elem.Value.(*Chunk)
	if !ok {
		panic("Data type in MPMCQueue is not *Chunk")
	}
	m.queue.Remove(elem)
	m.cond.Broadcast()
	return chk, OK
}

// Close closes the queue. Blocked producers return QueueClosed, consumers
// drain the queued chunks first.
func (m *MPMCQueue) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.status = Closed
	m.cond.Broadcast()
}

// GetStatus returns queue's status
func (m *MPMCQueue) GetStatus() Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.status
}
