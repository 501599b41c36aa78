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

package memory

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/docker/go-units"
)

// Labels of the trackers created by the aggregation executor.
const (
	// LabelForHashAgg is the label of the tracker of one hash aggregation.
	LabelForHashAgg int = -(iota + 1)
	// LabelForPartialWorker is the label of a partial worker's tracker.
	LabelForPartialWorker
	// LabelForFinalWorker is the label of a final worker's tracker.
	LabelForFinalWorker
	// LabelForArena is the label of a private copy arena.
	LabelForArena
	// LabelForGroupKeyTable is the label of a group key table.
	LabelForGroupKeyTable
	// LabelForSampleBy is the label of the sample-by driver.
	LabelForSampleBy
)

var labelNames = map[int]string{
	LabelForHashAgg:       "HashAgg",
	LabelForPartialWorker: "PartialWorker",
	LabelForFinalWorker:   "FinalWorker",
	LabelForArena:         "Arena",
	LabelForGroupKeyTable: "GroupKeyTable",
	LabelForSampleBy:      "SampleBy",
}

// Tracker is used to track the memory usage during query execution.
// It contains an optional limit and can be arranged into a tree structure
// such that the consumption tracked by a Tracker is also tracked by
// its ancestors. The main idea comes from Apache Impala:
//
// https://github.com/cloudera/Impala/blob/cdh5-trunk/be/src/runtime/mem-tracker.h
//
// NOTE: Only "BytesConsumed()", "MaxConsumed()" and "Consume()" are
// thread-safe. Attaching and detaching must happen before or after the
// workers using the tracker run.
type Tracker struct {
	actionMu struct {
		sync.Mutex
		actionOnExceed ActionOnExceed
	}
	parMu struct {
		sync.Mutex
		parent *Tracker
	}

	label         int   // Label of this "Tracker".
	bytesConsumed int64 // Consumed bytes.
	bytesLimit    int64 // bytesLimit <= 0 means no limit.
	maxConsumed   int64 // max number of bytes consumed during execution.
}

// NewTracker creates a memory tracker.
//  1. "label" is the label used in the usage string.
//  2. "bytesLimit <= 0" means no limit.
func NewTracker(label int, bytesLimit int64) *Tracker {
	t := &Tracker{
		label:      label,
		bytesLimit: bytesLimit,
	}
	t.actionMu.actionOnExceed = &LogOnExceed{}
	return t
}

// SetBytesLimit sets the bytes limit for this tracker.
// "bytesLimit <= 0" means no limit.
func (t *Tracker) SetBytesLimit(bytesLimit int64) {
	t.bytesLimit = bytesLimit
}

// GetBytesLimit gets the bytes limit for this tracker.
func (t *Tracker) GetBytesLimit() int64 {
	return t.bytesLimit
}

// CheckExceed checks whether the consumed bytes is exceed for this tracker.
func (t *Tracker) CheckExceed() bool {
	return atomic.LoadInt64(&t.bytesConsumed) >= t.bytesLimit && t.bytesLimit > 0
}

// SetActionOnExceed sets the action when memory usage exceeds bytesLimit.
func (t *Tracker) SetActionOnExceed(a ActionOnExceed) {
	t.actionMu.Lock()
	t.actionMu.actionOnExceed = a
	t.actionMu.Unlock()
}

// Label gets the label of a Tracker.
func (t *Tracker) Label() int {
	return t.label
}

// AttachTo attaches this memory tracker as a child to another Tracker. If it
// already has a parent, this function will remove it from the old parent.
// Its consumed memory usage is used to update all its ancestors.
func (t *Tracker) AttachTo(parent *Tracker) {
	if old := t.getParent(); old != nil {
		old.Consume(-t.BytesConsumed())
	}
	t.setParent(parent)
	parent.Consume(t.BytesConsumed())
}

// Detach de-attach the tracker child from its parent, then set its parent
// property as nil. The consumption is given back to the former ancestors.
func (t *Tracker) Detach() {
	parent := t.getParent()
	if parent == nil {
		return
	}
	parent.Consume(-t.BytesConsumed())
	t.setParent(nil)
}

// Consume is used to consume a memory usage. "bytes" can be a negative value,
// which means this is a memory release operation. When memory usage of a
// tracker exceeds its bytesLimit, the tracker calls its action, so does each
// of its ancestors.
func (t *Tracker) Consume(bytes int64) {
	if bytes == 0 {
		return
	}
	var rootExceed *Tracker
	for tracker := t; tracker != nil; tracker = tracker.getParent() {
		if atomic.AddInt64(&tracker.bytesConsumed, bytes) >= tracker.bytesLimit && tracker.bytesLimit > 0 {
			rootExceed = tracker
		}

		for {
			maxNow := atomic.LoadInt64(&tracker.maxConsumed)
			consumed := atomic.LoadInt64(&tracker.bytesConsumed)
			if consumed > maxNow && !atomic.CompareAndSwapInt64(&tracker.maxConsumed, maxNow, consumed) {
				continue
			}
			break
		}
	}
	if bytes > 0 && rootExceed != nil {
		rootExceed.actionMu.Lock()
		defer rootExceed.actionMu.Unlock()
		if rootExceed.actionMu.actionOnExceed != nil {
			rootExceed.actionMu.actionOnExceed.Action(rootExceed)
		}
	}
}

// BytesConsumed returns the consumed memory usage value in bytes.
func (t *Tracker) BytesConsumed() int64 {
	return atomic.LoadInt64(&t.bytesConsumed)
}

// MaxConsumed returns max number of bytes consumed during execution.
func (t *Tracker) MaxConsumed() int64 {
	return atomic.LoadInt64(&t.maxConsumed)
}

// String returns the string representation of this Tracker.
func (t *Tracker) String() string {
	buffer := bytes.NewBufferString("\n")
	fmt.Fprintf(buffer, "\"%s\"{\n", labelString(t.label))
	if t.bytesLimit > 0 {
		fmt.Fprintf(buffer, "  \"quota\": %s\n", FormatBytes(t.bytesLimit))
	}
	fmt.Fprintf(buffer, "  \"consumed\": %s\n", FormatBytes(t.BytesConsumed()))
	buffer.WriteString("}\n")
	return buffer.String()
}

// FormatBytes uses to format bytes, this function will prune precision before format bytes.
func FormatBytes(numBytes int64) string {
	if numBytes < 0 {
		return "-" + units.BytesSize(float64(-numBytes))
	}
	return units.BytesSize(float64(numBytes))
}

func labelString(label int) string {
	if name, ok := labelNames[label]; ok {
		return name
	}
	return strconv.Itoa(label)
}

func (t *Tracker) getParent() *Tracker {
	t.parMu.Lock()
	defer t.parMu.Unlock()
	return t.parMu.parent
}

func (t *Tracker) setParent(parent *Tracker) {
	t.parMu.Lock()
	defer t.parMu.Unlock()
	t.parMu.parent = parent
}
