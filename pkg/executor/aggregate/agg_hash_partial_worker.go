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
	"time"

	"github.com/pingcap/failpoint"
	"github.com/pingcap/textagg/pkg/metrics"
	"github.com/pingcap/textagg/pkg/util/arena"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/hack"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"github.com/twmb/murmur3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// HashAggInput is one batch handed to a partial worker. With dispatch by
// key, the same batch goes to several workers, each with the rows of its
// own keys in sel. The batch is given back once every worker is done.
type HashAggInput struct {
	chk *chunk.Chunk
	// sel lists the rows to consume, nil means all of them.
	sel     []int
	pending *atomic.Int32
}

func newHashAggInput(chk *chunk.Chunk, sel []int, pending *atomic.Int32) *HashAggInput {
	return &HashAggInput{chk: chk, sel: sel, pending: pending}
}

// release gives the batch back to src when no worker references it anymore.
func (in *HashAggInput) release(src RowSource) {
	if in.pending.Dec() == 0 {
		src.GiveBack(in.chk)
	}
}

// HashAggIntermData indicates the intermediate data of aggregation execution.
// It carries the slot blocks of a partial worker that belong to one final
// worker.
type HashAggIntermData struct {
	ids   []SlotBlockID
	table *GroupKeyTable
}

// HashAggPartialWorker indicates the partial workers of parallel hash agg
// execution. Each one aggregates its batches into its own table, borrowing
// text values from the rows and promoting what it still holds before a batch
// is given back.
type HashAggPartialWorker struct {
	baseHashAggWorker

	inputCh   chan *HashAggInput
	outputChs []chan *HashAggIntermData
	src       RowSource

	arena       *arena.BlockAllocator
	groupByCols []int
	groupKey    *[][]byte
	// groupKeyMem is the usage of groupKey charged to the tracker.
	groupKeyMem int64
	rows        []chunk.Row

	// touched lists the slot blocks updated by the current batch, touchedMark
	// records the batch that touched a block last.
	touched     []SlotBlockID
	touchedMark []uint64
	batchNum    uint64
}

func newHashAggPartialWorker(base baseHashAggWorker, alloc *arena.BlockAllocator, src RowSource, groupByCols []int) *HashAggPartialWorker {
	return &HashAggPartialWorker{
		baseHashAggWorker: base,
		src:               src,
		arena:             alloc,
		groupByCols:       groupByCols,
		groupKey:          getGroupKeyBuffer(),
		rows:              make([]chunk.Row, 1),
	}
}

func (w *HashAggPartialWorker) getChildInput() (*HashAggInput, bool) {
	select {
	case <-w.ctx.Done():
		return nil, false
	case input, ok := <-w.inputCh:
		if !ok {
			return nil, false
		}
		return input, true
	}
}

func (w *HashAggPartialWorker) run(finalConcurrency int) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = recoveryHashAgg(r)
		}
		updateWorkerTime(w.stats, start)
		logutil.BgLogger().Debug("partial worker exits", zap.Int(logutil.LogFieldWorker, w.workerID),
			zap.Int("groups", w.table.Len()), zap.Error(err))
	}()
	metrics.AggWorkerCounter.WithLabelValues(metrics.LblPartial).Inc()

	for {
		waitStart := time.Now()
		input, ok := w.getChildInput()
		updateWaitTime(w.stats, waitStart)
		if !ok {
			break
		}

		execStart := time.Now()
		if err := w.consumeInput(input); err != nil {
			return err
		}
		updateExecTime(w.stats, execStart)
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.shuffleIntermData(finalConcurrency)
	return w.ctx.Err()
}

// consumeInput aggregates one batch and gives it back, also on failure.
func (w *HashAggPartialWorker) consumeInput(input *HashAggInput) error {
	defer input.release(w.src)
	return w.updatePartialResult(input.chk, input.sel)
}

func (w *HashAggPartialWorker) updatePartialResult(chk *chunk.Chunk, sel []int) error {
	*w.groupKey = GetGroupKey(chk, *w.groupKey, w.groupByCols)
	failpoint.Inject("ConsumeRandomPanic", nil)
	memSize := getGroupKeyMemUsage(*w.groupKey)
	delta := memSize - w.groupKeyMem
	w.groupKeyMem = memSize
	w.memTracker.Consume(delta)

	w.batchNum++
	w.touched = w.touched[:0]
	allMemDelta := int64(0)
	updateRow := func(i int) error {
		id, created := w.table.GetOrCreate(hack.String((*w.groupKey)[i]))
		if created {
			w.touchedMark = append(w.touchedMark, 0)
		}
		if w.touchedMark[id] != w.batchNum {
			w.touchedMark[id] = w.batchNum
			w.touched = append(w.touched, id)
		}
		block := w.table.Block(id)
		w.rows[0] = chk.GetRow(i)
		for j, af := range w.aggFuncs {
			memDelta, err := af.UpdatePartialResult(w.sctx, w.rows, block[j])
			if err != nil {
				return err
			}
			allMemDelta += memDelta
		}
		return nil
	}
	if sel == nil {
		for i, numRows := 0, chk.NumRows(); i < numRows; i++ {
			if err := updateRow(i); err != nil {
				return err
			}
		}
	} else {
		for _, i := range sel {
			if err := updateRow(i); err != nil {
				return err
			}
		}
	}
	w.memTracker.Consume(allMemDelta)

	copied := w.table.PromoteBorrowed(w.sctx, w.touched, chk.Generation())
	metrics.PromotedBytesCounter.Add(float64(copied))
	return nil
}

// shuffleIntermData shuffles the intermediate data of partial workers to
// corresponded final workers. Every final worker gets exactly one message
// from every partial worker, possibly empty.
func (w *HashAggPartialWorker) shuffleIntermData(finalConcurrency int) {
	idsSlice := make([][]SlotBlockID, finalConcurrency)
	w.table.ForEach(func(key string, id SlotBlockID) bool {
		finalWorkerIdx := int(murmur3.Sum32(hack.Slice(key)) % uint32(finalConcurrency))
		if idsSlice[finalWorkerIdx] == nil {
			idsSlice[finalWorkerIdx] = make([]SlotBlockID, 0, w.table.Len()/finalConcurrency+1)
		}
		idsSlice[finalWorkerIdx] = append(idsSlice[finalWorkerIdx], id)
		return true
	})

	for i := range idsSlice {
		select {
		case <-w.ctx.Done():
			return
		case w.outputChs[i] <- &HashAggIntermData{ids: idsSlice[i], table: w.table}:
		}
	}
}

func (w *HashAggPartialWorker) close() {
	if w.groupKey != nil {
		w.memTracker.Consume(-w.groupKeyMem)
		w.groupKeyMem = 0
		tryRecycleBuffer(w.groupKey)
		w.groupKey = nil
	}
}
