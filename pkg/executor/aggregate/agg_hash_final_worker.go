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
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"go.uber.org/zap"
)

// AfFinalResult indicates aggregation functions final result.
type AfFinalResult struct {
	keys []string
	chk  *chunk.Chunk
}

// HashAggFinalWorker indicates the final workers of parallel hash agg
// execution. It merges the slot blocks of the keys shuffled to it into its
// own table. Merging only moves owned references and order keys, so the
// values keep living in the arenas of the partial workers.
type HashAggFinalWorker struct {
	baseHashAggWorker

	partialConcurrency int
	inputCh            chan *HashAggIntermData
	outputCh           chan *AfFinalResult
}

func (w *HashAggFinalWorker) getPartialInput() (input *HashAggIntermData, ok bool) {
	select {
	case <-w.ctx.Done():
		return nil, false
	case input, ok = <-w.inputCh:
		return input, ok
	}
}

func (w *HashAggFinalWorker) consumeIntermData() error {
	for received := 0; received < w.partialConcurrency; received++ {
		waitStart := time.Now()
		input, ok := w.getPartialInput()
		updateWaitTime(w.stats, waitStart)
		if !ok {
			return w.ctx.Err()
		}

		execStart := time.Now()
		failpoint.Inject("ConsumeRandomPanic", nil)
		allMemDelta := int64(0)
		for _, srcID := range input.ids {
			dstID, _ := w.table.GetOrCreate(input.table.Key(srcID))
			src, dst := input.table.Block(srcID), w.table.Block(dstID)
			for j, af := range w.aggFuncs {
				memDelta, err := af.MergePartialResult(w.sctx, src[j], dst[j])
				if err != nil {
					return err
				}
				allMemDelta += memDelta
			}
		}
		w.memTracker.Consume(allMemDelta)
		metrics.MergedSlotsCounter.Add(float64(len(input.ids) * len(w.aggFuncs)))
		updateExecTime(w.stats, execStart)
	}
	return nil
}

func (w *HashAggFinalWorker) loadFinalResult() error {
	execStart := time.Now()
	failpoint.Inject("ConsumeRandomPanic", nil)
	keys, chk, err := finalizeTable(w.sctx, w.aggFuncs, w.table)
	if err != nil {
		logutil.BgLogger().Error("HashAggFinalWorker failed to append final result to Chunk", zap.Error(err))
		return err
	}
	// outputCh is buffered for every final worker.
	w.outputCh <- &AfFinalResult{keys: keys, chk: chk}
	updateExecTime(w.stats, execStart)
	return nil
}

func (w *HashAggFinalWorker) run() (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = recoveryHashAgg(r)
		}
		updateWorkerTime(w.stats, start)
		logutil.BgLogger().Debug("final worker exits", zap.Int(logutil.LogFieldWorker, w.workerID),
			zap.Int("groups", w.table.Len()), zap.Error(err))
	}()
	metrics.AggWorkerCounter.WithLabelValues(metrics.LblFinal).Inc()

	if err := w.consumeIntermData(); err != nil {
		return err
	}
	return w.loadFinalResult()
}
