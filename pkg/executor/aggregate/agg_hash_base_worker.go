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

	"github.com/pingcap/textagg/pkg/executor/aggfuncs"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/memory"
)

// baseHashAggWorker stores the common attributes of HashAggPartialWorker
// and HashAggFinalWorker.
type baseHashAggWorker struct {
	ctx        context.Context
	workerID   int
	aggFuncs   []aggfuncs.AggFunc
	sctx       *aggfuncs.UpdateContext
	stats      *AggWorkerStat
	memTracker *memory.Tracker
	// table is the group key table owned by the worker.
	table *GroupKeyTable
}

func newBaseHashAggWorker(ctx context.Context, workerID int, aggFuncs []aggfuncs.AggFunc, sctx *aggfuncs.UpdateContext,
	stats *AggWorkerStat, memTracker *memory.Tracker, queryID uint64) baseHashAggWorker {
	table := NewGroupKeyTable(aggFuncs, 0, memTracker)
	table.SetQueryID(queryID)
	return baseHashAggWorker{
		ctx:        ctx,
		workerID:   workerID,
		aggFuncs:   aggFuncs,
		sctx:       sctx,
		stats:      stats,
		memTracker: memTracker,
		table:      table,
	}
}

// finalizeTable appends the final result of every group in table to a new
// chunk with one reference column per aggregate function.
func finalizeTable(sctx aggfuncs.AggFuncUpdateContext, aggFuncs []aggfuncs.AggFunc, table *GroupKeyTable) (keys []string, chk *chunk.Chunk, err error) {
	keys = make([]string, 0, table.Len())
	chk = chunk.NewRefChunk(len(aggFuncs), max(table.Len(), 1))
	table.ForEach(func(key string, id SlotBlockID) bool {
		keys = append(keys, key)
		block := table.Block(id)
		for j, af := range aggFuncs {
			if err = af.AppendFinalResult2Chunk(sctx, block[j], chk); err != nil {
				return false
			}
		}
		return true
	})
	return keys, chk, err
}
