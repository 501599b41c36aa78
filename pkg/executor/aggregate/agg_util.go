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
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/codec"
	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const defaultGroupKeyCap = 8

var groupKeyPool = sync.Pool{
	New: func() any {
		s := make([][]byte, 0, defaultGroupKeyCap)
		return &s
	},
}

func getGroupKeyBuffer() *[][]byte {
	groupKey := groupKeyPool.Get().(*[][]byte)
	*groupKey = (*groupKey)[:0]
	return groupKey
}

// tryRecycleBuffer recycles small buffers only, so that the pool does not
// hold too much memory.
func tryRecycleBuffer(groupKey *[][]byte) {
	if cap(*groupKey) <= defaultGroupKeyCap {
		groupKeyPool.Put(groupKey)
	}
}

// recoveryHashAgg converts a recovered panic into an error. Errors raised
// by the memory tracker keep their identity.
func recoveryHashAgg(r any) error {
	err, ok := r.(error)
	if !ok {
		err = exeerrors.ErrInternal.GenWithStackByArgs(fmt.Sprint(r))
	}
	logutil.BgLogger().Error("parallel hash aggregation panicked", zap.Error(err), zap.Stack("stack"))
	return err
}

func getGroupKeyMemUsage(groupKey [][]byte) int64 {
	mem := int64(0)
	for _, key := range groupKey {
		mem += int64(cap(key))
	}
	mem += sizeOfSlice * int64(cap(groupKey))
	return mem
}

// GetGroupKey encodes the group-by columns of every row in input. The
// encoding is memcomparable and keeps a NULL apart from every value, so
// composite keys never collide. No group-by columns give the empty key.
func GetGroupKey(input *chunk.Chunk, groupKey [][]byte, groupByCols []int) [][]byte {
	numRows := input.NumRows()
	avlGroupKeyLen := min(len(groupKey), numRows)
	for i := 0; i < avlGroupKeyLen; i++ {
		groupKey[i] = groupKey[i][:0]
	}
	for i := avlGroupKeyLen; i < numRows; i++ {
		groupKey = append(groupKey, make([]byte, 0, 10*len(groupByCols)))
	}
	for _, colIdx := range groupByCols {
		col := input.Column(colIdx)
		for i := 0; i < numRows; i++ {
			groupKey[i] = codec.EncodeKeyValue(groupKey[i], col.GetBytes(i), col.IsNull(i))
		}
	}
	return groupKey[:numRows]
}

// getRowGroupKey encodes the group-by columns of one row into buf.
func getRowGroupKey(buf []byte, row chunk.Row, groupByCols []int) []byte {
	buf = buf[:0]
	for _, colIdx := range groupByCols {
		buf = codec.EncodeKeyValue(buf, row.GetBytes(colIdx), row.IsNull(colIdx))
	}
	return buf
}

// checkGroupByCols checks the group by columns exist in a batch of fieldsLen
// columns.
func checkGroupByCols(fieldsLen int, groupByCols []int) error {
	for _, colIdx := range groupByCols {
		if colIdx < 0 || colIdx >= fieldsLen {
			return errors.Errorf("group by column %d out of range [0, %d)", colIdx, fieldsLen)
		}
	}
	return nil
}

// HashAggRuntimeStats record the HashAggExec runtime stat
type HashAggRuntimeStats struct {
	PartialConcurrency int
	PartialWallTime    atomic.Int64
	FinalConcurrency   int
	FinalWallTime      atomic.Int64
	PartialStats       []*AggWorkerStat
	FinalStats         []*AggWorkerStat
}

func (*HashAggRuntimeStats) workerString(buf *bytes.Buffer, prefix string, concurrency int, wallTime int64, workerStats []*AggWorkerStat) {
	var totalTime, totalWait, totalExec, totalTaskNum int64
	for _, w := range workerStats {
		totalTime += w.WorkerTime
		totalWait += w.WaitTime
		totalExec += w.ExecTime
		totalTaskNum += w.TaskNum
	}
	buf.WriteString(prefix)
	fmt.Fprintf(buf, "_worker:{wall_time:%s, concurrency:%d, task_num:%d, tot_wait:%s, tot_exec:%s, tot_time:%s",
		time.Duration(wallTime), concurrency, totalTaskNum, time.Duration(totalWait), time.Duration(totalExec), time.Duration(totalTime))
	n := len(workerStats)
	if n > 0 {
		sorted := slices.Clone(workerStats)
		slices.SortFunc(sorted, func(i, j *AggWorkerStat) int { return cmp.Compare(i.WorkerTime, j.WorkerTime) })
		fmt.Fprintf(buf, ", max:%v, p95:%v",
			time.Duration(sorted[n-1].WorkerTime), time.Duration(sorted[n*19/20].WorkerTime))
	}
	buf.WriteString("}")
}

// String returns the runtime stats as a single line.
func (e *HashAggRuntimeStats) String() string {
	buf := bytes.NewBuffer(make([]byte, 0, 64))
	e.workerString(buf, "partial", e.PartialConcurrency, e.PartialWallTime.Load(), e.PartialStats)
	buf.WriteString(", ")
	e.workerString(buf, "final", e.FinalConcurrency, e.FinalWallTime.Load(), e.FinalStats)
	return buf.String()
}

// AggWorkerStat record the AggWorker runtime stat
type AggWorkerStat struct {
	TaskNum    int64
	WaitTime   int64
	ExecTime   int64
	WorkerTime int64
}

// Clone clones the stat.
func (w *AggWorkerStat) Clone() *AggWorkerStat {
	return &AggWorkerStat{
		TaskNum:    w.TaskNum,
		WaitTime:   w.WaitTime,
		ExecTime:   w.ExecTime,
		WorkerTime: w.WorkerTime,
	}
}

func updateWaitTime(stats *AggWorkerStat, startTime time.Time) {
	if stats != nil {
		stats.WaitTime += int64(time.Since(startTime))
	}
}

func updateWorkerTime(stats *AggWorkerStat, startTime time.Time) {
	if stats != nil {
		stats.WorkerTime += int64(time.Since(startTime))
	}
}

func updateExecTime(stats *AggWorkerStat, startTime time.Time) {
	if stats != nil {
		stats.ExecTime += int64(time.Since(startTime))
		stats.TaskNum++
	}
}
