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
	"time"

	"github.com/dgryski/go-farm"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"github.com/pingcap/textagg/pkg/config"
	"github.com/pingcap/textagg/pkg/executor/aggfuncs"
	"github.com/pingcap/textagg/pkg/metrics"
	"github.com/pingcap/textagg/pkg/util/arena"
	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"github.com/pingcap/textagg/pkg/util/memory"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrderKeySpec decides the order key of a row, which tells first from last
// when partial results are merged.
type OrderKeySpec struct {
	byTimestamp bool
	tsCol       int
}

// OrderByArrival orders rows by input branch, then by arrival.
func OrderByArrival() OrderKeySpec {
	return OrderKeySpec{}
}

// OrderByTimestamp orders rows by the int64 timestamp column col, then by
// arrival.
func OrderByTimestamp(col int) OrderKeySpec {
	return OrderKeySpec{byTimestamp: true, tsCol: col}
}

func (s OrderKeySpec) keyFunc() aggfuncs.OrderKeyFunc {
	if s.byTimestamp {
		return aggfuncs.TimestampOrder(s.tsCol)
	}
	return aggfuncs.ArrivalOrder
}

// ExecConfig configures one hash aggregation.
type ExecConfig struct {
	// GroupByCols are the ordinals of the text group-by columns. Empty means
	// the whole input is one group.
	GroupByCols []int
	AggFuncs    []*aggfuncs.AggFuncDesc
	OrderKey    OrderKeySpec

	PartialConcurrency int
	FinalConcurrency   int
	// MemQuota <= 0 means no quota.
	MemQuota       int64
	ArenaBlockSize int
	// DispatchByKey routes all rows of a group key to the same partial worker.
	DispatchByKey bool
	QueryID       uint64
}

// NewExecConfig creates an ExecConfig with the defaults of the global config.
func NewExecConfig(groupByCols []int, aggFuncs ...*aggfuncs.AggFuncDesc) ExecConfig {
	perf := config.GetGlobalConfig().Performance
	memQuota, err := perf.MemQuotaBytes()
	if err != nil {
		logutil.BgLogger().Warn("invalid mem-quota-query, run without quota", zap.Error(err))
	}
	blockSize, err := perf.ArenaBlockBytes()
	if err != nil {
		blockSize = arena.DefaultBlockSize
	}
	return ExecConfig{
		GroupByCols:        groupByCols,
		AggFuncs:           aggFuncs,
		OrderKey:           OrderByArrival(),
		PartialConcurrency: perf.PartialConcurrency,
		FinalConcurrency:   perf.FinalConcurrency,
		MemQuota:           memQuota,
		ArenaBlockSize:     blockSize,
		DispatchByKey:      perf.DispatchByKey,
	}
}

func (c *ExecConfig) adjust() {
	perf := config.GetGlobalConfig().Performance
	if c.PartialConcurrency <= 0 {
		c.PartialConcurrency = max(perf.PartialConcurrency, 1)
	}
	if c.FinalConcurrency <= 0 {
		c.FinalConcurrency = max(perf.FinalConcurrency, 1)
	}
	if c.ArenaBlockSize <= 0 {
		c.ArenaBlockSize = arena.DefaultBlockSize
	}
}

func (c *ExecConfig) newMemTracker() *memory.Tracker {
	tracker := memory.NewTracker(memory.LabelForHashAgg, c.MemQuota)
	tracker.SetActionOnExceed(&memory.PanicOnExceed{QueryID: c.QueryID})
	return tracker
}

// HashAggExec aggregates its input in parallel. A fetcher dispatches input
// batches to partial workers, which aggregate into private tables and then
// shuffle the groups by key to final workers, which merge and finalize them.
//
//	                +-------------+
//	        +-------+ Final worker+---> result piece
//	        |       +-----^-------+
//	        |             |
//	+-------+---+   +-----+-----+
//	|  Partial  |...|  Partial  |
//	+-----^-----+   +-----^-----+
//	      |               |
//	      +---+-----------+
//	          |
//	     data fetcher <--- RowSource
type HashAggExec struct {
	cfg        ExecConfig
	aggFuncs   []aggfuncs.AggFunc
	memTracker *memory.Tracker
	stats      *HashAggRuntimeStats

	src             RowSource
	partialWorkers  []*HashAggPartialWorker
	finalWorkers    []*HashAggFinalWorker
	partialInputChs []chan *HashAggInput
	finalOutputCh   chan *AfFinalResult

	eg     *errgroup.Group
	cancel context.CancelFunc
	start  time.Time

	opened   bool
	finished bool
	closed   bool
}

// NewHashAggExec builds the aggregate functions of cfg and creates the
// executor.
func NewHashAggExec(cfg ExecConfig) (*HashAggExec, error) {
	cfg.adjust()
	aggFuncs, err := aggfuncs.BuildAll(cfg.AggFuncs, 0)
	if err != nil {
		return nil, err
	}
	return &HashAggExec{
		cfg:        cfg,
		aggFuncs:   aggFuncs,
		memTracker: cfg.newMemTracker(),
		stats: &HashAggRuntimeStats{
			PartialConcurrency: cfg.PartialConcurrency,
			FinalConcurrency:   cfg.FinalConcurrency,
		},
	}, nil
}

// Open starts the workers over src. The executor must be closed even when
// Open fails.
func (e *HashAggExec) Open(ctx context.Context, src RowSource) (err error) {
	if e.opened {
		return errors.New("hash aggregation is already opened")
	}
	e.opened = true
	e.src = src
	e.start = time.Now()

	ctx = logutil.WithQueryID(ctx, e.cfg.QueryID)
	ctx, e.cancel = context.WithCancel(ctx)
	var egCtx context.Context
	e.eg, egCtx = errgroup.WithContext(ctx)
	defer func() {
		// The initial buffers of the workers may already exceed the quota.
		if r := recover(); r != nil {
			err = recoveryHashAgg(r)
			e.finished = true
		}
	}()

	partialConcurrency, finalConcurrency := e.cfg.PartialConcurrency, e.cfg.FinalConcurrency
	partialOutputChs := make([]chan *HashAggIntermData, finalConcurrency)
	for i := range partialOutputChs {
		partialOutputChs[i] = make(chan *HashAggIntermData, partialConcurrency)
	}
	e.finalOutputCh = make(chan *AfFinalResult, finalConcurrency)

	e.partialWorkers = make([]*HashAggPartialWorker, partialConcurrency)
	e.partialInputChs = make([]chan *HashAggInput, partialConcurrency)
	for i := range e.partialWorkers {
		e.partialInputChs[i] = make(chan *HashAggInput, 1)
		tracker := memory.NewTracker(memory.LabelForPartialWorker, -1)
		tracker.AttachTo(e.memTracker)
		alloc := arena.NewAllocator(e.cfg.ArenaBlockSize, tracker)
		stat := &AggWorkerStat{}
		e.stats.PartialStats = append(e.stats.PartialStats, stat)
		sctx := aggfuncs.NewUpdateContext(alloc, e.cfg.OrderKey.keyFunc())
		w := newHashAggPartialWorker(newBaseHashAggWorker(egCtx, i, e.aggFuncs, sctx, stat, tracker, e.cfg.QueryID),
			alloc, src, e.cfg.GroupByCols)
		w.inputCh = e.partialInputChs[i]
		w.outputChs = partialOutputChs
		e.partialWorkers[i] = w
	}

	e.finalWorkers = make([]*HashAggFinalWorker, finalConcurrency)
	for i := range e.finalWorkers {
		tracker := memory.NewTracker(memory.LabelForFinalWorker, -1)
		tracker.AttachTo(e.memTracker)
		stat := &AggWorkerStat{}
		e.stats.FinalStats = append(e.stats.FinalStats, stat)
		// Merging never copies a value, so final workers need no arena.
		sctx := aggfuncs.NewUpdateContext(arena.StdAllocator, e.cfg.OrderKey.keyFunc())
		e.finalWorkers[i] = &HashAggFinalWorker{
			baseHashAggWorker:  newBaseHashAggWorker(egCtx, i, e.aggFuncs, sctx, stat, tracker, e.cfg.QueryID),
			partialConcurrency: partialConcurrency,
			inputCh:            partialOutputChs[i],
			outputCh:           e.finalOutputCh,
		}
	}

	e.eg.Go(func() error {
		return e.fetchChildData(egCtx)
	})
	partialStart := time.Now()
	partialWg := atomic.NewInt32(int32(partialConcurrency))
	for _, w := range e.partialWorkers {
		e.eg.Go(func() error {
			defer func() {
				if partialWg.Dec() == 0 {
					e.stats.PartialWallTime.Store(int64(time.Since(partialStart)))
				}
			}()
			return w.run(finalConcurrency)
		})
	}
	for _, w := range e.finalWorkers {
		e.eg.Go(func() error {
			defer func() {
				e.stats.FinalWallTime.Store(int64(time.Since(partialStart)))
			}()
			return w.run()
		})
	}
	logutil.Logger(ctx).Debug("hash aggregation opened",
		zap.Int("partialConcurrency", partialConcurrency),
		zap.Int("finalConcurrency", finalConcurrency),
		zap.Bool("dispatchByKey", e.cfg.DispatchByKey))
	return nil
}

// fetchChildData reads batches from the source and dispatches them to the
// partial workers, round-robin or by the hash of the group key.
func (e *HashAggExec) fetchChildData(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveryHashAgg(r)
		}
		for _, ch := range e.partialInputChs {
			close(ch)
		}
	}()
	var (
		next   int
		keyBuf []byte
		n      = len(e.partialInputChs)
	)
	for {
		chk, err := e.src.Next(ctx)
		if err != nil {
			return err
		}
		if chk == nil {
			return nil
		}
		if err := checkGroupByCols(chk.NumCols(), e.cfg.GroupByCols); err != nil {
			e.src.GiveBack(chk)
			return err
		}
		failpoint.Inject("ConsumeRandomPanic", nil)

		if !e.cfg.DispatchByKey || n == 1 {
			input := newHashAggInput(chk, nil, atomic.NewInt32(1))
			if !e.dispatch(ctx, next, input) {
				input.release(e.src)
				return ctx.Err()
			}
			next = (next + 1) % n
			continue
		}

		sels := make([][]int, n)
		for i, numRows := 0, chk.NumRows(); i < numRows; i++ {
			keyBuf = getRowGroupKey(keyBuf, chk.GetRow(i), e.cfg.GroupByCols)
			idx := int(farm.Hash64(keyBuf) % uint64(n))
			sels[idx] = append(sels[idx], i)
		}
		inputs := make([]*HashAggInput, n)
		pending := atomic.NewInt32(0)
		for i, sel := range sels {
			if len(sel) > 0 {
				inputs[i] = newHashAggInput(chk, sel, pending)
				pending.Inc()
			}
		}
		for i, input := range inputs {
			if input == nil {
				continue
			}
			if !e.dispatch(ctx, i, input) {
				for _, rest := range inputs[i:] {
					if rest != nil {
						rest.release(e.src)
					}
				}
				return ctx.Err()
			}
		}
	}
}

func (e *HashAggExec) dispatch(ctx context.Context, workerIdx int, input *HashAggInput) bool {
	select {
	case <-ctx.Done():
		return false
	case e.partialInputChs[workerIdx] <- input:
		return true
	}
}

// Next waits for the aggregation to finish and returns its result. The
// caller owns the result and must close it. A cancelled ctx surfaces as
// ErrQueryInterrupted.
func (e *HashAggExec) Next(ctx context.Context) (rs *ResultSet, err error) {
	if !e.opened || e.closed {
		return nil, errors.New("hash aggregation is not opened or already closed")
	}
	if e.finished {
		return nil, nil
	}
	e.finished = true
	defer func() {
		metrics.AggDurationHistogram.WithLabelValues(metrics.LblHashAgg, metrics.RetLabel(err)).Observe(time.Since(e.start).Seconds())
	}()

	err = e.eg.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if isInterrupted(err) {
			return nil, exeerrors.ErrQueryInterrupted.GenWithStackByArgs()
		}
		return nil, err
	}

	pieces := make([]*AfFinalResult, 0, len(e.finalWorkers))
	for range e.finalWorkers {
		pieces = append(pieces, <-e.finalOutputCh)
	}
	rs = newResultSet(len(e.aggFuncs), pieces)
	if len(e.cfg.GroupByCols) == 0 && rs.NumRows() == 0 {
		rs, err = e.emptyInputResult()
		if err != nil {
			return nil, err
		}
	}
	e.handOver(rs)
	logutil.Logger(ctx).Debug("hash aggregation finished", zap.Int("groups", rs.NumRows()),
		zap.String("memory", memory.FormatBytes(e.memTracker.MaxConsumed())), zap.Stringer("stats", e.stats))
	return rs, nil
}

// emptyInputResult returns the single row of an aggregation without group
// by over an empty input.
func (e *HashAggExec) emptyInputResult() (*ResultSet, error) {
	return emptyResult(aggfuncs.NewUpdateContext(arena.StdAllocator, nil), e.aggFuncs)
}

func emptyResult(sctx aggfuncs.AggFuncUpdateContext, funcs []aggfuncs.AggFunc) (*ResultSet, error) {
	table := NewGroupKeyTable(funcs, 1, nil)
	defer table.Close()
	table.GetOrCreate("")
	keys, chk, err := finalizeTable(sctx, funcs, table)
	if err != nil {
		return nil, err
	}
	return newResultSet(len(funcs), []*AfFinalResult{{keys: keys, chk: chk}}), nil
}

// handOver moves the memory the values of rs live in from e to rs.
func (e *HashAggExec) handOver(rs *ResultSet) {
	for _, w := range e.partialWorkers {
		rs.arenas = append(rs.arenas, w.arena)
		rs.tables = append(rs.tables, w.table)
		w.arena, w.table = nil, nil
	}
	for _, w := range e.finalWorkers {
		rs.tables = append(rs.tables, w.table)
		w.table = nil
	}
	rs.memTracker = e.memTracker
}

// Close stops the workers, gives every pending batch back and releases
// the memory not handed over to a result.
func (e *HashAggExec) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if !e.opened {
		return nil
	}
	e.cancel()
	// Workers report the cancellation, Next has reported it already.
	_ = e.eg.Wait()
	for _, ch := range e.partialInputChs {
		e.drainInputs(ch)
	}
	for _, w := range e.partialWorkers {
		if w == nil {
			continue
		}
		w.close()
		if w.arena != nil {
			metrics.ArenaAllocBytesCounter.Add(float64(w.arena.Allocated()))
			w.arena.Free()
		}
		if w.table != nil {
			w.table.Close()
		}
	}
	for _, w := range e.finalWorkers {
		if w != nil && w.table != nil {
			w.table.Close()
		}
	}
	return nil
}

// drainInputs gives back the batches no partial worker took.
func (e *HashAggExec) drainInputs(ch chan *HashAggInput) {
	for {
		select {
		case input, ok := <-ch:
			if !ok {
				return
			}
			input.release(e.src)
		default:
			return
		}
	}
}

// RuntimeStats returns the runtime stats of the workers.
func (e *HashAggExec) RuntimeStats() *HashAggRuntimeStats {
	return e.stats
}

// MemTracker returns the root memory tracker of the aggregation.
func (e *HashAggExec) MemTracker() *memory.Tracker {
	return e.memTracker
}

func isInterrupted(err error) bool {
	cause := errors.Cause(err)
	return cause == context.Canceled || cause == context.DeadlineExceeded
}

// Aggregate runs the aggregation of cfg over src in the calling goroutine.
// Concurrency settings of cfg are ignored.
func Aggregate(ctx context.Context, cfg ExecConfig, src RowSource) (rs *ResultSet, err error) {
	cfg.adjust()
	start := time.Now()
	defer func() {
		metrics.AggDurationHistogram.WithLabelValues(metrics.LblHashAgg, metrics.RetLabel(err)).Observe(time.Since(start).Seconds())
	}()
	aggFuncs, err := aggfuncs.BuildAll(cfg.AggFuncs, 0)
	if err != nil {
		return nil, err
	}

	memTracker := cfg.newMemTracker()
	alloc := arena.NewAllocator(cfg.ArenaBlockSize, memTracker)
	sctx := aggfuncs.NewUpdateContext(alloc, cfg.OrderKey.keyFunc())
	var w *HashAggPartialWorker
	defer func() {
		if r := recover(); r != nil {
			err = recoveryHashAgg(r)
		}
		if w != nil {
			w.close()
		}
		if err != nil {
			alloc.Free()
			if w != nil {
				w.table.Close()
			}
			rs = nil
		}
	}()
	w = newHashAggPartialWorker(newBaseHashAggWorker(ctx, 0, aggFuncs, sctx, nil, memTracker, cfg.QueryID),
		alloc, src, cfg.GroupByCols)

	for {
		if ctx.Err() != nil {
			return nil, exeerrors.ErrQueryInterrupted.GenWithStackByArgs()
		}
		chk, err := src.Next(ctx)
		if err != nil {
			if isInterrupted(err) {
				return nil, exeerrors.ErrQueryInterrupted.GenWithStackByArgs()
			}
			return nil, err
		}
		if chk == nil {
			break
		}
		if err := checkGroupByCols(chk.NumCols(), cfg.GroupByCols); err != nil {
			src.GiveBack(chk)
			return nil, err
		}
		if err := w.consumeInput(newHashAggInput(chk, nil, atomic.NewInt32(1))); err != nil {
			return nil, err
		}
	}

	if len(cfg.GroupByCols) == 0 && w.table.Len() == 0 {
		w.table.GetOrCreate("")
	}
	keys, chk, err := finalizeTable(sctx, aggFuncs, w.table)
	if err != nil {
		return nil, err
	}
	rs = newResultSet(len(aggFuncs), []*AfFinalResult{{keys: keys, chk: chk}})
	rs.arenas = []*arena.BlockAllocator{alloc}
	rs.tables = []*GroupKeyTable{w.table}
	rs.memTracker = memTracker
	return rs, nil
}
