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

// Package sample implements SAMPLE BY, the time-bucketed aggregation over
// input ordered by a timestamp column.
package sample

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/textagg/pkg/config"
	"github.com/pingcap/textagg/pkg/executor/aggfuncs"
	"github.com/pingcap/textagg/pkg/executor/aggregate"
	"github.com/pingcap/textagg/pkg/metrics"
	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/arena"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/codec"
	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
	"github.com/pingcap/textagg/pkg/util/hack"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"github.com/pingcap/textagg/pkg/util/memory"
	"go.uber.org/zap"
)

// FillMode decides what a bucket holds for a key without rows in it.
type FillMode int

const (
	// FillNone omits the key from the bucket.
	FillNone FillMode = iota
	// FillNull emits NULL for every function.
	FillNull
	// FillPrev emits the values of the last bucket the key had rows in.
	FillPrev
)

// String implements the fmt.Stringer interface.
func (m FillMode) String() string {
	switch m {
	case FillNone:
		return config.FillNone
	case FillNull:
		return config.FillNull
	case FillPrev:
		return config.FillPrev
	}
	return fmt.Sprintf("FillMode(%d)", int(m))
}

// ParseFillMode parses the fill policy names of the config.
func ParseFillMode(s string) (FillMode, error) {
	switch strings.ToLower(s) {
	case config.FillNone, "":
		return FillNone, nil
	case config.FillNull:
		return FillNull, nil
	case config.FillPrev:
		return FillPrev, nil
	}
	return FillNone, errors.Errorf("unknown fill mode %q", s)
}

// Config configures a SampleByExec.
type Config struct {
	// TimestampCol is the ordinal of the int64 timestamp column the input is
	// ordered by.
	TimestampCol int
	GroupByCols  []int
	AggFuncs     []*aggfuncs.AggFuncDesc
	// Interval is the width of a bucket, in timestamp units.
	Interval int64
	// Origin aligns the buckets. Nil aligns them to 0.
	Origin *int64
	Fill   FillMode

	// MemQuota <= 0 means no quota.
	MemQuota       int64
	ArenaBlockSize int
	QueryID        uint64
}

// NewConfig creates a Config with the defaults of the global config.
func NewConfig(tsCol int, interval int64, groupByCols []int, aggFuncs ...*aggfuncs.AggFuncDesc) Config {
	conf := config.GetGlobalConfig()
	fill, err := ParseFillMode(conf.Sample.DefaultFill)
	if err != nil {
		logutil.BgLogger().Warn("invalid default-fill, fill nothing", zap.Error(err))
	}
	memQuota, err := conf.Performance.MemQuotaBytes()
	if err != nil {
		logutil.BgLogger().Warn("invalid mem-quota-query, run without quota", zap.Error(err))
	}
	blockSize, err := conf.Performance.ArenaBlockBytes()
	if err != nil {
		blockSize = arena.DefaultBlockSize
	}
	return Config{
		TimestampCol:   tsCol,
		GroupByCols:    groupByCols,
		AggFuncs:       aggFuncs,
		Interval:       interval,
		Fill:           fill,
		MemQuota:       memQuota,
		ArenaBlockSize: blockSize,
	}
}

// Row is one output row of a bucket.
type Row struct {
	BucketStart int64
	// Key holds the decoded group-by values, a nil element is a NULL.
	Key    [][]byte
	Values []types.StrippedText
}

// Result is the output of a SampleByExec. Values live in the result's own
// memory and stay valid until Close.
type Result struct {
	Rows  []Row
	arena *arena.BlockAllocator
}

// Close releases the memory of the values.
func (r *Result) Close() {
	if r.arena != nil {
		metrics.ArenaAllocBytesCounter.Add(float64(r.arena.Allocated()))
		r.arena.Free()
		r.arena = nil
	}
	r.Rows = nil
}

// SampleByExec aggregates rows into time buckets. It keeps one slot block
// per group key and resets it lazily, on the first row of the key in a new
// bucket, so a key without rows in a bucket still holds the values of its
// last bucket for FillPrev.
type SampleByExec struct {
	cfg      Config
	aggFuncs []aggfuncs.AggFunc
}

// NewSampleByExec builds the aggregate functions of cfg.
func NewSampleByExec(cfg Config) (*SampleByExec, error) {
	if cfg.Interval <= 0 {
		return nil, errors.Errorf("sample by interval must be positive, got %d", cfg.Interval)
	}
	if cfg.ArenaBlockSize <= 0 {
		cfg.ArenaBlockSize = arena.DefaultBlockSize
	}
	aggFuncs, err := aggfuncs.BuildAll(cfg.AggFuncs, 0)
	if err != nil {
		return nil, err
	}
	return &SampleByExec{cfg: cfg, aggFuncs: aggFuncs}, nil
}

// bucketStart returns the start of the bucket ts falls in.
func (e *SampleByExec) bucketStart(ts int64) int64 {
	var origin int64
	if e.cfg.Origin != nil {
		origin = *e.cfg.Origin
	}
	offset := ts - origin
	k := offset / e.cfg.Interval
	if offset%e.cfg.Interval < 0 {
		k--
	}
	return origin + k*e.cfg.Interval
}

// runState is the state of one Run.
type runState struct {
	e       *SampleByExec
	table   *aggregate.GroupKeyTable
	work    *arena.BlockAllocator
	out     *arena.BlockAllocator
	sctx    *aggfuncs.UpdateContext
	result  *Result
	touched []aggregate.SlotBlockID
	// keyBucket is the bucket the slot block of a key holds values of.
	keyBucket []int64
	// sortedIDs lists the slot blocks ordered by encoded key.
	sortedIDs []aggregate.SlotBlockID
	cur       int64
	started   bool
	groupKey  []byte
	rows      []chunk.Row
}

// Run aggregates the rows of src, which must be ordered by the timestamp
// column, and returns the rows of every bucket from the first to the last
// one with data, buckets in time order, keys ordered within a bucket.
func (e *SampleByExec) Run(ctx context.Context, src aggregate.RowSource) (res *Result, err error) {
	start := time.Now()
	memTracker := memory.NewTracker(memory.LabelForSampleBy, e.cfg.MemQuota)
	memTracker.SetActionOnExceed(&memory.PanicOnExceed{QueryID: e.cfg.QueryID})
	s := &runState{
		e:      e,
		work:   arena.NewAllocator(e.cfg.ArenaBlockSize, memTracker),
		out:    arena.NewAllocator(e.cfg.ArenaBlockSize, memTracker),
		result: &Result{},
		rows:   make([]chunk.Row, 1),
	}
	s.result.arena = s.out
	s.sctx = aggfuncs.NewUpdateContext(s.work, aggfuncs.TimestampOrder(e.cfg.TimestampCol))
	defer func() {
		if r := recover(); r != nil {
			err = recoveryPanic(r)
		}
		if s.table != nil {
			s.table.Close()
		}
		metrics.ArenaAllocBytesCounter.Add(float64(s.work.Allocated()))
		s.work.Free()
		if err != nil {
			s.result.Close()
			res = nil
		}
		metrics.AggDurationHistogram.WithLabelValues(metrics.LblSampleBy, metrics.RetLabel(err)).Observe(time.Since(start).Seconds())
	}()
	s.table = aggregate.NewGroupKeyTable(e.aggFuncs, 0, memTracker)
	s.table.SetQueryID(e.cfg.QueryID)

	for {
		if ctx.Err() != nil {
			return nil, exeerrors.ErrQueryInterrupted.GenWithStackByArgs()
		}
		chk, err := src.Next(ctx)
		if err != nil {
			return nil, err
		}
		if chk == nil {
			break
		}
		err = s.consume(chk)
		src.GiveBack(chk)
		if err != nil {
			return nil, err
		}
	}
	if s.started {
		s.emit(s.cur)
	}
	logutil.Logger(ctx).Debug("sample by finished", zap.Int("rows", len(s.result.Rows)),
		zap.Int("groups", s.table.Len()), zap.String("memory", memory.FormatBytes(memTracker.MaxConsumed())))
	return s.result, nil
}

func (s *runState) consume(chk *chunk.Chunk) error {
	e := s.e
	s.touched = s.touched[:0]
	for i, numRows := 0, chk.NumRows(); i < numRows; i++ {
		row := chk.GetRow(i)
		bucket := e.bucketStart(row.GetInt64(e.cfg.TimestampCol))
		switch {
		case !s.started:
			s.cur, s.started = bucket, true
		case bucket < s.cur:
			return exeerrors.ErrInternal.GenWithStackByArgs(
				fmt.Sprintf("sample by input is not ordered by timestamp, bucket %d after %d", bucket, s.cur))
		case bucket > s.cur:
			s.emit(s.cur)
			// Empty buckets hold no rows for any key, FillNone emits nothing
			// for them.
			if e.cfg.Fill != FillNone {
				for gap := s.cur + e.cfg.Interval; gap < bucket; gap += e.cfg.Interval {
					s.emit(gap)
				}
			}
			s.cur = bucket
		}

		s.groupKey = s.groupKey[:0]
		for _, colIdx := range e.cfg.GroupByCols {
			s.groupKey = codec.EncodeKeyValue(s.groupKey, row.GetBytes(colIdx), row.IsNull(colIdx))
		}
		id, created := s.table.GetOrCreate(hack.String(s.groupKey))
		if created {
			s.keyBucket = append(s.keyBucket, s.cur)
			s.insertSorted(id)
		} else if s.keyBucket[id] != s.cur {
			s.table.Reset(id)
			s.keyBucket[id] = s.cur
		}
		s.touched = append(s.touched, id)

		block := s.table.Block(id)
		s.rows[0] = row
		for j, af := range e.aggFuncs {
			if _, err := af.UpdatePartialResult(s.sctx, s.rows, block[j]); err != nil {
				return err
			}
		}
	}
	copied := s.table.PromoteBorrowed(s.sctx, s.touched, chk.Generation())
	metrics.PromotedBytesCounter.Add(float64(copied))
	return nil
}

func (s *runState) insertSorted(id aggregate.SlotBlockID) {
	key := s.table.Key(id)
	pos, _ := slices.BinarySearchFunc(s.sortedIDs, key, func(other aggregate.SlotBlockID, target string) int {
		return strings.Compare(s.table.Key(other), target)
	})
	s.sortedIDs = slices.Insert(s.sortedIDs, pos, id)
}

// emit appends the rows of bucket. Values are copied into the result, so
// later resets and promotions cannot change them.
func (s *runState) emit(bucket int64) {
	e := s.e
	for _, id := range s.sortedIDs {
		hasRows := s.keyBucket[id] == bucket
		if !hasRows && e.cfg.Fill == FillNone {
			continue
		}
		key, err := codec.DecodeKey([]byte(s.table.Key(id)))
		if err != nil {
			panic(err)
		}
		values := make([]types.StrippedText, len(e.aggFuncs))
		for j := range e.aggFuncs {
			if !hasRows && e.cfg.Fill == FillNull {
				values[j] = types.StrippedText{IsNull: true}
				continue
			}
			values[j] = s.table.Snapshot(id, j).Clone(s.out)
		}
		s.result.Rows = append(s.result.Rows, Row{BucketStart: bucket, Key: key, Values: values})
	}
}

func recoveryPanic(r any) error {
	err, ok := r.(error)
	if !ok {
		err = exeerrors.ErrInternal.GenWithStackByArgs(fmt.Sprint(r))
	}
	logutil.BgLogger().Error("sample by panicked", zap.Error(err), zap.Stack("stack"))
	return err
}
