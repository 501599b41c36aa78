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

package aggregate_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/textagg/pkg/executor/aggfuncs"
	"github.com/pingcap/textagg/pkg/executor/aggregate"
	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
	"github.com/stretchr/testify/require"
)

const (
	colKey = iota
	colVal
	colTs
)

var allFuncs = []string{
	aggfuncs.AggFuncFirst,
	aggfuncs.AggFuncLast,
	aggfuncs.AggFuncFirstNotNull,
	aggfuncs.AggFuncLastNotNull,
}

func sv(s string) *string {
	return &s
}

// testRow is one input row. A nil key or value is a NULL.
type testRow struct {
	key *string
	val *string
	ts  int64
}

func testFields(valType byte) []*types.FieldType {
	return []*types.FieldType{
		types.NewFieldType(types.TypeVarchar),
		types.NewFieldType(valType),
		types.NewFieldType(types.TypeTimestamp),
	}
}

func appendRow(chk *chunk.Chunk, row testRow) {
	if row.key == nil {
		chk.AppendNull(colKey)
	} else {
		chk.AppendString(colKey, *row.key)
	}
	if row.val == nil {
		chk.AppendNull(colVal)
	} else {
		chk.AppendString(colVal, *row.val)
	}
	chk.AppendInt64(colTs, row.ts)
}

// genChunks splits rows into chunks of chunkSize rows.
func genChunks(valType byte, rows []testRow, chunkSize int) []*chunk.Chunk {
	var chks []*chunk.Chunk
	for start := 0; start < len(rows); start += chunkSize {
		end := min(start+chunkSize, len(rows))
		chk := chunk.New(testFields(valType), end-start)
		for _, row := range rows[start:end] {
			appendRow(chk, row)
		}
		chks = append(chks, chk)
	}
	return chks
}

func aggDescs(valType byte) []*aggfuncs.AggFuncDesc {
	descs := make([]*aggfuncs.AggFuncDesc, 0, len(allFuncs))
	for _, name := range allFuncs {
		descs = append(descs, aggfuncs.NewAggFuncDesc(name, aggfuncs.NewColumn(colVal, valType)))
	}
	return descs
}

func newTestConfig(valType byte, groupByCols []int) aggregate.ExecConfig {
	cfg := aggregate.NewExecConfig(groupByCols, aggDescs(valType)...)
	cfg.PartialConcurrency = 3
	cfg.FinalConcurrency = 2
	cfg.MemQuota = 0
	cfg.ArenaBlockSize = 4 << 10
	return cfg
}

func runParallel(t *testing.T, cfg aggregate.ExecConfig, src aggregate.RowSource) *aggregate.ResultSet {
	e, err := aggregate.NewHashAggExec(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background(), src))
	rs, err := e.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NotNil(t, rs)
	return rs
}

func runSequential(t *testing.T, cfg aggregate.ExecConfig, src aggregate.RowSource) *aggregate.ResultSet {
	rs, err := aggregate.Aggregate(context.Background(), cfg, src)
	require.NoError(t, err)
	return rs
}

// collect turns rs into a map from the joined group key to the values of
// first, last, first_not_null and last_not_null.
func collect(t *testing.T, rs *aggregate.ResultSet) map[string][]*string {
	res := make(map[string][]*string, rs.NumRows())
	for i := 0; i < rs.NumRows(); i++ {
		key, err := rs.Key(i)
		require.NoError(t, err)
		parts := make([]string, 0, len(key))
		for _, k := range key {
			if k == nil {
				parts = append(parts, "<nil>")
			} else {
				parts = append(parts, string(k))
			}
		}
		vals := make([]*string, 0, rs.NumFuncs())
		for j := 0; j < rs.NumFuncs(); j++ {
			v := rs.Value(i, j)
			require.False(t, types.IsTaggedAddress(v.Addr))
			if v.IsNull {
				vals = append(vals, nil)
			} else {
				vals = append(vals, sv(v.String()))
			}
		}
		res[strings.Join(parts, "|")] = vals
	}
	return res
}

// expected computes the results the way a single pass over rows in order
// does.
func expected(rows []testRow, grouped bool) map[string][]*string {
	type state struct {
		first, last, firstNotNull, lastNotNull *string
		seen, seenNotNull                      bool
	}
	states := make(map[string]*state)
	var order []string
	for _, row := range rows {
		key := ""
		if grouped {
			key = "<nil>"
			if row.key != nil {
				key = *row.key
			}
		}
		s, ok := states[key]
		if !ok {
			s = &state{}
			states[key] = s
			order = append(order, key)
		}
		if !s.seen {
			s.first, s.seen = row.val, true
		}
		s.last = row.val
		if row.val != nil {
			if !s.seenNotNull {
				s.firstNotNull, s.seenNotNull = row.val, true
			}
			s.lastNotNull = row.val
		}
	}
	res := make(map[string][]*string, len(states))
	for _, key := range order {
		s := states[key]
		res[key] = []*string{s.first, s.last, s.firstNotNull, s.lastNotNull}
	}
	if !grouped && len(res) == 0 {
		res[""] = []*string{nil, nil, nil, nil}
	}
	return res
}

func requireResult(t *testing.T, expect, actual map[string][]*string) {
	require.Len(t, actual, len(expect))
	for key, vals := range expect {
		got, ok := actual[key]
		require.True(t, ok, "missing key %q", key)
		for j := range vals {
			if vals[j] == nil {
				require.Nil(t, got[j], "key %q func %s", key, allFuncs[j])
			} else {
				require.NotNil(t, got[j], "key %q func %s", key, allFuncs[j])
				require.Equal(t, *vals[j], *got[j], "key %q func %s", key, allFuncs[j])
			}
		}
	}
}

// checkAllModes aggregates rows sequentially and in parallel with both
// dispatch modes, and compares every result with the expected one.
func checkAllModes(t *testing.T, valType byte, rows []testRow, chunkSize int, grouped bool) {
	var groupByCols []int
	if grouped {
		groupByCols = []int{colKey}
	}
	expect := expected(rows, grouped)

	cfg := newTestConfig(valType, groupByCols)
	src := aggregate.NewChunkSource(genChunks(valType, rows, chunkSize)...)
	rs := runSequential(t, cfg, src)
	requireResult(t, expect, collect(t, rs))
	rs.Close()

	for _, dispatchByKey := range []bool{false, true} {
		cfg := newTestConfig(valType, groupByCols)
		cfg.DispatchByKey = dispatchByKey
		chks := genChunks(valType, rows, chunkSize)
		src := aggregate.NewChunkSource(chks...)
		rs := runParallel(t, cfg, src)
		requireResult(t, expect, collect(t, rs))
		rs.Close()
		require.Equal(t, int64(len(chks)), src.Returned())
	}
}

func TestAllNull(t *testing.T) {
	rows := make([]testRow, 0, 10)
	for i := 0; i < 10; i++ {
		rows = append(rows, testRow{val: nil, ts: int64(i)})
	}
	for _, valType := range []byte{types.TypeString, types.TypeVarchar} {
		checkAllModes(t, valType, rows, 3, false)
	}
}

func TestEmptyInput(t *testing.T) {
	checkAllModes(t, types.TypeVarchar, nil, 1, false)

	// Grouped aggregation over an empty input has no rows.
	rs := runParallel(t, newTestConfig(types.TypeVarchar, []int{colKey}), aggregate.NewChunkSource())
	require.Zero(t, rs.NumRows())
	rs.Close()
}

func TestNullElseSomething(t *testing.T) {
	rows := []testRow{{val: nil}, {val: sv("else")}, {val: sv("something")}}
	for _, valType := range []byte{types.TypeString, types.TypeVarchar} {
		// One row per batch puts every row into a different partial worker.
		checkAllModes(t, valType, rows, 1, false)
		checkAllModes(t, valType, rows, 3, false)
	}

	cfg := newTestConfig(types.TypeString, nil)
	rs := runParallel(t, cfg, aggregate.NewChunkSource(genChunks(types.TypeString, rows, 1)...))
	defer rs.Close()
	require.Equal(t, 1, rs.NumRows())
	require.True(t, rs.Value(0, 0).IsNull)
	require.Equal(t, "something", rs.Value(0, 1).String())
	require.Equal(t, "else", rs.Value(0, 2).String())
	require.Equal(t, "something", rs.Value(0, 3).String())
}

func TestKeyedNullsAroundValues(t *testing.T) {
	var rows []testRow
	for _, key := range []string{"A", "B"} {
		lower := strings.ToLower(key)
		for i, val := range []*string{nil, sv(lower + "1"), nil, sv(lower + "2"), nil} {
			rows = append(rows, testRow{key: sv(key), val: val, ts: int64(i)})
		}
	}
	for chunkSize := 1; chunkSize <= 4; chunkSize++ {
		checkAllModes(t, types.TypeVarchar, rows, chunkSize, true)
	}

	rs := runSequential(t, newTestConfig(types.TypeVarchar, []int{colKey}),
		aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 2)...))
	defer rs.Close()
	rs.SortByKey()
	require.Equal(t, 2, rs.NumRows())
	for i, key := range []string{"A", "B"} {
		decoded, err := rs.Key(i)
		require.NoError(t, err)
		require.Equal(t, [][]byte{[]byte(key)}, decoded)
		lower := strings.ToLower(key)
		require.True(t, rs.Value(i, 0).IsNull)
		require.True(t, rs.Value(i, 1).IsNull)
		require.Equal(t, lower+"1", rs.Value(i, 2).String())
		require.Equal(t, lower+"2", rs.Value(i, 3).String())
	}
}

func TestNullGroupKey(t *testing.T) {
	rows := []testRow{
		{key: nil, val: sv("n1")},
		{key: sv(""), val: sv("e1")},
		{key: nil, val: sv("n2")},
		{key: sv(""), val: nil},
	}
	checkAllModes(t, types.TypeVarchar, rows, 2, true)
}

func TestTwoPartitions(t *testing.T) {
	// One varchar row in each of two partitions.
	p1 := genChunks(types.TypeVarchar, []testRow{{val: sv("héllo")}}, 1)
	p2 := genChunks(types.TypeVarchar, []testRow{{val: sv("world")}}, 1)
	cfg := newTestConfig(types.TypeVarchar, nil)
	cfg.PartialConcurrency = 2
	rs := runParallel(t, cfg, aggregate.NewUnionSource(aggregate.NewChunkSource(p1...), aggregate.NewChunkSource(p2...)))
	defer rs.Close()

	require.Equal(t, 1, rs.NumRows())
	first, last := rs.Value(0, 0), rs.Value(0, 1)
	require.Equal(t, "héllo", first.String())
	require.False(t, first.IsASCII)
	require.Equal(t, "world", last.String())
	require.True(t, last.IsASCII)
	for j := 0; j < rs.NumFuncs(); j++ {
		require.False(t, types.IsTaggedAddress(rs.Value(0, j).Addr))
	}
}

func TestGroupByOverUnion(t *testing.T) {
	var branch1, branch2, all []testRow
	for i := 1; i <= 10; i++ {
		row := testRow{key: sv("k"), val: sv(fmt.Sprint(i)), ts: int64(i)}
		if i <= 5 {
			branch1 = append(branch1, row)
		} else {
			branch2 = append(branch2, row)
		}
		all = append(all, row)
	}
	expect := expected(all, true)
	require.Equal(t, "10", *expect["k"][1])

	for _, sequential := range []bool{true, false} {
		src := aggregate.NewUnionSource(
			aggregate.NewChunkSource(genChunks(types.TypeString, branch1, 2)...),
			aggregate.NewChunkSource(genChunks(types.TypeString, branch2, 2)...),
		)
		cfg := newTestConfig(types.TypeString, []int{colKey})
		var rs *aggregate.ResultSet
		if sequential {
			rs = runSequential(t, cfg, src)
		} else {
			rs = runParallel(t, cfg, src)
		}
		requireResult(t, expect, collect(t, rs))
		rs.Close()
	}
}

func TestManyKeys(t *testing.T) {
	const (
		numSymbols = 300
		numRows    = 3000
	)
	rows := make([]testRow, 0, numRows)
	for i := 0; i < numRows; i++ {
		var val *string
		if i%7 != 3 {
			val = sv(fmt.Sprintf("value-%d-%s", i, strings.Repeat("x", i%50)))
		}
		rows = append(rows, testRow{key: sv(fmt.Sprintf("sym%03d", (i*7)%numSymbols)), val: val, ts: int64(i)})
	}
	checkAllModes(t, types.TypeVarchar, rows, 64, true)
	checkAllModes(t, types.TypeString, rows, 1000, true)
}

func TestTimestampOrder(t *testing.T) {
	rows := make([]testRow, 0, 200)
	for i := 0; i < 200; i++ {
		var val *string
		if i%5 != 0 {
			val = sv(fmt.Sprint("v", i))
		}
		// Ties on the timestamp are broken by arrival.
		rows = append(rows, testRow{key: sv(fmt.Sprint("k", i%4)), val: val, ts: int64(i / 3)})
	}
	expect := expected(rows, true)

	cfg := newTestConfig(types.TypeVarchar, []int{colKey})
	cfg.OrderKey = aggregate.OrderByTimestamp(colTs)
	cfg.PartialConcurrency = 4
	rs := runParallel(t, cfg, aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 7)...))
	requireResult(t, expect, collect(t, rs))
	rs.Close()
}

func TestQueueSourceRecycling(t *testing.T) {
	const (
		numChunks = 50
		chunkSize = 32
	)
	var rows []testRow
	for i := 0; i < numChunks*chunkSize; i++ {
		rows = append(rows, testRow{key: sv(fmt.Sprint("k", i%13)), val: sv(fmt.Sprintf("payload-%05d", i)), ts: int64(i)})
	}
	pool := chunk.NewPool(testFields(types.TypeVarchar), chunkSize)
	queue := chunk.NewMPMCQueue(4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer queue.Close()
		for start := 0; start < len(rows); start += chunkSize {
			chk := pool.GetChunk()
			for _, row := range rows[start : start+chunkSize] {
				appendRow(chk, row)
			}
			if queue.Push(chk) == chunk.QueueClosed {
				return
			}
		}
	}()

	rs := runParallel(t, newTestConfig(types.TypeVarchar, []int{colKey}), aggregate.NewQueueSource(queue, pool))
	wg.Wait()
	defer rs.Close()
	// Recycled batches are overwritten by later rows, the results are not.
	requireResult(t, expected(rows, true), collect(t, rs))
	require.Equal(t, int64(numChunks), pool.Recycled())
	require.Less(t, pool.Created(), int64(numChunks))
}

func TestExceedMemoryQuota(t *testing.T) {
	rows := make([]testRow, 0, 20000)
	payload := strings.Repeat("p", 200)
	for i := 0; i < 20000; i++ {
		rows = append(rows, testRow{key: sv(fmt.Sprintf("key-%06d", i)), val: sv(payload), ts: int64(i)})
	}

	cfg := newTestConfig(types.TypeVarchar, []int{colKey})
	cfg.MemQuota = 1 << 20
	cfg.QueryID = 42
	e, err := aggregate.NewHashAggExec(cfg)
	require.NoError(t, err)
	src := aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 256)...)
	require.NoError(t, e.Open(context.Background(), src))
	rs, err := e.Next(context.Background())
	require.Nil(t, rs)
	require.Error(t, err)
	require.True(t, exeerrors.ErrMemoryExceedForQuery.Equal(err), err.Error())
	require.NoError(t, e.Close())
	require.Zero(t, e.MemTracker().BytesConsumed())

	cfg.PartialConcurrency = 1
	rs, err = aggregate.Aggregate(context.Background(), cfg, aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 256)...))
	require.Nil(t, rs)
	require.True(t, exeerrors.ErrMemoryExceedForQuery.Equal(err))
}

func TestCancel(t *testing.T) {
	pool := chunk.NewPool(testFields(types.TypeVarchar), 16)
	queue := chunk.NewMPMCQueue(2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// The producer never closes the queue, only cancelling stops it.
		for i := 0; ; i++ {
			chk := pool.GetChunk()
			appendRow(chk, testRow{key: sv(fmt.Sprint("k", i%5)), val: sv(fmt.Sprint(i)), ts: int64(i)})
			if queue.Push(chk) == chunk.QueueClosed {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	e, err := aggregate.NewHashAggExec(newTestConfig(types.TypeVarchar, []int{colKey}))
	require.NoError(t, err)
	require.NoError(t, e.Open(ctx, aggregate.NewQueueSource(queue, pool)))
	time.Sleep(10 * time.Millisecond)
	cancel()

	rs, err := e.Next(ctx)
	require.Nil(t, rs)
	require.True(t, exeerrors.ErrQueryInterrupted.Equal(err))
	require.NoError(t, e.Close())
	require.Zero(t, e.MemTracker().BytesConsumed())
	// Stop the producer in case the fetcher was not waiting on the queue.
	queue.Close()
	wg.Wait()
}

func TestGroupKeyBufferAccounting(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		cfg := newTestConfig(types.TypeVarchar, []int{colKey})
		cfg.PartialConcurrency = concurrency
		e, err := aggregate.NewHashAggExec(cfg)
		require.NoError(t, err)
		require.NoError(t, e.Open(context.Background(), aggregate.NewChunkSource()))
		require.NoError(t, e.Close())
		require.Zero(t, e.MemTracker().BytesConsumed())
	}

	rows := []testRow{{key: sv("a"), val: sv("1")}, {key: sv("b"), val: sv("2")}}
	cfg := newTestConfig(types.TypeVarchar, []int{colKey})
	cfg.PartialConcurrency = 1
	e, err := aggregate.NewHashAggExec(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background(), aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 1)...)))
	rs, err := e.Next(context.Background())
	require.NoError(t, err)
	rs.Close()
	require.NoError(t, e.Close())
	require.Zero(t, e.MemTracker().BytesConsumed())
}

func TestCloseWithoutNext(t *testing.T) {
	rows := []testRow{{key: sv("a"), val: sv("1")}, {key: sv("b"), val: sv("2")}}
	e, err := aggregate.NewHashAggExec(newTestConfig(types.TypeVarchar, []int{colKey}))
	require.NoError(t, err)
	src := aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 1)...)
	require.NoError(t, e.Open(context.Background(), src))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	require.Zero(t, e.MemTracker().BytesConsumed())
	_, err = e.Next(context.Background())
	require.Error(t, err)
}

func TestBuildError(t *testing.T) {
	cfg := newTestConfig(types.TypeVarchar, nil)
	cfg.AggFuncs = []*aggfuncs.AggFuncDesc{aggfuncs.NewAggFuncDesc("first", aggfuncs.NewColumn(colTs, types.TypeTimestamp))}
	_, err := aggregate.NewHashAggExec(cfg)
	require.True(t, exeerrors.ErrUnsupportedType.Equal(err))

	cfg.AggFuncs = []*aggfuncs.AggFuncDesc{aggfuncs.NewAggFuncDesc("median", aggfuncs.NewColumn(colVal, types.TypeVarchar))}
	_, err = aggregate.Aggregate(context.Background(), cfg, aggregate.NewChunkSource())
	require.True(t, exeerrors.ErrUnknownAggFunc.Equal(err))
}

func TestGroupByColumnOutOfRange(t *testing.T) {
	rows := []testRow{{key: sv("a"), val: sv("1")}, {key: sv("b"), val: sv("2")}}
	cfg := newTestConfig(types.TypeVarchar, []int{colKey, 7})

	src := aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 1)...)
	rs, err := aggregate.Aggregate(context.Background(), cfg, src)
	require.Nil(t, rs)
	require.ErrorContains(t, err, "group by column 7 out of range")
	require.Equal(t, int64(1), src.Returned())

	e, err := aggregate.NewHashAggExec(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background(), aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 1)...)))
	rs, err = e.Next(context.Background())
	require.Nil(t, rs)
	require.ErrorContains(t, err, "group by column 7 out of range")
	require.NoError(t, e.Close())
}

func TestRuntimeStats(t *testing.T) {
	rows := []testRow{{key: sv("a"), val: sv("1")}, {key: sv("b"), val: sv("2")}}
	e, err := aggregate.NewHashAggExec(newTestConfig(types.TypeVarchar, []int{colKey}))
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background(), aggregate.NewChunkSource(genChunks(types.TypeVarchar, rows, 1)...)))
	rs, err := e.Next(context.Background())
	require.NoError(t, err)
	defer rs.Close()
	require.NoError(t, e.Close())

	stats := e.RuntimeStats().String()
	require.Contains(t, stats, "partial_worker:{wall_time:")
	require.Contains(t, stats, "concurrency:3, task_num:2")
	require.Contains(t, stats, "final_worker:{wall_time:")
}
