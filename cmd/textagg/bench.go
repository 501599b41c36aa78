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

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pingcap/errors"
	"github.com/pingcap/textagg/pkg/config"
	"github.com/pingcap/textagg/pkg/executor/aggfuncs"
	"github.com/pingcap/textagg/pkg/executor/aggregate"
	"github.com/pingcap/textagg/pkg/executor/sample"
	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	colSymbol = iota
	colText
	colTs
)

// genOptions describes the generated input: one varchar symbol, one text
// value, one timestamp increasing by one per row.
type genOptions struct {
	keys      int
	rows      int
	nullRatio float64
	textType  string
	seed      uint64
	// statusAddr serves the metrics while the command runs when not empty.
	statusAddr string
	print      int
}

func (o *genOptions) addFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.keys, "keys", 100, "number of distinct group keys")
	fs.IntVar(&o.rows, "rows", 1_000_000, "number of generated rows")
	fs.Float64Var(&o.nullRatio, "null-ratio", 0.1, "ratio of NULL text values")
	fs.StringVar(&o.textType, "text-type", "varchar", "type of the text column, string or varchar")
	fs.Uint64Var(&o.seed, "seed", 1, "seed of the generator")
	fs.StringVar(&o.statusAddr, "status-addr", "", "address to serve the metrics on")
	fs.IntVar(&o.print, "print", 10, "number of result rows to print")
}

func (o *genOptions) textFieldType() (byte, error) {
	switch strings.ToLower(o.textType) {
	case "string":
		return types.TypeString, nil
	case "varchar":
		return types.TypeVarchar, nil
	}
	return 0, errors.Errorf("unknown text type %q", o.textType)
}

func (o *genOptions) aggDescs(names []string) ([]*aggfuncs.AggFuncDesc, error) {
	tp, err := o.textFieldType()
	if err != nil {
		return nil, err
	}
	descs := make([]*aggfuncs.AggFuncDesc, 0, len(names))
	for _, name := range names {
		descs = append(descs, aggfuncs.NewAggFuncDesc(name, aggfuncs.NewColumn(colText, tp)))
	}
	return descs, nil
}

// source starts a producer filling pooled chunks and returns the source
// reading them. The producer stops when the source is closed.
func (o *genOptions) source(ctx context.Context) (*aggregate.QueueSource, error) {
	tp, err := o.textFieldType()
	if err != nil {
		return nil, err
	}
	fields := []*types.FieldType{
		types.NewFieldType(types.TypeVarchar),
		types.NewFieldType(tp),
		types.NewFieldType(types.TypeTimestamp),
	}
	pool := chunk.NewPool(fields, config.GetGlobalConfig().Performance.MaxChunkSize)
	queue := chunk.NewMPMCQueue(chunk.DefaultMPMCQueueLimitNum)
	context.AfterFunc(ctx, queue.Close)
	go o.produce(ctx, pool, queue)
	return aggregate.NewQueueSource(queue, pool), nil
}

func (o *genOptions) produce(ctx context.Context, pool *chunk.Pool, queue *chunk.MPMCQueue) {
	defer queue.Close()
	rng := rand.New(rand.NewPCG(o.seed, o.seed))
	keys := max(o.keys, 1)
	chk := pool.GetChunk()
	for i := 0; i < o.rows; i++ {
		chk.AppendString(colSymbol, fmt.Sprintf("sym%d", rng.IntN(keys)))
		if rng.Float64() < o.nullRatio {
			chk.AppendNull(colText)
		} else {
			chk.AppendString(colText, randomText(rng))
		}
		chk.AppendInt64(colTs, int64(i))
		if chk.IsFull() {
			if queue.Push(chk) != chunk.OK {
				return
			}
			chk = pool.GetChunk()
		}
	}
	if chk.NumRows() > 0 {
		queue.Push(chk)
	}
}

var alphabet = []rune("abcdefghijklmnopqrstuvwxyzäöüßé")

func randomText(rng *rand.Rand) string {
	n := rng.IntN(24)
	var sb strings.Builder
	for range n {
		if rng.IntN(8) == 0 {
			sb.WriteRune(alphabet[rng.IntN(len(alphabet))])
		} else {
			sb.WriteByte(byte('a' + rng.IntN(26)))
		}
	}
	return sb.String()
}

// serveStatus serves the metrics until the returned function is called.
func (o *genOptions) serveStatus() func() {
	if o.statusAddr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: o.statusAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logutil.BgLogger().Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		if err := srv.Close(); err != nil {
			logutil.BgLogger().Warn("close status server failed", zap.Error(err))
		}
	}
}

func formatText(v types.StrippedText) string {
	if v.IsNull {
		return "NULL"
	}
	return fmt.Sprintf("%q", v.String())
}

func formatKey(key [][]byte) string {
	parts := make([]string, 0, len(key))
	for _, k := range key {
		if k == nil {
			parts = append(parts, "NULL")
			continue
		}
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ",")
}

func resultHeader(key string, funcs []string) table.Row {
	header := table.Row{key}
	for _, name := range funcs {
		header = append(header, fmt.Sprintf("%s(text)", name))
	}
	return header
}

var defaultFuncs = []string{
	aggfuncs.AggFuncFirst,
	aggfuncs.AggFuncLast,
	aggfuncs.AggFuncFirstNotNull,
	aggfuncs.AggFuncLastNotNull,
}

func newBenchCommand() *cobra.Command {
	var (
		opts          genOptions
		funcs         []string
		partial       int
		final         int
		dispatchByKey bool
		byTimestamp   bool
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "group generated rows by symbol with the parallel hash aggregation",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			descs, err := opts.aggDescs(funcs)
			if err != nil {
				return err
			}
			cfg := aggregate.NewExecConfig([]int{colSymbol}, descs...)
			if cmd.Flags().Changed("partial-concurrency") {
				cfg.PartialConcurrency = partial
			}
			if cmd.Flags().Changed("final-concurrency") {
				cfg.FinalConcurrency = final
			}
			if cmd.Flags().Changed("dispatch-by-key") {
				cfg.DispatchByKey = dispatchByKey
			}
			if byTimestamp {
				cfg.OrderKey = aggregate.OrderByTimestamp(colTs)
			}
			stop := opts.serveStatus()
			defer stop()

			e, err := aggregate.NewHashAggExec(cfg)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, e.Close())
			}()
			genCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			src, err := opts.source(genCtx)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := e.Open(ctx, src); err != nil {
				return err
			}
			rs, err := e.Next(ctx)
			if err != nil {
				return err
			}
			defer rs.Close()
			elapsed := time.Since(start)

			rs.SortByKey()
			t := table.NewWriter()
			t.AppendHeader(resultHeader("symbol", funcs))
			for i := 0; i < min(opts.print, rs.NumRows()); i++ {
				key, err := rs.Key(i)
				if err != nil {
					return err
				}
				row := table.Row{formatKey(key)}
				for j := 0; j < rs.NumFuncs(); j++ {
					row = append(row, formatText(rs.Value(i, j)))
				}
				t.AppendRow(row)
			}
			cmd.Println(t.Render())
			cmd.Printf("groups: %d, rows: %d, time: %s\n", rs.NumRows(), opts.rows, elapsed)
			cmd.Printf("stats: %s\n", e.RuntimeStats())
			return nil
		},
	}
	opts.addFlags(cmd.Flags())
	cmd.Flags().StringSliceVar(&funcs, "funcs", defaultFuncs, "aggregate functions over the text column")
	cmd.Flags().IntVar(&partial, "partial-concurrency", config.DefPartialConcurrency, "number of partial workers")
	cmd.Flags().IntVar(&final, "final-concurrency", config.DefFinalConcurrency, "number of final workers")
	cmd.Flags().BoolVar(&dispatchByKey, "dispatch-by-key", false, "route every group key to a single partial worker")
	cmd.Flags().BoolVar(&byTimestamp, "by-timestamp", false, "order rows by the timestamp column instead of arrival")
	return cmd
}

func newSampleCommand() *cobra.Command {
	var (
		opts     genOptions
		funcs    []string
		interval int64
		fill     string
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "aggregate generated rows into time buckets per symbol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			descs, err := opts.aggDescs(funcs)
			if err != nil {
				return err
			}
			cfg := sample.NewConfig(colTs, interval, []int{colSymbol}, descs...)
			if cmd.Flags().Changed("fill") {
				if cfg.Fill, err = sample.ParseFillMode(fill); err != nil {
					return err
				}
			}
			stop := opts.serveStatus()
			defer stop()

			e, err := sample.NewSampleByExec(cfg)
			if err != nil {
				return err
			}
			genCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			src, err := opts.source(genCtx)
			if err != nil {
				return err
			}
			start := time.Now()
			res, err := e.Run(ctx, src)
			if err != nil {
				return err
			}
			defer res.Close()
			elapsed := time.Since(start)

			t := table.NewWriter()
			t.AppendHeader(append(table.Row{"bucket"}, resultHeader("symbol", funcs)...))
			for _, row := range res.Rows[:min(opts.print, len(res.Rows))] {
				out := table.Row{row.BucketStart, formatKey(row.Key)}
				for _, v := range row.Values {
					out = append(out, formatText(v))
				}
				t.AppendRow(out)
			}
			cmd.Println(t.Render())
			cmd.Printf("rows: %d, input rows: %d, fill: %s, time: %s\n", len(res.Rows), opts.rows, cfg.Fill, elapsed)
			return nil
		},
	}
	opts.addFlags(cmd.Flags())
	cmd.Flags().StringSliceVar(&funcs, "funcs", defaultFuncs, "aggregate functions over the text column")
	cmd.Flags().Int64Var(&interval, "interval", 1000, "width of a bucket in timestamp units")
	cmd.Flags().StringVar(&fill, "fill", config.FillNone, "fill policy of empty buckets, none, null or prev")
	return cmd
}
