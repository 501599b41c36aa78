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
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/pingcap/textagg/pkg/config"
	"github.com/pingcap/textagg/pkg/metrics"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

const flagConfig = "config"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		logutil.BgLogger().Warn("received signal to exit", zap.Stringer("signal", sig))
		cancel()
		fmt.Fprintln(os.Stderr, "gracefully shutting down, press ^C again to force exit")
		<-sc
		os.Exit(1)
	}()

	rootCmd := &cobra.Command{
		Use:               "textagg",
		Short:             "textagg runs first/last aggregations over generated text columns.",
		TraverseChildren:  true,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	rootCmd.PersistentFlags().String(flagConfig, "", "path of the config file")
	rootCmd.AddCommand(newBenchCommand(), newSampleCommand())
	rootCmd.SetOut(os.Stdout)

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		logutil.BgLogger().Error("textagg failed", zap.Error(err))
		os.Exit(1) // nolint:gocritic
	}
}

// setup loads the config file and initializes the logger and the metrics.
func setup(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return errors.Trace(err)
	}
	conf := config.NewConfig()
	if path != "" {
		if err := conf.Load(path); err != nil {
			return err
		}
	}
	config.StoreGlobalConfig(conf)
	if err := logutil.InitLogger(conf.Log.ToLogConfig()); err != nil {
		return errors.Trace(err)
	}
	metrics.RegisterMetrics()
	logutil.BgLogger().Info("textagg started", zap.String("config", path),
		zap.Int("partial-concurrency", conf.Performance.PartialConcurrency),
		zap.Int("final-concurrency", conf.Performance.FinalConcurrency))
	return nil
}
