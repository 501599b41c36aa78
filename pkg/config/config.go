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

package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"go.uber.org/atomic"
)

const (
	// DefMaxChunkSize is the default number of rows in one input batch.
	DefMaxChunkSize = 1024
	// DefPartialConcurrency is the default number of partial workers.
	DefPartialConcurrency = 4
	// DefFinalConcurrency is the default number of final workers.
	DefFinalConcurrency = 4
	// DefMemQuotaQuery is the default memory quota of one aggregation.
	DefMemQuotaQuery = "1GiB"
	// DefArenaBlockSize is the default block size of the private copy arena.
	DefArenaBlockSize = "64KiB"
)

// Fill policies of the time-bucketed driver.
const (
	FillNone = "none"
	FillNull = "null"
	FillPrev = "prev"
)

// Config contains configuration options.
type Config struct {
	Log         Log         `toml:"log" json:"log"`
	Performance Performance `toml:"performance" json:"performance"`
	Sample      Sample      `toml:"sample" json:"sample"`
}

// Log is the log section of config.
type Log struct {
	// Log level.
	Level string `toml:"level" json:"level"`
	// Log format, one of json or text.
	Format string `toml:"format" json:"format"`
	// Disable automatic timestamps in output.
	DisableTimestamp bool `toml:"disable-timestamp" json:"disable-timestamp"`
	// File log config.
	File logutil.FileLogConfig `toml:"file" json:"file"`
}

// Performance is the performance section of the config.
type Performance struct {
	PartialConcurrency int `toml:"partial-concurrency" json:"partial-concurrency"`
	FinalConcurrency   int `toml:"final-concurrency" json:"final-concurrency"`
	MaxChunkSize       int `toml:"max-chunk-size" json:"max-chunk-size"`
	// MemQuotaQuery is a human readable size such as "512MiB". Empty or "0" disables the quota.
	MemQuotaQuery  string `toml:"mem-quota-query" json:"mem-quota-query"`
	ArenaBlockSize string `toml:"arena-block-size" json:"arena-block-size"`
	// DispatchByKey routes all rows of a group key to the same partial worker.
	DispatchByKey bool `toml:"dispatch-by-key" json:"dispatch-by-key"`
}

// Sample is the sample-by section of the config.
type Sample struct {
	DefaultFill string `toml:"default-fill" json:"default-fill"`
}

var defaultConf = Config{
	Log: Log{
		Level:  logutil.DefaultLogLevel,
		Format: logutil.DefaultLogFormat,
		File:   logutil.NewFileLogConfig(logutil.DefaultLogMaxSize),
	},
	Performance: Performance{
		PartialConcurrency: DefPartialConcurrency,
		FinalConcurrency:   DefFinalConcurrency,
		MaxChunkSize:       DefMaxChunkSize,
		MemQuotaQuery:      DefMemQuotaQuery,
		ArenaBlockSize:     DefArenaBlockSize,
	},
	Sample: Sample{
		DefaultFill: FillNone,
	},
}

var globalConf atomic.Pointer[Config]

func init() {
	conf := defaultConf
	StoreGlobalConfig(&conf)
}

// NewConfig creates a new config instance with default value.
func NewConfig() *Config {
	conf := defaultConf
	return &conf
}

// GetGlobalConfig returns the global configuration for this process.
// The returned value must not be modified in place; use StoreGlobalConfig.
func GetGlobalConfig() *Config {
	return globalConf.Load()
}

// StoreGlobalConfig stores a new config to the globalConf.
func StoreGlobalConfig(config *Config) {
	globalConf.Store(config)
}

// UpdateGlobal updates the global config, and provides a latest config
// to f for modification.
func UpdateGlobal(f func(conf *Config)) {
	g := GetGlobalConfig()
	newConf := *g
	f(&newConf)
	StoreGlobalConfig(&newConf)
}

// ErrConfigValidationFailed is returned when the config file contains
// unknown items or invalid values.
type ErrConfigValidationFailed struct {
	confFile       string
	UndecodedItems []string
	reason         string
}

func (e *ErrConfigValidationFailed) Error() string {
	if len(e.UndecodedItems) > 0 {
		return fmt.Sprintf("config file %s contained invalid configuration options: %s",
			e.confFile, strings.Join(e.UndecodedItems, ", "))
	}
	return fmt.Sprintf("config file %s is invalid: %s", e.confFile, e.reason)
}

// Load loads config options from a toml file.
func (c *Config) Load(confFile string) error {
	metaData, err := toml.DecodeFile(confFile, c)
	if err != nil {
		return errors.Trace(err)
	}
	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		items := make([]string, 0, len(undecoded))
		for _, item := range undecoded {
			items = append(items, item.String())
		}
		return &ErrConfigValidationFailed{confFile: confFile, UndecodedItems: items}
	}
	if err := c.Valid(); err != nil {
		return &ErrConfigValidationFailed{confFile: confFile, reason: err.Error()}
	}
	return nil
}

// Valid checks if this config is valid.
func (c *Config) Valid() error {
	if c.Performance.PartialConcurrency <= 0 {
		return fmt.Errorf("partial-concurrency should be greater than 0, got %d", c.Performance.PartialConcurrency)
	}
	if c.Performance.FinalConcurrency <= 0 {
		return fmt.Errorf("final-concurrency should be greater than 0, got %d", c.Performance.FinalConcurrency)
	}
	if c.Performance.MaxChunkSize <= 0 {
		return fmt.Errorf("max-chunk-size should be greater than 0, got %d", c.Performance.MaxChunkSize)
	}
	if _, err := c.Performance.MemQuotaBytes(); err != nil {
		return err
	}
	blockSize, err := c.Performance.ArenaBlockBytes()
	if err != nil {
		return err
	}
	if blockSize <= 0 {
		return fmt.Errorf("arena-block-size should be greater than 0, got %s", c.Performance.ArenaBlockSize)
	}
	switch strings.ToLower(c.Sample.DefaultFill) {
	case FillNone, FillNull, FillPrev:
	default:
		return fmt.Errorf("unsupported default-fill %q, should be one of none, null, prev", c.Sample.DefaultFill)
	}
	return nil
}

// MemQuotaBytes parses mem-quota-query. A non-positive result means no quota.
func (p *Performance) MemQuotaBytes() (int64, error) {
	if p.MemQuotaQuery == "" {
		return 0, nil
	}
	quota, err := units.RAMInBytes(p.MemQuotaQuery)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid mem-quota-query %q", p.MemQuotaQuery)
	}
	return quota, nil
}

// ArenaBlockBytes parses arena-block-size.
func (p *Performance) ArenaBlockBytes() (int, error) {
	size, err := units.RAMInBytes(p.ArenaBlockSize)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid arena-block-size %q", p.ArenaBlockSize)
	}
	return int(size), nil
}

// ToLogConfig converts *Log to *logutil.LogConfig.
func (l *Log) ToLogConfig() *logutil.LogConfig {
	return logutil.NewLogConfig(l.Level, l.Format, l.File, l.DisableTimestamp)
}
