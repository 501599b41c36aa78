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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	conf := NewConfig()
	require.NoError(t, conf.Valid())

	quota, err := conf.Performance.MemQuotaBytes()
	require.NoError(t, err)
	require.Equal(t, int64(1<<30), quota)
	blockSize, err := conf.Performance.ArenaBlockBytes()
	require.NoError(t, err)
	require.Equal(t, 64<<10, blockSize)

	logConf := conf.Log.ToLogConfig()
	require.Equal(t, "info", logConf.Level)
	require.Equal(t, "text", logConf.Format)
}

func TestLoad(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
[log]
level = "debug"

[performance]
partial-concurrency = 8
final-concurrency = 2
mem-quota-query = "512MiB"
arena-block-size = "1MiB"
dispatch-by-key = true

[sample]
default-fill = "prev"
`), 0o644))

	conf := NewConfig()
	require.NoError(t, conf.Load(configFile))
	require.Equal(t, "debug", conf.Log.Level)
	require.Equal(t, 8, conf.Performance.PartialConcurrency)
	require.Equal(t, 2, conf.Performance.FinalConcurrency)
	require.Equal(t, DefMaxChunkSize, conf.Performance.MaxChunkSize)
	require.True(t, conf.Performance.DispatchByKey)
	require.Equal(t, FillPrev, conf.Sample.DefaultFill)

	quota, err := conf.Performance.MemQuotaBytes()
	require.NoError(t, err)
	require.Equal(t, int64(512<<20), quota)
	blockSize, err := conf.Performance.ArenaBlockBytes()
	require.NoError(t, err)
	require.Equal(t, 1<<20, blockSize)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.toml")
	require.NoError(t, os.WriteFile(unknown, []byte(`
[performance]
no-such-item = 1
`), 0o644))
	err := NewConfig().Load(unknown)
	require.Error(t, err)
	var validationErr *ErrConfigValidationFailed
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, []string{"performance.no-such-item"}, validationErr.UndecodedItems)

	badFill := filepath.Join(dir, "fill.toml")
	require.NoError(t, os.WriteFile(badFill, []byte(`
[sample]
default-fill = "linear"
`), 0o644))
	err = NewConfig().Load(badFill)
	require.ErrorContains(t, err, "unsupported default-fill")

	badQuota := filepath.Join(dir, "quota.toml")
	require.NoError(t, os.WriteFile(badQuota, []byte(`
[performance]
mem-quota-query = "lots"
`), 0o644))
	err = NewConfig().Load(badQuota)
	require.ErrorContains(t, err, "invalid mem-quota-query")

	require.Error(t, NewConfig().Load(filepath.Join(dir, "missing.toml")))
}

func TestValid(t *testing.T) {
	conf := NewConfig()
	conf.Performance.PartialConcurrency = 0
	require.ErrorContains(t, conf.Valid(), "partial-concurrency")

	conf = NewConfig()
	conf.Performance.FinalConcurrency = -1
	require.ErrorContains(t, conf.Valid(), "final-concurrency")

	conf = NewConfig()
	conf.Performance.ArenaBlockSize = "0"
	require.ErrorContains(t, conf.Valid(), "arena-block-size")

	conf = NewConfig()
	conf.Performance.MemQuotaQuery = ""
	require.NoError(t, conf.Valid())
	quota, err := conf.Performance.MemQuotaBytes()
	require.NoError(t, err)
	require.Zero(t, quota)
}

func TestUpdateGlobal(t *testing.T) {
	old := GetGlobalConfig()
	defer StoreGlobalConfig(old)

	UpdateGlobal(func(conf *Config) {
		conf.Performance.PartialConcurrency = 16
	})
	require.Equal(t, 16, GetGlobalConfig().Performance.PartialConcurrency)
	require.Equal(t, DefPartialConcurrency, old.Performance.PartialConcurrency)
}
