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

package memory

import (
	"sync"

	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
	"github.com/pingcap/textagg/pkg/util/logutil"
	"go.uber.org/zap"
)

// ActionOnExceed is the action taken when memory usage exceeds memory quota.
// NOTE: All the implementors should be thread-safe.
type ActionOnExceed interface {
	// Action will be called when memory usage exceeds memory quota by the
	// corresponding Tracker.
	Action(t *Tracker)
}

// LogOnExceed logs a warning only once when memory usage exceeds memory quota.
type LogOnExceed struct {
	mutex   sync.Mutex // For synchronization.
	acted   bool
	QueryID uint64
}

// Action logs a warning only once when memory usage exceeds memory quota.
func (a *LogOnExceed) Action(t *Tracker) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if !a.acted {
		a.acted = true
		logutil.BgLogger().Warn("memory exceeds quota",
			zap.Uint64(logutil.LogFieldQueryID, a.QueryID),
			zap.String("consumed", FormatBytes(t.BytesConsumed())),
			zap.String("quota", FormatBytes(t.GetBytesLimit())))
	}
}

// PanicOnExceed panics when memory usage exceeds memory quota. The panic
// value is an ErrMemoryExceedForQuery error, the aggregation workers recover
// it and abort the pass. It is never retried.
type PanicOnExceed struct {
	mutex   sync.Mutex // For synchronization.
	acted   bool
	QueryID uint64
}

// Action panics when memory usage exceeds memory quota.
func (a *PanicOnExceed) Action(t *Tracker) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if !a.acted {
		logutil.BgLogger().Warn("memory exceeds quota, aborting aggregation",
			zap.Uint64(logutil.LogFieldQueryID, a.QueryID),
			zap.String("tracker", t.String()))
	}
	a.acted = true
	panic(exeerrors.ErrMemoryExceedForQuery.GenWithStackByArgs(a.QueryID))
}
