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

package aggfuncs

import (
	"unsafe"

	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/chunk"
	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
	"github.com/pingcap/textagg/pkg/util/intest"
)

const (
	// DefPartialResult4TextSize is the size of partialResult4Text
	DefPartialResult4TextSize = int64(unsafe.Sizeof(partialResult4Text{}))
)

// partialResult4Text is the slot of a first/last function over a text column.
type partialResult4Text struct {
	// val is the held value, meaningful only when holding is true. It may be
	// a NULL for first and last.
	val types.TextRef
	// order is the order key of the row val comes from.
	order types.OrderKey
	// spare is owned memory left to the slot by an earlier promotion.
	spare []byte
	// holding indicates whether a value has been recorded.
	holding bool
}

type baseFirstLast4Text struct {
	baseAggFunc
	// takeFirst means the value with the smaller order key wins a merge.
	takeFirst bool
}

func (*baseFirstLast4Text) AllocPartialResult() (pr PartialResult, memDelta int64) {
	p := new(partialResult4Text)
	p.val = types.NullText()
	return PartialResult(p), DefPartialResult4TextSize
}

func (*baseFirstLast4Text) ResetPartialResult(pr PartialResult) {
	p := (*partialResult4Text)(pr)
	p.val, p.order, p.holding = types.NullText(), types.OrderKey{}, false
}

func (e *baseFirstLast4Text) record(sctx AggFuncUpdateContext, p *partialResult4Text, row chunk.Row) {
	p.val, p.order, p.holding = row.GetText(e.args[0]), sctx.OrderKey(row), true
}

func (e *baseFirstLast4Text) wins(src, dst types.OrderKey) bool {
	if e.takeFirst {
		return src.Less(dst)
	}
	return dst.Less(src)
}

func (e *baseFirstLast4Text) MergePartialResult(_ AggFuncUpdateContext, src, dst PartialResult) (memDelta int64, err error) {
	p1, p2 := (*partialResult4Text)(src), (*partialResult4Text)(dst)
	if !p1.holding {
		return 0, nil
	}
	if p1.val.IsBorrowed() {
		intest.Assert(false, "merge source holds a borrowed text reference")
		return 0, exeerrors.ErrInternal.GenWithStackByArgs("merge source holds a borrowed text reference")
	}
	if !p2.holding || e.wins(p1.order, p2.order) {
		p2.val, p2.order, p2.holding = p1.val, p1.order, true
	}
	return 0, nil
}

func (e *baseFirstLast4Text) AppendFinalResult2Chunk(_ AggFuncUpdateContext, pr PartialResult, chk *chunk.Chunk) error {
	chk.AppendRef(e.ordinal, e.Snapshot(pr))
	return nil
}

func (*baseFirstLast4Text) Snapshot(pr PartialResult) types.StrippedText {
	p := (*partialResult4Text)(pr)
	if !p.holding {
		return types.StrippedText{IsNull: true}
	}
	return p.val.Strip()
}

func (*baseFirstLast4Text) PromoteBorrowed(sctx AggFuncUpdateContext, pr PartialResult, liveGen uint64) (copied int64) {
	p := (*partialResult4Text)(pr)
	if !p.holding || !p.val.IsBorrowed() {
		return 0
	}
	p.val.CheckLive(liveGen)
	n := int(p.val.Len())
	if cap(p.spare) < n {
		p.spare = sctx.Allocator().Alloc(n)
	}
	p.val = p.val.PromoteInto(p.spare[:cap(p.spare)])
	return int64(n)
}

// first4Text keeps the value of the earliest row, NULL included.
type first4Text struct {
	baseFirstLast4Text
}

func (e *first4Text) UpdatePartialResult(sctx AggFuncUpdateContext, rowsInGroup []chunk.Row, pr PartialResult) (memDelta int64, err error) {
	p := (*partialResult4Text)(pr)
	if p.holding || len(rowsInGroup) == 0 {
		return 0, nil
	}
	e.record(sctx, p, rowsInGroup[0])
	return 0, nil
}

// firstNotNull4Text keeps the value of the earliest row with a non-NULL value.
type firstNotNull4Text struct {
	baseFirstLast4Text
}

func (e *firstNotNull4Text) UpdatePartialResult(sctx AggFuncUpdateContext, rowsInGroup []chunk.Row, pr PartialResult) (memDelta int64, err error) {
	p := (*partialResult4Text)(pr)
	if p.holding {
		return 0, nil
	}
	for _, row := range rowsInGroup {
		if row.IsNull(e.args[0]) {
			continue
		}
		e.record(sctx, p, row)
		break
	}
	return 0, nil
}

// last4Text keeps the value of the latest row, NULL included.
type last4Text struct {
	baseFirstLast4Text
}

func (e *last4Text) UpdatePartialResult(sctx AggFuncUpdateContext, rowsInGroup []chunk.Row, pr PartialResult) (memDelta int64, err error) {
	if len(rowsInGroup) == 0 {
		return 0, nil
	}
	e.record(sctx, (*partialResult4Text)(pr), rowsInGroup[len(rowsInGroup)-1])
	return 0, nil
}

// lastNotNull4Text keeps the value of the latest row with a non-NULL value.
type lastNotNull4Text struct {
	baseFirstLast4Text
}

func (e *lastNotNull4Text) UpdatePartialResult(sctx AggFuncUpdateContext, rowsInGroup []chunk.Row, pr PartialResult) (memDelta int64, err error) {
	p := (*partialResult4Text)(pr)
	for i := len(rowsInGroup) - 1; i >= 0; i-- {
		if rowsInGroup[i].IsNull(e.args[0]) {
			continue
		}
		e.record(sctx, p, rowsInGroup[i])
		break
	}
	return 0, nil
}
