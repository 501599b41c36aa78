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
	"fmt"
	"strings"

	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
)

// Names of the aggregate functions.
const (
	AggFuncFirst        = "first"
	AggFuncLast         = "last"
	AggFuncFirstNotNull = "first_not_null"
	AggFuncLastNotNull  = "last_not_null"
)

// Column is a column argument of an aggregate function.
type Column struct {
	// Index is the offset of the column in the input chunk.
	Index   int
	RetType *types.FieldType
}

// NewColumn creates a Column.
func NewColumn(index int, tp byte) *Column {
	return &Column{Index: index, RetType: types.NewFieldType(tp)}
}

// AggFuncDesc describes an aggregate function call.
type AggFuncDesc struct {
	// Name is the aggregate function name.
	Name string
	// Args is the arguments of the aggregate function.
	Args []*Column
}

// NewAggFuncDesc creates an aggregate function descriptor.
func NewAggFuncDesc(name string, args ...*Column) *AggFuncDesc {
	return &AggFuncDesc{Name: strings.ToLower(name), Args: args}
}

// String implements the fmt.Stringer interface.
func (a *AggFuncDesc) String() string {
	args := make([]string, 0, len(a.Args))
	for _, arg := range a.Args {
		args = append(args, fmt.Sprintf("Column#%d", arg.Index))
	}
	return fmt.Sprintf("%s(%s)", a.Name, strings.Join(args, ","))
}

// Build is used to build a specific AggFunc implementation according to the
// input aggFuncDesc. ordinal is the offset of the function result in the
// output chunk.
func Build(aggFuncDesc *AggFuncDesc, ordinal int) (AggFunc, error) {
	name := strings.ToLower(aggFuncDesc.Name)
	switch name {
	case AggFuncFirst, AggFuncLast, AggFuncFirstNotNull, AggFuncLastNotNull:
	default:
		return nil, exeerrors.ErrUnknownAggFunc.GenWithStackByArgs(aggFuncDesc.Name)
	}
	if len(aggFuncDesc.Args) != 1 {
		return nil, exeerrors.ErrWrongParamCount.GenWithStackByArgs(name)
	}
	arg := aggFuncDesc.Args[0]
	if arg.RetType == nil || !arg.RetType.IsText() {
		tp := "unspecified"
		if arg.RetType != nil {
			tp = arg.RetType.String()
		}
		return nil, exeerrors.ErrUnsupportedType.GenWithStackByArgs(tp, name)
	}
	base := baseFirstLast4Text{
		baseAggFunc: baseAggFunc{
			args:    []int{arg.Index},
			ordinal: ordinal,
			retTp:   types.NewFieldType(arg.RetType.GetType()),
		},
	}
	switch name {
	case AggFuncFirst:
		base.takeFirst = true
		return &first4Text{base}, nil
	case AggFuncFirstNotNull:
		base.takeFirst = true
		return &firstNotNull4Text{base}, nil
	case AggFuncLast:
		return &last4Text{base}, nil
	default:
		return &lastNotNull4Text{base}, nil
	}
}

// BuildAll builds the functions of descs, the i-th function appends its
// result to the column offset+i of the output chunk.
func BuildAll(descs []*AggFuncDesc, offset int) ([]AggFunc, error) {
	funcs := make([]AggFunc, 0, len(descs))
	for i, desc := range descs {
		f, err := Build(desc, offset+i)
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, f)
	}
	return funcs, nil
}

// RetTypes returns the result types of the functions.
func RetTypes(funcs []AggFunc) []*types.FieldType {
	tps := make([]*types.FieldType, 0, len(funcs))
	for _, f := range funcs {
		tps = append(tps, f.(interface{ RetType() *types.FieldType }).RetType())
	}
	return tps
}
