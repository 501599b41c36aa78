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

package aggfuncs_test

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/pingcap/textagg/pkg/executor/aggfuncs"
	"github.com/pingcap/textagg/pkg/types"
	"github.com/pingcap/textagg/pkg/util/dbterror/exeerrors"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	for _, tp := range []byte{types.TypeString, types.TypeVarchar} {
		for _, name := range []string{"first", "LAST", "First_Not_Null", "last_not_null"} {
			funcs, err := aggfuncs.BuildAll([]*aggfuncs.AggFuncDesc{
				aggfuncs.NewAggFuncDesc(name, aggfuncs.NewColumn(2, tp)),
			}, 1)
			require.NoError(t, err)
			require.Len(t, funcs, 1)
			retTps := aggfuncs.RetTypes(funcs)
			require.Equal(t, tp, retTps[0].GetType())
		}
	}
}

func TestBuildErrors(t *testing.T) {
	_, err := aggfuncs.Build(aggfuncs.NewAggFuncDesc("median", aggfuncs.NewColumn(0, types.TypeVarchar)), 0)
	require.True(t, errors.ErrorEqual(err, exeerrors.ErrUnknownAggFunc))

	_, err = aggfuncs.Build(aggfuncs.NewAggFuncDesc("first"), 0)
	require.True(t, errors.ErrorEqual(err, exeerrors.ErrWrongParamCount))

	_, err = aggfuncs.Build(aggfuncs.NewAggFuncDesc("last",
		aggfuncs.NewColumn(0, types.TypeVarchar), aggfuncs.NewColumn(1, types.TypeVarchar)), 0)
	require.True(t, errors.ErrorEqual(err, exeerrors.ErrWrongParamCount))

	_, err = aggfuncs.Build(aggfuncs.NewAggFuncDesc("last", aggfuncs.NewColumn(0, types.TypeLong)), 0)
	require.True(t, errors.ErrorEqual(err, exeerrors.ErrUnsupportedType))
	require.Contains(t, err.Error(), "Unsupported type long for aggregate function last")

	_, err = aggfuncs.Build(&aggfuncs.AggFuncDesc{Name: "first", Args: []*aggfuncs.Column{{Index: 0}}}, 0)
	require.True(t, errors.ErrorEqual(err, exeerrors.ErrUnsupportedType))
}

func TestAggFuncDescString(t *testing.T) {
	desc := aggfuncs.NewAggFuncDesc("FIRST_NOT_NULL", aggfuncs.NewColumn(3, types.TypeVarchar))
	require.Equal(t, "first_not_null(Column#3)", desc.String())
}
