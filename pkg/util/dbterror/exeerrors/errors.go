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

package exeerrors

import (
	"github.com/pingcap/errors"
)

// Error codes of the text aggregation executor. They keep the numbering of
// the MySQL-compatible executor errors they correspond to.
const (
	codeWrongParamCount      = 1582
	codeQueryInterrupted     = 1317
	codeInternal             = 1815
	codeUnsupportedType      = 8020
	codeUnknownAggFunc       = 1305
	codeMemoryExceedForQuery = 8175
)

// error definitions.
var (
	ErrMemoryExceedForQuery = errors.Normalize("Your query has been cancelled due to exceeding the allowed memory limit for a single SQL query. Please try narrowing your query scope or increase the quota and try again.[conn=%d]",
		errors.RFCCodeText("TextAgg:executor:ErrMemoryExceedForQuery"), errors.MySQLErrorCode(codeMemoryExceedForQuery))
	ErrUnsupportedType = errors.Normalize("Unsupported type %s for aggregate function %s",
		errors.RFCCodeText("TextAgg:executor:ErrUnsupportedType"), errors.MySQLErrorCode(codeUnsupportedType))
	ErrUnknownAggFunc = errors.Normalize("FUNCTION %s does not exist",
		errors.RFCCodeText("TextAgg:executor:ErrUnknownAggFunc"), errors.MySQLErrorCode(codeUnknownAggFunc))
	ErrWrongParamCount = errors.Normalize("Incorrect parameter count in the call to native function '%s'",
		errors.RFCCodeText("TextAgg:executor:ErrWrongParamCount"), errors.MySQLErrorCode(codeWrongParamCount))
	ErrQueryInterrupted = errors.Normalize("Query execution was interrupted",
		errors.RFCCodeText("TextAgg:executor:ErrQueryInterrupted"), errors.MySQLErrorCode(codeQueryInterrupted))
	ErrInternal = errors.Normalize("Internal : %s",
		errors.RFCCodeText("TextAgg:executor:ErrInternal"), errors.MySQLErrorCode(codeInternal))
)
