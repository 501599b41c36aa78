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

package types

import (
	"cmp"
	"fmt"
)

// OrderKey orders the rows feeding first/last aggregates. Major is the
// timestamp of the row for time-ordered input, or the ordinal of the input
// branch when inputs are concatenated. Minor is the arrival sequence of the
// row, which makes the order total.
type OrderKey struct {
	Major int64
	Minor uint64
}

// Compare returns -1, 0 or 1 when k is ordered before, equal to or after other.
func (k OrderKey) Compare(other OrderKey) int {
	if c := cmp.Compare(k.Major, other.Major); c != 0 {
		return c
	}
	return cmp.Compare(k.Minor, other.Minor)
}

// Less reports whether k is ordered before other.
func (k OrderKey) Less(other OrderKey) bool {
	return k.Compare(other) < 0
}

// String implements the fmt.Stringer interface.
func (k OrderKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.Major, k.Minor)
}
