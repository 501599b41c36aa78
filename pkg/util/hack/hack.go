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

package hack

import (
	"unsafe"
)

// String converts slice to string without copy.
// Use at your own risk.
func String(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// Slice converts string to slice without copy.
// Use at your own risk.
func Slice(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// LoadFactorNum is the numerator of load factor
const LoadFactorNum = 13

// LoadFactorDen is the denominator of load factor
const LoadFactorDen = 16

// EstimateBucketMemoryUsage returns the estimated memory usage of a bucket in a map.
// A bucket holds 8 keys, 8 values and 8 control bytes.
func EstimateBucketMemoryUsage[K comparable, V any]() uint64 {
	return (8*(1+uint64(unsafe.Sizeof(*new(K))+unsafe.Sizeof(*new(V)))) + 16) / 2 * 3
}
