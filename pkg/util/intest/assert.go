// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package intest

import (
	"fmt"
)

// Assert asserts a condition is true. It only takes effect when the code is
// built with the `intest` tag; otherwise it is a no-op and the caller is
// expected to handle the violated condition itself. msg is printed with
// fmt.Sprint, use Assertf for a formatted message.
func Assert(cond bool, msg ...any) {
	if InTest && !cond {
		fail(formatMsg(msg...))
	}
}

// Assertf is like Assert with a fmt.Sprintf message.
func Assertf(cond bool, format string, args ...any) {
	if InTest && !cond {
		fail(fmt.Sprintf(format, args...))
	}
}

// AssertFunc asserts a function condition.
func AssertFunc(fn func() bool, msg ...any) {
	if InTest && !fn() {
		fail(formatMsg(msg...))
	}
}

func fail(msg string) {
	panic("assert failed: " + msg)
}

func formatMsg(msg ...any) string {
	if len(msg) == 0 {
		return "<no message>"
	}
	return fmt.Sprint(msg...)
}
