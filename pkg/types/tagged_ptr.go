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
	"unsafe"
)

const (
	sizeOfUintptr       = int(unsafe.Sizeof(uintptr(0)))
	sizeOfUnsafePointer = int(unsafe.Sizeof(unsafe.Pointer(nil)))
	ptrBits             = 8 * sizeOfUintptr
	// maxTaggedBits is the number of high address bits reserved for tags.
	// User space addresses on 64-bit platforms never reach the top 16 bits.
	maxTaggedBits = 1 + 15*(sizeOfUintptr/8)

	taggedMask = ^(uintptr(1)<<(ptrBits-maxTaggedBits) - 1)
	// ownedTag marks an address pointing into a private copy arena.
	ownedTag = uintptr(1) << (ptrBits - 1)
)

//go:linkname heapObjectsCanMove runtime.heapObjectsCanMove
func heapObjectsCanMove() bool

// TaggedAddressSupported reports whether addresses can be kept as tagged
// integers in the current environment. It requires a non-moving heap.
func TaggedAddressSupported() bool {
	// sizeOfUintptr should always equal to sizeOfUnsafePointer, because according to golang's doc,
	// a Pointer can be converted to an uintptr.
	return !heapObjectsCanMove() && sizeOfUintptr >= sizeOfUnsafePointer
}

// IsTaggedAddress reports whether addr uses any bit reserved for tags.
func IsTaggedAddress(addr uintptr) bool {
	return addr&taggedMask != 0
}

func toUnsafePointer(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}

func tagOwned(addr uintptr) uintptr {
	return addr | ownedTag
}

func isOwnedWord(word uintptr) bool {
	return word&ownedTag != 0
}

func untag(word uintptr) uintptr {
	return word &^ taggedMask
}

// hasStrayTag reports whether word carries tag bits other than ownedTag.
func hasStrayTag(word uintptr) bool {
	return word&taggedMask&^ownedTag != 0
}
