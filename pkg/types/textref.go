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

	"github.com/pingcap/textagg/pkg/util/hack"
	"github.com/pingcap/textagg/pkg/util/intest"
	"go.uber.org/atomic"
)

// Allocator provides the memory an owned copy is made in.
type Allocator interface {
	Alloc(n int) []byte
}

const (
	textFlagNull uint8 = 1 << iota
	textFlagASCII
)

// TextRef references a text payload without owning a copy of it.
//
// A Borrowed reference aliases the storage of a row batch and is valid until
// the batch is recycled. An Owned reference points into a private copy arena
// and is valid until the arena is reset. The ownership is kept in the top bit
// of the address word, so the word must never leave this package; Strip is
// the only way to hand the reference to a consumer.
type TextRef struct {
	word uintptr
	// gen is the generation of the row batch a Borrowed reference aliases.
	gen    uint64
	length uint32
	flags  uint8
}

// NullText returns the reference of a NULL value. It carries no address.
func NullText() TextRef {
	return TextRef{flags: textFlagNull}
}

// BorrowText returns a Borrowed reference aliasing length bytes at addr,
// which belong to the row batch of generation gen. Nothing is copied.
// The reference keeps addr as an integer, so the storage must be heap
// allocated and kept alive by its owner until the reference is promoted
// or dropped. Stack memory may move and must not be borrowed.
func BorrowText(addr unsafe.Pointer, length uint32, isASCII, isNull bool, gen uint64) TextRef {
	if isNull {
		return NullText()
	}
	word := uintptr(addr)
	intest.Assertf(!IsTaggedAddress(word), "address %#x uses tag bits", word)
	r := TextRef{word: word, gen: gen, length: length}
	if isASCII {
		r.flags |= textFlagASCII
	}
	return r
}

// BorrowBytes returns a Borrowed reference aliasing b. The storage
// requirements of BorrowText apply.
func BorrowBytes(b []byte, isASCII bool, gen uint64) TextRef {
	return BorrowText(unsafe.Pointer(unsafe.SliceData(b)), uint32(len(b)), isASCII, false, gen)
}

// IsNull reports whether the reference is a NULL value.
func (r TextRef) IsNull() bool {
	return r.flags&textFlagNull != 0
}

// IsASCII reports whether the payload is known to be ascii only.
func (r TextRef) IsASCII() bool {
	return r.flags&textFlagASCII != 0
}

// Len returns the length of the payload in bytes.
func (r TextRef) Len() uint32 {
	return r.length
}

// IsOwned reports whether the payload lives in a private copy arena.
func (r TextRef) IsOwned() bool {
	return isOwnedWord(r.word)
}

// IsBorrowed reports whether the reference aliases row batch storage.
// A NULL value is neither Borrowed nor Owned.
func (r TextRef) IsBorrowed() bool {
	return !r.IsNull() && !r.IsOwned()
}

// Generation returns the generation of the batch a Borrowed reference aliases.
func (r TextRef) Generation() uint64 {
	return r.gen
}

// Promote copies the payload of a Borrowed reference into memory taken
// from alloc and returns the Owned reference. NULL and Owned references are
// returned as they are.
func (r TextRef) Promote(alloc Allocator) TextRef {
	if !r.IsBorrowed() {
		return r
	}
	return r.PromoteInto(alloc.Alloc(int(r.length)))
}

// PromoteInto is like Promote but copies into buf, which must have at least
// Len() bytes and must stay alive as long as the returned reference.
func (r TextRef) PromoteInto(buf []byte) TextRef {
	if !r.IsBorrowed() {
		return r
	}
	intest.Assertf(len(buf) >= int(r.length), "promote %d bytes into a buffer of %d", r.length, len(buf))
	buf = buf[:r.length]
	copy(buf, r.payload())
	return TextRef{
		word:   tagOwned(uintptr(unsafe.Pointer(unsafe.SliceData(buf)))),
		length: r.length,
		flags:  r.flags,
	}
}

// CheckLive asserts a Borrowed reference aliases the live batch of
// generation gen. A reference to an older batch must have been promoted
// before that batch was recycled.
func (r TextRef) CheckLive(gen uint64) {
	intest.Assertf(!r.IsBorrowed() || r.gen == gen,
		"borrowed text of batch generation %d outlived its batch, live generation %d", r.gen, gen)
}

// Strip returns the plain form of the reference for a consumer.
func (r TextRef) Strip() StrippedText {
	if r.IsNull() {
		return StrippedText{IsNull: true}
	}
	if hasStrayTag(r.word) {
		intest.Assertf(false, "stray tag bits %#x in text reference", r.word&taggedMask)
		if h := strayTagHandler.Load(); h != nil {
			(*h)(r.word & taggedMask)
		}
	}
	return StrippedText{
		Addr:    untag(r.word),
		Len:     r.length,
		IsASCII: r.IsASCII(),
	}
}

func (r TextRef) payload() []byte {
	if r.length == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(toUnsafePointer(untag(r.word))), r.length)
}

var strayTagHandler atomic.Pointer[func(tagBits uintptr)]

// SetStrayTagHandler sets the function Strip calls with the tag bits it
// masks. It only runs outside test builds, where stray tags panic.
func SetStrayTagHandler(fn func(tagBits uintptr)) {
	if fn == nil {
		strayTagHandler.Store(nil)
		return
	}
	strayTagHandler.Store(&fn)
}

// StrippedText is a text value handed to a consumer. Addr is a plain
// address, valid as long as the storage it was read from.
type StrippedText struct {
	Addr    uintptr
	Len     uint32
	IsASCII bool
	IsNull  bool
}

// Bytes returns the payload. It is nil for NULL and empty for a zero-length
// value.
func (s StrippedText) Bytes() []byte {
	if s.IsNull {
		return nil
	}
	if s.Len == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(toUnsafePointer(s.Addr)), s.Len)
}

// String returns the payload as a string sharing its memory.
func (s StrippedText) String() string {
	return hack.String(s.Bytes())
}

// Clone copies the payload into memory taken from alloc.
func (s StrippedText) Clone(alloc Allocator) StrippedText {
	if s.IsNull {
		return s
	}
	return BorrowText(toUnsafePointer(s.Addr), s.Len, s.IsASCII, false, 0).Promote(alloc).Strip()
}
