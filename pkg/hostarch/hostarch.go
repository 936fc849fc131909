// Copyright 2024 The gVisor Authors.
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

// Package hostarch describes the machine the kernel manages: the page
// granule, addresses and memory access semantics.
package hostarch

import "fmt"

const (
	// PageShift is the binary log of the translation granule.
	// 64K pages: 2^16 = 65536
	PageShift = 16

	// PageSize is the translation granule and the unit of physical
	// allocation.
	PageSize = 1 << PageShift

	// PageMask masks the offset of an address within its page.
	PageMask = PageSize - 1
)

// Addr represents a virtual or physical address.
type Addr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageMask)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageMask).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// PagesFor returns the number of pages needed to hold n bytes.
func PagesFor(n uint64) uint64 {
	return (n + PageMask) >> PageShift
}
