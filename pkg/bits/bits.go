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

// Package bits includes all bit related types and operations.
package bits

import (
	"fmt"
	mbits "math/bits"
)

// IsOn64 returns true if *all* bits set in 'bits' are set in 'mask'.
func IsOn64(mask, bits uint64) bool {
	return mask&bits == bits
}

// IsAnyOn64 returns true if *any* bit set in 'bits' is set in 'mask'.
func IsAnyOn64(mask, bits uint64) bool {
	return mask&bits != 0
}

// Mask64 returns a uint64 with all of the given bits set.
func Mask64(is ...int) uint64 {
	ret := uint64(0)
	for _, i := range is {
		ret |= MaskOf64(i)
	}
	return ret
}

// MaskOf64 is like Mask64, but sets only a single bit (more efficiently).
func MaskOf64(i int) uint64 {
	return uint64(1) << uint64(i)
}

// TrailingZeros64 returns the number of bits before the least significant 1
// bit in x; in other words, it returns the index of the least significant 1
// bit in x. If x is 0, TrailingZeros64 returns 64.
func TrailingZeros64(x uint64) int {
	return mbits.TrailingZeros64(x)
}

// MostSignificantOne64 returns the index of the most significant 1 bit in
// x. If x is 0, MostSignificantOne64 returns 64.
func MostSignificantOne64(x uint64) int {
	if x == 0 {
		return 64
	}
	return 63 - mbits.LeadingZeros64(x)
}

// Field describes a contiguous bit field of a 64-bit register or descriptor.
type Field struct {
	// Shift is the index of the field's least significant bit.
	Shift uint

	// Width is the number of bits in the field.
	Width uint
}

// Mask returns the in-place mask of the field.
func (f Field) Mask() uint64 {
	return ((uint64(1) << f.Width) - 1) << f.Shift
}

// Get extracts the field from v.
func (f Field) Get(v uint64) uint64 {
	return (v & f.Mask()) >> f.Shift
}

// Set returns v with the field replaced by x. It panics if x does not fit.
func (f Field) Set(v, x uint64) uint64 {
	if x > f.Mask()>>f.Shift {
		panic(fmt.Sprintf("value %#x overflows %d-bit field at bit %d", x, f.Width, f.Shift))
	}
	return (v &^ f.Mask()) | (x << f.Shift)
}
