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

package pagetables

import (
	"fmt"

	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/usage"
)

// User address space layout. The window is reached through TTBR1, so it
// occupies the top 1GiB of the address space.
const (
	// UserImageBase is where program images are loaded and where execution
	// begins.
	UserImageBase = 0xffff_ffff_c000_0000

	// UserStackBase is the single stack page at the top of the window.
	UserStackBase = 0xffff_ffff_ffff_0000

	// UserStackTop is the initial stack pointer.
	UserStackTop = 0xffff_ffff_ffff_fff0

	// UserMaxVA is the last valid user address.
	UserMaxVA = 0xffff_ffff_ffff_ffff
)

// IsUserAddress returns true if va falls in the user window.
func IsUserAddress(va uint64) bool {
	return va >= UserImageBase
}

// UserPageTable is a process address space. Pages mapped with Alloc are
// owned by the table and returned to frames on Release.
type UserPageTable struct {
	*PageTables

	frames Frames
	mapped int
}

// NewUser returns an empty address space. It allocates three table pages.
func NewUser(a Allocator, frames Frames) *UserPageTable {
	return &UserPageTable{
		PageTables: New(a, UserRW),
		frames:     frames,
	}
}

func userOffset(va uint64) uint64 {
	if !IsUserAddress(va) {
		panic(fmt.Sprintf("address %#x is below the user window", va))
	}
	return va - UserImageBase
}

// Alloc maps a fresh zeroed page at user address va and returns it.
//
// Alloc panics if va is outside the window or unaligned, if va is already
// mapped, or if physical memory is exhausted.
func (u *UserPageTable) Alloc(va uint64, at hostarch.AccessType) []byte {
	off := userOffset(va)
	if u.PageTables.IsValid(off) {
		panic(fmt.Sprintf("user address %#x is already mapped", va))
	}
	pa, err := u.frames.Allocate(usage.Anonymous)
	if err != nil {
		panic(fmt.Sprintf("mapping user address %#x: %v", va, err))
	}
	u.PageTables.SetEntry(off, mustNewPTE(pa, MapOpts{
		AccessType: at,
		User:       true,
		MemoryType: hostarch.MemoryTypeWriteBack,
	}))
	u.mapped++
	return u.frames.Slice(pa)
}

// IsValid returns true if user address va is mapped.
func (u *UserPageTable) IsValid(va uint64) bool {
	return u.PageTables.IsValid(userOffset(va))
}

// IsInvalid returns true if user address va is not mapped.
func (u *UserPageTable) IsInvalid(va uint64) bool {
	return !u.IsValid(va)
}

// Entry returns the descriptor for user address va.
func (u *UserPageTable) Entry(va uint64) PTE {
	return u.PageTables.Entry(userOffset(va))
}

// Page returns the mapped page containing user address va.
func (u *UserPageTable) Page(va uint64) ([]byte, bool) {
	pte := u.Entry(uint64(hostarch.Addr(va).RoundDown()))
	if !pte.Valid() {
		return nil, false
	}
	return u.frames.Slice(pte.Address()), true
}

// MappedPages returns the number of pages mapped with Alloc.
func (u *UserPageTable) MappedPages() int {
	return u.mapped
}

// Release frees every mapped page and then the table pages. It panics if
// called twice.
func (u *UserPageTable) Release() {
	u.checkLive()
	u.Walk(func(_ uint64, pte *PTE) bool {
		u.frames.Free(pte.Address())
		*pte = 0
		return true
	})
	u.mapped = 0
	u.PageTables.Release()
}
