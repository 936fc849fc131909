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

// Package pagetables provides a generic implementation of pagetables.
//
// The translation regime is two levels with a 64KiB granule: a top-level
// table whose first two entries are live, each linking a leaf table of 8192
// page descriptors. Together they translate a 1GiB window.
package pagetables

import (
	"fmt"

	"pikernel.dev/pikernel/pkg/hostarch"
)

const (
	entriesPerPage = hostarch.PageSize / 8

	l3Shift   = hostarch.PageShift
	l2Shift   = l3Shift + 13
	indexMask = entriesPerPage - 1

	// liveL2Entries is the number of top-level entries in use.
	liveL2Entries = 2

	// WindowSize is the size of the translated window.
	WindowSize = liveL2Entries << l2Shift
)

// PTEs is a collection of entries.
type PTEs [entriesPerPage]PTE

// PageTables is a two-level translation table.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	// root is the top-level table.
	root *PTEs

	// rootPhysical is the cached physical address of the root.
	//
	// This is saved only to prevent constant translation.
	rootPhysical uint64

	// leaves are the tables linked from the live root entries.
	leaves [liveL2Entries]*PTEs

	// released is set once the tables are returned to the allocator.
	released bool
}

// New returns new PageTables whose root entries carry permission perm.
func New(a Allocator, perm AccessPerm) *PageTables {
	p := &PageTables{Allocator: a}
	p.root = a.NewPTEs()
	p.rootPhysical = a.PhysicalFor(p.root)
	for i := range p.leaves {
		p.leaves[i] = a.NewPTEs()
		p.root[i] = newTableDescriptor(a.PhysicalFor(p.leaves[i]), perm)
	}
	return p
}

// Locate returns the root and leaf indices translating the window offset va.
//
// It panics if va is outside the window or not page aligned.
func Locate(va uint64) (l2, l3 int) {
	if va&hostarch.PageMask != 0 {
		panic(fmt.Sprintf("virtual address %#x is not page aligned", va))
	}
	if va >= WindowSize {
		panic(fmt.Sprintf("virtual address %#x is outside the %#x window", va, uint64(WindowSize)))
	}
	return int((va >> l2Shift) & indexMask), int((va >> l3Shift) & indexMask)
}

// BaseAddr returns the physical address of the root table, the value loaded
// into a TTBR register.
func (p *PageTables) BaseAddr() uint64 {
	return p.rootPhysical
}

func (p *PageTables) entry(va uint64) *PTE {
	p.checkLive()
	l2, l3 := Locate(va)
	return &p.leaves[l2][l3]
}

func (p *PageTables) checkLive() {
	if p.released {
		panic("use of released page tables")
	}
}

// Entry returns the leaf entry translating va.
func (p *PageTables) Entry(va uint64) PTE {
	return *p.entry(va)
}

// SetEntry replaces the leaf entry translating va.
func (p *PageTables) SetEntry(va uint64, pte PTE) {
	*p.entry(va) = pte
}

// IsValid returns true if the leaf entry for va is valid.
func (p *PageTables) IsValid(va uint64) bool {
	return p.Entry(va).Valid()
}

// IsInvalid returns true if the leaf entry for va is invalid.
func (p *PageTables) IsInvalid(va uint64) bool {
	return !p.IsValid(va)
}

// Walk calls fn for every valid leaf entry in address order, stopping early
// if fn returns false.
func (p *PageTables) Walk(fn func(va uint64, pte *PTE) bool) {
	p.checkLive()
	for l2, leaf := range p.leaves {
		for l3 := range leaf {
			if !leaf[l3].Valid() {
				continue
			}
			va := uint64(l2)<<l2Shift | uint64(l3)<<l3Shift
			if !fn(va, &leaf[l3]) {
				return
			}
		}
	}
}

// Release returns the table pages to the allocator. Pages mapped by leaf
// entries are not touched. Release panics if called twice.
func (p *PageTables) Release() {
	p.checkLive()
	for i, leaf := range p.leaves {
		p.root[i] = 0
		p.Allocator.FreePTEs(leaf)
		p.leaves[i] = nil
	}
	p.Allocator.FreePTEs(p.root)
	p.root = nil
	p.released = true
}

// Translate walks the tables rooted at physical address root the way the MMU
// does and returns the leaf entry for the window offset va. On failure it
// returns the level at which translation faulted.
func Translate(a Allocator, root uint64, va uint64) (pte PTE, level int, ok bool) {
	if va >= WindowSize {
		return 0, 2, false
	}
	l2 := (va >> l2Shift) & indexMask
	l3 := (va >> l3Shift) & indexMask
	desc := a.LookupPTEs(root)[l2]
	if !desc.Valid() {
		return 0, 2, false
	}
	pte = a.LookupPTEs(desc.Address())[l3]
	if !pte.Valid() {
		return 0, 3, false
	}
	return pte, 3, true
}
