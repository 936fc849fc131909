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

	"pikernel.dev/pikernel/pkg/sync"
	"pikernel.dev/pikernel/pkg/usage"
)

// Frames is the physical page allocator as seen by the page table layer.
// *pgalloc.MemoryFile implements it.
type Frames interface {
	// Allocate returns the physical address of a zeroed page.
	Allocate(kind usage.MemoryKind) (uint64, error)

	// Free returns a page to the allocator.
	Free(pa uint64)

	// Slice returns the page at pa as bytes aliasing physical memory.
	Slice(pa uint64) []byte
}

// Allocator is used to allocate and map PTEs.
//
// Note that allocators may be called concurrently.
type Allocator interface {
	// NewPTEs returns a new set of PTEs and their physical address.
	NewPTEs() *PTEs

	// PhysicalFor gives the physical address for a set of PTEs.
	PhysicalFor(ptes *PTEs) uint64

	// LookupPTEs looks up PTEs by physical address.
	LookupPTEs(physical uint64) *PTEs

	// FreePTEs returns a set of PTEs to the allocator.
	FreePTEs(ptes *PTEs)
}

// FrameAllocator is an Allocator placing tables in physical pages from
// Frames, so the MMU can walk them.
type FrameAllocator struct {
	frames Frames

	mu sync.Mutex

	// physical maps tables handed out by NewPTEs to their addresses.
	// physical is protected by mu.
	physical map[*PTEs]uint64
}

// NewFrameAllocator returns an allocator backed by frames.
func NewFrameAllocator(frames Frames) *FrameAllocator {
	return &FrameAllocator{
		frames:   frames,
		physical: make(map[*PTEs]uint64),
	}
}

// NewPTEs implements Allocator.NewPTEs.
//
// Exhaustion of physical memory while building an address space is fatal.
func (a *FrameAllocator) NewPTEs() *PTEs {
	pa, err := a.frames.Allocate(usage.PageTables)
	if err != nil {
		panic(fmt.Sprintf("allocating page table: %v", err))
	}
	ptes := ptesFromPage(a.frames.Slice(pa))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.physical[ptes] = pa
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *FrameAllocator) PhysicalFor(ptes *PTEs) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	pa, ok := a.physical[ptes]
	if !ok {
		panic(fmt.Sprintf("table %p was not allocated by this allocator", ptes))
	}
	return pa
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *FrameAllocator) LookupPTEs(physical uint64) *PTEs {
	return ptesFromPage(a.frames.Slice(physical))
}

// FreePTEs implements Allocator.FreePTEs.
func (a *FrameAllocator) FreePTEs(ptes *PTEs) {
	a.mu.Lock()
	pa, ok := a.physical[ptes]
	delete(a.physical, ptes)
	a.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("freeing table %p which is not allocated", ptes))
	}
	a.frames.Free(pa)
}
