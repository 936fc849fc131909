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

// Package pgalloc contains the physical memory of the machine and the page
// allocator that hands it out.
//
// Physical memory is a single arena addressed from zero. Pages are identified
// by their physical address; the allocator owns every free page and callers
// own what they allocate until they Free it. Page tables only hold
// non-owning physical addresses.
package pgalloc

import (
	"fmt"

	"github.com/google/btree"
	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/log"
	"pikernel.dev/pikernel/pkg/sync"
	"pikernel.dev/pikernel/pkg/usage"
)

// Options configures a MemoryFile.
type Options struct {
	// Size is the amount of physical RAM in bytes. It must be a non-zero
	// multiple of hostarch.PageSize.
	Size uint64

	// Reserved is the number of bytes at the bottom of RAM holding the
	// kernel image. They are never handed out.
	Reserved uint64
}

// MemoryFile is the machine's physical memory and its page allocator.
type MemoryFile struct {
	// mem backs physical addresses [0, len(mem)). mem is immutable.
	mem []byte

	// reserved is the first allocatable physical address. reserved is
	// immutable.
	reserved uint64

	mu sync.Mutex

	// free is the set of free pages ordered by address, so allocation
	// always returns the lowest free page. free is protected by mu.
	free *btree.BTreeG[uint64]

	// owned maps each allocated page to the kind it was allocated for.
	// owned is protected by mu.
	owned map[uint64]usage.MemoryKind

	// stats is updated atomically.
	stats usage.MemoryStats
}

// New creates a MemoryFile with every page above opts.Reserved free.
func New(opts Options) (*MemoryFile, error) {
	if opts.Size == 0 || !hostarch.Addr(opts.Size).IsPageAligned() {
		return nil, fmt.Errorf("memory size %#x is not a non-zero multiple of the page size", opts.Size)
	}
	reserved, ok := hostarch.Addr(opts.Reserved).RoundUp()
	if !ok || uint64(reserved) >= opts.Size {
		return nil, fmt.Errorf("reserved region %#x leaves no allocatable memory in %#x", opts.Reserved, opts.Size)
	}
	f := &MemoryFile{
		mem:      make([]byte, opts.Size),
		reserved: uint64(reserved),
		free:     btree.NewOrderedG[uint64](32),
		owned:    make(map[uint64]usage.MemoryKind),
	}
	for pa := f.reserved; pa < opts.Size; pa += hostarch.PageSize {
		f.free.ReplaceOrInsert(pa)
	}
	f.stats.Inc(f.reserved, usage.System)
	log.Debugf("Physical memory: %#x bytes, %d pages allocatable from %#x", opts.Size, f.free.Len(), f.reserved)
	return f, nil
}

// Allocate returns the physical address of a zeroed page. It returns
// oserr.ErrNoMemory if no page is free.
func (f *MemoryFile) Allocate(kind usage.MemoryKind) (uint64, error) {
	f.mu.Lock()
	pa, ok := f.free.DeleteMin()
	if !ok {
		f.mu.Unlock()
		return 0, oserr.ErrNoMemory
	}
	f.owned[pa] = kind
	f.mu.Unlock()

	clear(f.page(pa))
	f.stats.Inc(hostarch.PageSize, kind)
	return pa, nil
}

// Free returns the page at pa to the allocator. It panics if pa was not
// allocated, since that means two owners believed they held the page.
func (f *MemoryFile) Free(pa uint64) {
	f.mu.Lock()
	kind, ok := f.owned[pa]
	if !ok {
		f.mu.Unlock()
		panic(fmt.Sprintf("freeing page %#x which is not allocated", pa))
	}
	delete(f.owned, pa)
	f.free.ReplaceOrInsert(pa)
	f.mu.Unlock()

	f.stats.Dec(hostarch.PageSize, kind)
}

// Slice returns the page at pa as a byte slice aliasing physical memory. pa
// must be page-aligned and inside RAM; it need not be allocated, since the
// kernel maps all of RAM.
func (f *MemoryFile) Slice(pa uint64) []byte {
	if !hostarch.Addr(pa).IsPageAligned() || pa >= uint64(len(f.mem)) {
		panic(fmt.Sprintf("physical address %#x is not a page of RAM", pa))
	}
	return f.page(pa)
}

func (f *MemoryFile) page(pa uint64) []byte {
	return f.mem[pa : pa+hostarch.PageSize : pa+hostarch.PageSize]
}

// IsAllocated returns true if the page at pa is currently allocated.
func (f *MemoryFile) IsAllocated(pa uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.owned[pa]
	return ok
}

// Size returns the size of physical memory in bytes.
func (f *MemoryFile) Size() uint64 {
	return uint64(len(f.mem))
}

// TotalPages returns the number of allocatable pages.
func (f *MemoryFile) TotalPages() uint64 {
	return (uint64(len(f.mem)) - f.reserved) / hostarch.PageSize
}

// FreePages returns the number of free pages.
func (f *MemoryFile) FreePages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(f.free.Len())
}

// Usage returns memory usage by kind, including the reserved kernel image
// as System memory.
func (f *MemoryFile) Usage() usage.MemoryStats {
	stats, _ := f.stats.Copy()
	return stats
}
