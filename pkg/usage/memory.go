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

// Package usage tracks physical memory usage by kind.
package usage

import (
	"fmt"
	"sync/atomic"
)

// MemoryKind represents a type of memory handed out by the page allocator.
type MemoryKind int

const (
	// System represents miscellaneous kernel memory.
	System MemoryKind = iota

	// Anonymous represents user memory: program images and stacks.
	Anonymous

	// PageTables represents memory holding translation tables, both the
	// kernel table and per-process tables.
	PageTables

	// NumMemoryKinds is the number of memory kinds.
	NumMemoryKinds
)

// String implements fmt.Stringer.String.
func (k MemoryKind) String() string {
	switch k {
	case System:
		return "System"
	case Anonymous:
		return "Anonymous"
	case PageTables:
		return "PageTables"
	default:
		return fmt.Sprintf("MemoryKind(%d)", int(k))
	}
}

// MemoryStats tracks memory usage in bytes. All fields correspond to the
// memory kind with the same name. This object is thread-safe if accessed
// through the provided methods. The public fields may be safely accessed
// directly on a copy of the object obtained from Copy.
type MemoryStats struct {
	System     uint64
	Anonymous  uint64
	PageTables uint64
}

func (ms *MemoryStats) val(k MemoryKind) *uint64 {
	switch k {
	case System:
		return &ms.System
	case Anonymous:
		return &ms.Anonymous
	case PageTables:
		return &ms.PageTables
	}
	panic(fmt.Sprintf("unknown memory kind: %v", k))
}

// Inc adds an additional usage of val bytes to memory kind k.
func (ms *MemoryStats) Inc(val uint64, k MemoryKind) {
	atomic.AddUint64(ms.val(k), val)
}

// Dec removes a usage of val bytes from memory kind k.
func (ms *MemoryStats) Dec(val uint64, k MemoryKind) {
	atomic.AddUint64(ms.val(k), ^(val - 1))
}

// Copy returns a copy of the structure with a total.
func (ms *MemoryStats) Copy() (MemoryStats, uint64) {
	var ret MemoryStats
	ret.System = atomic.LoadUint64(&ms.System)
	ret.Anonymous = atomic.LoadUint64(&ms.Anonymous)
	ret.PageTables = atomic.LoadUint64(&ms.PageTables)
	return ret, ret.System + ret.Anonymous + ret.PageTables
}
