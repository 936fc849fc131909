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

package hostarch

import "fmt"

// MemoryType selects how the CPU may cache, gather and reorder accesses to a
// page. It picks the attribute index of leaf page table entries.
type MemoryType uint8

const (
	// MemoryTypeWriteBack is normal cacheable RAM. It is the zero value.
	MemoryTypeWriteBack MemoryType = iota

	// MemoryTypeUncached is Device-nGnRnE memory, for peripheral registers.
	MemoryTypeUncached

	// MemoryTypeWriteCombine is normal non-cacheable memory.
	MemoryTypeWriteCombine
)

// IsDevice returns true if accesses to mt must reach the device in program
// order, one at a time.
func (mt MemoryType) IsDevice() bool {
	return mt == MemoryTypeUncached
}

// Cacheable returns true if mt may be held in the data caches.
func (mt MemoryType) Cacheable() bool {
	return mt == MemoryTypeWriteBack
}

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeWriteBack:
		return "Normal"
	case MemoryTypeUncached:
		return "Device"
	case MemoryTypeWriteCombine:
		return "NonCacheable"
	default:
		return fmt.Sprintf("MemoryType(%d)", uint8(mt))
	}
}
