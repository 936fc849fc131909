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
)

// Default kernel IO window.
const (
	IOBase = 0x3f00_0000
	IOEnd  = 0x4000_0000
)

// NewKernel builds the kernel translation tables, reached through TTBR0.
// Physical RAM [0, ramSize) is identity mapped as normal memory, kernel
// read-write-execute. The IO window [ioBase, ioEnd) is identity mapped as
// device memory, kernel read-write and never executable.
func NewKernel(a Allocator, ramSize, ioBase, ioEnd uint64) (*PageTables, error) {
	for _, v := range []uint64{ramSize, ioBase, ioEnd} {
		if !hostarch.Addr(v).IsPageAligned() {
			return nil, fmt.Errorf("kernel layout address %#x is not page aligned", v)
		}
	}
	if ioBase > ioEnd || ioEnd > WindowSize {
		return nil, fmt.Errorf("IO window [%#x, %#x) does not fit in the %#x window", ioBase, ioEnd, uint64(WindowSize))
	}
	if ramSize > ioBase {
		return nil, fmt.Errorf("RAM size %#x overlaps the IO window at %#x", ramSize, ioBase)
	}

	p := New(a, KernelRW)
	for pa := uint64(0); pa < ramSize; pa += hostarch.PageSize {
		p.SetEntry(pa, mustNewPTE(pa, MapOpts{
			AccessType: hostarch.ReadWriteExecute,
			MemoryType: hostarch.MemoryTypeWriteBack,
		}))
	}
	for pa := ioBase; pa < ioEnd; pa += hostarch.PageSize {
		p.SetEntry(pa, mustNewPTE(pa, MapOpts{
			AccessType: hostarch.ReadWrite,
			MemoryType: hostarch.MemoryTypeUncached,
		}))
	}
	return p, nil
}
