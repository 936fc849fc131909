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

package kernel

import (
	"fmt"
	"io"

	"pikernel.dev/pikernel/pkg/abi"
	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/cleanup"
	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/log"
	"pikernel.dev/pikernel/pkg/ring0"
	"pikernel.dev/pikernel/pkg/ring0/pagetables"
)

// ID is a process id.
type ID uint64

// maxImagePages is the largest image that fits below the stack page.
const maxImagePages = (pagetables.UserStackBase - pagetables.UserImageBase) / hostarch.PageSize

// tablePages is the number of pages an empty address space uses.
const tablePages = 3

// Process is a user program with its own address space.
type Process struct {
	id   ID
	name string

	// context is the saved register state. It is live in the machine while
	// the process is Running.
	context arch.TrapFrame

	state State

	// as is nil once released.
	as *pagetables.UserPageTable
}

// Load loads the program at path into a new process. Errors are
// oserr.ErrNoEntry if path does not exist, oserr.ErrNotFile if it is a
// directory, oserr.ErrIO if it cannot be read, and oserr.ErrNoVmSpace or
// oserr.ErrNoMemory if it does not fit. Nothing is left allocated on error.
func (k *Kernel) Load(path string) (*Process, error) {
	e, err := k.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	if e.IsDir() {
		return nil, fmt.Errorf("loading %q: %w", path, oserr.ErrNotFile)
	}
	f, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	defer f.Close()

	size := f.Size()
	if size < 0 {
		return nil, fmt.Errorf("loading %q: size %d: %w", path, size, oserr.ErrIO)
	}
	pages := hostarch.PagesFor(uint64(size))
	if pages > maxImagePages {
		return nil, fmt.Errorf("loading %q: %d pages: %w", path, pages, oserr.ErrNoVmSpace)
	}
	// Mapping panics on exhaustion, so check up front.
	if need, free := pages+1+tablePages, k.mem.FreePages(); need > free {
		return nil, fmt.Errorf("loading %q: need %d pages, %d free: %w", path, need, free, oserr.ErrNoMemory)
	}

	as := pagetables.NewUser(k.tables, k.mem)
	cu := cleanup.Make(as.Release)
	defer cu.Clean()

	as.Alloc(pagetables.UserStackBase, hostarch.ReadWrite)
	remaining := uint64(size)
	for i := uint64(0); i < pages; i++ {
		page := as.Alloc(pagetables.UserImageBase+i*hostarch.PageSize, hostarch.ReadWriteExecute)
		n := min(remaining, hostarch.PageSize)
		if _, err := io.ReadFull(f, page[:n]); err != nil {
			return nil, fmt.Errorf("loading %q: page %d (%v): %w", path, i, err, oserr.ErrIO)
		}
		remaining -= n
	}

	p := &Process{
		name: path,
		context: arch.TrapFrame{
			ELR:   pagetables.UserImageBase,
			SPSR:  ring0.UserFlagsSet,
			SP:    pagetables.UserStackTop,
			TTBR0: k.kernelTables.BaseAddr(),
			TTBR1: as.BaseAddr(),
		},
		state: State{Kind: Ready},
		as:    as,
	}
	cu.Release()
	log.Debugf("Loaded %q: %d bytes in %d pages, table at %#x", path, size, pages, as.BaseAddr())
	return p, nil
}

// ID returns the process id. It is assigned on admission.
func (p *Process) ID() ID {
	return p.id
}

// Name returns the path the process was loaded from.
func (p *Process) Name() string {
	return p.name
}

// State returns the scheduling state.
func (p *Process) State() State {
	return p.state
}

// Context returns the saved register state.
func (p *Process) Context() *arch.TrapFrame {
	return &p.context
}

// AddressSpace returns the user address space, or nil once released.
func (p *Process) AddressSpace() *pagetables.UserPageTable {
	return p.as
}

// IsReady polls the process at time now. A Ready process is ready. A Waiting
// process whose condition holds has the condition's results written into its
// context, becomes Ready and is ready; if the condition does not hold the
// process is left untouched. Any other state is not ready.
func (p *Process) IsReady(now ktime.Time) bool {
	switch p.state.Kind {
	case Ready:
		return true
	case Waiting:
		switch w := p.state.Wait; w.Reason {
		case WaitDeadline:
			elapsed := now.Sub(w.Since)
			if elapsed < w.Duration {
				return false
			}
			p.context.SetSyscallReturn(abi.StatusOk, uint64(elapsed.Milliseconds()))
			p.state = State{Kind: Ready}
			return true
		default:
			panic(fmt.Sprintf("process %d waits for unknown reason %v", p.id, w.Reason))
		}
	default:
		return false
	}
}

// Release tears down the address space, returning every mapped page and the
// table pages to the allocator. It panics if called twice.
func (p *Process) Release() {
	if p.as == nil {
		panic(fmt.Sprintf("process %d released twice", p.id))
	}
	p.as.Release()
	p.as = nil
}

// Info is a snapshot of a process for display.
type Info struct {
	ID    ID
	Name  string
	State string
	Pages int
}

// info returns a snapshot of p.
func (p *Process) info() Info {
	i := Info{ID: p.id, Name: p.name, State: p.state.String()}
	if p.as != nil {
		i.Pages = p.as.MappedPages()
	}
	return i
}
