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

// Package kernel provides the process model and the scheduler.
//
// The Kernel object holds the collaborators that boot constructs once: the
// filesystem programs are loaded from, physical memory, the shared kernel
// translation table, the console, the machine and the scheduler. Nothing in
// this package is a global.
package kernel

import (
	"fmt"
	"math"
	"time"

	"pikernel.dev/pikernel/pkg/console"
	"pikernel.dev/pikernel/pkg/fs"
	"pikernel.dev/pikernel/pkg/irq"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/log"
	"pikernel.dev/pikernel/pkg/pgalloc"
	"pikernel.dev/pikernel/pkg/platform"
	"pikernel.dev/pikernel/pkg/ring0/pagetables"
)

// DefaultTick is the default preemption interval.
const DefaultTick = 10 * time.Millisecond

// Options configures a Kernel.
type Options struct {
	// FS is the filesystem programs are loaded from.
	FS fs.FileSystem

	// Memory is physical memory.
	Memory *pgalloc.MemoryFile

	// Tables allocates translation tables in Memory.
	Tables pagetables.Allocator

	// Machine is the machine the kernel runs on.
	Machine platform.Machine

	// Console is the console device.
	Console *console.Console

	// Tick is the preemption interval. If zero, DefaultTick is used.
	Tick time.Duration

	// MaxID is the largest process id. If zero, the id space is
	// unbounded.
	MaxID ID

	// IOBase and IOEnd bound the device window of the kernel table. If
	// both are zero, the default window is used.
	IOBase uint64
	IOEnd  uint64
}

// Kernel is the kernel.
type Kernel struct {
	fs           fs.FileSystem
	mem          *pgalloc.MemoryFile
	tables       pagetables.Allocator
	kernelTables *pagetables.PageTables
	machine      platform.Machine
	console      *console.Console
	irqs         *irq.Registry
	scheduler    *GlobalScheduler
}

// New builds the kernel translation table and returns a Kernel ready to load
// processes.
func New(opts Options) (*Kernel, error) {
	if opts.FS == nil || opts.Memory == nil || opts.Tables == nil || opts.Machine == nil || opts.Console == nil {
		return nil, fmt.Errorf("kernel options are incomplete: %+v", opts)
	}
	if opts.Tick < 0 {
		return nil, fmt.Errorf("negative tick %v", opts.Tick)
	}
	if opts.Tick == 0 {
		opts.Tick = DefaultTick
	}
	if opts.MaxID == 0 {
		opts.MaxID = math.MaxUint64
	}
	if opts.IOBase == 0 && opts.IOEnd == 0 {
		opts.IOBase, opts.IOEnd = pagetables.IOBase, pagetables.IOEnd
	}
	kt, err := pagetables.NewKernel(opts.Tables, opts.Memory.Size(), opts.IOBase, opts.IOEnd)
	if err != nil {
		return nil, fmt.Errorf("building kernel page tables: %w", err)
	}
	k := &Kernel{
		fs:           opts.FS,
		mem:          opts.Memory,
		tables:       opts.Tables,
		kernelTables: kt,
		machine:      opts.Machine,
		console:      opts.Console,
		irqs:         &irq.Registry{},
	}
	k.scheduler = NewGlobalScheduler(NewScheduler(opts.Machine.Clock(), opts.MaxID), opts.Machine, k.irqs, opts.Tick)
	log.Infof("Kernel table at %#x, tick %v", kt.BaseAddr(), opts.Tick)
	return k, nil
}

// Now returns the current monotonic time.
func (k *Kernel) Now() ktime.Time {
	return k.machine.Clock().Now()
}

// Console returns the console device.
func (k *Kernel) Console() *console.Console {
	return k.console
}

// Machine returns the machine.
func (k *Kernel) Machine() platform.Machine {
	return k.machine
}

// Memory returns physical memory.
func (k *Kernel) Memory() *pgalloc.MemoryFile {
	return k.mem
}

// IRQs returns the interrupt handler registry.
func (k *Kernel) IRQs() *irq.Registry {
	return k.irqs
}

// Scheduler returns the scheduler.
func (k *Kernel) Scheduler() *GlobalScheduler {
	return k.scheduler
}

// KernelTables returns the shared kernel translation table.
func (k *Kernel) KernelTables() *pagetables.PageTables {
	return k.kernelTables
}

// Initialize loads the programs at paths and admits them, in order. On
// error, nothing is admitted.
func (k *Kernel) Initialize(paths []string) ([]ID, error) {
	procs := make([]*Process, 0, len(paths))
	for _, path := range paths {
		p, err := k.Load(path)
		if err != nil {
			for _, p := range procs {
				p.Release()
			}
			return nil, err
		}
		procs = append(procs, p)
	}
	return k.scheduler.Initialize(procs)
}
