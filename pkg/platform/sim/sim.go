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

// Package sim implements platform.Machine with an interpreter for a subset of
// the A64 instruction set.
//
// The interpreter executes directly on the trap frame: ELR is the program
// counter and SPSR the processor state, so taking an exception only has to
// fix up ELR before calling the handler, and returning from it is a no-op.
// Memory accesses are translated through the page tables that TTBR0 (kernel
// addresses) and TTBR1 (the user window) point to.
package sim

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/irq"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/log"
	"pikernel.dev/pikernel/pkg/platform"
	"pikernel.dev/pikernel/pkg/ring0"
	"pikernel.dev/pikernel/pkg/ring0/pagetables"
)

// DefaultInsnTime is the synthetic duration of one instruction.
const DefaultInsnTime = 10 * time.Nanosecond

// ctxCheckInterval is the number of instructions between context checks.
const ctxCheckInterval = 4096

// Memory is physical memory. *pgalloc.MemoryFile implements it.
type Memory interface {
	// Slice returns the page at pa.
	Slice(pa uint64) []byte

	// Size returns the size of physical memory.
	Size() uint64
}

// Options configures a Machine.
type Options struct {
	// Memory is physical memory.
	Memory Memory

	// Tables resolves the physical addresses of translation tables.
	Tables pagetables.Allocator

	// Realtime selects the host monotonic clock. Otherwise the machine
	// uses a synthetic clock that advances InsnTime per instruction and
	// skips ahead to the next timer deadline when the machine is idle.
	Realtime bool

	// InsnTime is the synthetic duration of an instruction. If zero,
	// DefaultInsnTime is used.
	InsnTime time.Duration
}

// Stats are execution counters.
type Stats struct {
	Instructions uint64
	Exceptions   uint64
	Interrupts   uint64
}

// Machine is a simulated single-core machine.
type Machine struct {
	mem    Memory
	tables pagetables.Allocator
	ctrl   *Controller
	timer  *systemTimer
	clock  ktime.Clock

	// synthetic is the clock in synthetic mode, nil in realtime mode.
	synthetic *ktime.SyntheticClock
	insnTime  time.Duration

	instructions atomic.Uint64
	exceptions   atomic.Uint64
	interrupts   atomic.Uint64
}

var _ platform.Machine = (*Machine)(nil)

// New returns a new Machine.
func New(opts Options) (*Machine, error) {
	if opts.Memory == nil || opts.Tables == nil {
		return nil, fmt.Errorf("machine needs memory and a table allocator")
	}
	if opts.InsnTime < 0 {
		return nil, fmt.Errorf("negative instruction time %v", opts.InsnTime)
	}
	m := &Machine{
		mem:      opts.Memory,
		tables:   opts.Tables,
		ctrl:     newController(),
		insnTime: opts.InsnTime,
	}
	if m.insnTime == 0 {
		m.insnTime = DefaultInsnTime
	}
	if opts.Realtime {
		m.clock = ktime.NewMonotonicClock()
	} else {
		m.synthetic = &ktime.SyntheticClock{}
		m.clock = m.synthetic
	}
	m.timer = newSystemTimer(m.clock, m.ctrl)
	log.Debugf("Machine: %d bytes of RAM, realtime: %t, instruction time: %v", opts.Memory.Size(), opts.Realtime, m.insnTime)
	return m, nil
}

// Release stops the system timer.
func (m *Machine) Release() {
	m.timer.destroy()
}

// Clock implements platform.Machine.Clock.
func (m *Machine) Clock() ktime.Clock {
	return m.clock
}

// Controller implements platform.Machine.Controller.
func (m *Machine) Controller() irq.Controller {
	return m.ctrl
}

// Interrupts returns the concrete interrupt controller, for raising device
// interrupts.
func (m *Machine) Interrupts() *Controller {
	return m.ctrl
}

// Timer implements platform.Machine.Timer.
func (m *Machine) Timer() platform.Timer {
	return m.timer
}

// Stats returns the execution counters.
func (m *Machine) Stats() Stats {
	return Stats{
		Instructions: m.instructions.Load(),
		Exceptions:   m.exceptions.Load(),
		Interrupts:   m.interrupts.Load(),
	}
}

// WaitForInterrupt implements platform.Machine.WaitForInterrupt.
//
// In synthetic mode the clock jumps to the next timer deadline.
func (m *Machine) WaitForInterrupt(ctx context.Context) error {
	for {
		if m.ctrl.anyPending() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.synthetic != nil {
			next, ok := m.synthetic.NextExpiration()
			if !ok {
				return platform.ErrHalted
			}
			m.synthetic.Store(next)
			continue
		}
		if !m.timer.armed.Load() {
			if m.ctrl.anyPending() {
				return nil
			}
			return platform.ErrHalted
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctrl.wake:
		}
	}
}

// Resume implements platform.Machine.Resume.
func (m *Machine) Resume(ctx context.Context, tf *arch.TrapFrame, h platform.ExceptionHandler) error {
	for n := uint64(0); ; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		user := isUser(tf)
		if tf.SPSR&ring0.PsrIBit == 0 && m.ctrl.anyPending() {
			m.interrupts.Add(1)
			if err := m.take(ctx, h, tf, ring0.Info{Source: source(user), Kind: ring0.Irq}, 0); err != nil {
				return err
			}
			continue
		}
		esr, trapped, err := m.step(ctx, tf, user)
		if err != nil {
			return err
		}
		m.retire()
		if trapped {
			if err := m.take(ctx, h, tf, ring0.Info{Source: source(user), Kind: ring0.Synchronous}, esr); err != nil {
				return err
			}
		}
	}
}

// take delivers an exception. tf.ELR already holds the return address.
func (m *Machine) take(ctx context.Context, h platform.ExceptionHandler, tf *arch.TrapFrame, info ring0.Info, esr uint32) error {
	m.exceptions.Add(1)
	return h.HandleException(ctx, info, esr, tf)
}

// retire accounts for one executed instruction.
func (m *Machine) retire() {
	m.instructions.Add(1)
	if m.synthetic != nil {
		m.synthetic.Add(m.insnTime)
	}
}

func isUser(tf *arch.TrapFrame) bool {
	return tf.SPSR&ring0.PsrModeMask == ring0.PsrModeEL0t
}

func source(user bool) ring0.Source {
	if user {
		return ring0.LowerAArch64
	}
	return ring0.CurrentSpElx
}
