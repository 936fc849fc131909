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

// Package traps dispatches exceptions taken by the machine: syscalls,
// breakpoints and faults from user programs, and device interrupts.
package traps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/irq"
	"pikernel.dev/pikernel/pkg/kernel"
	"pikernel.dev/pikernel/pkg/log"
	"pikernel.dev/pikernel/pkg/platform"
	"pikernel.dev/pikernel/pkg/ring0"
	"pikernel.dev/pikernel/pkg/syscalls"
)

// warnEvery bounds how often repeated warnings on the trap path are logged.
const warnEvery = time.Second

// PanicError is a kernel panic: an exception the kernel cannot recover from.
type PanicError struct {
	Info     ring0.Info
	Syndrome ring0.Syndrome
	Reason   string

	// Frame is the register state at the exception.
	Frame arch.TrapFrame
}

// Error implements error.Error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("kernel panic: %s: %v %v at %#x", e.Reason, e.Info, e.Syndrome, e.Frame.ELR)
}

// Dispatcher implements platform.ExceptionHandler for a kernel.
type Dispatcher struct {
	k        *kernel.Kernel
	syscalls *syscalls.Table

	// faultLog and irqLog rate limit warnings about user faults and
	// unhandled interrupts.
	faultLog log.Logger
	irqLog   log.Logger
}

var _ platform.ExceptionHandler = (*Dispatcher)(nil)

// New returns a Dispatcher serving syscalls from table.
func New(k *kernel.Kernel, table *syscalls.Table) *Dispatcher {
	return &Dispatcher{
		k:        k,
		syscalls: table,
		faultLog: log.BasicRateLimitedLogger(warnEvery),
		irqLog:   log.BasicRateLimitedLogger(warnEvery),
	}
}

// HandleException implements platform.ExceptionHandler.HandleException.
func (d *Dispatcher) HandleException(ctx context.Context, info ring0.Info, esr uint32, tf *arch.TrapFrame) error {
	if info.Kind <= ring0.SError {
		exceptionsMetric.Increment(info.Kind.String())
	}
	switch info.Kind {
	case ring0.Synchronous:
		return d.synchronous(ctx, info, ring0.DecodeSyndrome(esr), tf)
	case ring0.Irq:
		return d.interrupt(ctx, tf)
	default:
		return newPanic(info, ring0.DecodeSyndrome(esr), tf, "unexpected exception")
	}
}

func newPanic(info ring0.Info, s ring0.Syndrome, tf *arch.TrapFrame, reason string) *PanicError {
	return &PanicError{Info: info, Syndrome: s, Reason: reason, Frame: *tf}
}

func (d *Dispatcher) synchronous(ctx context.Context, info ring0.Info, s ring0.Syndrome, tf *arch.TrapFrame) error {
	switch s.Class {
	case ring0.ClassBrk:
		log.Debugf("Process %d: brk #%d at %#x", tf.PID(), s.Imm, tf.ELR)
		// ELR points at the BRK itself.
		tf.ELR += 4
		return nil
	case ring0.ClassSvc:
		sc, ok := d.syscalls.Lookup(s.Imm)
		if !ok {
			syscallsMetric.Increment(unknownSyscall)
			return newPanic(info, s, tf, fmt.Sprintf("unknown syscall %d", s.Imm))
		}
		syscallsMetric.Increment(syscallField(sc.Name))
		if log.IsLogging(log.Debug) {
			log.Debugf("Process %d: %s(%#x)", tf.PID(), sc.Name, tf.SyscallArg())
		}
		return sc.Fn(ctx, d.k, tf)
	}

	if !info.Source.IsUser() {
		return newPanic(info, s, tf, "kernel fault")
	}
	faultsMetric.Increment()
	d.faultLog.Warningf("Process %d killed: %v at %#x", tf.PID(), s, tf.ELR)
	if _, ok := d.k.Scheduler().Kill(tf); !ok {
		return newPanic(info, s, tf, "user fault without a running process")
	}
	_, err := d.k.Scheduler().SwitchTo(ctx, tf)
	return err
}

// interrupt invokes the handler of every pending source, in source order.
func (d *Dispatcher) interrupt(ctx context.Context, tf *arch.TrapFrame) error {
	ctrl := d.k.Machine().Controller()
	for _, src := range irq.Sources {
		if !ctrl.IsPending(src) {
			continue
		}
		err := d.k.IRQs().Invoke(ctx, src, tf)
		if errors.Is(err, irq.ErrNoHandler) {
			d.irqLog.Warningf("Interrupt %v pending without a handler", src)
			continue
		}
		if err != nil {
			return err
		}
		interruptsMetric.Increment(src.String())
	}
	return nil
}
