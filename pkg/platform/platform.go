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

// Package platform provides the Machine abstraction: the processor, MMU,
// interrupt controller and system timer the kernel runs on.
//
// See Machine for more information.
package platform

import (
	"context"
	"errors"
	"time"

	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/irq"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/ring0"
)

// ErrHalted is returned by Machine methods once the machine can make no
// further progress: nothing is runnable and no interrupt can arrive.
var ErrHalted = errors.New("machine halted")

// ExceptionHandler is the kernel side of the exception vector table.
type ExceptionHandler interface {
	// HandleException is called for every exception taken while the
	// machine runs. info identifies the vector entry, esr is the syndrome
	// (zero for asynchronous exceptions) and tf is the saved context,
	// which the handler may modify or replace before it is restored.
	//
	// A non-nil error stops the machine and is returned from Resume.
	HandleException(ctx context.Context, info ring0.Info, esr uint32, tf *arch.TrapFrame) error
}

// Timer is the system timer. Its interrupt is irq.Timer1.
type Timer interface {
	// TickIn acknowledges any pending timer interrupt and arms the timer to
	// interrupt after d.
	TickIn(d time.Duration)
}

// Machine is a single-core machine.
type Machine interface {
	// Clock returns the system counter.
	Clock() ktime.Clock

	// Controller returns the interrupt controller.
	Controller() irq.Controller

	// Timer returns the system timer.
	Timer() Timer

	// WaitForInterrupt blocks until an enabled interrupt is pending. It
	// returns ErrHalted if none can ever become pending, or the context
	// error if ctx is done first.
	WaitForInterrupt(ctx context.Context) error

	// Resume restores tf and runs until h returns an error, ctx is done or
	// the machine halts. The error is returned.
	Resume(ctx context.Context, tf *arch.TrapFrame, h ExceptionHandler) error
}
