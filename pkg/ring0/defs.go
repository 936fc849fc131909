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

// Package ring0 describes the privileged side of the machine: processor state
// bits, exception classification and the syndrome register.
package ring0

import "fmt"

const (
	// DAIF bits:debug, sError, IRQ, FIQ.
	PsrDBit      = 0x00000200
	PsrABit      = 0x00000100
	PsrIBit      = 0x00000080
	PsrFBit      = 0x00000040
	PsrDAIFShift = 6
	PsrDAIFMask  = 0xf << PsrDAIFShift

	// PSR modes.
	PsrModeEL0t = 0x00000000
	PsrModeEL1t = 0x00000004
	PsrModeEL1h = 0x00000005
	PsrModeMask = 0x0000000f

	// Condition flags.
	PsrNBit = 0x80000000
	PsrZBit = 0x40000000
	PsrCBit = 0x20000000
	PsrVBit = 0x10000000

	PsrFlagsClear = PsrModeMask | PsrDAIFMask

	// KernelFlagsSet should always be set in the kernel.
	KernelFlagsSet = PsrModeEL1h | PsrDBit | PsrABit | PsrIBit | PsrFBit

	// UserFlagsSet is the initial processor state of a process: EL0 with
	// IRQs deliverable, so the timer can preempt it, and debug, SError and
	// FIQ masked.
	UserFlagsSet = PsrModeEL0t | PsrDBit | PsrABit | PsrFBit
)

// Kind is the kind of an exception, and its index within a group of the
// vector table.
type Kind uint8

// Exception kinds.
const (
	Synchronous Kind = iota
	Irq
	Fiq
	SError
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case Synchronous:
		return "Synchronous"
	case Irq:
		return "Irq"
	case Fiq:
		return "Fiq"
	case SError:
		return "SError"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Source is where an exception was taken from, and the group of the vector
// table that handles it.
type Source uint8

// Exception sources.
const (
	CurrentSpEl0 Source = iota
	CurrentSpElx
	LowerAArch64
	LowerAArch32
)

// String implements fmt.Stringer.String.
func (s Source) String() string {
	switch s {
	case CurrentSpEl0:
		return "CurrentSpEl0"
	case CurrentSpElx:
		return "CurrentSpElx"
	case LowerAArch64:
		return "LowerAArch64"
	case LowerAArch32:
		return "LowerAArch32"
	default:
		return fmt.Sprintf("Source(%d)", s)
	}
}

// IsUser returns true if the exception was taken from user mode.
func (s Source) IsUser() bool {
	return s == LowerAArch64 || s == LowerAArch32
}

// Info identifies the vector table entry that took an exception.
type Info struct {
	Source Source
	Kind   Kind
}

// VectorEntrySize is the size of one vector table entry.
const VectorEntrySize = 0x80

// VectorOffset returns the offset of i's entry from VBAR_EL1.
func (i Info) VectorOffset() uint64 {
	return VectorEntrySize * (4*uint64(i.Source) + uint64(i.Kind))
}

// String implements fmt.Stringer.String.
func (i Info) String() string {
	return fmt.Sprintf("%v/%v", i.Source, i.Kind)
}
