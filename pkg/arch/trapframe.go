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

// Package arch describes the register state exchanged between user programs
// and the kernel on every exception.
package arch

import (
	"fmt"
	"strings"

	"pikernel.dev/pikernel/pkg/abi"
)

// Vector128 is one 128-bit SIMD and floating point register.
type Vector128 struct {
	Lo uint64
	Hi uint64
}

// TrapFrame is the register snapshot saved on exception entry and restored
// by the exception return sequence.
//
// The layout is fixed: the vector table stubs save and restore registers at
// the offsets that ring0.Emit generates from this type. Do not reorder,
// resize or insert fields without regenerating them.
type TrapFrame struct {
	// ELR is the exception link register: the address execution resumes
	// at.
	ELR uint64

	// SPSR is the saved program status register: condition flags, DAIF
	// interrupt masks and the exception level to return to.
	SPSR uint64

	// SP is the user (SP_EL0) stack pointer.
	SP uint64

	// TPIDR holds the process id (TPIDR_EL0).
	TPIDR uint64

	// TTBR0 is the base of the kernel translation table.
	TTBR0 uint64

	// TTBR1 is the base of the process's translation table.
	TTBR1 uint64

	// Q is the SIMD register bank q0..q31.
	Q [32]Vector128

	// X holds the general purpose registers x0..x29.
	X [30]uint64

	// LR is x30.
	LR uint64

	// XZR pads the frame to a multiple of 16 bytes. The restore sequence
	// pops it in a pair with LR.
	XZR uint64
}

// TrapFrameSize is the size of a TrapFrame in bytes.
const TrapFrameSize = 816

// Registers of the syscall ABI.
const (
	// SyscallArgReg carries the syscall argument.
	SyscallArgReg = 0

	// SyscallResultRegs carry syscall results, in order.
	SyscallResultReg0 = 0
	SyscallResultReg1 = 1

	// SyscallStatusReg carries the abi.Status of every syscall.
	SyscallStatusReg = 7
)

// LinkReg is the register number of the link register.
const LinkReg = 30

// Reg returns general purpose register n, where 30 is the link register and
// 31 reads as zero.
func (tf *TrapFrame) Reg(n int) uint64 {
	switch {
	case n < len(tf.X):
		return tf.X[n]
	case n == LinkReg:
		return tf.LR
	case n == 31:
		return 0
	}
	panic(fmt.Sprintf("invalid register x%d", n))
}

// SetReg sets general purpose register n. Writes to register 31 are
// discarded.
func (tf *TrapFrame) SetReg(n int, v uint64) {
	switch {
	case n < len(tf.X):
		tf.X[n] = v
	case n == LinkReg:
		tf.LR = v
	case n == 31:
	default:
		panic(fmt.Sprintf("invalid register x%d", n))
	}
}

// IP returns the address execution resumes at.
func (tf *TrapFrame) IP() uint64 {
	return tf.ELR
}

// SetIP sets the address execution resumes at.
func (tf *TrapFrame) SetIP(v uint64) {
	tf.ELR = v
}

// Stack returns the user stack pointer.
func (tf *TrapFrame) Stack() uint64 {
	return tf.SP
}

// PID returns the id of the process this frame belongs to.
func (tf *TrapFrame) PID() uint64 {
	return tf.TPIDR
}

// SyscallArg returns the syscall argument.
func (tf *TrapFrame) SyscallArg() uint64 {
	return tf.X[SyscallArgReg]
}

// SetSyscallReturn stores a syscall status and up to two results.
func (tf *TrapFrame) SetSyscallReturn(status abi.Status, results ...uint64) {
	if len(results) > 2 {
		panic(fmt.Sprintf("syscall returns %d results, at most 2 fit", len(results)))
	}
	for i, v := range results {
		tf.X[SyscallResultReg0+i] = v
	}
	tf.X[SyscallStatusReg] = uint64(status)
}

// SyscallStatus returns the status of the last syscall.
func (tf *TrapFrame) SyscallStatus() abi.Status {
	return abi.Status(tf.X[SyscallStatusReg])
}

// String returns a register dump.
func (tf *TrapFrame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ELR:   %#016x SPSR:  %#016x\n", tf.ELR, tf.SPSR)
	fmt.Fprintf(&b, "SP:    %#016x TPIDR: %#016x\n", tf.SP, tf.TPIDR)
	fmt.Fprintf(&b, "TTBR0: %#016x TTBR1: %#016x\n", tf.TTBR0, tf.TTBR1)
	for i := 0; i < len(tf.X); i += 2 {
		fmt.Fprintf(&b, "x%-2d:   %#016x x%-2d:   %#016x\n", i, tf.X[i], i+1, tf.X[i+1])
	}
	fmt.Fprintf(&b, "LR:    %#016x", tf.LR)
	return b.String()
}
