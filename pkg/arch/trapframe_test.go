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

package arch

import (
	"strings"
	"testing"
	"unsafe"

	"pikernel.dev/pikernel/pkg/abi"
)

func TestTrapFrameLayout(t *testing.T) {
	var tf TrapFrame
	if got := unsafe.Sizeof(tf); got != TrapFrameSize {
		t.Fatalf("sizeof(TrapFrame) = %d, want %d", got, TrapFrameSize)
	}
	if TrapFrameSize%16 != 0 {
		t.Errorf("TrapFrameSize %d breaks stack alignment", TrapFrameSize)
	}
	for _, tc := range []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"ELR", unsafe.Offsetof(tf.ELR), 0},
		{"SPSR", unsafe.Offsetof(tf.SPSR), 8},
		{"SP", unsafe.Offsetof(tf.SP), 16},
		{"TPIDR", unsafe.Offsetof(tf.TPIDR), 24},
		{"TTBR0", unsafe.Offsetof(tf.TTBR0), 32},
		{"TTBR1", unsafe.Offsetof(tf.TTBR1), 40},
		{"Q", unsafe.Offsetof(tf.Q), 48},
		{"X", unsafe.Offsetof(tf.X), 560},
		{"LR", unsafe.Offsetof(tf.LR), 800},
		{"XZR", unsafe.Offsetof(tf.XZR), 808},
	} {
		if tc.got != tc.want {
			t.Errorf("offsetof(%s) = %d, want %d", tc.name, tc.got, tc.want)
		}
	}
}

func TestRegisters(t *testing.T) {
	var tf TrapFrame
	for n := 0; n <= 30; n++ {
		tf.SetReg(n, uint64(n)+100)
	}
	tf.SetReg(31, 0xdead)
	for n := 0; n <= 30; n++ {
		if got, want := tf.Reg(n), uint64(n)+100; got != want {
			t.Errorf("Reg(%d) = %d, want %d", n, got, want)
		}
	}
	if got := tf.Reg(31); got != 0 {
		t.Errorf("Reg(31) = %#x, want 0", got)
	}
	if tf.LR != 130 {
		t.Errorf("LR = %d, want 130", tf.LR)
	}
}

func TestSyscallReturn(t *testing.T) {
	var tf TrapFrame
	tf.X[0] = 50
	if got := tf.SyscallArg(); got != 50 {
		t.Errorf("SyscallArg() = %d, want 50", got)
	}
	tf.SetSyscallReturn(abi.StatusOk, 3, 4)
	if tf.X[0] != 3 || tf.X[1] != 4 || tf.SyscallStatus() != abi.StatusOk {
		t.Errorf("after SetSyscallReturn: x0=%d x1=%d x7=%v", tf.X[0], tf.X[1], tf.SyscallStatus())
	}
	tf.SetSyscallReturn(abi.StatusIoError)
	if tf.X[0] != 3 || tf.SyscallStatus() != abi.StatusIoError {
		t.Errorf("status-only return clobbered results: x0=%d x7=%v", tf.X[0], tf.SyscallStatus())
	}
}

func TestString(t *testing.T) {
	tf := TrapFrame{ELR: 0xffff_ffff_c000_0010, TPIDR: 2}
	s := tf.String()
	for _, want := range []string{"ELR:   0xffffffffc0000010", "TPIDR: 0x0000000000000002", "x28:"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}
