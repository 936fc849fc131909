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

package ring0

import (
	"fmt"
	"io"
	"reflect"

	"pikernel.dev/pikernel/pkg/abi"
	"pikernel.dev/pikernel/pkg/arch"
)

// Emit prints architecture-specific offsets and constants for the exception
// vector assembly.
func Emit(w io.Writer) {
	fmt.Fprintf(w, "// Automatically generated, do not edit.\n")

	tf := &arch.TrapFrame{}
	base := reflect.ValueOf(tf).Pointer()
	off := func(p any) uintptr { return reflect.ValueOf(p).Pointer() - base }
	fmt.Fprintf(w, "\n// TrapFrame offsets.\n")
	fmt.Fprintf(w, "#define TF_ELR               0x%03x\n", off(&tf.ELR))
	fmt.Fprintf(w, "#define TF_SPSR              0x%03x\n", off(&tf.SPSR))
	fmt.Fprintf(w, "#define TF_SP                0x%03x\n", off(&tf.SP))
	fmt.Fprintf(w, "#define TF_TPIDR             0x%03x\n", off(&tf.TPIDR))
	fmt.Fprintf(w, "#define TF_TTBR0             0x%03x\n", off(&tf.TTBR0))
	fmt.Fprintf(w, "#define TF_TTBR1             0x%03x\n", off(&tf.TTBR1))
	fmt.Fprintf(w, "#define TF_Q0                0x%03x\n", off(&tf.Q[0]))
	fmt.Fprintf(w, "#define TF_X0                0x%03x\n", off(&tf.X[0]))
	fmt.Fprintf(w, "#define TF_LR                0x%03x\n", off(&tf.LR))
	fmt.Fprintf(w, "#define TF_SIZE              0x%03x\n", reflect.TypeOf(*tf).Size())

	fmt.Fprintf(w, "\n// Bits.\n")
	fmt.Fprintf(w, "#define _KERNEL_FLAGS        0x%02x\n", KernelFlagsSet)
	fmt.Fprintf(w, "#define _USER_FLAGS          0x%02x\n", UserFlagsSet)

	fmt.Fprintf(w, "\n// Vectors.\n")
	for _, src := range []Source{CurrentSpEl0, CurrentSpElx, LowerAArch64, LowerAArch32} {
		for _, kind := range []Kind{Synchronous, Irq, Fiq, SError} {
			fmt.Fprintf(w, "#define VEC_%s_%s 0x%03x\n", src, kind, Info{Source: src, Kind: kind}.VectorOffset())
		}
	}

	fmt.Fprintf(w, "\n// Syscalls.\n")
	fmt.Fprintf(w, "#define SYS_SLEEP  %d\n", abi.SysSleep)
	fmt.Fprintf(w, "#define SYS_TIME   %d\n", abi.SysTime)
	fmt.Fprintf(w, "#define SYS_EXIT   %d\n", abi.SysExit)
	fmt.Fprintf(w, "#define SYS_WRITE  %d\n", abi.SysWrite)
	fmt.Fprintf(w, "#define SYS_GETPID %d\n", abi.SysGetpid)
	fmt.Fprintf(w, "#define SYS_STATUS_REG x%d\n", arch.SyscallStatusReg)
}
