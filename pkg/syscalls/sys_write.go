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

package syscalls

import (
	"context"

	"pikernel.dev/pikernel/pkg/abi"
	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/kernel"
	"pikernel.dev/pikernel/pkg/log"
)

// Write implements write(b). The low byte of x0 is written to the console.
func Write(ctx context.Context, k *kernel.Kernel, tf *arch.TrapFrame) error {
	if err := k.Console().WriteByte(byte(tf.SyscallArg())); err != nil {
		log.Warningf("Process %d: console write: %v", tf.PID(), err)
		tf.SetSyscallReturn(oserr.ToStatus(err))
		return nil
	}
	tf.SetSyscallReturn(abi.StatusOk)
	return nil
}
