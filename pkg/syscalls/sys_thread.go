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
	"pikernel.dev/pikernel/pkg/kernel"
	"pikernel.dev/pikernel/pkg/log"
)

// Exit implements exit(). The caller is killed and never returns.
func Exit(ctx context.Context, k *kernel.Kernel, tf *arch.TrapFrame) error {
	if id, ok := k.Scheduler().Kill(tf); ok {
		log.Infof("Process %d exited", id)
	} else {
		log.Warningf("exit without a running process")
	}
	_, err := k.Scheduler().SwitchTo(ctx, tf)
	return err
}

// Getpid implements getpid().
func Getpid(ctx context.Context, k *kernel.Kernel, tf *arch.TrapFrame) error {
	tf.SetSyscallReturn(abi.StatusOk, tf.PID())
	return nil
}
