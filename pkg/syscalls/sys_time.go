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
	"math"
	"time"

	"pikernel.dev/pikernel/pkg/abi"
	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/kernel"
)

// maxSleepMillis is the longest sleep that fits in a time.Duration.
const maxSleepMillis = math.MaxInt64 / int64(time.Millisecond)

// Sleep implements sleep(ms). The caller waits until ms milliseconds have
// passed and then gets the milliseconds actually elapsed in x0.
func Sleep(ctx context.Context, k *kernel.Kernel, tf *arch.TrapFrame) error {
	ms := tf.SyscallArg()
	d := time.Duration(math.MaxInt64)
	if ms <= uint64(maxSleepMillis) {
		d = time.Duration(ms) * time.Millisecond
	}
	_, err := k.Scheduler().Switch(ctx, kernel.Sleeping(k.Now(), d), tf)
	return err
}

// Time implements time(). It returns the monotonic clock as seconds in x0
// and nanoseconds in x1.
func Time(ctx context.Context, k *kernel.Kernel, tf *arch.TrapFrame) error {
	s, ns := k.Now().Unix()
	tf.SetSyscallReturn(abi.StatusOk, uint64(s), uint64(ns))
	return nil
}
