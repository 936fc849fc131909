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

package sim

import (
	"sync/atomic"
	"time"

	"pikernel.dev/pikernel/pkg/irq"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/platform"
)

// systemTimer is a one-shot compare timer raising irq.Timer1.
type systemTimer struct {
	clock ktime.Clock
	ctrl  *Controller
	timer ktime.Timer

	// armed is true from TickIn until the timer fires.
	armed atomic.Bool
}

var _ platform.Timer = (*systemTimer)(nil)

func newSystemTimer(clock ktime.Clock, ctrl *Controller) *systemTimer {
	t := &systemTimer{clock: clock, ctrl: ctrl}
	t.timer = clock.NewTimer(t)
	return t
}

// TickIn implements platform.Timer.TickIn.
func (t *systemTimer) TickIn(d time.Duration) {
	t.ctrl.Clear(irq.Timer1)
	t.armed.Store(true)
	t.timer.Set(ktime.OneShot(t.clock.Now(), d))
}

// NotifyTimer implements ktime.Listener.NotifyTimer.
func (t *systemTimer) NotifyTimer(uint64) {
	// Raise before disarming, so that a disarmed timer implies a pending
	// interrupt to WaitForInterrupt.
	t.ctrl.Raise(irq.Timer1)
	t.armed.Store(false)
}

// destroy stops the timer.
func (t *systemTimer) destroy() {
	t.timer.Destroy()
	t.armed.Store(false)
}
