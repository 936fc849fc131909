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

package ktime

import (
	"time"

	"golang.org/x/sys/unix"
	"pikernel.dev/pikernel/pkg/sync"
)

// MonotonicClock is a Clock backed by the host's CLOCK_MONOTONIC. Its zero
// time is the instant the clock was created, so readings start near zero like
// a freshly reset system counter.
type MonotonicClock struct {
	base int64
}

// NewMonotonicClock returns a MonotonicClock whose zero time is now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{base: monotonicNow()}
}

func monotonicNow() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic("clock_gettime(CLOCK_MONOTONIC) failed: " + err.Error())
	}
	return ts.Nano()
}

// Now implements Clock.Now.
func (c *MonotonicClock) Now() Time {
	return FromNanoseconds(monotonicNow() - c.base)
}

// NewTimer implements Clock.NewTimer.
func (c *MonotonicClock) NewTimer(listener Listener) Timer {
	return &hostTimer{clock: c, listener: listener}
}

// hostTimer implements Timer for MonotonicClock using host timers. Expirations
// are delivered on a goroutine owned by the Go runtime.
type hostTimer struct {
	clock    *MonotonicClock
	listener Listener

	mu      sync.Mutex
	setting Setting
	timer   *time.Timer
	// gen invalidates callbacks of timers that were stopped too late.
	gen uint64
}

// Destroy implements Timer.Destroy.
func (t *hostTimer) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.setting.Enabled = false
}

// Clock implements Timer.Clock.
func (t *hostTimer) Clock() Clock {
	return t.clock
}

// Get implements Timer.Get.
func (t *hostTimer) Get() (Time, Setting) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	s, _ := t.setting.At(now)
	return now, s
}

// Set implements Timer.Set.
func (t *hostTimer) Set(s Setting) (Time, Setting) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	oldS := t.setting
	t.stopLocked()
	newS, exp := s.At(now)
	t.setting = newS
	if newS.Enabled {
		t.armLocked(now)
	}
	if exp > 0 {
		t.listener.NotifyTimer(exp)
	}
	return now, oldS
}

// Preconditions: t.mu must be locked.
func (t *hostTimer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Preconditions: t.mu must be locked and t.setting.Enabled.
func (t *hostTimer) armLocked(now Time) {
	gen := t.gen
	t.timer = time.AfterFunc(t.setting.Next.Sub(now), func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.gen != gen {
			return
		}
		now := t.clock.Now()
		s, exp := t.setting.At(now)
		t.setting = s
		t.timer = nil
		if s.Enabled {
			t.armLocked(now)
		}
		if exp > 0 {
			t.listener.NotifyTimer(exp)
		}
	})
}
