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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"pikernel.dev/pikernel/pkg/sync"
)

// SyntheticTimer implements Timer for SyntheticClocks.
type SyntheticTimer struct {
	// immutable
	clock    *SyntheticClock
	listener Listener

	// setting is the timer's current setting. setting is protected by
	// clock.mu.
	setting Setting

	// seq orders timers with equal expiration times by enqueue order. seq
	// is protected by clock.mu.
	seq uint64
}

// SyntheticClock is a Clock whose current time is set manually by calling
// Store or Add. The simulated machine advances it as it executes
// instructions and when it idles.
type SyntheticClock struct {
	mu sync.Mutex

	// now is the Clock's current time. Writes to now require that mu is
	// locked.
	now atomic.Int64

	// timers holds every enabled timer ordered by expiration time. timers
	// is protected by mu.
	timers *btree.BTreeG[*SyntheticTimer]

	// nextSeq is the next value of SyntheticTimer.seq. nextSeq is protected
	// by mu.
	nextSeq uint64
}

func timerLess(a, b *SyntheticTimer) bool {
	if an, bn := a.setting.Next.Nanoseconds(), b.setting.Next.Nanoseconds(); an != bn {
		return an < bn
	}
	return a.seq < b.seq
}

// NewSyntheticTimer returns an initialized heap-allocated SyntheticTimer.
func NewSyntheticTimer(clock *SyntheticClock, listener Listener) *SyntheticTimer {
	return &SyntheticTimer{
		clock:    clock,
		listener: listener,
	}
}

// Destroy implements Timer.Destroy.
func (t *SyntheticTimer) Destroy() {
	// Just stop the timer.
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.setting.Enabled {
		t.clock.delTimerLocked(t)
		t.setting.Enabled = false
	}
}

// Clock implements Timer.Clock.
func (t *SyntheticTimer) Clock() Clock {
	return t.clock
}

// Get implements Timer.Get.
func (t *SyntheticTimer) Get() (Time, Setting) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	// SyntheticTimers are expired synchronously with SyntheticClock time
	// changes, so t.setting is always up to date.
	return t.clock.nowLocked(), t.setting
}

// Set implements Timer.Set.
func (t *SyntheticTimer) Set(s Setting) (Time, Setting) {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	now := t.clock.nowLocked()
	oldS := t.setting
	newS, newExp := s.At(now)
	if oldS.Enabled {
		t.clock.delTimerLocked(t)
	}
	t.setting = newS
	if newS.Enabled {
		t.clock.addTimerLocked(t)
	}
	if newExp > 0 {
		t.listener.NotifyTimer(newExp)
	}
	return now, oldS
}

// Now implements Clock.Now.
func (c *SyntheticClock) Now() Time {
	return FromNanoseconds(c.now.Load())
}

// Preconditions: c.mu must be locked.
func (c *SyntheticClock) nowLocked() Time {
	return FromNanoseconds(c.now.Load())
}

// NewTimer implements Clock.NewTimer.
func (c *SyntheticClock) NewTimer(listener Listener) Timer {
	return NewSyntheticTimer(c, listener)
}

// Store sets c's current time to now and notifies expired timers.
//
// Preconditions:
//   - now.Nanoseconds() >= 0.
//   - The caller must not hold locks that Listeners acquire.
func (c *SyntheticClock) Store(now Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTimeLocked(now.Nanoseconds())
}

// Add increases c's current time by d and notifies expired timers.
//
// Preconditions:
//   - c's resulting current time >= 0.
//   - The caller must not hold locks that Listeners acquire.
func (c *SyntheticClock) Add(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTimeLocked(c.now.Load() + delta.Nanoseconds())
}

// NextExpiration returns the earliest expiration time of all enabled timers.
// ok is false if no timer is enabled.
func (c *SyntheticClock) NextExpiration() (next Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timers == nil {
		return Time{}, false
	}
	t, ok := c.timers.Min()
	if !ok {
		return Time{}, false
	}
	return t.setting.Next, true
}

// Preconditions: c.mu must be locked.
func (c *SyntheticClock) setTimeLocked(nowNS int64) {
	if nowNS < 0 {
		panic(fmt.Sprintf("invalid time %d", nowNS))
	}
	c.now.Store(nowNS)
	if c.timers == nil {
		return
	}
	now := FromNanoseconds(nowNS)
	// Expire timers.
	for {
		t, ok := c.timers.Min()
		if !ok || t.setting.Next.After(now) {
			break
		}
		c.timers.DeleteMin()
		s, exp := t.setting.At(now)
		if exp == 0 {
			panic(fmt.Sprintf("ktime.SyntheticClock (time=%d) contains enqueued timer %p with unexpired setting %+v", nowNS, t, t.setting))
		}
		t.setting = s
		t.listener.NotifyTimer(exp)
		if t.setting.Enabled {
			c.addTimerLocked(t)
		}
	}
}

// Preconditions: c.mu must be locked.
func (c *SyntheticClock) addTimerLocked(t *SyntheticTimer) {
	if c.timers == nil {
		c.timers = btree.NewG(8, timerLess)
	}
	t.seq = c.nextSeq
	c.nextSeq++
	c.timers.ReplaceOrInsert(t)
}

// Preconditions: c.mu must be locked.
func (c *SyntheticClock) delTimerLocked(t *SyntheticTimer) {
	if _, ok := c.timers.Delete(t); !ok {
		panic(fmt.Sprintf("ktime.SyntheticClock (time=%d) does not contain enqueued timer %p with setting %+v", c.now.Load(), t, t.setting))
	}
}
