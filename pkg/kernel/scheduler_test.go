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

package kernel

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/ktime"
)

// queueIDs returns the ids of s's queue in order.
func queueIDs(s *Scheduler) []ID {
	ids := make([]ID, 0, len(s.queue))
	for _, p := range s.queue {
		ids = append(ids, p.id)
	}
	return ids
}

func newProcs(n int) []*Process {
	procs := make([]*Process, n)
	for i := range procs {
		procs[i] = &Process{state: State{Kind: Ready}}
	}
	return procs
}

func TestAddAssignsIncreasingIDs(t *testing.T) {
	s := NewScheduler(&ktime.SyntheticClock{}, 2)
	var ids []ID
	for _, p := range newProcs(4) {
		id, ok := s.Add(p)
		if !ok {
			break
		}
		if got := p.context.TPIDR; got != uint64(id) {
			t.Errorf("TPIDR = %d, want %d", got, id)
		}
		ids = append(ids, id)
	}
	if diff := cmp.Diff([]ID{0, 1, 2}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if got, want := s.Len(), 3; got != want {
		t.Errorf("Len = %d, want %d", got, want)
	}
	// Exhaustion is permanent.
	if id, ok := s.Add(&Process{}); ok {
		t.Errorf("Add after exhaustion = %d, true, want false", id)
	}
	if got, want := s.Len(), 3; got != want {
		t.Errorf("Len after exhaustion = %d, want %d", got, want)
	}
}

func TestCanAdmit(t *testing.T) {
	s := NewScheduler(&ktime.SyntheticClock{}, 2)
	for _, tc := range []struct {
		n    int
		want bool
	}{{0, true}, {1, true}, {3, true}, {4, false}} {
		if got := s.CanAdmit(tc.n); got != tc.want {
			t.Errorf("CanAdmit(%d) = %t, want %t", tc.n, got, tc.want)
		}
	}
	for _, p := range newProcs(3) {
		s.Add(p)
	}
	if s.CanAdmit(1) || !s.CanAdmit(0) {
		t.Errorf("CanAdmit after exhaustion: 1=%t 0=%t, want false, true", s.CanAdmit(1), s.CanAdmit(0))
	}

	unbounded := NewScheduler(&ktime.SyntheticClock{}, math.MaxUint64)
	if !unbounded.CanAdmit(math.MaxInt) {
		t.Errorf("CanAdmit(MaxInt) on a full id space = false")
	}
}

func TestSwitchToRotatesToFirstReady(t *testing.T) {
	clock := &ktime.SyntheticClock{}
	s := NewScheduler(clock, 10)
	procs := newProcs(4)
	procs[0].state = Sleeping(clock.Now(), time.Second)
	procs[1].state = Sleeping(clock.Now(), time.Second)
	procs[2].context.X[3] = 33
	for _, p := range procs {
		s.Add(p)
	}

	var tf arch.TrapFrame
	id, ok := s.SwitchTo(&tf)
	if !ok || id != 2 {
		t.Fatalf("SwitchTo = %d, %t, want 2, true", id, ok)
	}
	if diff := cmp.Diff([]ID{2, 3, 0, 1}, queueIDs(s)); diff != "" {
		t.Errorf("queue mismatch (-want +got):\n%s", diff)
	}
	if got := tf.X[3]; got != 33 {
		t.Errorf("x3 = %d, want 33", got)
	}
	if got := procs[2].State().Kind; got != Running {
		t.Errorf("head state = %v, want Running", got)
	}
	for _, p := range s.queue[1:] {
		if p.State().Kind == Running {
			t.Errorf("process %d is also Running", p.id)
		}
	}
}

func TestSwitchToNoneReady(t *testing.T) {
	clock := &ktime.SyntheticClock{}
	s := NewScheduler(clock, 10)
	for _, p := range newProcs(3) {
		p.state = Sleeping(clock.Now(), time.Second)
		s.Add(p)
	}
	tf := arch.TrapFrame{ELR: 0x1234}
	if id, ok := s.SwitchTo(&tf); ok {
		t.Fatalf("SwitchTo = %d, true, want false", id)
	}
	if got := tf.ELR; got != 0x1234 {
		t.Errorf("ELR = %#x, want frame untouched", got)
	}
	if diff := cmp.Diff([]ID{1, 2, 0}, queueIDs(s)); diff != "" {
		t.Errorf("queue mismatch (-want +got):\n%s", diff)
	}

	var empty Scheduler
	if _, ok := empty.SwitchTo(&tf); ok {
		t.Errorf("SwitchTo on an empty queue = true, want false")
	}
}

func TestSwitchToSingleProcessRoundTrip(t *testing.T) {
	s := NewScheduler(&ktime.SyntheticClock{}, 10)
	p := &Process{state: State{Kind: Ready}}
	s.Add(p)

	var tf arch.TrapFrame
	if _, ok := s.SwitchTo(&tf); !ok {
		t.Fatalf("SwitchTo failed")
	}
	tf.ELR = 0x4000
	tf.X[5] = 5
	tf.Q[2] = arch.Vector128{Lo: 1, Hi: 2}
	saved := tf

	if !s.ScheduleOut(State{Kind: Ready}, &tf) {
		t.Fatalf("ScheduleOut failed")
	}
	var next arch.TrapFrame
	if _, ok := s.SwitchTo(&next); !ok {
		t.Fatalf("second SwitchTo failed")
	}
	if diff := cmp.Diff(saved, next); diff != "" {
		t.Errorf("frame changed across a switch (-want +got):\n%s", diff)
	}
}

func TestScheduleOutRequiresRunning(t *testing.T) {
	s := NewScheduler(&ktime.SyntheticClock{}, 10)
	for _, p := range newProcs(2) {
		s.Add(p)
	}
	var tf arch.TrapFrame
	if s.ScheduleOut(State{Kind: Ready}, &tf) {
		t.Errorf("ScheduleOut with no Running process = true, want false")
	}
	if _, ok := s.Kill(&tf); ok {
		t.Errorf("Kill with no Running process = true, want false")
	}
	if diff := cmp.Diff([]ID{0, 1}, queueIDs(s)); diff != "" {
		t.Errorf("queue mismatch (-want +got):\n%s", diff)
	}

	var empty Scheduler
	if empty.ScheduleOut(State{Kind: Ready}, &tf) {
		t.Errorf("ScheduleOut on an empty queue = true, want false")
	}
}

func TestScheduleOutMovesToTail(t *testing.T) {
	clock := &ktime.SyntheticClock{}
	s := NewScheduler(clock, 10)
	for _, p := range newProcs(3) {
		s.Add(p)
	}
	var tf arch.TrapFrame
	s.SwitchTo(&tf)
	want := Sleeping(clock.Now(), time.Millisecond)
	if !s.ScheduleOut(want, &tf) {
		t.Fatalf("ScheduleOut failed")
	}
	if diff := cmp.Diff([]ID{1, 2, 0}, queueIDs(s)); diff != "" {
		t.Errorf("queue mismatch (-want +got):\n%s", diff)
	}
	if got := s.queue[2].State(); got != want {
		t.Errorf("state = %v, want %v", got, want)
	}
}

func TestKillReleasesMemory(t *testing.T) {
	env := newTestEnv(t, 0)
	free := env.mem.FreePages()
	a := env.load(t, "/a", int(hostarch.PageSize))
	b := env.load(t, "/b", 10)
	if _, err := env.k.Scheduler().Initialize([]*Process{a, b}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	var tf arch.TrapFrame
	env.k.Scheduler().Critical(func(s *Scheduler) {
		if id, ok := s.SwitchTo(&tf); !ok || id != 0 {
			t.Fatalf("SwitchTo = %d, %t, want 0, true", id, ok)
		}
		if id, ok := s.Kill(&tf); !ok || id != 0 {
			t.Fatalf("Kill = %d, %t, want 0, true", id, ok)
		}
		if got := a.State().Kind; got != Dead {
			t.Errorf("killed state = %v, want Dead", got)
		}
		// The dead process is never switched to again.
		for i := 0; i < 3; i++ {
			if id, ok := s.SwitchTo(&tf); !ok || id != 1 {
				t.Fatalf("SwitchTo = %d, %t, want 1, true", id, ok)
			}
			s.ScheduleOut(State{Kind: Ready}, &tf)
		}
	})
	b.Release()
	if got := env.mem.FreePages(); got != free {
		t.Errorf("FreePages = %d, want %d", got, free)
	}

	exited := env.k.Scheduler().Exited()
	want := []Info{{ID: 0, Name: "/a", State: "Dead", Pages: 2}}
	if diff := cmp.Diff(want, exited); diff != "" {
		t.Errorf("Exited mismatch (-want +got):\n%s", diff)
	}
}

func TestExitedLimit(t *testing.T) {
	env := newTestEnv(t, 0)
	env.k.Scheduler().sched.exitedLimit = 2
	var procs []*Process
	for _, name := range []string{"/a", "/b", "/c"} {
		procs = append(procs, env.load(t, name, 10))
	}
	if _, err := env.k.Scheduler().Initialize(procs); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	var tf arch.TrapFrame
	env.k.Scheduler().Critical(func(s *Scheduler) {
		for i := 0; i < 3; i++ {
			if _, ok := s.SwitchTo(&tf); !ok {
				t.Fatalf("SwitchTo %d failed", i)
			}
			if _, ok := s.Kill(&tf); !ok {
				t.Fatalf("Kill %d failed", i)
			}
		}
	})
	var names []string
	for _, info := range env.k.Scheduler().Exited() {
		names = append(names, info.Name)
	}
	if diff := cmp.Diff([]string{"/b", "/c"}, names); diff != "" {
		t.Errorf("Exited mismatch (-want +got):\n%s", diff)
	}
}

func TestNextDeadline(t *testing.T) {
	clock := &ktime.SyntheticClock{}
	s := NewScheduler(clock, 10)
	if _, ok := s.NextDeadline(); ok {
		t.Errorf("NextDeadline on an empty queue = true, want false")
	}
	procs := newProcs(3)
	procs[0].state = Sleeping(clock.Now(), 30*time.Millisecond)
	procs[2].state = Sleeping(clock.Now().Add(5*time.Millisecond), 10*time.Millisecond)
	for _, p := range procs {
		s.Add(p)
	}
	next, ok := s.NextDeadline()
	if want := clock.Now().Add(15 * time.Millisecond); !ok || !next.Equal(want) {
		t.Errorf("NextDeadline = %v, %t, want %v, true", next, ok, want)
	}
}

func TestSnapshot(t *testing.T) {
	s := NewScheduler(&ktime.SyntheticClock{}, 10)
	procs := newProcs(2)
	procs[0].name = "/first"
	procs[1].name = "/second"
	for _, p := range procs {
		s.Add(p)
	}
	var tf arch.TrapFrame
	s.SwitchTo(&tf)
	want := []Info{
		{ID: 0, Name: "/first", State: "Running"},
		{ID: 1, Name: "/second", State: "Ready"},
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}
