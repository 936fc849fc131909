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
	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/log"
)

// Scheduler is a FIFO run queue. Insertion order is scheduling order.
//
// Scheduler is not safe for concurrent use; GlobalScheduler serializes
// access to it.
type Scheduler struct {
	clock ktime.Clock

	// queue holds the admitted processes. When a process is Running it is
	// queue[0].
	queue []*Process

	// nextID is the id of the next admitted process, valid unless
	// exhausted.
	nextID    ID
	maxID     ID
	exhausted bool

	// exited records the most recent killed processes, oldest first. It
	// holds at most exitedLimit entries.
	exited      []Info
	exitedLimit int
}

// DefaultExitedLimit is the number of killed processes a Scheduler
// remembers for Exited.
const DefaultExitedLimit = 1024

// NewScheduler returns an empty scheduler assigning ids up to and including
// maxID.
func NewScheduler(clock ktime.Clock, maxID ID) *Scheduler {
	return &Scheduler{clock: clock, maxID: maxID, exitedLimit: DefaultExitedLimit}
}

// Len returns the number of queued processes.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Add admits p at the tail of the queue and returns its id. It returns false
// without changing anything once the id space is exhausted.
func (s *Scheduler) Add(p *Process) (ID, bool) {
	if s.exhausted {
		return 0, false
	}
	id := s.nextID
	if id == s.maxID {
		s.exhausted = true
	} else {
		s.nextID++
	}
	p.id = id
	p.context.TPIDR = uint64(id)
	s.queue = append(s.queue, p)
	return id, true
}

// CanAdmit returns true if n more processes can be given ids.
func (s *Scheduler) CanAdmit(n int) bool {
	if n <= 0 {
		return true
	}
	if s.exhausted {
		return false
	}
	return uint64(n-1) <= uint64(s.maxID-s.nextID)
}

// pop removes the head of the queue.
func (s *Scheduler) pop() (*Process, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	p := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return p, true
}

// pushFront undoes pop.
func (s *Scheduler) pushFront(p *Process) {
	s.queue = append(s.queue, nil)
	copy(s.queue[1:], s.queue)
	s.queue[0] = p
}

// ScheduleOut saves tf as the context of the Running head, gives it state
// newState and moves it to the tail. It returns false, changing nothing, if
// the head is not Running.
func (s *Scheduler) ScheduleOut(newState State, tf *arch.TrapFrame) bool {
	p, ok := s.pop()
	if !ok {
		return false
	}
	if p.state.Kind != Running {
		s.pushFront(p)
		return false
	}
	p.state = newState
	p.context = *tf
	s.queue = append(s.queue, p)
	return true
}

// SwitchTo makes the first ready process Running and copies its context
// into tf. Processes scanned before it move to the tail in scan order, so
// the cyclic order of the queue never changes. If no process is ready, the
// queue rotates by one and SwitchTo returns false.
func (s *Scheduler) SwitchTo(tf *arch.TrapFrame) (ID, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	now := s.clock.Now()
	for i, p := range s.queue {
		if !p.IsReady(now) {
			continue
		}
		s.rotate(i)
		p.state = State{Kind: Running}
		*tf = p.context
		return p.id, true
	}
	s.rotate(1)
	return 0, false
}

// rotate moves the first n processes to the tail, in order.
func (s *Scheduler) rotate(n int) {
	if n == 0 || len(s.queue) == 0 {
		return
	}
	n %= len(s.queue)
	rotated := make([]*Process, 0, len(s.queue))
	rotated = append(rotated, s.queue[n:]...)
	rotated = append(rotated, s.queue[:n]...)
	s.queue = rotated
}

// Kill removes the Running head, marks it Dead and releases its address
// space. It returns false, changing nothing, if the head is not Running.
func (s *Scheduler) Kill(tf *arch.TrapFrame) (ID, bool) {
	p, ok := s.pop()
	if !ok {
		return 0, false
	}
	if p.state.Kind != Running {
		s.pushFront(p)
		return 0, false
	}
	p.state = State{Kind: Dead}
	p.context = *tf
	info := p.info()
	p.Release()
	if s.exitedLimit > 0 && len(s.exited) >= s.exitedLimit {
		copy(s.exited, s.exited[1:])
		s.exited = s.exited[:len(s.exited)-1]
	}
	s.exited = append(s.exited, info)
	log.Debugf("Process %d (%s) killed", p.id, p.name)
	return p.id, true
}

// NextDeadline returns the earliest deadline of a waiting process.
func (s *Scheduler) NextDeadline() (ktime.Time, bool) {
	var (
		next ktime.Time
		ok   bool
	)
	for _, p := range s.queue {
		if p.state.Kind != Waiting || p.state.Wait.Reason != WaitDeadline {
			continue
		}
		if d := p.state.Wait.Deadline(); !ok || d.Before(next) {
			next, ok = d, true
		}
	}
	return next, ok
}

// Snapshot returns the queued processes in queue order.
func (s *Scheduler) Snapshot() []Info {
	infos := make([]Info, 0, len(s.queue))
	for _, p := range s.queue {
		infos = append(infos, p.info())
	}
	return infos
}

// Exited returns the most recent killed processes, at most
// DefaultExitedLimit of them, in the order they were killed.
func (s *Scheduler) Exited() []Info {
	return append([]Info(nil), s.exited...)
}
