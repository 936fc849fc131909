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
	"context"
	"fmt"
	"time"

	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/irq"
	"pikernel.dev/pikernel/pkg/log"
	"pikernel.dev/pikernel/pkg/platform"
	"pikernel.dev/pikernel/pkg/sync"
)

// GlobalScheduler is the Scheduler shared by the syscall and interrupt
// paths. Every access goes through Critical.
//
// Lock order: GlobalScheduler.mu is never held across
// Machine.WaitForInterrupt, since the timer interrupt handler that ends the
// wait takes it too.
type GlobalScheduler struct {
	mu    sync.Mutex
	sched *Scheduler

	machine platform.Machine
	irqs    *irq.Registry
	tick    time.Duration
}

// NewGlobalScheduler returns a GlobalScheduler wrapping s.
func NewGlobalScheduler(s *Scheduler, m platform.Machine, irqs *irq.Registry, tick time.Duration) *GlobalScheduler {
	return &GlobalScheduler{
		sched:   s,
		machine: m,
		irqs:    irqs,
		tick:    tick,
	}
}

// Critical runs f with the scheduler lock held.
func (g *GlobalScheduler) Critical(f func(s *Scheduler)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f(g.sched)
}

// Initialize admits procs in order. If the id space cannot hold all of
// them, none is admitted, every process is released and an error is
// returned.
func (g *GlobalScheduler) Initialize(procs []*Process) ([]ID, error) {
	ids := make([]ID, 0, len(procs))
	var err error
	g.Critical(func(s *Scheduler) {
		if !s.CanAdmit(len(procs)) {
			for _, p := range procs {
				p.Release()
			}
			ids = nil
			err = fmt.Errorf("admitting %d processes: process ids exhausted", len(procs))
			return
		}
		for _, p := range procs {
			id, ok := s.Add(p)
			if !ok {
				panic(fmt.Sprintf("admitting %q: no id left after CanAdmit", p.Name()))
			}
			log.Infof("Admitted process %d: %s", id, p.Name())
			processesAdmitted.Increment()
			ids = append(ids, id)
		}
	})
	return ids, err
}

// Add admits p.
func (g *GlobalScheduler) Add(p *Process) (ID, bool) {
	var (
		id ID
		ok bool
	)
	g.Critical(func(s *Scheduler) { id, ok = s.Add(p) })
	if ok {
		processesAdmitted.Increment()
	}
	return id, ok
}

// Kill kills the Running process.
func (g *GlobalScheduler) Kill(tf *arch.TrapFrame) (ID, bool) {
	var (
		id ID
		ok bool
	)
	g.Critical(func(s *Scheduler) { id, ok = s.Kill(tf) })
	if ok {
		processesExited.Increment()
	}
	return id, ok
}

// Switch schedules out the Running process with state newState and its
// context tf, then switches to the next ready process as SwitchTo does.
func (g *GlobalScheduler) Switch(ctx context.Context, newState State, tf *arch.TrapFrame) (ID, error) {
	var ok bool
	g.Critical(func(s *Scheduler) { ok = s.ScheduleOut(newState, tf) })
	if !ok {
		log.Warningf("Switch without a running process")
	}
	return g.SwitchTo(ctx, tf)
}

// SwitchTo switches tf to the next ready process, waiting for interrupts
// while none is ready. The timer is armed for the earliest sleep deadline
// or the tick, whichever is sooner, before each wait.
//
// It returns platform.ErrHalted once the run queue is empty, or the error
// from the machine's wait.
func (g *GlobalScheduler) SwitchTo(ctx context.Context, tf *arch.TrapFrame) (ID, error) {
	for {
		var (
			id    ID
			ok    bool
			empty bool
			wait  = g.tick
		)
		g.Critical(func(s *Scheduler) {
			if id, ok = s.SwitchTo(tf); ok {
				return
			}
			empty = s.Len() == 0
			if next, waiting := s.NextDeadline(); waiting {
				if d := next.Sub(s.clock.Now()); d < wait {
					wait = max(d, 0)
				}
			}
		})
		if ok {
			return id, nil
		}
		if empty {
			return 0, platform.ErrHalted
		}

		idleWaits.Increment()
		g.machine.Timer().TickIn(wait)
		if err := g.machine.WaitForInterrupt(ctx); err != nil {
			return 0, err
		}
	}
}

// Snapshot returns the queued processes in queue order.
func (g *GlobalScheduler) Snapshot() []Info {
	var infos []Info
	g.Critical(func(s *Scheduler) { infos = s.Snapshot() })
	return infos
}

// Exited returns the killed processes in the order they were killed.
func (g *GlobalScheduler) Exited() []Info {
	var infos []Info
	g.Critical(func(s *Scheduler) { infos = s.Exited() })
	return infos
}

// Start installs the preemption handler on irq.Timer1, enables it, switches
// to the first ready process and runs the machine. It returns only when the
// machine stops: platform.ErrHalted when every process has exited, the
// context error, or the error of a fatal exception.
func (g *GlobalScheduler) Start(ctx context.Context, h platform.ExceptionHandler) error {
	g.irqs.Register(irq.Timer1, g.preempt)
	g.machine.Controller().Enable(irq.Timer1)

	var tf arch.TrapFrame
	id, err := g.SwitchTo(ctx, &tf)
	if err != nil {
		return err
	}
	log.Infof("Starting process %d", id)
	g.machine.Timer().TickIn(g.tick)
	return g.machine.Resume(ctx, &tf, h)
}

// preempt is the irq.Timer1 handler.
func (g *GlobalScheduler) preempt(ctx context.Context, tf *arch.TrapFrame) error {
	preemptions.Increment()
	if _, err := g.Switch(ctx, State{Kind: Ready}, tf); err != nil {
		return err
	}
	g.machine.Timer().TickIn(g.tick)
	return nil
}
