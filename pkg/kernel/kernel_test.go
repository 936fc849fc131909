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
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/console"
	"pikernel.dev/pikernel/pkg/fs/memfs"
	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/irq"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/pgalloc"
	"pikernel.dev/pikernel/pkg/platform"
	"pikernel.dev/pikernel/pkg/ring0/pagetables"
)

// fakeController records enabled sources.
type fakeController struct {
	enabled map[irq.Interrupt]bool
}

func (c *fakeController) IsPending(irq.Interrupt) bool { return false }

func (c *fakeController) Enable(i irq.Interrupt) {
	if c.enabled == nil {
		c.enabled = make(map[irq.Interrupt]bool)
	}
	c.enabled[i] = true
}

// fakeMachine is a machine whose WaitForInterrupt advances a synthetic clock
// to the armed timer deadline.
type fakeMachine struct {
	clock ktime.SyntheticClock
	ctrl  fakeController

	// g, if set, is checked to be unlocked during waits.
	g *GlobalScheduler

	armed       time.Duration
	ticks       []time.Duration
	waits       int
	maxWaits    int
	lockedWaits int
}

func (m *fakeMachine) Clock() ktime.Clock { return &m.clock }

func (m *fakeMachine) Controller() irq.Controller { return &m.ctrl }

func (m *fakeMachine) Timer() platform.Timer { return m }

func (m *fakeMachine) TickIn(d time.Duration) {
	m.armed = d
	m.ticks = append(m.ticks, d)
}

func (m *fakeMachine) WaitForInterrupt(ctx context.Context) error {
	m.waits++
	if m.g != nil {
		if m.g.mu.TryLock() {
			m.g.mu.Unlock()
		} else {
			m.lockedWaits++
		}
	}
	if m.maxWaits != 0 && m.waits > m.maxWaits {
		return platform.ErrHalted
	}
	m.clock.Add(m.armed)
	return nil
}

func (m *fakeMachine) Resume(context.Context, *arch.TrapFrame, platform.ExceptionHandler) error {
	return errors.New("fakeMachine cannot run code")
}

type testEnv struct {
	k   *Kernel
	fs  *memfs.FileSystem
	mem *pgalloc.MemoryFile
	m   *fakeMachine
	out *bytes.Buffer
}

func newTestEnv(t *testing.T, maxID ID) *testEnv {
	t.Helper()
	mem, err := pgalloc.New(pgalloc.Options{Size: 16 << 20, Reserved: hostarch.PageSize})
	if err != nil {
		t.Fatalf("pgalloc.New: %v", err)
	}
	env := &testEnv{
		fs:  memfs.New(),
		mem: mem,
		m:   &fakeMachine{},
		out: &bytes.Buffer{},
	}
	env.k, err = New(Options{
		FS:      env.fs,
		Memory:  mem,
		Tables:  pagetables.NewFrameAllocator(mem),
		Machine: env.m,
		Console: console.New(env.out),
		MaxID:   maxID,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.m.g = env.k.Scheduler()
	return env
}

// load writes an image of size bytes to path and loads it.
func (env *testEnv) load(t *testing.T, path string, size int) *Process {
	t.Helper()
	img := make([]byte, size)
	for i := range img {
		img[i] = byte(i%251) + 1
	}
	if err := env.fs.WriteFile(path, img); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p, err := env.k.Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}
	return p
}
