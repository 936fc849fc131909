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
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pikernel.dev/pikernel/pkg/abi"
	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/fs"
	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/ktime"
	"pikernel.dev/pikernel/pkg/ring0"
	"pikernel.dev/pikernel/pkg/ring0/pagetables"
)

func TestLoad(t *testing.T) {
	env := newTestEnv(t, 0)
	free := env.mem.FreePages()
	size := int(hostarch.PageSize) + 100
	p := env.load(t, "/bin/prog", size)

	if got, want := env.mem.FreePages(), free-(tablePages+3); got != want {
		t.Errorf("FreePages after Load = %d, want %d", got, want)
	}
	as := p.AddressSpace()
	if got, want := as.MappedPages(), 3; got != want {
		t.Errorf("MappedPages = %d, want %d", got, want)
	}
	for _, va := range []uint64{
		pagetables.UserImageBase,
		pagetables.UserImageBase + hostarch.PageSize,
		pagetables.UserStackBase,
	} {
		if !as.IsValid(va) {
			t.Errorf("IsValid(%#x) = false, want true", va)
		}
	}
	if as.IsValid(pagetables.UserImageBase + 2*hostarch.PageSize) {
		t.Errorf("page past the image is mapped")
	}

	// The image is copied and the rest of its last page is zero.
	first, _ := as.Page(pagetables.UserImageBase)
	if first[0] != 1 || first[250] != 251 {
		t.Errorf("image page starts %v, want the file contents", first[:4])
	}
	last, _ := as.Page(pagetables.UserImageBase + hostarch.PageSize)
	if got, want := last[99], byte((int(hostarch.PageSize)+99)%251)+1; got != want {
		t.Errorf("last image byte = %d, want %d", got, want)
	}
	for i, b := range last[100:] {
		if b != 0 {
			t.Fatalf("byte %d past the image = %d, want 0", 100+i, b)
		}
	}

	want := arch.TrapFrame{
		ELR:   pagetables.UserImageBase,
		SPSR:  ring0.UserFlagsSet,
		SP:    pagetables.UserStackTop,
		TTBR0: env.k.KernelTables().BaseAddr(),
		TTBR1: as.BaseAddr(),
	}
	if diff := cmp.Diff(want, *p.Context()); diff != "" {
		t.Errorf("Context mismatch (-want +got):\n%s", diff)
	}
	if got := p.State(); got != (State{Kind: Ready}) {
		t.Errorf("State = %v, want Ready", got)
	}

	p.Release()
	if got := env.mem.FreePages(); got != free {
		t.Errorf("FreePages after Release = %d, want %d", got, free)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("second Release did not panic")
		}
	}()
	p.Release()
}

func TestLoadEmpty(t *testing.T) {
	env := newTestEnv(t, 0)
	p := env.load(t, "/empty", 0)
	defer p.Release()
	if got, want := p.AddressSpace().MappedPages(), 1; got != want {
		t.Errorf("MappedPages = %d, want %d (the stack)", got, want)
	}
}

// brokenFS serves a single file whose reads fail.
type brokenFS struct{}

type brokenEntry struct{}

type brokenFile struct{}

func (brokenFS) Open(string) (fs.Entry, error) { return brokenEntry{}, nil }

func (brokenEntry) Name() string           { return "broken" }
func (brokenEntry) IsDir() bool            { return false }
func (brokenEntry) Open() (fs.File, error) { return brokenFile{}, nil }

func (brokenFile) Read([]byte) (int, error) { return 0, errors.New("bad sector") }

func (brokenFile) Seek(int64, int) (int64, error) { return 0, nil }

func (brokenFile) Close() error { return nil }

func (brokenFile) Size() int64 { return 3 * int64(hostarch.PageSize) }

func TestLoadErrors(t *testing.T) {
	env := newTestEnv(t, 0)
	if err := env.fs.WriteFile("/bin/prog", []byte{1}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	for _, tc := range []struct {
		name string
		fs   fs.FileSystem
		path string
		want error
	}{
		{name: "missing", path: "/bin/none", want: oserr.ErrNoEntry},
		{name: "directory", path: "/bin", want: oserr.ErrNotFile},
		{name: "unreadable", fs: brokenFS{}, path: "/broken", want: oserr.ErrIO},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := env.k
			if tc.fs != nil {
				saved := k.fs
				k.fs = tc.fs
				defer func() { k.fs = saved }()
			}
			free := env.mem.FreePages()
			p, err := k.Load(tc.path)
			if !errors.Is(err, tc.want) {
				t.Errorf("Load(%q) = %v, %v, want error %v", tc.path, p, err, tc.want)
			}
			if got := env.mem.FreePages(); got != free {
				t.Errorf("FreePages = %d, want %d", got, free)
			}
		})
	}
}

func TestLoadOutOfMemory(t *testing.T) {
	env := newTestEnv(t, 0)
	free := env.mem.FreePages()
	size := int((free - tablePages) * hostarch.PageSize)
	if err := env.fs.WriteFile("/big", make([]byte, size)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := env.k.Load("/big"); !errors.Is(err, oserr.ErrNoMemory) {
		t.Errorf("Load = %v, want %v", err, oserr.ErrNoMemory)
	}
	if got := env.mem.FreePages(); got != free {
		t.Errorf("FreePages = %d, want %d", got, free)
	}
}

func TestIsReady(t *testing.T) {
	start := ktime.FromMilliseconds(1000)
	for _, tc := range []struct {
		name      string
		state     State
		now       ktime.Time
		want      bool
		wantState State
		wantX0    uint64
		wantX7    uint64
	}{
		{
			name:      "ready",
			state:     State{Kind: Ready},
			now:       start,
			want:      true,
			wantState: State{Kind: Ready},
		},
		{
			name:      "running",
			state:     State{Kind: Running},
			now:       start,
			wantState: State{Kind: Running},
		},
		{
			name:      "dead",
			state:     State{Kind: Dead},
			now:       start,
			wantState: State{Kind: Dead},
		},
		{
			name:      "asleep",
			state:     Sleeping(start, 50*time.Millisecond),
			now:       start.Add(49 * time.Millisecond),
			wantState: Sleeping(start, 50*time.Millisecond),
		},
		{
			name:      "deadline",
			state:     Sleeping(start, 50*time.Millisecond),
			now:       start.Add(50 * time.Millisecond),
			want:      true,
			wantState: State{Kind: Ready},
			wantX0:    50,
			wantX7:    uint64(abi.StatusOk),
		},
		{
			name:      "late",
			state:     Sleeping(start, 50*time.Millisecond),
			now:       start.Add(73*time.Millisecond + 900*time.Microsecond),
			want:      true,
			wantState: State{Kind: Ready},
			wantX0:    73,
			wantX7:    uint64(abi.StatusOk),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := &Process{state: tc.state}
			if got := p.IsReady(tc.now); got != tc.want {
				t.Errorf("IsReady = %t, want %t", got, tc.want)
			}
			// Polling again never changes the answer.
			if got := p.IsReady(tc.now); got != tc.want {
				t.Errorf("second IsReady = %t, want %t", got, tc.want)
			}
			if p.state != tc.wantState {
				t.Errorf("state = %v, want %v", p.state, tc.wantState)
			}
			if got := p.context.X[0]; got != tc.wantX0 {
				t.Errorf("x0 = %d, want %d", got, tc.wantX0)
			}
			if got := p.context.X[7]; got != tc.wantX7 {
				t.Errorf("x7 = %d, want %d", got, tc.wantX7)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		state State
		want  string
	}{
		{State{Kind: Ready}, "Ready"},
		{State{Kind: Running}, "Running"},
		{State{Kind: Dead}, "Dead"},
		{Sleeping(ktime.FromMilliseconds(2), 3*time.Millisecond), "Waiting(Deadline since 2000000ns for 3ms)"},
		{State{Kind: StateKind(9)}, "StateKind(9)"},
	} {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
