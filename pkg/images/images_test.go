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

package images

import (
	"encoding/binary"
	"testing"

	"pikernel.dev/pikernel/pkg/fs"
	"pikernel.dev/pikernel/pkg/fs/memfs"
)

func words(t *testing.T, a *Assembler) []uint32 {
	t.Helper()
	img, err := a.Assemble()
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	out := make([]uint32, len(img)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(img[4*i:])
	}
	return out
}

func TestEncodings(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a *Assembler)
		want uint32
	}{
		{"movz x0, #1", func(a *Assembler) { a.Movz(X0, 1, 0) }, 0xd2800020},
		{"movk x1, #2, lsl #16", func(a *Assembler) { a.Movk(X1, 2, 16) }, 0xf2a00041},
		{"add x0, x0, #1", func(a *Assembler) { a.AddImm(X0, X0, 1) }, 0x91000400},
		{"add x3, sp, #0", func(a *Assembler) { a.AddImm(X3, SP, 0) }, 0x910003e3},
		{"cmp x0, #5", func(a *Assembler) { a.CmpImm(X0, 5) }, 0xf100141f},
		{"mov x0, x1", func(a *Assembler) { a.Mov(X0, X1) }, 0xaa0103e0},
		{"udiv x0, x1, x2", func(a *Assembler) { a.Udiv(X0, X1, X2) }, 0x9ac20820},
		{"mul x0, x1, x2", func(a *Assembler) { a.Mul(X0, X1, X2) }, 0x9b027c20},
		{"ldr x1, [sp, #8]", func(a *Assembler) { a.Ldr(X1, SP, 8) }, 0xf94007e1},
		{"str x0, [sp]", func(a *Assembler) { a.Str(X0, SP, 0) }, 0xf90003e0},
		{"ldrb w0, [x1, #1]", func(a *Assembler) { a.Ldrb(X0, X1, 1) }, 0x39400420},
		{"strb w0, [x1]", func(a *Assembler) { a.Strb(X0, X1, 0) }, 0x39000020},
		{"svc #3", func(a *Assembler) { a.Svc(3) }, 0xd4000061},
		{"brk #0", func(a *Assembler) { a.Brk(0) }, 0xd4200000},
		{"ret", func(a *Assembler) { a.Ret() }, 0xd65f03c0},
		{"nop", func(a *Assembler) { a.Nop() }, 0xd503201f},
		{"wfi", func(a *Assembler) { a.Wfi() }, 0xd503207f},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var a Assembler
			tc.emit(&a)
			got := words(t, &a)
			if len(got) != 1 || got[0] != tc.want {
				t.Errorf("got %#x, want %#08x", got, tc.want)
			}
		})
	}
}

func TestBranches(t *testing.T) {
	var a Assembler
	a.Label("top")
	a.Nop()
	a.BCond(NE, "top")
	a.Cbz(X0, "end")
	a.BL("end")
	a.B("top")
	a.Label("end")
	a.Ret()

	got := words(t, &a)
	want := []uint32{
		0xd503201f,
		0x54ffffe1, // b.ne -4
		0xb4000060, // cbz x0, +12
		0x94000002, // bl +8
		0x17fffffc, // b -16
		0xd65f03c0,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d instructions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d = %#08x, want %#08x", i, got[i], want[i])
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a *Assembler)
	}{
		{"undefined label", func(a *Assembler) { a.B("nowhere") }},
		{"redefined label", func(a *Assembler) {
			a.Label("x")
			a.Label("x")
		}},
		{"immediate", func(a *Assembler) { a.AddImm(X0, X0, 0x1001) }},
		{"unaligned offset", func(a *Assembler) { a.Ldr(X0, X1, 4) }},
		{"bad shift", func(a *Assembler) { a.Movz(X0, 1, 8) }},
	} {
		var a Assembler
		tc.emit(&a)
		if _, err := a.Assemble(); err == nil {
			t.Errorf("%s: Assemble succeeded", tc.name)
		}
	}
}

func TestMovImm(t *testing.T) {
	var a Assembler
	a.MovImm(X2, 0xffff_0000_0000_1234)
	got := words(t, &a)
	want := []uint32{
		0xd2824682, // movz x2, #0x1234
		0xf2ffffe2, // movk x2, #0xffff, lsl #48
	}
	if len(got) != len(want) {
		t.Fatalf("MovImm emitted %d instructions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d = %#08x, want %#08x", i, got[i], want[i])
		}
	}
}

func TestPrograms(t *testing.T) {
	for _, p := range All() {
		img, err := p.Build()
		if err != nil {
			t.Errorf("Build(%s): %v", p.Name, err)
			continue
		}
		if len(img) == 0 || len(img)%4 != 0 {
			t.Errorf("%s: image size %d", p.Name, len(img))
		}
	}
	if _, ok := Lookup("hello"); !ok {
		t.Errorf("Lookup(hello) failed")
	}
	if _, ok := Lookup("missing"); ok {
		t.Errorf("Lookup(missing) succeeded")
	}
}

func TestInstall(t *testing.T) {
	f := memfs.New()
	if err := Install(f, "/bin"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	for _, p := range All() {
		got, err := fs.ReadFile(f, "/bin/"+p.Name)
		if err != nil {
			t.Errorf("ReadFile(%s): %v", p.Name, err)
			continue
		}
		if want := MustBuild(p.Name); string(got) != string(want) {
			t.Errorf("%s: installed image differs", p.Name)
		}
	}
}
