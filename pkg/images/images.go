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

// Package images contains a tiny A64 assembler and the built-in user
// programs. Programs are flat images loaded at the user image base, with
// execution starting at their first instruction.
package images

import (
	"fmt"
	"path"

	"pikernel.dev/pikernel/pkg/abi"
)

// Program is a built-in user program.
type Program struct {
	// Name is the file name the program is installed as.
	Name string

	// Description is a one-line summary.
	Description string

	build func(a *Assembler)
}

// Build assembles the program image.
func (p Program) Build() ([]byte, error) {
	var a Assembler
	p.build(&a)
	a.emitLibrary()
	img, err := a.Assemble()
	if err != nil {
		return nil, fmt.Errorf("assembling %s: %w", p.Name, err)
	}
	return img, nil
}

var programs = []Program{
	{
		Name:        "hello",
		Description: "prints a greeting with its pid and exits",
		build: func(a *Assembler) {
			a.puts("hello from process ")
			a.Svc(abi.SysGetpid)
			a.BL("putdec")
			a.puts("\n")
			a.exit()
		},
	},
	{
		Name:        "sleeper",
		Description: "sleeps 50ms three times, printing the elapsed time",
		build: func(a *Assembler) {
			a.MovImm(X19, 3)
			a.Label("loop")
			a.MovImm(X0, 50)
			a.Svc(abi.SysSleep)
			a.Mov(X20, X0)
			a.puts("slept ")
			a.Mov(X0, X20)
			a.BL("putdec")
			a.puts("ms\n")
			a.SubsImm(X19, X19, 1)
			a.BCond(NE, "loop")
			a.exit()
		},
	},
	{
		Name:        "clock",
		Description: "prints the time since boot in seconds and milliseconds",
		build: func(a *Assembler) {
			a.Svc(abi.SysTime)
			a.Mov(X20, X1)
			a.Mov(X21, X0)
			a.puts("time ")
			a.Mov(X0, X21)
			a.BL("putdec")
			a.puts("s ")
			a.MovImm(X2, 1_000_000)
			a.Udiv(X0, X20, X2)
			a.BL("putdec")
			a.puts("ms\n")
			a.exit()
		},
	},
	{
		Name:        "spin",
		Description: "burns CPU until preempted several times, then exits",
		build: func(a *Assembler) {
			a.MovImm(X19, 2_000_000)
			a.Label("loop")
			a.SubsImm(X19, X19, 1)
			a.BCond(NE, "loop")
			a.puts("spin done\n")
			a.exit()
		},
	},
	{
		Name:        "breakpoint",
		Description: "executes BRK and continues after it",
		build: func(a *Assembler) {
			a.Brk(0)
			a.puts("resumed after brk\n")
			a.exit()
		},
	},
	{
		Name:        "fault",
		Description: "writes to kernel memory and is killed",
		build: func(a *Assembler) {
			a.puts("faulting\n")
			a.MovImm(X1, 0x10000)
			a.Str(X0, X1, 0)
			a.puts("not reached\n")
			a.exit()
		},
	},
}

// All returns every built-in program.
func All() []Program {
	return append([]Program(nil), programs...)
}

// Lookup returns the program called name.
func Lookup(name string) (Program, bool) {
	for _, p := range programs {
		if p.Name == name {
			return p, true
		}
	}
	return Program{}, false
}

// MustBuild assembles the program called name. It panics if there is no such
// program.
func MustBuild(name string) []byte {
	p, ok := Lookup(name)
	if !ok {
		panic(fmt.Sprintf("no program %q", name))
	}
	img, err := p.Build()
	if err != nil {
		panic(err.Error())
	}
	return img
}

// FileWriter is a filesystem that can create files.
type FileWriter interface {
	WriteFile(path string, data []byte) error
}

// Install writes every built-in program into dir.
func Install(w FileWriter, dir string) error {
	for _, p := range programs {
		img, err := p.Build()
		if err != nil {
			return err
		}
		if err := w.WriteFile(path.Join(dir, p.Name), img); err != nil {
			return fmt.Errorf("installing %s: %w", p.Name, err)
		}
	}
	return nil
}

// puts writes s with one write syscall per byte. It clobbers x0 and x7.
func (a *Assembler) puts(s string) {
	for i := 0; i < len(s); i++ {
		a.MovImm(X0, uint64(s[i]))
		a.Svc(abi.SysWrite)
	}
}

// exit emits the exit syscall.
func (a *Assembler) exit() {
	a.Svc(abi.SysExit)
}

// emitLibrary appends the subroutines programs may call. It is called once
// per program, after the program body.
func (a *Assembler) emitLibrary() {
	// putdec prints x0 in decimal. It clobbers x0-x8.
	a.Label("putdec")
	a.Mov(X1, X0)
	a.MovImm(X2, 10)
	a.AddImm(X3, SP, 0)
	a.Label("putdec.digit")
	a.Udiv(X4, X1, X2)
	a.Mul(X5, X4, X2)
	a.SubReg(X6, X1, X5)
	a.AddImm(X6, X6, '0')
	a.SubImm(SP, SP, 1)
	a.Strb(X6, SP, 0)
	a.Mov(X1, X4)
	a.Cbnz(X1, "putdec.digit")
	a.Label("putdec.print")
	a.Ldrb(X0, SP, 0)
	a.AddImm(SP, SP, 1)
	a.Svc(abi.SysWrite)
	a.AddImm(X8, SP, 0)
	a.CmpReg(X8, X3)
	a.BCond(NE, "putdec.print")
	a.Ret()
}
