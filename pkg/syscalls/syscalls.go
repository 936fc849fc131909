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

// Package syscalls is the interface from user programs to the kernel.
//
// A program issues a syscall with SVC #n, where n is one of the abi.Sys*
// numbers. The argument is in x0, results are returned in x0 and x1 and the
// abi.Status in x7. Handlers run on the trap path with the interrupted
// process's TrapFrame; a handler that switches processes leaves the next
// process's context in the frame.
package syscalls

import (
	"context"
	"fmt"
	"sort"

	"pikernel.dev/pikernel/pkg/abi"
	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/kernel"
)

// Fn is a syscall handler. A non-nil error stops the machine.
type Fn func(ctx context.Context, k *kernel.Kernel, tf *arch.TrapFrame) error

// Syscall is a syscall table entry.
type Syscall struct {
	// Name is the syscall's name, for logs and the CLI.
	Name string

	// Fn is the handler.
	Fn Fn
}

// Table maps syscall numbers to handlers.
type Table struct {
	Table map[uint16]Syscall
}

// Default is the kernel's syscall table.
var Default = &Table{
	Table: map[uint16]Syscall{
		abi.SysSleep:  {Name: "sleep", Fn: Sleep},
		abi.SysTime:   {Name: "time", Fn: Time},
		abi.SysExit:   {Name: "exit", Fn: Exit},
		abi.SysWrite:  {Name: "write", Fn: Write},
		abi.SysGetpid: {Name: "getpid", Fn: Getpid},
	},
}

// Lookup returns the syscall numbered n.
func (t *Table) Lookup(n uint16) (Syscall, bool) {
	s, ok := t.Table[n]
	return s, ok
}

// Entry is a numbered syscall.
type Entry struct {
	Number uint16
	Name   string
}

// String implements fmt.Stringer.String.
func (e Entry) String() string {
	return fmt.Sprintf("%d\t%s", e.Number, e.Name)
}

// Names returns every syscall in t ordered by number.
func (t *Table) Names() []Entry {
	entries := make([]Entry, 0, len(t.Table))
	for n, s := range t.Table {
		entries = append(entries, Entry{Number: n, Name: s.Name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Number < entries[j].Number })
	return entries
}
