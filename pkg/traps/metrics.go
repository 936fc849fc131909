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

package traps

import (
	"pikernel.dev/pikernel/pkg/irq"
	"pikernel.dev/pikernel/pkg/metric"
	"pikernel.dev/pikernel/pkg/ring0"
	"pikernel.dev/pikernel/pkg/syscalls"
)

// unknownSyscall is the syscall field value of numbers missing from the table.
const unknownSyscall = "unknown"

var (
	exceptionsMetric = metric.MustCreateNewUint64Metric("/traps/exceptions", "Number of exceptions taken, by kind.",
		metric.NewField("kind", []string{
			ring0.Synchronous.String(),
			ring0.Irq.String(),
			ring0.Fiq.String(),
			ring0.SError.String(),
		}))
	syscallsMetric = metric.MustCreateNewUint64Metric("/traps/syscalls", "Number of syscalls issued, by name.",
		metric.NewField("syscall", syscallNames()))
	interruptsMetric = metric.MustCreateNewUint64Metric("/traps/interrupts", "Number of interrupts serviced, by source.",
		metric.NewField("source", interruptNames()))
	faultsMetric = metric.MustCreateNewUint64Metric("/traps/user_faults", "Number of processes killed by a fault.")
)

func syscallNames() []string {
	var names []string
	for _, e := range syscalls.Default.Names() {
		names = append(names, e.Name)
	}
	return append(names, unknownSyscall)
}

func interruptNames() []string {
	names := make([]string, 0, len(irq.Sources))
	for _, src := range irq.Sources {
		names = append(names, src.String())
	}
	return names
}

// syscallField returns the metric field value for a syscall name. Tables
// other than syscalls.Default may name syscalls the metric does not know.
func syscallField(name string) string {
	for _, e := range syscalls.Default.Names() {
		if e.Name == name {
			return name
		}
	}
	return unknownSyscall
}
