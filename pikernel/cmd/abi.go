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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"pikernel.dev/pikernel/pikernel/cmd/util"
	"pikernel.dev/pikernel/pkg/ring0"
)

// ABI implements subcommands.Command for the "abi" command.
type ABI struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*ABI) Name() string {
	return "abi"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*ABI) Synopsis() string {
	return "Print the assembly header with TrapFrame offsets, vectors and syscall numbers."
}

// Usage implements subcommands.Command.Usage.
func (*ABI) Usage() string {
	return `abi [-o file] - Print the assembly ABI header.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (a *ABI) SetFlags(f *flag.FlagSet) {
	f.StringVar(&a.output, "o", "", "file to write the header to, default is stdout.")
}

// Execute implements subcommands.Command.Execute.
func (a *ABI) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if a.output == "" {
		ring0.Emit(os.Stdout)
		return subcommands.ExitSuccess
	}
	f, err := os.Create(a.output)
	if err != nil {
		return util.Errorf("Creating %q: %v", a.output, err)
	}
	ring0.Emit(f)
	if err := f.Close(); err != nil {
		return util.Errorf("Writing %q: %v", a.output, err)
	}
	return subcommands.ExitSuccess
}
