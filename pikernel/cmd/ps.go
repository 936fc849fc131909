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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
	"pikernel.dev/pikernel/pikernel/cmd/util"
	"pikernel.dev/pikernel/pikernel/config"
	"pikernel.dev/pikernel/pkg/kernel"
)

// PS implements subcommands.Command for the "ps" command.
type PS struct {
	format      string
	showConsole bool
}

// Name implements subcommands.Command.Name.
func (*PS) Name() string {
	return "ps"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PS) Synopsis() string {
	return "run programs and print the process table when the machine stops"
}

// Usage implements subcommands.Command.Usage.
func (*PS) Usage() string {
	return `ps [flags] <program>... - run programs and print the process table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (ps *PS) SetFlags(f *flag.FlagSet) {
	f.StringVar(&ps.format, "format", "", "output format: table, json or yaml. Default is table on a terminal, json otherwise.")
	f.BoolVar(&ps.showConsole, "console", false, "copy the console output to stderr.")
}

// ProcessEntry is one row of the process table.
type ProcessEntry struct {
	ID    uint64 `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	State string `json:"state" yaml:"state"`
	Pages int    `json:"pages" yaml:"pages"`
}

// ProcessTable is the output of the ps command.
type ProcessTable struct {
	Processes    []ProcessEntry `json:"processes" yaml:"processes"`
	Clock        string         `json:"clock" yaml:"clock"`
	Instructions uint64         `json:"instructions" yaml:"instructions"`
	Exceptions   uint64         `json:"exceptions" yaml:"exceptions"`
	Interrupts   uint64         `json:"interrupts" yaml:"interrupts"`
}

// newProcessTable lists the exited processes, then the ones still queued.
func newProcessTable(res Result) ProcessTable {
	pt := ProcessTable{
		Clock:        res.Clock.String(),
		Instructions: res.Stats.Instructions,
		Exceptions:   res.Stats.Exceptions,
		Interrupts:   res.Stats.Interrupts,
	}
	add := func(infos []kernel.Info) {
		for _, i := range infos {
			pt.Processes = append(pt.Processes, ProcessEntry{ID: uint64(i.ID), Name: i.Name, State: i.State, Pages: i.Pages})
		}
	}
	add(res.Exited)
	add(res.Remaining)
	return pt
}

// Execute implements subcommands.Command.Execute.
func (ps *PS) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	format := ps.format
	if format == "" {
		format = "json"
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "table"
		}
	}
	switch format {
	case "table", "json", "yaml":
	default:
		return util.Errorf("Unsupported output format %q", format)
	}
	out := io.Discard
	if ps.showConsole {
		out = os.Stderr
	}
	res, err := Run(ctx, conf, f.Args(), out)
	if werr := writeProcessTable(os.Stdout, format, newProcessTable(res)); werr != nil {
		return util.Errorf("%v", werr)
	}
	if err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// writeProcessTable writes pt to w in the given format.
func writeProcessTable(w io.Writer, format string, pt ProcessTable) error {
	switch format {
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "PID\tNAME\tSTATE\tPAGES\n")
		for _, p := range pt.Processes {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", p.ID, p.Name, p.State, p.Pages)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "clock %s, %d instructions, %d exceptions, %d interrupts\n", pt.Clock, pt.Instructions, pt.Exceptions, pt.Interrupts)
		return err
	case "json":
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(pt)
	case "yaml":
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(pt); err != nil {
			return err
		}
		return e.Close()
	}
	return fmt.Errorf("unsupported output format %q", format)
}
