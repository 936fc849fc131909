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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"pikernel.dev/pikernel/pikernel/cmd/util"
	"pikernel.dev/pikernel/pikernel/config"
	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/log"
	"pikernel.dev/pikernel/pkg/prometheus"
	"pikernel.dev/pikernel/pkg/traps"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// console is where the console device writes. It is stdout when nil.
	console io.Writer
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and run programs until they exit"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] <program>... - boot the kernel and run the given programs.

Programs are paths in the kernel's filesystem: the --root directory, or the
built-in images under --images (e.g. /bin/hello) when no root is given.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Boot) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	out := b.console
	if out == nil {
		out = os.Stdout
	}
	res, err := Run(ctx, conf, f.Args(), out)
	if merr := writeMetrics(conf); merr != nil {
		log.Warningf("Writing metrics: %v", merr)
	}
	if err != nil {
		var perr *traps.PanicError
		if errors.As(err, &perr) {
			dumpFrame(&perr.Frame)
		}
		return util.Errorf("%v", err)
	}
	for _, info := range res.Exited {
		log.Debugf("Process %d (%s) exited", info.ID, info.Name)
	}
	return subcommands.ExitSuccess
}

// dumpFrame logs the registers of a panicking frame.
func dumpFrame(tf *arch.TrapFrame) {
	log.Warningf("elr %#016x spsr %#016x sp %#016x", tf.ELR, tf.SPSR, tf.SP)
	for i := 0; i+4 <= len(tf.X); i += 4 {
		log.Warningf("x%-2d %#016x %#016x %#016x %#016x", i, tf.X[i], tf.X[i+1], tf.X[i+2], tf.X[i+3])
	}
	log.Warningf("x28 %#016x %#016x lr %#016x", tf.X[28], tf.X[29], tf.LR)
}

// writeMetrics writes every metric to conf.MetricsFile, if set.
func writeMetrics(conf *config.Config) error {
	if conf.MetricsFile == "" {
		return nil
	}
	w := io.Writer(os.Stdout)
	if conf.MetricsFile != "-" {
		f, err := os.Create(conf.MetricsFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err := prometheus.WriteAll(w, prometheus.ExportOptions{
		CommentHeader:  fmt.Sprintf("pikernel metrics, clock %s", conf.Clock),
		ExporterPrefix: "pikernel_",
	})
	return err
}
