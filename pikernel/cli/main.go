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

// Package cli is the main entrypoint for pikernel.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"pikernel.dev/pikernel/pikernel/cmd"
	"pikernel.dev/pikernel/pikernel/cmd/util"
	"pikernel.dev/pikernel/pikernel/config"
	"pikernel.dev/pikernel/pkg/log"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var logFile io.Writer = os.Stderr
	if conf.LogFilename != "" {
		opts := log.BootFileOpts{Command: flag.Arg(0), Start: time.Now()}
		f, err := log.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, opts)
		if err != nil {
			util.Fatalf("%v", err)
		}
		logFile = f
	}
	log.SetTarget(newEmitter(conf.LogFormat, logFile))

	const delimString = `**************** pikernel ****************`
	log.Infof(delimString)
	log.Infof("%s, %s, PID %d, PPID %d, UID %d, GID %d", runtime.Version(), runtime.GOARCH, os.Getpid(), os.Getppid(), os.Getuid(), os.Getgid())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// pikernel.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	cb(new(cmd.Boot), "")
	cb(new(cmd.PS), "")

	// Helpers.
	const helperGroup = "helpers"
	cb(new(cmd.MkImage), helperGroup)
	cb(new(cmd.Syscalls), helperGroup)
	cb(new(cmd.ABI), helperGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{&log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{&log.Writer{Next: logFile}}
	}
	util.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
