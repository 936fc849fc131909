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

// Package util groups a bunch of common helper functions used by commands.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"pikernel.dev/pikernel/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages are
// consumed by the user in addition to the log.
var ErrorLogger io.Writer = os.Stderr

// Errorf logs error to the log and to ErrorLogger, then returns
// subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(ErrorLogger, "pikernel: %s\n", msg)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	// Return an error that is unlikely to be used by the kernel's programs.
	os.Exit(128)
}
