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

// Package abi defines the kernel's binary interface with user programs:
// syscall numbers and the status codes returned in the status register.
package abi

import "fmt"

// Syscall numbers. A program selects a syscall with the immediate of its SVC
// instruction.
const (
	SysSleep  = 1
	SysTime   = 2
	SysExit   = 3
	SysWrite  = 4
	SysGetpid = 5
)

// Status is the value a syscall leaves in the status register. Status codes
// are shared with the kernel's internal error values, see pkg/errors/oserr.
type Status uint64

// Status codes.
const (
	StatusUnknown                Status = 0
	StatusOk                     Status = 1
	StatusNoEntry                Status = 10
	StatusNoMemory               Status = 20
	StatusNoVmSpace              Status = 30
	StatusNoAccess               Status = 40
	StatusBadAddress             Status = 50
	StatusFileExists             Status = 60
	StatusInvalidArgument        Status = 70
	StatusIoError                Status = 101
	StatusIoErrorEOF             Status = 102
	StatusIoErrorInvalidData     Status = 103
	StatusIoErrorInvalidInput    Status = 104
	StatusIoErrorTimedOut        Status = 105
	StatusInvalidSocket          Status = 200
	StatusIllegalSocketOperation Status = 201
	StatusUnknownSocketHandle    Status = 202
	StatusInvalidPort            Status = 203
)

var statusNames = map[Status]string{
	StatusUnknown:                "Unknown",
	StatusOk:                     "Ok",
	StatusNoEntry:                "NoEntry",
	StatusNoMemory:               "NoMemory",
	StatusNoVmSpace:              "NoVmSpace",
	StatusNoAccess:               "NoAccess",
	StatusBadAddress:             "BadAddress",
	StatusFileExists:             "FileExists",
	StatusInvalidArgument:        "InvalidArgument",
	StatusIoError:                "IoError",
	StatusIoErrorEOF:             "IoErrorEof",
	StatusIoErrorInvalidData:     "IoErrorInvalidData",
	StatusIoErrorInvalidInput:    "IoErrorInvalidInput",
	StatusIoErrorTimedOut:        "IoErrorTimedOut",
	StatusInvalidSocket:          "InvalidSocket",
	StatusIllegalSocketOperation: "IllegalSocketOperation",
	StatusUnknownSocketHandle:    "UnknownSocketHandle",
	StatusInvalidPort:            "InvalidPort",
}

// String implements fmt.Stringer.String.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint64(s))
}
