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

// Package oserr contains the kernel's error values exported as *errors.Error
// pointers, one per abi.Status. Comparisons are pointer comparisons, so
// errors.Is works through wrapping.
package oserr

import (
	goerrors "errors"
	"io"
	"io/fs"

	"golang.org/x/sys/unix"
	"pikernel.dev/pikernel/pkg/abi"
	"pikernel.dev/pikernel/pkg/errors"
)

// Errors for every non-Ok status.
var (
	ErrUnknown                = errors.New(abi.StatusUnknown, "unknown error")
	ErrNoEntry                = errors.New(abi.StatusNoEntry, "no such file or directory")
	ErrNoMemory               = errors.New(abi.StatusNoMemory, "out of memory")
	ErrNoVmSpace              = errors.New(abi.StatusNoVmSpace, "no virtual address space left")
	ErrNoAccess               = errors.New(abi.StatusNoAccess, "permission denied")
	ErrBadAddress             = errors.New(abi.StatusBadAddress, "bad address")
	ErrFileExists             = errors.New(abi.StatusFileExists, "file exists")
	ErrInvalidArgument        = errors.New(abi.StatusInvalidArgument, "invalid argument")
	ErrIO                     = errors.New(abi.StatusIoError, "I/O error")
	ErrIOEOF                  = errors.New(abi.StatusIoErrorEOF, "unexpected end of file")
	ErrIOInvalidData          = errors.New(abi.StatusIoErrorInvalidData, "invalid data")
	ErrIOInvalidInput         = errors.New(abi.StatusIoErrorInvalidInput, "invalid input")
	ErrIOTimedOut             = errors.New(abi.StatusIoErrorTimedOut, "timed out")
	ErrInvalidSocket          = errors.New(abi.StatusInvalidSocket, "invalid socket")
	ErrIllegalSocketOperation = errors.New(abi.StatusIllegalSocketOperation, "illegal socket operation")
	ErrUnknownSocketHandle    = errors.New(abi.StatusUnknownSocketHandle, "unknown socket handle")
	ErrInvalidPort            = errors.New(abi.StatusInvalidPort, "invalid port")

	// ErrNotFile is returned when a path names a directory where a regular
	// file is required. It shares the InvalidArgument status.
	ErrNotFile = errors.New(abi.StatusInvalidArgument, "not a regular file")
)

// ToStatus returns the status code to report for err. A nil err is Ok and an
// error that does not wrap an *errors.Error is Unknown.
func ToStatus(err error) abi.Status {
	if err == nil {
		return abi.StatusOk
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Status()
	}
	return abi.StatusUnknown
}

// FromHost translates an error returned by the host (os, io or unix) into a
// kernel error. Errors with no kernel equivalent become ErrIO.
func FromHost(err error) error {
	if err == nil {
		return nil
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e
	}
	switch {
	case goerrors.Is(err, io.ErrUnexpectedEOF), goerrors.Is(err, io.EOF):
		return ErrIOEOF
	case goerrors.Is(err, fs.ErrNotExist):
		return ErrNoEntry
	case goerrors.Is(err, fs.ErrExist):
		return ErrFileExists
	case goerrors.Is(err, fs.ErrPermission):
		return ErrNoAccess
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		switch errno {
		case unix.ENOENT, unix.ENOTDIR:
			return ErrNoEntry
		case unix.EISDIR:
			return ErrNotFile
		case unix.ENOMEM:
			return ErrNoMemory
		case unix.EACCES, unix.EPERM:
			return ErrNoAccess
		case unix.EFAULT:
			return ErrBadAddress
		case unix.EEXIST:
			return ErrFileExists
		case unix.EINVAL:
			return ErrInvalidArgument
		case unix.ETIMEDOUT:
			return ErrIOTimedOut
		}
	}
	return ErrIO
}
