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

// Package fs defines the filesystem boundary the kernel loads program images
// through.
package fs

import (
	"fmt"
	"io"

	"pikernel.dev/pikernel/pkg/errors/oserr"
)

// File is an open regular file.
type File interface {
	io.Reader
	io.Seeker
	io.Closer

	// Size returns the size of the file in bytes.
	Size() int64
}

// Entry is a named node in a filesystem.
type Entry interface {
	// Name returns the full path of the entry.
	Name() string

	// IsDir returns true if the entry is a directory.
	IsDir() bool

	// Open opens a regular file. It returns oserr.ErrNotFile for a
	// directory.
	Open() (File, error)
}

// FileSystem resolves paths to entries.
type FileSystem interface {
	// Open returns the entry at path, or oserr.ErrNoEntry.
	Open(path string) (Entry, error)
}

// ReadFile reads the whole regular file at path.
func ReadFile(fsys FileSystem, path string) ([]byte, error) {
	e, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, oserr.ErrNotFile
	}
	f, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, f.Size())
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("reading %s (%v): %w", e.Name(), err, oserr.ErrIO)
	}
	return buf, nil
}
