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

// Package hostfs provides an fs.FileSystem backed by a host directory.
package hostfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/fs"
	"pikernel.dev/pikernel/pkg/fspath"
	"pikernel.dev/pikernel/pkg/log"
)

// LockFile is the name of the lock file kept in the root directory.
const LockFile = ".pikernel.lock"

// Lock retry intervals.
const (
	lockInitialDelay = time.Millisecond
	lockMaxDelay     = 100 * time.Millisecond
)

// errLockBusy is returned by a lock attempt while another holder conflicts.
var errLockBusy = errors.New("lock held by another process")

// FileSystem serves files below a host directory. Paths never resolve
// outside the root.
type FileSystem struct {
	root string
	lock *flock.Flock
}

var _ fs.FileSystem = (*FileSystem)(nil)

// New returns a FileSystem rooted at dir, which must exist.
func New(dir string) (*FileSystem, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", dir, err)
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening root %q: %w", root, oserr.FromHost(err))
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("root %q: %w", root, oserr.ErrInvalidArgument)
	}
	return &FileSystem{
		root: root,
		lock: flock.New(filepath.Join(root, LockFile)),
	}, nil
}

// Root returns the host directory.
func (f *FileSystem) Root() string {
	return f.root
}

// Lock takes the root lock, shared or exclusive, waiting until ctx is done.
// Readers (boot) share it; writers (mkimage) take it exclusively. The
// returned function releases the lock.
func (f *FileSystem) Lock(ctx context.Context, exclusive bool) (func(), error) {
	try := f.lock.TryRLock
	if exclusive {
		try = f.lock.TryLock
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lockInitialDelay
	b.MaxInterval = lockMaxDelay
	b.MaxElapsedTime = 0
	op := func() error {
		ok, err := try()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLockBusy
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
		return nil, fmt.Errorf("locking %s: %w", f.lock.Path(), err)
	}
	log.Debugf("Locked %s (exclusive: %t)", f.lock.Path(), exclusive)
	return func() {
		if err := f.lock.Unlock(); err != nil {
			log.Warningf("Unlocking %s: %v", f.lock.Path(), err)
		}
	}, nil
}

// hostPath maps path to a host path under the root, resolving "." and ".."
// lexically so the result cannot escape.
func (f *FileSystem) hostPath(path string) (string, fspath.Path, error) {
	p, err := fspath.Parse(path)
	if err != nil {
		return "", p, err
	}
	var clean []string
	for _, pc := range p.Components() {
		switch pc {
		case ".":
		case "..":
			if len(clean) > 0 {
				clean = clean[:len(clean)-1]
			}
		default:
			clean = append(clean, pc)
		}
	}
	return filepath.Join(append([]string{f.root}, clean...)...), p, nil
}

// Open implements fs.FileSystem.Open.
func (f *FileSystem) Open(path string) (fs.Entry, error) {
	hp, p, err := f.hostPath(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(hp)
	if err != nil {
		return nil, oserr.FromHost(err)
	}
	if p.Dir && !fi.IsDir() {
		return nil, oserr.ErrNoEntry
	}
	return &entry{hostPath: hp, name: path, dir: fi.IsDir()}, nil
}

// WriteFile writes data to the file at path, creating parent directories.
func (f *FileSystem) WriteFile(path string, data []byte) error {
	hp, _, err := f.hostPath(path)
	if err != nil {
		return err
	}
	if hp == f.root {
		return oserr.ErrInvalidArgument
	}
	if err := os.MkdirAll(filepath.Dir(hp), 0o755); err != nil {
		return oserr.FromHost(err)
	}
	if err := os.WriteFile(hp, data, 0o644); err != nil {
		return oserr.FromHost(err)
	}
	return nil
}

type entry struct {
	hostPath string
	name     string
	dir      bool
}

// Name implements fs.Entry.Name.
func (e *entry) Name() string { return e.name }

// IsDir implements fs.Entry.IsDir.
func (e *entry) IsDir() bool { return e.dir }

// Open implements fs.Entry.Open.
func (e *entry) Open() (fs.File, error) {
	if e.dir {
		return nil, oserr.ErrNotFile
	}
	osf, err := os.Open(e.hostPath)
	if err != nil {
		return nil, oserr.FromHost(err)
	}
	fi, err := osf.Stat()
	if err != nil {
		osf.Close()
		return nil, oserr.FromHost(err)
	}
	return &file{File: osf, size: fi.Size()}, nil
}

type file struct {
	*os.File
	size int64
}

// Size implements fs.File.Size.
func (f *file) Size() int64 { return f.size }
