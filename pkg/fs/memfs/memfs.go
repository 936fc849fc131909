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

// Package memfs provides an in-memory fs.FileSystem.
package memfs

import (
	"bytes"
	"slices"
	"sort"
	"strings"

	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/fs"
	"pikernel.dev/pikernel/pkg/fspath"
	"pikernel.dev/pikernel/pkg/sync"
)

// node is a file or directory.
type node struct {
	name     string
	parent   *node
	children map[string]*node // nil for regular files.
	data     []byte
}

func (n *node) isDir() bool {
	return n.children != nil
}

// path returns the absolute path of n.
func (n *node) path() string {
	if n.parent == nil {
		return "/"
	}
	var pcs []string
	for ; n.parent != nil; n = n.parent {
		pcs = append(pcs, n.name)
	}
	slices.Reverse(pcs)
	return "/" + strings.Join(pcs, "/")
}

// FileSystem is an in-memory tree of files.
type FileSystem struct {
	mu   sync.RWMutex
	root *node
}

var _ fs.FileSystem = (*FileSystem)(nil)

// New returns an empty filesystem.
func New() *FileSystem {
	return &FileSystem{root: &node{children: make(map[string]*node)}}
}

// walk resolves the components pcs from the root. If create is set, missing
// directories are created.
//
// Preconditions: mu is locked, for writing if create is set.
func (f *FileSystem) walk(pcs []string, create bool) (*node, error) {
	n := f.root
	for _, name := range pcs {
		if !n.isDir() {
			return nil, oserr.ErrNoEntry
		}
		switch name {
		case ".":
		case "..":
			if n.parent != nil {
				n = n.parent
			}
		default:
			child, ok := n.children[name]
			if !ok {
				if !create {
					return nil, oserr.ErrNoEntry
				}
				child = &node{name: name, parent: n, children: make(map[string]*node)}
				n.children[name] = child
			}
			n = child
		}
	}
	return n, nil
}

// WriteFile creates or replaces the file at path, creating parent
// directories as needed.
func (f *FileSystem) WriteFile(path string, data []byte) error {
	p, err := fspath.Parse(path)
	if err != nil {
		return err
	}
	pcs := p.Components()
	if len(pcs) == 0 || p.Dir {
		return oserr.ErrInvalidArgument
	}
	last := pcs[len(pcs)-1]
	if last == "." || last == ".." {
		return oserr.ErrInvalidArgument
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parent, err := f.walk(pcs[:len(pcs)-1], true)
	if err != nil {
		return err
	}
	if existing, ok := parent.children[last]; ok && existing.isDir() {
		return oserr.ErrFileExists
	}
	parent.children[last] = &node{
		name:   last,
		parent: parent,
		data:   bytes.Clone(data),
	}
	return nil
}

// Open implements fs.FileSystem.Open.
func (f *FileSystem) Open(path string) (fs.Entry, error) {
	p, err := fspath.Parse(path)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, err := f.walk(p.Components(), false)
	if err != nil {
		return nil, err
	}
	if p.Dir && !n.isDir() {
		return nil, oserr.ErrNoEntry
	}
	return &entry{n: n, name: n.path()}, nil
}

// ReadDir returns the sorted names in the directory at path.
func (f *FileSystem) ReadDir(path string) ([]string, error) {
	p, err := fspath.Parse(path)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, err := f.walk(p.Components(), false)
	if err != nil {
		return nil, err
	}
	if !n.isDir() {
		return nil, oserr.ErrInvalidArgument
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type entry struct {
	n    *node
	name string
}

// Name implements fs.Entry.Name.
func (e *entry) Name() string { return e.name }

// IsDir implements fs.Entry.IsDir.
func (e *entry) IsDir() bool { return e.n.isDir() }

// Open implements fs.Entry.Open. The file sees the contents at the time of
// the call.
func (e *entry) Open() (fs.File, error) {
	if e.n.isDir() {
		return nil, oserr.ErrNotFile
	}
	return &file{Reader: bytes.NewReader(e.n.data)}, nil
}

type file struct {
	*bytes.Reader
}

// Close implements io.Closer.Close.
func (*file) Close() error { return nil }
