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

package memfs

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/fs"
)

func TestReadFile(t *testing.T) {
	f := New()
	if err := f.WriteFile("/images/hello", []byte("hi")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	for _, path := range []string{"/images/hello", "images/hello", "/images/./hello", "/../images//hello"} {
		got, err := fs.ReadFile(f, path)
		if err != nil {
			t.Errorf("ReadFile(%q): %v", path, err)
			continue
		}
		if string(got) != "hi" {
			t.Errorf("ReadFile(%q) = %q, want %q", path, got, "hi")
		}
	}

	e, err := f.Open("images/hello")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got, want := e.Name(), "/images/hello"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
}

func TestErrors(t *testing.T) {
	f := New()
	if err := f.WriteFile("/images/hello", nil); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	for _, tc := range []struct {
		path string
		want error
	}{
		{"", oserr.ErrNoEntry},
		{"/missing", oserr.ErrNoEntry},
		{"/images/hello/", oserr.ErrNoEntry},
		{"/images/hello/x", oserr.ErrNoEntry},
		{"/images", oserr.ErrNotFile},
	} {
		if _, err := fs.ReadFile(f, tc.path); !errors.Is(err, tc.want) {
			t.Errorf("ReadFile(%q) = %v, want %v", tc.path, err, tc.want)
		}
	}
	if err := f.WriteFile("/images", nil); !errors.Is(err, oserr.ErrFileExists) {
		t.Errorf("WriteFile over a directory = %v, want %v", err, oserr.ErrFileExists)
	}
	if err := f.WriteFile("/images/", nil); !errors.Is(err, oserr.ErrInvalidArgument) {
		t.Errorf("WriteFile(dir path) = %v, want %v", err, oserr.ErrInvalidArgument)
	}
}

func TestReadDir(t *testing.T) {
	f := New()
	for _, p := range []string{"/b", "/a", "/d/c"} {
		if err := f.WriteFile(p, nil); err != nil {
			t.Fatalf("WriteFile(%q): %v", p, err)
		}
	}
	got, err := f.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "d"}, got); diff != "" {
		t.Errorf("ReadDir mismatch (-want +got):\n%s", diff)
	}
}

func TestOverwrite(t *testing.T) {
	f := New()
	f.WriteFile("/x", []byte("old"))
	e, err := f.Open("/x")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	file, err := e.Open()
	if err != nil {
		t.Fatalf("Entry.Open: %v", err)
	}
	defer file.Close()
	f.WriteFile("/x", []byte("newer"))

	if got := file.Size(); got != 3 {
		t.Errorf("open file Size = %d, want 3", got)
	}
	if got, _ := fs.ReadFile(f, "/x"); string(got) != "newer" {
		t.Errorf("ReadFile = %q, want %q", got, "newer")
	}
}
