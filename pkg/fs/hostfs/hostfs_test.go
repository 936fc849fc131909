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

package hostfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/fs"
)

func TestReadWrite(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.WriteFile("/images/hello", []byte("hello")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "images", "hello")); err != nil {
		t.Errorf("file not written under the root: %v", err)
	}
	got, err := fs.ReadFile(f, "images/hello")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadFile = %q, want %q", got, "hello")
	}
}

func TestConfined(t *testing.T) {
	dir := t.TempDir()
	inner := filepath.Join(dir, "root")
	if err := os.Mkdir(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := New(inner)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := f.Open("../secret"); !errors.Is(err, oserr.ErrNoEntry) {
		t.Errorf("Open(../secret) = %v, want %v", err, oserr.ErrNoEntry)
	}
}

func TestErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "d"), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := fs.ReadFile(f, "/missing"); !errors.Is(err, oserr.ErrNoEntry) {
		t.Errorf("ReadFile(missing) = %v, want %v", err, oserr.ErrNoEntry)
	}
	if _, err := fs.ReadFile(f, "/d"); !errors.Is(err, oserr.ErrNotFile) {
		t.Errorf("ReadFile(dir) = %v, want %v", err, oserr.ErrNotFile)
	}
	if _, err := New(filepath.Join(dir, "missing")); !errors.Is(err, oserr.ErrNoEntry) {
		t.Errorf("New(missing) = %v, want %v", err, oserr.ErrNoEntry)
	}
}

func TestLock(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := New(dir)

	ctx := context.Background()
	unlockA, err := a.Lock(ctx, false)
	if err != nil {
		t.Fatalf("shared Lock: %v", err)
	}
	unlockB, err := b.Lock(ctx, false)
	if err != nil {
		t.Fatalf("second shared Lock: %v", err)
	}
	unlockB()

	c, _ := New(dir)
	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := c.Lock(tctx, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("exclusive Lock while a shared lock is held = %v, want %v", err, context.DeadlineExceeded)
	}
	unlockA()

	unlockC, err := c.Lock(ctx, true)
	if err != nil {
		t.Fatalf("exclusive Lock after release: %v", err)
	}
	unlockC()
}
