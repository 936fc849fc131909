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

package console

import (
	"bytes"
	"errors"
	"testing"

	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/sync"
)

func TestWriteByte(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf)
	for _, b := range []byte("hi\n") {
		if err := c.WriteByte(b); err != nil {
			t.Fatalf("WriteByte(%q): %v", b, err)
		}
	}
	if got := buf.String(); got != "hi\n" {
		t.Errorf("output = %q, want %q", got, "hi\n")
	}
	if got := c.Written(); got != 3 {
		t.Errorf("Written = %d, want 3", got)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken") }

func TestWriteError(t *testing.T) {
	c := New(brokenWriter{})
	if err := c.WriteByte('x'); !errors.Is(err, oserr.ErrIO) {
		t.Errorf("WriteByte = %v, want %v", err, oserr.ErrIO)
	}
}

func TestConcurrent(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.WriteByte('a')
			}
		}()
	}
	wg.Wait()
	if got := buf.Len(); got != 800 {
		t.Errorf("wrote %d bytes, want 800", got)
	}
}
