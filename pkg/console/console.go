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

// Package console provides the console device: a serialized byte sink in
// front of the UART.
package console

import (
	"fmt"
	"io"

	"pikernel.dev/pikernel/pkg/errors/oserr"
	"pikernel.dev/pikernel/pkg/sync"
)

// Console writes bytes to an underlying writer one at a time.
type Console struct {
	mu sync.Mutex

	// w is the device. w is protected by mu.
	w io.Writer

	// buf avoids an allocation per byte. buf is protected by mu.
	buf [1]byte

	// written counts bytes accepted by w. written is protected by mu.
	written uint64
}

// New returns a console writing to w.
func New(w io.Writer) *Console {
	return &Console{w: w}
}

// WriteByte implements io.ByteWriter.WriteByte.
func (c *Console) WriteByte(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf[0] = b
	n, err := c.w.Write(c.buf[:])
	c.written += uint64(n)
	if err != nil {
		return fmt.Errorf("console write: %w", oserr.FromHost(err))
	}
	if n != 1 {
		return fmt.Errorf("console write: %w", oserr.ErrIO)
	}
	return nil
}

// Written returns the number of bytes written so far.
func (c *Console) Written() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}
