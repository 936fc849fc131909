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

// Package irq defines the interrupt sources of the machine and the registry
// of their handlers.
package irq

import (
	"context"
	"errors"
	"fmt"

	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/sync"
)

// Interrupt is an interrupt source, numbered by its controller bit.
type Interrupt uint32

// Interrupt sources.
const (
	Timer1 Interrupt = 1
	Timer3 Interrupt = 3
	Usb    Interrupt = 9
	Gpio0  Interrupt = 49
	Gpio1  Interrupt = 50
	Gpio2  Interrupt = 51
	Gpio3  Interrupt = 52
	Uart   Interrupt = 57
)

// Sources lists every interrupt in the order pending sources are serviced.
var Sources = [...]Interrupt{Timer1, Timer3, Usb, Gpio0, Gpio1, Gpio2, Gpio3, Uart}

// index returns i's position in Sources.
func (i Interrupt) index() (int, bool) {
	for n, s := range Sources {
		if s == i {
			return n, true
		}
	}
	return 0, false
}

// Valid returns true if i is a known source.
func (i Interrupt) Valid() bool {
	_, ok := i.index()
	return ok
}

// String implements fmt.Stringer.String.
func (i Interrupt) String() string {
	switch i {
	case Timer1:
		return "Timer1"
	case Timer3:
		return "Timer3"
	case Usb:
		return "Usb"
	case Gpio0:
		return "Gpio0"
	case Gpio1:
		return "Gpio1"
	case Gpio2:
		return "Gpio2"
	case Gpio3:
		return "Gpio3"
	case Uart:
		return "Uart"
	default:
		return fmt.Sprintf("Interrupt(%d)", uint32(i))
	}
}

// Controller is the interrupt controller.
type Controller interface {
	// IsPending returns true if source i has an interrupt pending.
	IsPending(i Interrupt) bool

	// Enable unmasks source i.
	Enable(i Interrupt)
}

// Handler services an interrupt. tf is the interrupted context, which the
// handler may replace.
type Handler func(ctx context.Context, tf *arch.TrapFrame) error

// ErrNoHandler is returned by Invoke for a source without a handler.
var ErrNoHandler = errors.New("no handler registered")

// Registry holds one handler per source.
type Registry struct {
	mu sync.Mutex

	// handlers is indexed like Sources. handlers is protected by mu.
	handlers [len(Sources)]Handler
}

// Register installs h for source i, replacing any previous handler. It
// panics for an unknown source.
func (r *Registry) Register(i Interrupt, h Handler) {
	n, ok := i.index()
	if !ok {
		panic(fmt.Sprintf("registering handler for unknown interrupt %v", i))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[n] = h
}

// Registered returns true if source i has a handler.
func (r *Registry) Registered(i Interrupt) bool {
	return r.lookup(i) != nil
}

func (r *Registry) lookup(i Interrupt) Handler {
	n, ok := i.index()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers[n]
}

// Invoke runs the handler for source i. The registry lock is not held while
// the handler runs, so handlers may register handlers.
func (r *Registry) Invoke(ctx context.Context, i Interrupt, tf *arch.TrapFrame) error {
	h := r.lookup(i)
	if h == nil {
		return fmt.Errorf("interrupt %v: %w", i, ErrNoHandler)
	}
	return h(ctx, tf)
}
