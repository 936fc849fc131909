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

package irq

import (
	"context"
	"errors"
	"testing"

	"pikernel.dev/pikernel/pkg/arch"
)

func TestSources(t *testing.T) {
	want := []uint32{1, 3, 9, 49, 50, 51, 52, 57}
	for n, s := range Sources {
		if uint32(s) != want[n] {
			t.Errorf("Sources[%d] = %d, want %d", n, uint32(s), want[n])
		}
		if !s.Valid() {
			t.Errorf("%v is not valid", s)
		}
	}
	if Interrupt(2).Valid() {
		t.Errorf("Interrupt(2) is valid")
	}
}

func TestRegistry(t *testing.T) {
	var (
		r     Registry
		calls []string
		tf    arch.TrapFrame
		ctx   = context.Background()
	)
	if err := r.Invoke(ctx, Timer1, &tf); !errors.Is(err, ErrNoHandler) {
		t.Errorf("Invoke without handler = %v, want %v", err, ErrNoHandler)
	}

	r.Register(Timer1, func(context.Context, *arch.TrapFrame) error {
		calls = append(calls, "first")
		return nil
	})
	r.Register(Timer1, func(_ context.Context, tf *arch.TrapFrame) error {
		calls = append(calls, "second")
		tf.X[0] = 7
		return nil
	})
	if !r.Registered(Timer1) || r.Registered(Uart) {
		t.Errorf("Registered mismatch")
	}
	if err := r.Invoke(ctx, Timer1, &tf); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(calls) != 1 || calls[0] != "second" {
		t.Errorf("calls = %v, want [second]", calls)
	}
	if tf.X[0] != 7 {
		t.Errorf("handler did not see the trap frame")
	}
}

func TestRegisterFromHandler(t *testing.T) {
	var r Registry
	r.Register(Uart, func(context.Context, *arch.TrapFrame) error {
		r.Register(Gpio0, func(context.Context, *arch.TrapFrame) error { return nil })
		return nil
	})
	if err := r.Invoke(context.Background(), Uart, &arch.TrapFrame{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !r.Registered(Gpio0) {
		t.Errorf("nested registration lost")
	}
}

func TestRegisterUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Register(unknown) did not panic")
		}
	}()
	var r Registry
	r.Register(Interrupt(100), nil)
}
