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

package kernel

import (
	"fmt"
	"time"

	"pikernel.dev/pikernel/pkg/ktime"
)

// StateKind is the tag of a scheduling state.
type StateKind int

// Scheduling states.
const (
	// Ready processes may be switched to.
	Ready StateKind = iota

	// Running is the state of the process whose context is live. At most
	// one process is Running, and it is the head of the run queue.
	Running

	// Waiting processes become Ready when their WaitCondition holds.
	Waiting

	// Dead processes have been killed and are no longer queued.
	Dead
)

// String implements fmt.Stringer.String.
func (k StateKind) String() string {
	switch k {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Waiting:
		return "Waiting"
	case Dead:
		return "Dead"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// WaitReason enumerates what a Waiting process waits for.
type WaitReason int

// Wait reasons.
const (
	// WaitDeadline waits until Duration has elapsed since Since. On
	// wakeup, the elapsed milliseconds are returned in the syscall result
	// register.
	WaitDeadline WaitReason = iota + 1
)

// String implements fmt.Stringer.String.
func (r WaitReason) String() string {
	switch r {
	case WaitDeadline:
		return "Deadline"
	default:
		return fmt.Sprintf("WaitReason(%d)", int(r))
	}
}

// WaitCondition is the condition a Waiting process is polled for.
type WaitCondition struct {
	Reason   WaitReason
	Since    ktime.Time
	Duration time.Duration
}

// Deadline returns the time at which a WaitDeadline condition holds.
func (w WaitCondition) Deadline() ktime.Time {
	return w.Since.Add(w.Duration)
}

// State is a scheduling state. Wait is meaningful only for Waiting.
type State struct {
	Kind StateKind
	Wait WaitCondition
}

// Sleeping returns a Waiting state that holds once d has elapsed since now.
func Sleeping(now ktime.Time, d time.Duration) State {
	return State{
		Kind: Waiting,
		Wait: WaitCondition{Reason: WaitDeadline, Since: now, Duration: d},
	}
}

// String implements fmt.Stringer.String.
func (s State) String() string {
	if s.Kind != Waiting {
		return s.Kind.String()
	}
	return fmt.Sprintf("Waiting(%v since %v for %v)", s.Wait.Reason, s.Wait.Since, s.Wait.Duration)
}
