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

package sim

import (
	"sync/atomic"

	"pikernel.dev/pikernel/pkg/irq"
)

// Controller is a level-triggered interrupt controller with one pending and
// one enable bit per source.
type Controller struct {
	pending atomic.Uint64
	enabled atomic.Uint64

	// wake is poked whenever a source is raised.
	wake chan struct{}
}

var _ irq.Controller = (*Controller)(nil)

func newController() *Controller {
	return &Controller{wake: make(chan struct{}, 1)}
}

func bit(i irq.Interrupt) uint64 {
	return 1 << uint64(i)
}

// IsPending implements irq.Controller.IsPending. Disabled sources never
// report pending.
func (c *Controller) IsPending(i irq.Interrupt) bool {
	return c.pending.Load()&c.enabled.Load()&bit(i) != 0
}

// Enable implements irq.Controller.Enable.
func (c *Controller) Enable(i irq.Interrupt) {
	c.enabled.Or(bit(i))
	c.notify()
}

// Disable masks source i.
func (c *Controller) Disable(i irq.Interrupt) {
	c.enabled.And(^bit(i))
}

// Raise marks source i pending.
func (c *Controller) Raise(i irq.Interrupt) {
	c.pending.Or(bit(i))
	c.notify()
}

// Clear acknowledges source i.
func (c *Controller) Clear(i irq.Interrupt) {
	c.pending.And(^bit(i))
}

// anyPending returns true if an enabled source is pending.
func (c *Controller) anyPending() bool {
	return c.pending.Load()&c.enabled.Load() != 0
}

func (c *Controller) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}
