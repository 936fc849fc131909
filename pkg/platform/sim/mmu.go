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
	"encoding/binary"

	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/hostarch"
	"pikernel.dev/pikernel/pkg/ring0"
	"pikernel.dev/pikernel/pkg/ring0/pagetables"
)

// translate returns the rest of the page containing va, as seen by an
// access of type at.
func (m *Machine) translate(tf *arch.TrapFrame, va uint64, at hostarch.AccessType, user bool) ([]byte, ring0.Fault, bool) {
	root, off := tf.TTBR0, va
	if pagetables.IsUserAddress(va) {
		root, off = tf.TTBR1, va-pagetables.UserImageBase
	}
	if !hostarch.Addr(root).IsPageAligned() || root >= m.mem.Size() {
		return nil, ring0.Fault{Kind: ring0.FaultAddressSize}, false
	}
	pte, level, ok := pagetables.Translate(m.tables, root, uint64(hostarch.Addr(off).RoundDown()))
	if !ok {
		return nil, ring0.Fault{Kind: ring0.FaultTranslation, Level: uint8(level)}, false
	}
	if !pte.Permits(at, user) {
		return nil, ring0.Fault{Kind: ring0.FaultPermission, Level: uint8(level)}, false
	}
	pa := pte.Address()
	if pa >= m.mem.Size() {
		// Device memory has no model.
		return nil, ring0.Fault{Kind: ring0.FaultSyncExternal}, false
	}
	return m.mem.Slice(pa)[hostarch.Addr(va).PageOffset():], ring0.Fault{}, true
}

func abortESR(data, user bool, fault ring0.Fault, write bool) uint32 {
	var class ring0.ExceptionClass
	switch {
	case data && user:
		class = ring0.ClassDataAbort
	case data:
		class = ring0.ClassDataAbortEL1
	case user:
		class = ring0.ClassInstructionAbort
	default:
		class = ring0.ClassInstructionAbortEL1
	}
	return ring0.MakeESR(class, ring0.AbortISS(fault, write))
}

// fetch reads the instruction at pc.
func (m *Machine) fetch(tf *arch.TrapFrame, pc uint64, user bool) (uint32, uint32, bool) {
	b, fault, ok := m.translate(tf, pc, hostarch.Execute, user)
	if !ok {
		return 0, abortESR(false, user, fault, false), false
	}
	return binary.LittleEndian.Uint32(b), 0, true
}

// access translates a data access of size bytes at va. Accesses must be
// naturally aligned.
func (m *Machine) access(tf *arch.TrapFrame, va uint64, size uint64, write, user bool) ([]byte, uint32, bool) {
	if va&(size-1) != 0 {
		return nil, abortESR(true, user, ring0.Fault{Kind: ring0.FaultAlignment}, write), false
	}
	at := hostarch.Read
	if write {
		at = hostarch.Write
	}
	b, fault, ok := m.translate(tf, va, at, user)
	if !ok {
		return nil, abortESR(true, user, fault, write), false
	}
	return b[:size], 0, true
}
