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

package pagetables

import (
	"fmt"
	"strings"

	"pikernel.dev/pikernel/pkg/bits"
	"pikernel.dev/pikernel/pkg/hostarch"
)

// PTE is a page table entry: a table descriptor in the top-level table, or a
// page descriptor in a leaf table.
type PTE uint64

// Descriptor bits.
const (
	valid    = 1 << 0
	typePage = 1 << 1 // Table descriptor at level 2, page descriptor at level 3.
	nonSec   = 1 << 5
	accessed = 1 << 10
	pxn      = 1 << 53
	uxn      = 1 << 54
)

// Descriptor fields.
var (
	attrIndxField = bits.Field{Shift: 2, Width: 3}
	apField       = bits.Field{Shift: 6, Width: 2}
	shField       = bits.Field{Shift: 8, Width: 2}
	addrField     = bits.Field{Shift: hostarch.PageShift, Width: 48 - hostarch.PageShift}
)

// MaxPhysicalAddress bounds the output address of a descriptor.
const MaxPhysicalAddress = 1 << 48

// AccessPerm is the AP field of a descriptor.
type AccessPerm uint8

// Access permissions.
const (
	KernelRW AccessPerm = 0b00
	UserRW   AccessPerm = 0b01
	KernelRO AccessPerm = 0b10
	UserRO   AccessPerm = 0b11
)

// String implements fmt.Stringer.String.
func (ap AccessPerm) String() string {
	switch ap {
	case KernelRW:
		return "KernelRW"
	case UserRW:
		return "UserRW"
	case KernelRO:
		return "KernelRO"
	default:
		return "UserRO"
	}
}

// Shareability is the SH field of a descriptor.
type Shareability uint8

// Shareability domains.
const (
	NonShareable   Shareability = 0b00
	OuterShareable Shareability = 0b10
	InnerShareable Shareability = 0b11
)

// AttrIndex selects a MAIR_EL1 memory attribute.
type AttrIndex uint8

// MAIR_EL1 indices programmed at boot.
const (
	AttrNormal       AttrIndex = 0
	AttrDevice       AttrIndex = 1
	AttrNonCacheable AttrIndex = 2
)

// MapOpts are the options of a page mapping.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// User indicates the page is accessible from EL0.
	User bool

	// MemoryType is the memory type.
	MemoryType hostarch.MemoryType
}

// NewPTE returns a page descriptor mapping the page at physical address pa.
func NewPTE(pa uint64, opts MapOpts) (PTE, error) {
	if !hostarch.Addr(pa).IsPageAligned() {
		return 0, fmt.Errorf("physical address %#x is not page aligned", pa)
	}
	if pa >= MaxPhysicalAddress {
		return 0, fmt.Errorf("physical address %#x exceeds the output address range", pa)
	}
	if !opts.AccessType.Any() {
		return 0, fmt.Errorf("mapping of %#x grants no access", pa)
	}

	v := uint64(valid | typePage | accessed)
	v = addrField.Set(v, pa>>hostarch.PageShift)

	var (
		attr AttrIndex
		sh   Shareability
	)
	switch opts.MemoryType {
	case hostarch.MemoryTypeWriteBack:
		attr, sh = AttrNormal, InnerShareable
	case hostarch.MemoryTypeUncached:
		attr, sh = AttrDevice, OuterShareable
	case hostarch.MemoryTypeWriteCombine:
		attr, sh = AttrNonCacheable, OuterShareable
	default:
		return 0, fmt.Errorf("unknown memory type %v", opts.MemoryType)
	}
	v = attrIndxField.Set(v, uint64(attr))
	v = shField.Set(v, uint64(sh))

	var ap AccessPerm
	switch {
	case opts.User && opts.AccessType.Write:
		ap = UserRW
	case opts.User:
		ap = UserRO
	case opts.AccessType.Write:
		ap = KernelRW
	default:
		ap = KernelRO
	}
	v = apField.Set(v, uint64(ap))

	// Memory is only ever executable at the level that owns it.
	if opts.User {
		v |= pxn
		if !opts.AccessType.Execute {
			v |= uxn
		}
	} else {
		v |= uxn
		if !opts.AccessType.Execute {
			v |= pxn
		}
	}
	return PTE(v), nil
}

// mustNewPTE is NewPTE for callers whose arguments are correct by
// construction.
func mustNewPTE(pa uint64, opts MapOpts) PTE {
	pte, err := NewPTE(pa, opts)
	if err != nil {
		panic(err.Error())
	}
	return pte
}

// newTableDescriptor returns a descriptor linking a leaf table at pa.
func newTableDescriptor(pa uint64, perm AccessPerm) PTE {
	if !hostarch.Addr(pa).IsPageAligned() || pa >= MaxPhysicalAddress {
		panic(fmt.Sprintf("invalid table address %#x", pa))
	}
	v := uint64(valid | typePage | accessed)
	v = addrField.Set(v, pa>>hostarch.PageShift)
	v = attrIndxField.Set(v, uint64(AttrNormal))
	v = shField.Set(v, uint64(InnerShareable))
	v = apField.Set(v, uint64(perm))
	return PTE(v)
}

// Valid returns true iff this entry is valid.
func (p PTE) Valid() bool {
	return p&valid != 0
}

// Address returns the physical address this entry points at.
func (p PTE) Address() uint64 {
	return addrField.Get(uint64(p)) << hostarch.PageShift
}

// Accessed returns true if the access flag is set.
func (p PTE) Accessed() bool {
	return p&accessed != 0
}

// Perm returns the AP field.
func (p PTE) Perm() AccessPerm {
	return AccessPerm(apField.Get(uint64(p)))
}

// Shareability returns the SH field.
func (p PTE) Shareability() Shareability {
	return Shareability(shField.Get(uint64(p)))
}

// AttrIndex returns the memory attribute index.
func (p PTE) AttrIndex() AttrIndex {
	return AttrIndex(attrIndxField.Get(uint64(p)))
}

// UserExecuteNever returns true if EL0 may not execute from the page.
func (p PTE) UserExecuteNever() bool {
	return p&uxn != 0
}

// PrivilegedExecuteNever returns true if EL1 may not execute from the page.
func (p PTE) PrivilegedExecuteNever() bool {
	return p&pxn != 0
}

// Opts returns the mapping options encoded in a page descriptor.
func (p PTE) Opts() MapOpts {
	perm := p.Perm()
	opts := MapOpts{
		User: perm == UserRW || perm == UserRO,
		AccessType: hostarch.AccessType{
			Read:  true,
			Write: perm == UserRW || perm == KernelRW,
		},
	}
	if opts.User {
		opts.AccessType.Execute = !p.UserExecuteNever()
	} else {
		opts.AccessType.Execute = !p.PrivilegedExecuteNever()
	}
	switch p.AttrIndex() {
	case AttrDevice:
		opts.MemoryType = hostarch.MemoryTypeUncached
	case AttrNonCacheable:
		opts.MemoryType = hostarch.MemoryTypeWriteCombine
	default:
		opts.MemoryType = hostarch.MemoryTypeWriteBack
	}
	return opts
}

// Permits returns true if an access of type at from EL0 (user) or EL1 is
// allowed by this page descriptor.
func (p PTE) Permits(at hostarch.AccessType, user bool) bool {
	perm := p.Perm()
	if user && perm != UserRW && perm != UserRO {
		return false
	}
	if at.Write && (perm == UserRO || perm == KernelRO) {
		return false
	}
	if at.Execute {
		if user && p.UserExecuteNever() {
			return false
		}
		if !user && p.PrivilegedExecuteNever() {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	if !p.Valid() {
		return "invalid"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%#x %v %v", p.Address(), p.Perm(), p.AttrIndex())
	if p.Shareability() == InnerShareable {
		b.WriteString(" ish")
	} else {
		b.WriteString(" osh")
	}
	if p.PrivilegedExecuteNever() {
		b.WriteString(" pxn")
	}
	if p.UserExecuteNever() {
		b.WriteString(" uxn")
	}
	return b.String()
}

// String implements fmt.Stringer.String.
func (a AttrIndex) String() string {
	switch a {
	case AttrNormal:
		return "normal"
	case AttrDevice:
		return "device"
	case AttrNonCacheable:
		return "nc"
	default:
		return fmt.Sprintf("attr%d", uint8(a))
	}
}
