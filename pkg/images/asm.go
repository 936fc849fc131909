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


package images

import (
	"encoding/binary"
	"fmt"
)

// Reg is a general purpose register number.
type Reg uint8

// Registers.
const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	LR

	// SP and XZR share encoding 31; the instruction decides which it is.
	SP  Reg = 31
	XZR Reg = 31
)

// Cond is a condition code.
type Cond uint8

// Condition codes.
const (
	EQ Cond = iota
	NE
	HS
	LO
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
)

type fixupKind int

const (
	fixupImm26 fixupKind = iota
	fixupImm19
)

type fixup struct {
	at    int
	label string
	kind  fixupKind
}

// Assembler builds a flat A64 program. Branch targets are named labels and
// are resolved by Assemble. The first encoding error is reported by
// Assemble.
type Assembler struct {
	insns  []uint32
	labels map[string]int
	fixups []fixup
	err    error
}

func (a *Assembler) errorf(format string, v ...any) {
	if a.err == nil {
		a.err = fmt.Errorf("instruction %d: "+format, append([]any{len(a.insns)}, v...)...)
	}
}

// Word emits a raw instruction word.
func (a *Assembler) Word(insn uint32) {
	a.insns = append(a.insns, insn)
}

// Label binds name to the next instruction.
func (a *Assembler) Label(name string) {
	if a.labels == nil {
		a.labels = make(map[string]int)
	}
	if _, ok := a.labels[name]; ok {
		a.errorf("label %q redefined", name)
		return
	}
	a.labels[name] = len(a.insns)
}

func rd(r Reg) uint32       { return uint32(r) & 31 }
func rn(r Reg) uint32       { return (uint32(r) & 31) << 5 }
func rm(r Reg) uint32       { return (uint32(r) & 31) << 16 }
func imm16(v uint16) uint32 { return uint32(v) << 5 }

func (a *Assembler) wide(op uint32, r Reg, imm uint16, shift int) {
	if shift%16 != 0 || shift < 0 || shift > 48 {
		a.errorf("invalid move shift %d", shift)
		return
	}
	a.Word(op | uint32(shift/16)<<21 | imm16(imm) | rd(r))
}

// Movz emits MOVZ r, #imm, LSL #shift.
func (a *Assembler) Movz(r Reg, imm uint16, shift int) { a.wide(0xd2800000, r, imm, shift) }

// Movk emits MOVK r, #imm, LSL #shift.
func (a *Assembler) Movk(r Reg, imm uint16, shift int) { a.wide(0xf2800000, r, imm, shift) }

// Movn emits MOVN r, #imm, LSL #shift.
func (a *Assembler) Movn(r Reg, imm uint16, shift int) { a.wide(0x92800000, r, imm, shift) }

// MovImm loads a 64-bit constant with the shortest MOVZ/MOVK sequence.
func (a *Assembler) MovImm(r Reg, v uint64) {
	a.Movz(r, uint16(v), 0)
	for shift := 16; shift < 64; shift += 16 {
		if part := uint16(v >> shift); part != 0 {
			a.Movk(r, part, shift)
		}
	}
}

func (a *Assembler) addSubImm(op uint32, d, n Reg, imm uint32) {
	switch {
	case imm < 1<<12:
		a.Word(op | imm<<10 | rn(n) | rd(d))
	case imm&0xfff == 0 && imm < 1<<24:
		a.Word(op | 1<<22 | (imm>>12)<<10 | rn(n) | rd(d))
	default:
		a.errorf("immediate %#x out of range", imm)
	}
}

// AddImm emits ADD d, n, #imm.
func (a *Assembler) AddImm(d, n Reg, imm uint32) { a.addSubImm(0x91000000, d, n, imm) }

// SubImm emits SUB d, n, #imm.
func (a *Assembler) SubImm(d, n Reg, imm uint32) { a.addSubImm(0xd1000000, d, n, imm) }

// SubsImm emits SUBS d, n, #imm.
func (a *Assembler) SubsImm(d, n Reg, imm uint32) { a.addSubImm(0xf1000000, d, n, imm) }

// CmpImm emits CMP n, #imm.
func (a *Assembler) CmpImm(n Reg, imm uint32) { a.SubsImm(XZR, n, imm) }

// AddReg emits ADD d, n, m.
func (a *Assembler) AddReg(d, n, m Reg) { a.Word(0x8b000000 | rm(m) | rn(n) | rd(d)) }

// SubReg emits SUB d, n, m.
func (a *Assembler) SubReg(d, n, m Reg) { a.Word(0xcb000000 | rm(m) | rn(n) | rd(d)) }

// CmpReg emits CMP n, m.
func (a *Assembler) CmpReg(n, m Reg) { a.Word(0xeb000000 | rm(m) | rn(n) | rd(XZR)) }

// Mov emits MOV d, m.
func (a *Assembler) Mov(d, m Reg) { a.Word(0xaa000000 | rm(m) | rn(XZR) | rd(d)) }

// Udiv emits UDIV d, n, m.
func (a *Assembler) Udiv(d, n, m Reg) { a.Word(0x9ac00800 | rm(m) | rn(n) | rd(d)) }

// Mul emits MUL d, n, m.
func (a *Assembler) Mul(d, n, m Reg) { a.Word(0x9b000000 | rm(m) | rd(XZR)<<10 | rn(n) | rd(d)) }

func (a *Assembler) branch(op uint32, label string, kind fixupKind) {
	a.fixups = append(a.fixups, fixup{at: len(a.insns), label: label, kind: kind})
	a.Word(op)
}

// B emits B label.
func (a *Assembler) B(label string) { a.branch(0x14000000, label, fixupImm26) }

// BL emits BL label.
func (a *Assembler) BL(label string) { a.branch(0x94000000, label, fixupImm26) }

// BCond emits B.cond label.
func (a *Assembler) BCond(c Cond, label string) { a.branch(0x54000000|uint32(c), label, fixupImm19) }

// Cbz emits CBZ r, label.
func (a *Assembler) Cbz(r Reg, label string) { a.branch(0xb4000000|rd(r), label, fixupImm19) }

// Cbnz emits CBNZ r, label.
func (a *Assembler) Cbnz(r Reg, label string) { a.branch(0xb5000000|rd(r), label, fixupImm19) }

// Ret emits RET.
func (a *Assembler) Ret() { a.Word(0xd65f0000 | rn(LR)) }

// Br emits BR r.
func (a *Assembler) Br(r Reg) { a.Word(0xd61f0000 | rn(r)) }

// Blr emits BLR r.
func (a *Assembler) Blr(r Reg) { a.Word(0xd63f0000 | rn(r)) }

// Svc emits SVC #imm.
func (a *Assembler) Svc(imm uint16) { a.Word(0xd4000001 | imm16(imm)) }

// Brk emits BRK #imm.
func (a *Assembler) Brk(imm uint16) { a.Word(0xd4200000 | imm16(imm)) }

// Nop emits NOP.
func (a *Assembler) Nop() { a.Word(0xd503201f) }

// Wfi emits WFI.
func (a *Assembler) Wfi() { a.Word(0xd503207f) }

func (a *Assembler) ldst(op uint32, t, n Reg, off, scale uint32) {
	if off%scale != 0 || off/scale >= 1<<12 {
		a.errorf("offset %d out of range", off)
		return
	}
	a.Word(op | (off/scale)<<10 | rn(n) | rd(t))
}

// Ldr emits LDR t, [n, #off].
func (a *Assembler) Ldr(t, n Reg, off uint32) { a.ldst(0xf9400000, t, n, off, 8) }

// Str emits STR t, [n, #off].
func (a *Assembler) Str(t, n Reg, off uint32) { a.ldst(0xf9000000, t, n, off, 8) }

// Ldrb emits LDRB t, [n, #off].
func (a *Assembler) Ldrb(t, n Reg, off uint32) { a.ldst(0x39400000, t, n, off, 1) }

// Strb emits STRB t, [n, #off].
func (a *Assembler) Strb(t, n Reg, off uint32) { a.ldst(0x39000000, t, n, off, 1) }

// Assemble resolves branches and returns the little-endian program.
func (a *Assembler) Assemble() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("instruction %d: undefined label %q", f.at, f.label)
		}
		delta := int64(target - f.at)
		switch f.kind {
		case fixupImm26:
			if delta < -(1<<25) || delta >= 1<<25 {
				return nil, fmt.Errorf("instruction %d: branch to %q out of range", f.at, f.label)
			}
			a.insns[f.at] |= uint32(delta) & (1<<26 - 1)
		case fixupImm19:
			if delta < -(1<<18) || delta >= 1<<18 {
				return nil, fmt.Errorf("instruction %d: branch to %q out of range", f.at, f.label)
			}
			a.insns[f.at] |= (uint32(delta) & (1<<19 - 1)) << 5
		}
	}
	a.fixups = nil

	out := make([]byte, 4*len(a.insns))
	for i, insn := range a.insns {
		binary.LittleEndian.PutUint32(out[4*i:], insn)
	}
	return out, nil
}
