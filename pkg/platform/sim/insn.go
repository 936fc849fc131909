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
	"context"
	"encoding/binary"
	"math/bits"

	"pikernel.dev/pikernel/pkg/arch"
	"pikernel.dev/pikernel/pkg/ring0"
)

const nzcvMask = ring0.PsrNBit | ring0.PsrZBit | ring0.PsrCBit | ring0.PsrVBit

// Instruction encodings. Only the 64-bit forms are implemented.
const (
	opMovn     = 0x92800000 // mask 0xff800000
	opMovz     = 0xd2800000
	opMovk     = 0xf2800000
	opAddSubI  = 0x91000000 // mask 0x9f800000
	opAddSubR  = 0x8b000000 // mask 0x9f200000
	opOrrR     = 0xaa000000 // mask 0xff200000
	opB        = 0x14000000 // mask 0xfc000000
	opBL       = 0x94000000
	opBCond    = 0x54000000 // mask 0xff000010
	opCbz      = 0xb4000000 // mask 0xff000000
	opCbnz     = 0xb5000000
	opBr       = 0xd61f0000 // mask 0xfffffc1f
	opBlr      = 0xd63f0000
	opRet      = 0xd65f0000
	opSvc      = 0xd4000001 // mask 0xffe0001f
	opBrk      = 0xd4200000
	opNop      = 0xd503201f
	opYield    = 0xd503203f
	opWfi      = 0xd503207f
	opLdr      = 0xf9400000 // mask 0xffc00000
	opStr      = 0xf9000000
	opLdrb     = 0x39400000
	opStrb     = 0x39000000
	opUdiv     = 0x9ac00800 // mask 0xffe0fc00
	opMadd     = 0x9b000000 // mask 0xffe08000
	maskMov    = 0xff800000
	maskAddI   = 0x9f800000
	maskAddR   = 0x9f200000
	maskOrrR   = 0xff200000
	maskB      = 0xfc000000
	maskBCond  = 0xff000010
	maskCb     = 0xff000000
	maskBrReg  = 0xfffffc1f
	maskExcept = 0xffe0001f
	maskLdSt   = 0xffc00000
	maskUdiv   = 0xffe0fc00
	maskMadd   = 0xffe08000
)

func field(insn uint32, shift, width uint) uint64 {
	return uint64(insn>>shift) & (1<<width - 1)
}

func signExtend(v uint64, width uint) int64 {
	return int64(v<<(64-width)) >> (64 - width)
}

// regOrSP reads register n, where 31 is the stack pointer.
func regOrSP(tf *arch.TrapFrame, n int) uint64 {
	if n == 31 {
		return tf.SP
	}
	return tf.Reg(n)
}

func setRegOrSP(tf *arch.TrapFrame, n int, v uint64) {
	if n == 31 {
		tf.SP = v
		return
	}
	tf.SetReg(n, v)
}

// addWithCarry returns x+y+carry and the resulting condition flags.
func addWithCarry(x, y, carry uint64) (uint64, uint64) {
	sum, c := bits.Add64(x, y, carry)
	var nzcv uint64
	if int64(sum) < 0 {
		nzcv |= ring0.PsrNBit
	}
	if sum == 0 {
		nzcv |= ring0.PsrZBit
	}
	if c != 0 {
		nzcv |= ring0.PsrCBit
	}
	if (x^sum)&(y^sum)&(1<<63) != 0 {
		nzcv |= ring0.PsrVBit
	}
	return sum, nzcv
}

// conditionHolds evaluates condition code cond against the flags in spsr.
func conditionHolds(cond uint64, spsr uint64) bool {
	n := spsr&ring0.PsrNBit != 0
	z := spsr&ring0.PsrZBit != 0
	c := spsr&ring0.PsrCBit != 0
	v := spsr&ring0.PsrVBit != 0
	var r bool
	switch cond >> 1 {
	case 0: // EQ
		r = z
	case 1: // CS
		r = c
	case 2: // MI
		r = n
	case 3: // VS
		r = v
	case 4: // HI
		r = c && !z
	case 5: // GE
		r = n == v
	case 6: // GT
		r = n == v && !z
	default: // AL
		r = true
	}
	if cond&1 == 1 && cond != 0xf {
		r = !r
	}
	return r
}

// step executes the instruction at tf.ELR. If it traps, step returns the
// syndrome with tf.ELR set to the preferred return address.
func (m *Machine) step(ctx context.Context, tf *arch.TrapFrame, user bool) (esr uint32, trapped bool, err error) {
	pc := tf.ELR
	if pc&3 != 0 {
		return ring0.MakeESR(ring0.ClassPCAlignment, 0), true, nil
	}
	insn, esr, ok := m.fetch(tf, pc, user)
	if !ok {
		return esr, true, nil
	}
	next := pc + 4
	rd := int(field(insn, 0, 5))
	rn := int(field(insn, 5, 5))
	rm := int(field(insn, 16, 5))

	switch {
	case insn&maskMov == opMovz, insn&maskMov == opMovn, insn&maskMov == opMovk:
		shift := 16 * field(insn, 21, 2)
		imm := field(insn, 5, 16) << shift
		switch insn & maskMov {
		case opMovz:
			tf.SetReg(rd, imm)
		case opMovn:
			tf.SetReg(rd, ^imm)
		case opMovk:
			tf.SetReg(rd, tf.Reg(rd)&^(0xffff<<shift)|imm)
		}

	case insn&maskAddI == opAddSubI:
		imm := field(insn, 10, 12)
		if field(insn, 22, 1) == 1 {
			imm <<= 12
		}
		sub, setFlags := field(insn, 30, 1) == 1, field(insn, 29, 1) == 1
		addSub(tf, rd, regOrSP(tf, rn), imm, sub, setFlags, !setFlags)

	case insn&maskAddR == opAddSubR:
		if field(insn, 22, 2) != 0 {
			return undefined(), true, nil
		}
		op2 := tf.Reg(rm) << field(insn, 10, 6)
		sub, setFlags := field(insn, 30, 1) == 1, field(insn, 29, 1) == 1
		addSub(tf, rd, tf.Reg(rn), op2, sub, setFlags, false)

	case insn&maskOrrR == opOrrR:
		if field(insn, 22, 2) != 0 {
			return undefined(), true, nil
		}
		tf.SetReg(rd, tf.Reg(rn)|tf.Reg(rm)<<field(insn, 10, 6))

	case insn&maskB == opB, insn&maskB == opBL:
		if insn&maskB == opBL {
			tf.LR = next
		}
		next = pc + uint64(signExtend(field(insn, 0, 26), 26)<<2)

	case insn&maskBCond == opBCond:
		if conditionHolds(field(insn, 0, 4), tf.SPSR) {
			next = pc + uint64(signExtend(field(insn, 5, 19), 19)<<2)
		}

	case insn&maskCb == opCbz, insn&maskCb == opCbnz:
		zero := tf.Reg(rd) == 0
		if zero == (insn&maskCb == opCbz) {
			next = pc + uint64(signExtend(field(insn, 5, 19), 19)<<2)
		}

	case insn&maskBrReg == opBr, insn&maskBrReg == opBlr, insn&maskBrReg == opRet:
		target := tf.Reg(rn)
		if insn&maskBrReg == opBlr {
			tf.LR = next
		}
		next = target

	case insn&maskExcept == opSvc:
		tf.ELR = next
		return ring0.MakeESR(ring0.ClassSvc, uint32(field(insn, 5, 16))), true, nil

	case insn&maskExcept == opBrk:
		return ring0.MakeESR(ring0.ClassBrk, uint32(field(insn, 5, 16))), true, nil

	case insn == opNop, insn == opYield:

	case insn == opWfi:
		if err := m.WaitForInterrupt(ctx); err != nil {
			return 0, false, err
		}

	case insn&maskLdSt == opLdr, insn&maskLdSt == opStr:
		write := insn&maskLdSt == opStr
		va := regOrSP(tf, rn) + field(insn, 10, 12)*8
		b, esr, ok := m.access(tf, va, 8, write, user)
		if !ok {
			return esr, true, nil
		}
		if write {
			binary.LittleEndian.PutUint64(b, tf.Reg(rd))
		} else {
			tf.SetReg(rd, binary.LittleEndian.Uint64(b))
		}

	case insn&maskLdSt == opLdrb, insn&maskLdSt == opStrb:
		write := insn&maskLdSt == opStrb
		va := regOrSP(tf, rn) + field(insn, 10, 12)
		b, esr, ok := m.access(tf, va, 1, write, user)
		if !ok {
			return esr, true, nil
		}
		if write {
			b[0] = byte(tf.Reg(rd))
		} else {
			tf.SetReg(rd, uint64(b[0]))
		}

	case insn&maskUdiv == opUdiv:
		var q uint64
		if d := tf.Reg(rm); d != 0 {
			q = tf.Reg(rn) / d
		}
		tf.SetReg(rd, q)

	case insn&maskMadd == opMadd:
		ra := int(field(insn, 10, 5))
		tf.SetReg(rd, tf.Reg(ra)+tf.Reg(rn)*tf.Reg(rm))

	default:
		return undefined(), true, nil
	}

	tf.ELR = next
	return 0, false, nil
}

// addSub implements the ADD, ADDS, SUB and SUBS family. spDest is true for
// the immediate forms without flags, whose destination 31 is SP.
func addSub(tf *arch.TrapFrame, rd int, x, y uint64, sub, setFlags, spDest bool) {
	carry := uint64(0)
	if sub {
		y, carry = ^y, 1
	}
	result, nzcv := addWithCarry(x, y, carry)
	if setFlags {
		tf.SPSR = tf.SPSR&^nzcvMask | nzcv
	}
	if spDest {
		setRegOrSP(tf, rd, result)
	} else {
		tf.SetReg(rd, result)
	}
}

func undefined() uint32 {
	return ring0.MakeESR(ring0.ClassUnknown, 0)
}
