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

package ring0

import (
	"fmt"

	"pikernel.dev/pikernel/pkg/bits"
)

// ExceptionClass is the EC field of the exception syndrome register.
type ExceptionClass uint8

// Exception classes.
const (
	ClassUnknown             ExceptionClass = 0x00
	ClassWfx                 ExceptionClass = 0x01
	ClassSimdFp              ExceptionClass = 0x07
	ClassIllegalState        ExceptionClass = 0x0e
	ClassSvc                 ExceptionClass = 0x15
	ClassHvc                 ExceptionClass = 0x16
	ClassSmc                 ExceptionClass = 0x17
	ClassMsrMrs              ExceptionClass = 0x18
	ClassInstructionAbort    ExceptionClass = 0x20
	ClassInstructionAbortEL1 ExceptionClass = 0x21
	ClassPCAlignment         ExceptionClass = 0x22
	ClassDataAbort           ExceptionClass = 0x24
	ClassDataAbortEL1        ExceptionClass = 0x25
	ClassSPAlignment         ExceptionClass = 0x26
	ClassTrappedFp           ExceptionClass = 0x2c
	ClassSError              ExceptionClass = 0x2f
	ClassBreakpoint          ExceptionClass = 0x30
	ClassBreakpointEL1       ExceptionClass = 0x31
	ClassStep                ExceptionClass = 0x32
	ClassStepEL1             ExceptionClass = 0x33
	ClassWatchpoint          ExceptionClass = 0x34
	ClassWatchpointEL1       ExceptionClass = 0x35
	ClassBrk                 ExceptionClass = 0x3c
)

var classNames = map[ExceptionClass]string{
	ClassUnknown:             "Unknown",
	ClassWfx:                 "WfiWfe",
	ClassSimdFp:              "SimdFp",
	ClassIllegalState:        "IllegalExecutionState",
	ClassSvc:                 "Svc",
	ClassHvc:                 "Hvc",
	ClassSmc:                 "Smc",
	ClassMsrMrs:              "MsrMrsSystem",
	ClassInstructionAbort:    "InstructionAbort",
	ClassInstructionAbortEL1: "InstructionAbort",
	ClassPCAlignment:         "PCAlignmentFault",
	ClassDataAbort:           "DataAbort",
	ClassDataAbortEL1:        "DataAbort",
	ClassSPAlignment:         "SpAlignmentFault",
	ClassTrappedFp:           "TrappedFpu",
	ClassSError:              "SError",
	ClassBreakpoint:          "Breakpoint",
	ClassBreakpointEL1:       "Breakpoint",
	ClassStep:                "Step",
	ClassStepEL1:             "Step",
	ClassWatchpoint:          "Watchpoint",
	ClassWatchpointEL1:       "Watchpoint",
	ClassBrk:                 "Brk",
}

// String implements fmt.Stringer.String.
func (c ExceptionClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Other(%#x)", uint8(c))
}

// FaultKind is the kind of a translation fault reported by an abort.
type FaultKind uint8

// Fault kinds.
const (
	FaultOther FaultKind = iota
	FaultAddressSize
	FaultTranslation
	FaultAccessFlag
	FaultPermission
	FaultAlignment
	FaultTLBConflict
	FaultSyncExternal
)

// String implements fmt.Stringer.String.
func (k FaultKind) String() string {
	switch k {
	case FaultAddressSize:
		return "AddressSize"
	case FaultTranslation:
		return "Translation"
	case FaultAccessFlag:
		return "AccessFlag"
	case FaultPermission:
		return "Permission"
	case FaultAlignment:
		return "Alignment"
	case FaultTLBConflict:
		return "TlbConflict"
	case FaultSyncExternal:
		return "SyncExternal"
	default:
		return "Other"
	}
}

// Fault describes the cause of an instruction or data abort.
type Fault struct {
	Kind FaultKind

	// Level is the translation level of address size, translation, access
	// flag and permission faults.
	Level uint8
}

// String implements fmt.Stringer.String.
func (f Fault) String() string {
	switch f.Kind {
	case FaultAddressSize, FaultTranslation, FaultAccessFlag, FaultPermission:
		return fmt.Sprintf("%v(L%d)", f.Kind, f.Level)
	default:
		return f.Kind.String()
	}
}

// Fields of ESR_EL1.
var (
	esrClass = bits.Field{Shift: 26, Width: 6}
	esrIL    = bits.Field{Shift: 25, Width: 1}
	esrISS   = bits.Field{Shift: 0, Width: 25}
	issImm16 = bits.Field{Shift: 0, Width: 16}
	issFSC   = bits.Field{Shift: 0, Width: 6}
	issWnR   = bits.Field{Shift: 6, Width: 1}
)

// Fault status codes.
const (
	fscAddressSize  = 0b000000
	fscTranslation  = 0b000100
	fscAccessFlag   = 0b001000
	fscPermission   = 0b001100
	fscSyncExternal = 0b010000
	fscAlignment    = 0b100001
	fscTLBConflict  = 0b110000
)

// Syndrome is a decoded exception syndrome register.
type Syndrome struct {
	// Class is the exception class.
	Class ExceptionClass

	// Imm is the immediate of SVC, HVC, SMC and BRK instructions.
	Imm uint16

	// Fault is valid for instruction and data aborts.
	Fault Fault

	// Write is true for data aborts caused by a write.
	Write bool

	// Raw is the undecoded register value.
	Raw uint32
}

// DecodeSyndrome decodes the value of ESR_EL1.
func DecodeSyndrome(esr uint32) Syndrome {
	v := uint64(esr)
	s := Syndrome{
		Class: ExceptionClass(esrClass.Get(v)),
		Raw:   esr,
	}
	iss := esrISS.Get(v)
	switch s.Class {
	case ClassSvc, ClassHvc, ClassSmc, ClassBrk:
		s.Imm = uint16(issImm16.Get(iss))
	case ClassDataAbort, ClassDataAbortEL1:
		s.Write = issWnR.Get(iss) == 1
		s.Fault = decodeFault(issFSC.Get(iss))
	case ClassInstructionAbort, ClassInstructionAbortEL1:
		s.Fault = decodeFault(issFSC.Get(iss))
	}
	return s
}

func decodeFault(fsc uint64) Fault {
	level := uint8(fsc & 0b11)
	switch fsc &^ 0b11 {
	case fscAddressSize:
		return Fault{Kind: FaultAddressSize, Level: level}
	case fscTranslation:
		return Fault{Kind: FaultTranslation, Level: level}
	case fscAccessFlag:
		return Fault{Kind: FaultAccessFlag, Level: level}
	case fscPermission:
		return Fault{Kind: FaultPermission, Level: level}
	}
	switch fsc {
	case fscSyncExternal:
		return Fault{Kind: FaultSyncExternal}
	case fscAlignment:
		return Fault{Kind: FaultAlignment}
	case fscTLBConflict:
		return Fault{Kind: FaultTLBConflict}
	}
	return Fault{Kind: FaultOther}
}

// String implements fmt.Stringer.String.
func (s Syndrome) String() string {
	switch s.Class {
	case ClassSvc, ClassHvc, ClassSmc, ClassBrk:
		return fmt.Sprintf("%v(%d)", s.Class, s.Imm)
	case ClassDataAbort, ClassDataAbortEL1:
		return fmt.Sprintf("%v(%v, write=%t)", s.Class, s.Fault, s.Write)
	case ClassInstructionAbort, ClassInstructionAbortEL1:
		return fmt.Sprintf("%v(%v)", s.Class, s.Fault)
	default:
		return s.Class.String()
	}
}

// MakeESR encodes an ESR_EL1 value for a 32-bit instruction.
func MakeESR(class ExceptionClass, iss uint32) uint32 {
	v := esrClass.Set(0, uint64(class))
	v = esrIL.Set(v, 1)
	v = esrISS.Set(v, uint64(iss))
	return uint32(v)
}

// AbortISS encodes the ISS of an abort.
func AbortISS(fault Fault, write bool) uint32 {
	var fsc uint64
	switch fault.Kind {
	case FaultAddressSize:
		fsc = fscAddressSize | uint64(fault.Level)
	case FaultTranslation:
		fsc = fscTranslation | uint64(fault.Level)
	case FaultAccessFlag:
		fsc = fscAccessFlag | uint64(fault.Level)
	case FaultPermission:
		fsc = fscPermission | uint64(fault.Level)
	case FaultSyncExternal:
		fsc = fscSyncExternal
	case FaultAlignment:
		fsc = fscAlignment
	case FaultTLBConflict:
		fsc = fscTLBConflict
	default:
		fsc = 0b111111
	}
	iss := issFSC.Set(0, fsc)
	if write {
		iss = issWnR.Set(iss, 1)
	}
	return uint32(iss)
}
