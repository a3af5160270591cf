package x86

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"
)

// A Go function that needs more stack branches from its prologue to a tail
// that spills the argument registers, calls runtime.morestack_noctxt, reloads
// them and jumps back to the entry.
const (
	maxPrologueInsts = 6
	maxTailInsts     = 64
)

const (
	opcodeJNEshort = 0x75
	opcodeCMPload  = 0x3b // CMP r, r/m
	opcodeXOR      = 0x31
	modRMedxRIP    = 0x15 // EDX, [RIP+disp32] (or [disp32] in 32-bit mode)
	modRMedxEDX    = 0xd2
)

// Encoded sizes.
const (
	ResumeCheckSize64    = 16 // CMP RDX, [RIP+disp32]; JNE; XOR EDX, EDX; JMP rel32
	ResumeCheckSize32    = 15 // CMP EDX, [disp32]; JNE; XOR EDX, EDX; JMP rel32
	MorestackStubSize64  = movabsSize + AbsJumpSize64
	MorestackStubSize32  = 5 + NearJumpSize
	NearCallSize         = nearCallSize
	resumeCheckSkipBytes = 7
)

// StackSplit is the morestack path of a Go function.
type StackSplit struct {
	// Call is the address of the CALL rel32 in the tail.
	Call uint64
	// Callee is what it calls.
	Callee uint64
}

// FindStackSplit looks for the morestack path of the function at entry. code
// holds the start of the function. read returns the code at an address in the
// rest of the function, or nil past its end.
func FindStackSplit(code []byte, entry uint64, read func(addr uint64) []byte, mode int) (StackSplit, bool) {
	tail, ok := stackCheck(code, entry, mode)
	if !ok {
		return StackSplit{}, false
	}

	var split StackSplit
	pc := tail
	for range maxTailInsts {
		buf := read(pc)
		if len(buf) == 0 {
			return StackSplit{}, false
		}
		in, ok := decodeAt(buf, pc, mode)
		if !ok {
			return StackSplit{}, false
		}

		switch in.kind {
		case relCall:
			if split.Call != 0 {
				return StackSplit{}, false
			}
			split.Call = pc
			split.Callee = in.target
		case relJump:
			return split, split.Call != 0 && in.target == entry
		case relJcc:
			return StackSplit{}, false
		}
		if stopsScan(&in) {
			return StackSplit{}, false
		}
		pc += uint64(in.Len)
	}
	return StackSplit{}, false
}

// stackCheck returns where the first conditional branch in the prologue goes,
// if it goes forward.
func stackCheck(code []byte, entry uint64, mode int) (uint64, bool) {
	off := 0
	for range maxPrologueInsts {
		if off >= len(code) {
			break
		}
		in, ok := decodeAt(code[off:], entry+uint64(off), mode)
		if !ok {
			break
		}

		switch in.kind {
		case relJcc:
			return in.target, in.target > entry+uint64(off)
		case relJump, relCall:
			return 0, false
		}
		if stopsScan(&in) {
			break
		}
		off += in.Len
	}
	return 0, false
}

// JumpTarget returns the destination of the first JMP rel in code, which was
// located at pc, provided nothing else branches before it.
func JumpTarget(code []byte, pc uint64, mode int) (uint64, bool) {
	for off := 0; off < len(code); {
		in, ok := decodeAt(code[off:], pc+uint64(off), mode)
		if !ok {
			return 0, false
		}
		switch in.kind {
		case relJump:
			return in.target, true
		case relCall, relJcc:
			return 0, false
		}
		if stopsScan(&in) {
			return 0, false
		}
		off += in.Len
	}
	return 0, false
}

func decodeAt(code []byte, pc uint64, mode int) (instruction, bool) {
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return instruction{}, false
	}
	in := instruction{
		Inst:  inst,
		raw:   code[:inst.Len],
		local: -1,
	}
	if err := classify(&in, pc, mode); err != nil {
		return instruction{}, false
	}
	return in, true
}

// ResumeCheck encodes the start of a relay at pc. When DX holds the marker
// stored at markAddr it clears DX and jumps to resume; otherwise it falls
// through to whatever follows.
func ResumeCheck(pc, markAddr, resume uint64, mode int) ([]byte, bool) {
	var buf []byte
	if mode == 64 {
		disp, ok := rel32(pc+7, markAddr, mode)
		if !ok {
			return nil, false
		}
		buf = append(buf, prefixREXW, opcodeCMPload, modRMedxRIP)
		buf = appendRel32(buf, disp)
	} else {
		buf = append(buf, opcodeCMPload, modRMedxRIP)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(markAddr))
	}

	buf = append(buf, opcodeJNEshort, resumeCheckSkipBytes, opcodeXOR, modRMedxEDX)
	diff, ok := rel32(pc+uint64(len(buf))+NearJumpSize, resume, mode)
	if !ok {
		return nil, false
	}
	return appendRel32(append(buf, opcodeJMP), diff), true
}

// MorestackStub encodes code at pc that loads marker into DX and jumps to
// morestack, which keeps DX for when the function resumes.
func MorestackStub(pc, marker, morestack uint64, mode int) []byte {
	var buf []byte
	if mode == 64 {
		buf = appendMOVabs(buf, registerDX, marker)
	} else {
		buf = append(buf, opcodeMOVimm+registerDX)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(marker))
	}
	return append(buf, Jump(pc+uint64(len(buf)), morestack, mode)...)
}

// NearCall encodes CALL rel32 located at pc. It returns false if dest is out
// of range.
func NearCall(pc, dest uint64, mode int) ([]byte, bool) {
	diff, ok := rel32(pc+nearCallSize, dest, mode)
	if !ok {
		return nil, false
	}
	return appendRel32([]byte{opcodeCALLrel}, diff), true
}

// stopsScan reports whether control leaves in a way that can't be followed.
func stopsScan(in *instruction) bool {
	switch in.Op {
	case x86asm.INT, x86asm.HLT:
		return true
	case x86asm.CALL, x86asm.LCALL:
		return in.kind == relNone
	}
	return terminates(in.Inst)
}
