package arm64

import "encoding/binary"

// A Go function that needs more stack branches from its prologue to a tail
// that saves LR in R3, calls runtime.morestack_noctxt and jumps back to the
// entry.
const (
	maxPrologueInsts = 6
	maxTailInsts     = 64
)

const (
	regScratch = 17         // X17
	instCMPx   = 0xeb00001f // CMP Xn, Xm
	instMOVzr  = 0xaa1f03e0 // MOV Xd, XZR
	condNE     = 1
)

// Encoded sizes.
const (
	ResumeCheckSize   = 5 * InstSize // LDR X17, mark; CMP X26, X17; B.NE; MOV X26, XZR; B
	MorestackStubSize = InstSize + AbsJumpSize
	NearCallSize      = InstSize
)

// StackSplit is the morestack path of a Go function.
type StackSplit struct {
	// Call is the address of the BL in the tail.
	Call uint64
	// Callee is what it calls.
	Callee uint64
}

// FindStackSplit looks for the morestack path of the function at entry. code
// holds the start of the function. read returns the code at an address in the
// rest of the function, or nil past its end.
func FindStackSplit(code []byte, entry uint64, read func(addr uint64) []byte) (StackSplit, bool) {
	tail, ok := stackCheck(code, entry)
	if !ok {
		return StackSplit{}, false
	}

	var split StackSplit
	pc := tail
	for range maxTailInsts {
		buf := read(pc)
		if len(buf) < InstSize {
			return StackSplit{}, false
		}
		in := decodeAt(buf, pc)

		switch in.kind {
		case relBL:
			if split.Call != 0 {
				return StackSplit{}, false
			}
			split.Call = pc
			split.Callee = in.target
		case relB:
			return split, split.Call != 0 && in.target == entry
		case relCond, relTest:
			return StackSplit{}, false
		}
		if stopsScan(in.word) {
			return StackSplit{}, false
		}
		pc += InstSize
	}
	return StackSplit{}, false
}

// stackCheck returns where the first conditional branch in the prologue goes,
// if it goes forward.
func stackCheck(code []byte, entry uint64) (uint64, bool) {
	for i := 0; i < maxPrologueInsts && (i+1)*InstSize <= len(code); i++ {
		pc := entry + uint64(i*InstSize)
		in := decodeAt(code[i*InstSize:], pc)

		switch in.kind {
		case relCond:
			return in.target, in.word&maskBcond == instBcond && in.target > pc
		case relB, relBL, relTest:
			return 0, false
		}
		if stopsScan(in.word) {
			break
		}
	}
	return 0, false
}

// JumpTarget returns the destination of the first B in code, which was
// located at pc, provided nothing else branches before it.
func JumpTarget(code []byte, pc uint64) (uint64, bool) {
	for off := 0; off+InstSize <= len(code); off += InstSize {
		in := decodeAt(code[off:], pc+uint64(off))
		switch in.kind {
		case relB:
			return in.target, true
		case relBL, relCond, relTest:
			return 0, false
		}
		if stopsScan(in.word) {
			return 0, false
		}
	}
	return 0, false
}

func decodeAt(code []byte, pc uint64) instruction {
	in := instruction{
		word:  binary.LittleEndian.Uint32(code),
		local: -1,
	}
	classify(&in, pc)
	return in
}

// stopsScan reports whether control leaves in a way that can't be followed.
func stopsScan(w uint32) bool {
	return terminates(w) || w&maskBR == instBLR
}

// ResumeCheck encodes the start of a relay at pc. When X26 holds the marker
// stored at markAddr it clears X26 and jumps to resume; otherwise it falls
// through to whatever follows. X17 is clobbered.
func ResumeCheck(pc, markAddr, resume uint64) ([]byte, bool) {
	if !fits(int64(markAddr-pc), 21) || markAddr&3 != 0 || !Reachable(pc+4*InstSize, resume) {
		return nil, false
	}
	buf := make([]byte, 0, ResumeCheckSize)
	buf = appendInst(buf, setImm19(instLDRx|regScratch, pc, markAddr))
	buf = appendInst(buf, instCMPx|regScratch<<16|regContext<<5)
	buf = appendInst(buf, instBcond|3<<5|condNE)
	buf = appendInst(buf, instMOVzr|regContext)
	buf = appendInst(buf, encodeB(instB, pc+4*InstSize, resume))
	return buf, true
}

// MorestackStub encodes code at pc that loads the marker stored at markAddr
// into X26 and jumps to morestack, which keeps X26 for when the function
// resumes. It returns false if markAddr is out of range.
func MorestackStub(pc, markAddr, morestack uint64) ([]byte, bool) {
	if !fits(int64(markAddr-pc), 21) || markAddr&3 != 0 {
		return nil, false
	}
	buf := appendInst(nil, setImm19(instLDRx|regContext, pc, markAddr))
	return append(buf, Jump(pc+InstSize, morestack)...), true
}

// NearCall encodes BL located at pc. It returns false if dest is out of
// range.
func NearCall(pc, dest uint64) ([]byte, bool) {
	if !Reachable(pc, dest) {
		return nil, false
	}
	return appendInst(nil, encodeB(instBL, pc, dest)), true
}
