// Package x86 decodes, measures and relocates x86 machine code for the detour
// engine. Everything here works on byte slices and explicit addresses, so it
// never touches live code.
package x86

import (
	"encoding/binary"
	"math"
)

const (
	opcodeCALLrel   = 0xe8 // CALL rel32
	opcodeINT3      = 0xcc
	opcodeJMP       = 0xe9 // JMP rel32
	opcodeJMPshort  = 0xeb // JMP rel8
	opcodeJccShort  = 0x70 // Jcc rel8, low nibble is the condition
	opcodeJccNear   = 0x80 // 0x0f Jcc rel32, low nibble is the condition
	opcodeTwoByte   = 0x0f
	opcodeNOP       = 0x90
	opcodeMOVimm    = 0xb8 // MOV r, imm; low 3 bits select the register
	opcodeGroup5    = 0xff // CALL/JMP r/m
	opcodePUSHimm32 = 0x68
	opcodeRET       = 0xc3

	prefixREXW = 0x48
	prefixREXB = 0x01

	modRMripJMP  = 0x25 // JMP [RIP+disp32]
	modRMripCALL = 0x15 // CALL [RIP+disp32]
	modRMedxJMP  = 0x22 // JMP [RDX] / JMP [EDX]

	registerDX = 2
)

// Encoded sizes.
const (
	NearJumpSize      = 5  // JMP rel32
	AbsJumpSize64     = 14 // JMP [RIP+0]; .quad
	AbsJumpSize32     = 6  // PUSH imm32; RET
	ClosureJumpSize64 = 12 // MOV RDX, imm64; JMP [RDX]
	ClosureJumpSize32 = 7  // MOV EDX, imm32; JMP [EDX]

	nearCallSize = 5
	nearJccSize  = 6
	absCallSize  = 16
	absJccSize   = 16
	movabsSize   = 10
)

// rel32 returns the displacement from pc to dest, and whether it fits in a
// signed 32-bit immediate. In 32-bit mode every address is reachable.
func rel32(pc, dest uint64, mode int) (int32, bool) {
	if mode != 64 {
		return int32(uint32(dest) - uint32(pc)), true
	}
	diff := int64(dest - pc)
	if diff < math.MinInt32 || diff > math.MaxInt32 {
		return 0, false
	}
	return int32(diff), true
}

// Reachable reports whether a JMP rel32 at from can reach dest.
func Reachable(from, dest uint64, mode int) bool {
	_, ok := rel32(from+NearJumpSize, dest, mode)
	return ok
}

// NearJump encodes JMP rel32 located at pc. It returns false if dest is out
// of range.
func NearJump(pc, dest uint64, mode int) ([]byte, bool) {
	diff, ok := rel32(pc+NearJumpSize, dest, mode)
	if !ok {
		return nil, false
	}
	buf := make([]byte, NearJumpSize)
	buf[0] = opcodeJMP
	binary.LittleEndian.PutUint32(buf[1:], uint32(diff))
	return buf, true
}

// AbsJump encodes a position independent jump to dest.
func AbsJump(dest uint64, mode int) []byte {
	if mode != 64 {
		buf := make([]byte, AbsJumpSize32)
		buf[0] = opcodePUSHimm32
		binary.LittleEndian.PutUint32(buf[1:], uint32(dest))
		buf[5] = opcodeRET
		return buf
	}

	buf := make([]byte, AbsJumpSize64)
	buf[0] = opcodeGroup5
	buf[1] = modRMripJMP
	// disp32 is zero: the address immediately follows the instruction.
	binary.LittleEndian.PutUint64(buf[6:], dest)
	return buf
}

// Jump encodes the shortest jump at pc that reaches dest.
func Jump(pc, dest uint64, mode int) []byte {
	if buf, ok := NearJump(pc, dest, mode); ok {
		return buf
	}
	return AbsJump(dest, mode)
}

// ClosureJump encodes a jump into a Go func value: the funcval address goes
// in DX, the closure context register, and control transfers to the code
// pointer stored at its start.
func ClosureJump(funcval uint64, mode int) []byte {
	if mode != 64 {
		buf := make([]byte, ClosureJumpSize32)
		buf[0] = opcodeMOVimm + registerDX
		binary.LittleEndian.PutUint32(buf[1:], uint32(funcval))
		buf[5] = opcodeGroup5
		buf[6] = modRMedxJMP
		return buf
	}

	buf := make([]byte, ClosureJumpSize64)
	buf[0] = prefixREXW
	buf[1] = opcodeMOVimm + registerDX
	binary.LittleEndian.PutUint64(buf[2:], funcval)
	buf[10] = opcodeGroup5
	buf[11] = modRMedxJMP
	return buf
}

func appendRel32(buf []byte, diff int32) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(diff))
}

// appendAbsCall emits CALL [RIP+2]; JMP +8; .quad dest.
func appendAbsCall(buf []byte, dest uint64) []byte {
	buf = append(buf, opcodeGroup5, modRMripCALL, 2, 0, 0, 0, opcodeJMPshort, 8)
	return binary.LittleEndian.AppendUint64(buf, dest)
}

// appendAbsJcc emits the inverse condition jumping over an absolute jump.
func appendAbsJcc(buf []byte, cc byte, dest uint64) []byte {
	buf = append(buf, opcodeJccShort|(cc^1), AbsJumpSize64)
	return append(buf, AbsJump(dest, 64)...)
}

// appendMOVabs emits MOV r64, imm64 for register index reg (0-15).
func appendMOVabs(buf []byte, reg int, imm uint64) []byte {
	rex := byte(prefixREXW)
	if reg >= 8 {
		rex |= prefixREXB
	}
	buf = append(buf, rex, opcodeMOVimm+byte(reg&7))
	return binary.LittleEndian.AppendUint64(buf, imm)
}

func isPadding(b []byte) bool {
	for _, c := range b {
		if c != opcodeINT3 && c != opcodeNOP {
			return false
		}
	}
	return true
}
