// Package arm64 measures and relocates AArch64 machine code for the detour
// engine. Instructions are fixed-width little-endian words.
package arm64

import "encoding/binary"

const (
	instB    = 0x14000000 // B imm26
	instBL   = 0x94000000 // BL imm26
	maskB    = 0xfc000000
	instBR   = 0xd61f0000 // BR Xn
	instBLR  = 0xd63f0000 // BLR Xn
	instRET  = 0xd65f0000 // RET Xn
	maskBR   = 0xfffffc1f
	instNOP  = 0xd503201f
	instBRK  = 0xd4200000
	maskBRK  = 0xffe0001f
	instLDRx = 0x58000000 // LDR Xt, label

	instBcond = 0x54000000
	maskBcond = 0xff000010
	instCBZ   = 0x34000000 // CBZ and CBNZ
	maskCBZ   = 0x7e000000
	instTBZ   = 0x36000000 // TBZ and TBNZ
	maskTBZ   = 0x7e000000
	instADR   = 0x10000000
	instADRP  = 0x90000000
	maskADR   = 0x9f000000
	instLDRl  = 0x18000000 // load register (literal) class
	maskLDRl  = 0x3b000000

	// LDR Xt/Wt, [Xn] and LDRSW Xt, [Xn]
	instLDRxImm  = 0xf9400000
	instLDRwImm  = 0xb9400000
	instLDRSWImm = 0xb9800000

	regIP0     = 16 // X16, scratch for veneers
	regContext = 26 // X26, Go closure context

	nearRange = 1 << 27
)

// Encoded sizes.
const (
	InstSize        = 4
	NearJumpSize    = 4  // B imm26
	AbsJumpSize     = 16 // LDR X16, #8; BR X16; .quad
	ClosureJumpSize = 24 // LDR X26, #16; LDR X16, [X26]; BR X16; NOP; .quad

	absCallSize   = 20
	absBranchSize = 20
	absAddrSize   = 16
	absLoadSize   = 20
)

// Reachable reports whether a B at from can reach dest.
func Reachable(from, dest uint64) bool {
	diff := int64(dest - from)
	return diff&3 == 0 && diff >= -nearRange && diff < nearRange
}

func encodeB(op uint32, pc, dest uint64) uint32 {
	return op | uint32(int64(dest-pc)>>2)&0x3ffffff
}

// NearJump encodes B located at pc. It returns false if dest is out of
// range.
func NearJump(pc, dest uint64) ([]byte, bool) {
	if !Reachable(pc, dest) {
		return nil, false
	}
	return appendInst(nil, encodeB(instB, pc, dest)), true
}

// AbsJump encodes a position independent jump to dest. X16 is clobbered.
func AbsJump(dest uint64) []byte {
	buf := make([]byte, 0, AbsJumpSize)
	buf = appendInst(buf, instLDRx|2<<5|regIP0)
	buf = appendInst(buf, instBR|regIP0<<5)
	return binary.LittleEndian.AppendUint64(buf, dest)
}

// Jump encodes the shortest jump at pc that reaches dest.
func Jump(pc, dest uint64) []byte {
	if buf, ok := NearJump(pc, dest); ok {
		return buf
	}
	return AbsJump(dest)
}

// ClosureJump encodes a jump into a Go func value: the funcval address goes
// in X26, the closure context register, and control transfers to the code
// pointer stored at its start.
func ClosureJump(funcval uint64) []byte {
	buf := make([]byte, 0, ClosureJumpSize)
	buf = appendInst(buf, instLDRx|4<<5|regContext)
	buf = appendInst(buf, instLDRxImm|regContext<<5|regIP0)
	buf = appendInst(buf, instBR|regIP0<<5)
	buf = appendInst(buf, instNOP)
	return binary.LittleEndian.AppendUint64(buf, funcval)
}

func appendInst(buf []byte, inst uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, inst)
}

// appendAbsCall emits LDR X16, #12; BLR X16; B #12; .quad dest.
func appendAbsCall(buf []byte, dest uint64) []byte {
	buf = appendInst(buf, instLDRx|3<<5|regIP0)
	buf = appendInst(buf, instBLR|regIP0<<5)
	buf = appendInst(buf, instB|3)
	return binary.LittleEndian.AppendUint64(buf, dest)
}

// appendAbsAddr emits LDR Xt, #8; B #12; .quad addr.
func appendAbsAddr(buf []byte, rt uint32, addr uint64) []byte {
	buf = appendInst(buf, instLDRx|2<<5|rt)
	buf = appendInst(buf, instB|3)
	return binary.LittleEndian.AppendUint64(buf, addr)
}

func signExtend(v uint32, bits uint) int64 {
	shift := 64 - bits
	return int64(uint64(v)<<shift) >> shift
}

func fits(diff int64, bits uint) bool {
	lim := int64(1) << (bits - 1)
	return diff >= -lim && diff < lim
}

func isPadding(b []byte) bool {
	for i := 0; i+InstSize <= len(b); i += InstSize {
		w := binary.LittleEndian.Uint32(b[i:])
		if w != 0 && w != instNOP {
			return false
		}
	}
	return len(b)%InstSize == 0
}
