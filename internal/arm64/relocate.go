package arm64

import (
	"encoding/binary"

	"github.com/pboyd/detour/internal/errs"
	"github.com/pkg/errors"
)

type relKind int

const (
	relNone relKind = iota
	relB
	relBL
	relCond // B.cond, CBZ, CBNZ
	relTest // TBZ, TBNZ
	relADR
	relADRP
	relLoad
	relPRFM
)

type instruction struct {
	word   uint32
	off    int
	kind   relKind
	target uint64
	local  int
	long   bool
}

func (in *instruction) size() int {
	if !in.long {
		return InstSize
	}
	switch in.kind {
	case relB:
		return AbsJumpSize
	case relBL:
		return absCallSize
	case relCond, relTest:
		return absBranchSize
	case relADR, relADRP:
		return absAddrSize
	case relLoad:
		return absLoadSize
	}
	return InstSize
}

// inRange reports whether the instruction, placed at pc, can still encode
// its target.
func (in *instruction) inRange(pc, target uint64) bool {
	diff := int64(target - pc)
	switch in.kind {
	case relB, relBL:
		return fits(diff, 28)
	case relCond, relLoad, relADR:
		return fits(diff, 21)
	case relTest:
		return fits(diff, 16)
	case relADRP:
		return fits(int64(target&^0xfff-pc&^0xfff), 33)
	}
	return true
}

// MaxRelocatedSize returns an upper bound for the output of Relocate over
// code, including the continuation jump.
func MaxRelocatedSize(code []byte) int {
	return len(code)/InstSize*absLoadSize + AbsJumpSize
}

// Relocate copies the instructions in code, which were located at src, so
// they run correctly from dst. PC-relative instructions are adjusted, or
// expanded through X16 or their own destination register when the new
// offset does not fit. A jump to src+len(code) is appended.
func Relocate(code []byte, src, dst uint64) ([]byte, error) {
	if len(code)%InstSize != 0 {
		return nil, errors.Wrapf(errs.ErrUnanalyzableCode, "code length %d is not a multiple of %d", len(code), InstSize)
	}

	insts, err := decodeRegion(code, src)
	if err != nil {
		return nil, err
	}

	offsets := layout(insts)
	for {
		changed := false
		for i := range insts {
			in := &insts[i]
			if in.kind == relNone || in.long {
				continue
			}

			pc := dst + uint64(offsets[i])
			if in.inRange(pc, resolve(in, offsets, dst)) {
				continue
			}

			if in.kind == relPRFM {
				continue
			}
			if in.kind == relLoad && in.word&(1<<26) != 0 {
				return nil, errors.Wrapf(errs.ErrRelocationUnsupported, "SIMD literal load at offset %d out of range", in.off)
			}
			in.long = true
			changed = true
		}
		if !changed {
			break
		}
		offsets = layout(insts)
	}

	out := make([]byte, 0, offsets[len(insts)]+AbsJumpSize)
	for i := range insts {
		in := &insts[i]
		pc := dst + uint64(offsets[i])
		target := resolve(in, offsets, dst)
		rt := in.word & 0x1f

		switch in.kind {
		case relNone:
			out = appendInst(out, in.word)

		case relB:
			if in.long {
				out = append(out, AbsJump(target)...)
			} else {
				out = appendInst(out, encodeB(instB, pc, target))
			}

		case relBL:
			if in.long {
				out = appendAbsCall(out, target)
			} else {
				out = appendInst(out, encodeB(instBL, pc, target))
			}

		case relCond:
			if in.long {
				out = appendInst(out, invert(in.word)&^(0x7ffff<<5)|(absBranchSize/InstSize)<<5)
				out = append(out, AbsJump(target)...)
			} else {
				out = appendInst(out, setImm19(in.word, pc, target))
			}

		case relTest:
			if in.long {
				out = appendInst(out, (in.word^1<<24)&^(0x3fff<<5)|(absBranchSize/InstSize)<<5)
				out = append(out, AbsJump(target)...)
			} else {
				imm := uint32(int64(target-pc)>>2) & 0x3fff
				out = appendInst(out, in.word&^(0x3fff<<5)|imm<<5)
			}

		case relADR:
			if in.long {
				out = appendAbsAddr(out, rt, target)
			} else {
				out = appendInst(out, setImm21(in.word, int64(target-pc)))
			}

		case relADRP:
			if in.long {
				out = appendAbsAddr(out, rt, target)
			} else {
				out = appendInst(out, setImm21(in.word, int64(target-pc&^0xfff)>>12))
			}

		case relLoad:
			if in.long {
				out = appendAbsAddr(out, rt, target)
				out = appendInst(out, loadFrom(in.word>>30, rt))
			} else {
				out = appendInst(out, setImm19(in.word, pc, target))
			}

		case relPRFM:
			if in.inRange(pc, target) {
				out = appendInst(out, setImm19(in.word, pc, target))
			} else {
				out = appendInst(out, instNOP)
			}
		}
	}

	end := src + uint64(len(code))
	out = append(out, Jump(dst+uint64(len(out)), end)...)
	return out, nil
}

func layout(insts []instruction) []int {
	offsets := make([]int, len(insts)+1)
	for i := range insts {
		offsets[i+1] = offsets[i] + insts[i].size()
	}
	return offsets
}

func resolve(in *instruction, offsets []int, dst uint64) uint64 {
	if in.local >= 0 {
		return dst + uint64(offsets[in.local])
	}
	return in.target
}

func decodeRegion(code []byte, src uint64) ([]instruction, error) {
	insts := make([]instruction, 0, len(code)/InstSize)
	end := src + uint64(len(code))

	for off := 0; off < len(code); off += InstSize {
		in := instruction{
			word:  binary.LittleEndian.Uint32(code[off:]),
			off:   off,
			local: -1,
		}
		pc := src + uint64(off)
		classify(&in, pc)

		if in.target >= src && in.target < end {
			switch in.kind {
			case relB, relBL, relCond, relTest:
				in.local = int(in.target-src) / InstSize
			case relLoad, relPRFM:
				return nil, errors.Wrapf(errs.ErrRelocationUnsupported, "literal load at offset %d reads patched code", off)
			}
		}
		insts = append(insts, in)
	}
	return insts, nil
}

func classify(in *instruction, pc uint64) {
	w := in.word
	switch {
	case w&maskB == instB:
		in.kind = relB
		in.target = pc + uint64(signExtend(w&0x3ffffff, 26)<<2)
	case w&maskB == instBL:
		in.kind = relBL
		in.target = pc + uint64(signExtend(w&0x3ffffff, 26)<<2)
	case w&maskBcond == instBcond && w&0xe == 0xe:
		// B.AL and B.NV always branch.
		in.kind = relB
		in.target = pc + uint64(signExtend(w>>5&0x7ffff, 19)<<2)
	case w&maskBcond == instBcond, w&maskCBZ == instCBZ:
		in.kind = relCond
		in.target = pc + uint64(signExtend(w>>5&0x7ffff, 19)<<2)
	case w&maskTBZ == instTBZ:
		in.kind = relTest
		in.target = pc + uint64(signExtend(w>>5&0x3fff, 14)<<2)
	case w&maskADR == instADR:
		in.kind = relADR
		in.target = pc + uint64(imm21(w))
	case w&maskADR == instADRP:
		in.kind = relADRP
		in.target = pc&^0xfff + uint64(imm21(w)<<12)
	case w&maskLDRl == instLDRl:
		in.kind = relLoad
		if w>>30 == 3 && w&(1<<26) == 0 {
			in.kind = relPRFM
		}
		in.target = pc + uint64(signExtend(w>>5&0x7ffff, 19)<<2)
	}
}

// invert flips the condition of B.cond, or turns CBZ into CBNZ and back.
func invert(w uint32) uint32 {
	if w&maskBcond == instBcond {
		return w ^ 1
	}
	return w ^ 1<<24
}

func setImm19(w uint32, pc, target uint64) uint32 {
	imm := uint32(int64(target-pc)>>2) & 0x7ffff
	return w&^(0x7ffff<<5) | imm<<5
}

func imm21(w uint32) int64 {
	return signExtend(w>>5&0x7ffff<<2|w>>29&3, 21)
}

func setImm21(w uint32, imm int64) uint32 {
	v := uint32(imm) & 0x1fffff
	w &^= 0x7ffff<<5 | 3<<29
	return w | (v&3)<<29 | (v>>2)<<5
}

// loadFrom returns the register-indirect form of a literal load with opc,
// reading through rt itself.
func loadFrom(opc, rt uint32) uint32 {
	switch opc {
	case 0:
		return instLDRwImm | rt<<5 | rt
	case 2:
		return instLDRSWImm | rt<<5 | rt
	}
	return instLDRxImm | rt<<5 | rt
}
