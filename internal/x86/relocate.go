package x86

import (
	"github.com/pboyd/detour/internal/errs"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

type relKind int

const (
	relNone relKind = iota
	relJump
	relCall
	relJcc
	relRIP
)

// instruction is a decoded instruction from the region being relocated.
type instruction struct {
	x86asm.Inst
	raw  []byte
	off  int
	kind relKind

	// target is the absolute address a branch or RIP-relative operand
	// refers to. local is the index of the branch target when it lies
	// inside the region, or -1.
	target uint64
	local  int
	cc     byte

	// long is set when the instruction has to be expanded to an absolute
	// form at its new address.
	long bool
}

func (in *instruction) size(mode int) int {
	switch in.kind {
	case relJump:
		if in.long {
			return AbsJumpSize64
		}
		return NearJumpSize
	case relCall:
		if in.long {
			return absCallSize
		}
		return nearCallSize
	case relJcc:
		if in.long {
			return absJccSize
		}
		return nearJccSize
	case relRIP:
		if in.long {
			return movabsSize
		}
	}
	return in.Len
}

// MaxRelocatedSize returns an upper bound for the output of Relocate over
// code, including the continuation jump.
func MaxRelocatedSize(code []byte, mode int) (int, error) {
	insts, err := decodeRegion(code, 0, mode)
	if err != nil {
		return 0, err
	}

	total := AbsJumpSize64
	for _, in := range insts {
		switch in.kind {
		case relJump, relCall, relJcc:
			total += absJccSize
		case relRIP:
			total += max(in.Len, movabsSize)
		default:
			total += in.Len
		}
	}
	return total, nil
}

// Relocate copies the instructions in code, which were located at src, so
// they run correctly from dst. Branches and RIP-relative operands are
// adjusted, or expanded into absolute forms when the new displacement does not
// fit. A jump to src+len(code) is appended.
//
// Instructions that cannot be relocated exactly are an error.
func Relocate(code []byte, src, dst uint64, mode int) ([]byte, error) {
	insts, err := decodeRegion(code, src, mode)
	if err != nil {
		return nil, err
	}

	offsets := layout(insts, mode)
	for {
		changed := false
		for i := range insts {
			in := &insts[i]
			if in.kind == relNone || in.long {
				continue
			}

			pc := dst + uint64(offsets[i]+in.size(mode))
			if _, ok := rel32(pc, resolve(in, offsets, dst), mode); ok {
				continue
			}

			if in.kind == relRIP && !canMOVabs(in) {
				return nil, errors.Wrapf(errs.ErrRelocationUnsupported, "%s at offset %d: RIP-relative target out of range", in.Op, in.off)
			}
			in.long = true
			changed = true
		}
		if !changed {
			break
		}
		offsets = layout(insts, mode)
	}

	out := make([]byte, 0, offsets[len(insts)]+AbsJumpSize64)
	for i := range insts {
		in := &insts[i]
		pc := dst + uint64(offsets[i])
		target := resolve(in, offsets, dst)

		switch in.kind {
		case relNone:
			out = append(out, in.raw...)

		case relJump:
			if in.long {
				out = append(out, AbsJump(target, mode)...)
			} else {
				diff, _ := rel32(pc+NearJumpSize, target, mode)
				out = appendRel32(append(out, opcodeJMP), diff)
			}

		case relCall:
			if in.long {
				out = appendAbsCall(out, target)
			} else {
				diff, _ := rel32(pc+nearCallSize, target, mode)
				out = appendRel32(append(out, opcodeCALLrel), diff)
			}

		case relJcc:
			if in.long {
				out = appendAbsJcc(out, in.cc, target)
			} else {
				diff, _ := rel32(pc+nearJccSize, target, mode)
				out = appendRel32(append(out, opcodeTwoByte, opcodeJccNear|in.cc), diff)
			}

		case relRIP:
			if in.long {
				out = appendMOVabs(out, int(in.Args[0].(x86asm.Reg)-x86asm.RAX), target)
			} else {
				diff, _ := rel32(pc+uint64(in.Len), target, mode)
				out = append(out, in.raw[:in.PCRelOff]...)
				out = appendRel32(out, diff)
				out = append(out, in.raw[in.PCRelOff+4:]...)
			}
		}
	}

	end := src + uint64(len(code))
	out = append(out, Jump(dst+uint64(len(out)), end, mode)...)
	return out, nil
}

// layout returns the offset of each instruction at the destination, with the
// total size as the final element.
func layout(insts []instruction, mode int) []int {
	offsets := make([]int, len(insts)+1)
	for i := range insts {
		offsets[i+1] = offsets[i] + insts[i].size(mode)
	}
	return offsets
}

func resolve(in *instruction, offsets []int, dst uint64) uint64 {
	if in.local >= 0 {
		return dst + uint64(offsets[in.local])
	}
	return in.target
}

// canMOVabs reports whether a RIP-relative instruction is a LEA into a 64-bit
// register, which is exactly MOV r64, imm64.
func canMOVabs(in *instruction) bool {
	if in.Op != x86asm.LEA || in.DataSize != 64 {
		return false
	}
	reg, ok := in.Args[0].(x86asm.Reg)
	return ok && reg >= x86asm.RAX && reg <= x86asm.R15
}

func decodeRegion(code []byte, src uint64, mode int) ([]instruction, error) {
	var insts []instruction
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], mode)
		if err != nil {
			return nil, errors.Wrapf(errs.ErrUnanalyzableCode, "decode error at offset %d: %v", off, err)
		}

		in := instruction{
			Inst:  inst,
			raw:   code[off : off+inst.Len],
			off:   off,
			local: -1,
		}
		if err := classify(&in, src, mode); err != nil {
			return nil, err
		}
		insts = append(insts, in)
		off += inst.Len
	}

	// Branches into the region must land on one of its instructions.
	end := src + uint64(len(code))
	for i := range insts {
		in := &insts[i]
		if in.kind == relNone || in.kind == relRIP || in.target < src || in.target >= end {
			continue
		}
		for j := range insts {
			if src+uint64(insts[j].off) == in.target {
				in.local = j
				break
			}
		}
		if in.local < 0 {
			return nil, errors.Wrapf(errs.ErrRelocationUnsupported, "%s at offset %d branches into the middle of an instruction", in.Op, in.off)
		}
	}

	return insts, nil
}

func classify(in *instruction, src uint64, mode int) error {
	next := src + uint64(in.off+in.Len)

	for _, arg := range in.Args {
		if arg == nil {
			break
		}

		switch arg := arg.(type) {
		case x86asm.Mem:
			if arg.Base != x86asm.RIP {
				continue
			}
			if in.PCRel != 4 {
				return errors.Wrapf(errs.ErrRelocationUnsupported, "%s at offset %d: unknown RIP-relative encoding", in.Op, in.off)
			}
			in.kind = relRIP
			in.target = next + uint64(arg.Disp)
			return nil

		case x86asm.Rel:
			in.target = next + uint64(int64(arg))
			if mode != 64 {
				in.target = uint64(uint32(in.target))
			}
			return classifyBranch(in)
		}
	}
	return nil
}

func classifyBranch(in *instruction) error {
	if in.PCRelOff < 1 {
		return errors.Wrapf(errs.ErrRelocationUnsupported, "%s at offset %d: unknown branch encoding", in.Op, in.off)
	}
	op := in.raw[in.PCRelOff-1]

	switch {
	case in.PCRel == 1 && op == opcodeJMPshort, in.PCRel == 4 && op == opcodeJMP:
		in.kind = relJump
	case in.PCRel == 4 && op == opcodeCALLrel:
		in.kind = relCall
	case in.PCRel == 1 && op&0xf0 == opcodeJccShort:
		in.kind = relJcc
		in.cc = op & 0xf
	case in.PCRel == 4 && op&0xf0 == opcodeJccNear && in.PCRelOff >= 2 && in.raw[in.PCRelOff-2] == opcodeTwoByte:
		in.kind = relJcc
		in.cc = op & 0xf
	default:
		// JCXZ, LOOP, XBEGIN and 16-bit branches have no wider form.
		return errors.Wrapf(errs.ErrRelocationUnsupported, "%s at offset %d", in.Op, in.off)
	}
	return nil
}
