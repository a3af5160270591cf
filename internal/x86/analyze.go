package x86

import (
	"github.com/pboyd/detour/internal/errs"
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// PatchLength returns the length of the shortest run of whole instructions at
// the start of code covering at least min bytes. mode is 16, 32 or 64.
//
// If the function returns or jumps away before min bytes, the gap must be
// filled with padding (INT3 or NOP), in which case min itself is returned.
func PatchLength(code []byte, min, mode int) (int, error) {
	n := 0
	for n < min {
		if n >= len(code) {
			return 0, errors.Wrapf(errs.ErrUnanalyzableCode, "function ends after %d bytes, need %d", n, min)
		}

		inst, err := x86asm.Decode(code[n:], mode)
		if err != nil {
			return 0, errors.Wrapf(errs.ErrUnanalyzableCode, "decode error at offset %d: %v", n, err)
		}
		n += inst.Len

		if n < min && terminates(inst) {
			if len(code) < min || !isPadding(code[n:min]) {
				return 0, errors.Wrapf(errs.ErrUnanalyzableCode, "function too short: %s at offset %d", inst.Op, n-inst.Len)
			}
			return min, nil
		}
	}
	return n, nil
}

// terminates reports whether execution never falls through inst.
func terminates(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP, x86asm.UD2:
		return true
	}
	return false
}
