package arm64

import (
	"encoding/binary"

	"github.com/pboyd/detour/internal/errs"
	"github.com/pkg/errors"
	"golang.org/x/arch/arm64/arm64asm"
)

// PatchLength returns the number of bytes of whole instructions at the start
// of code covering at least min bytes.
//
// If the function returns or branches away before min bytes, the remainder
// must be padding (zero words or NOP), in which case the rounded min is
// returned.
func PatchLength(code []byte, min int) (int, error) {
	min = (min + InstSize - 1) &^ (InstSize - 1)

	for n := 0; n < min; n += InstSize {
		if n+InstSize > len(code) {
			return 0, errors.Wrapf(errs.ErrUnanalyzableCode, "function ends after %d bytes, need %d", n, min)
		}

		w := binary.LittleEndian.Uint32(code[n:])
		if _, err := arm64asm.Decode(code[n:]); err != nil {
			return 0, errors.Wrapf(errs.ErrUnanalyzableCode, "decode error at offset %d (%#08x): %v", n, w, err)
		}

		if n+InstSize < min && terminates(w) {
			if len(code) < min || !isPadding(code[n+InstSize:min]) {
				return 0, errors.Wrapf(errs.ErrUnanalyzableCode, "function too short: %#08x at offset %d", w, n)
			}
			return min, nil
		}
	}
	return min, nil
}

// terminates reports whether execution never falls through w.
func terminates(w uint32) bool {
	switch {
	case w&maskB == instB:
		return true
	case w&maskBR == instBR, w&maskBR == instRET:
		return true
	case w&maskBRK == instBRK:
		return true
	}
	return false
}
