package arm64

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Disassemble renders code, located at pc, in GNU syntax with one
// instruction per line. Words that do not decode, such as literal pool
// entries, are shown raw.
func Disassemble(code []byte, pc uint64) string {
	var sb strings.Builder
	for ; len(code) >= InstSize; code, pc = code[InstSize:], pc+InstSize {
		w := binary.LittleEndian.Uint32(code)
		inst, err := arm64asm.Decode(code)
		if err != nil {
			fmt.Fprintf(&sb, "%#x\t%08x\t.word\n", pc, w)
			continue
		}
		fmt.Fprintf(&sb, "%#x\t%08x\t%s\n", pc, w, arm64asm.GNUSyntax(inst))
	}
	return sb.String()
}
