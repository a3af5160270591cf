package x86

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code, located at pc, in Intel syntax with one
// instruction per line. Undecodable bytes are shown as "?".
func Disassemble(code []byte, pc uint64, mode int) string {
	var sb strings.Builder
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, mode)
		if err != nil {
			fmt.Fprintf(&sb, "%#x\t%02x\t?\n", pc, code[0])
			code = code[1:]
			pc++
			continue
		}

		fmt.Fprintf(&sb, "%#x\t%x\t%s\n", pc, code[:inst.Len], x86asm.IntelSyntax(inst, pc, nil))
		code = code[inst.Len:]
		pc += uint64(inst.Len)
	}
	return sb.String()
}
