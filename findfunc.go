package detour

import (
	"fmt"
	"runtime"
)

// codeWindow is how many bytes are read from a target to find its patch
// region. It is enough for the longest redirect plus the longest x86
// instruction.
const codeWindow = 64

// codeExtent returns how many bytes starting at entry can be read as code.
// For Go functions the window ends where the symbol table says the next
// function starts, which includes the padding after it. Anything else gets
// the full window.
func codeExtent(entry uintptr) int {
	fn := runtime.FuncForPC(entry)
	if fn == nil || fn.Entry() != entry {
		return codeWindow
	}

	for n := 1; n < codeWindow; n++ {
		next := runtime.FuncForPC(entry + uintptr(n))
		if next == nil || next.Entry() != entry {
			return n
		}
	}
	return codeWindow
}

// funcName is the symbol name for entry, or its address.
func funcName(entry uintptr) string {
	if fn := runtime.FuncForPC(entry); fn != nil {
		return fn.Name()
	}
	return fmt.Sprintf("%#x", entry)
}
