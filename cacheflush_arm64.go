//go:build arm64

package detour

import "unsafe"

/*
static void cacheflush(char *start, char *end) {
	__builtin___clear_cache(start, end);
}
*/
import "C"

// cacheflush makes freshly written instructions at addr visible to the
// instruction fetcher.
func cacheflush(addr uintptr, n int) {
	start := unsafe.Pointer(addr)
	end := unsafe.Pointer(addr + uintptr(n))
	C.cacheflush((*C.char)(start), (*C.char)(end))
}
