//go:build arm64 && !cgo

package detour

// arm64 requires a C compiler to flush the instruction cache after patching.
// Install a C compiler and build with CGO_ENABLED=1.
func cacheflush(addr uintptr, n int) {
	arm64_requires_cgo_for_instruction_cache_flushing()
}
