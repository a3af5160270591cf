package detour

import "github.com/pboyd/detour/internal/x86"

const (
	archMode        = 64
	nearJumpSize    = x86.NearJumpSize
	absJumpSize     = x86.AbsJumpSize64
	closureJumpSize = x86.ClosureJumpSize64

	// INT3, the same padding the compiler uses between functions.
	codePad = 0xcc

	branchReach = 1 << 31
)

func patchLength(code []byte, min int) (int, error) {
	return x86.PatchLength(code, min, archMode)
}

func maxRelocatedSize(code []byte) (int, error) {
	return x86.MaxRelocatedSize(code, archMode)
}

func relocate(code []byte, src, dst uintptr) ([]byte, error) {
	return x86.Relocate(code, uint64(src), uint64(dst), archMode)
}

func reachable(from, dest uintptr) bool {
	return x86.Reachable(uint64(from), uint64(dest), archMode)
}

func nearJump(pc, dest uintptr) ([]byte, bool) {
	return x86.NearJump(uint64(pc), uint64(dest), archMode)
}

func absJump(dest uintptr) []byte {
	return x86.AbsJump(uint64(dest), archMode)
}

func closureJump(funcval uintptr) []byte {
	return x86.ClosureJump(uint64(funcval), archMode)
}

func disassemble(code []byte, pc uintptr) string {
	return x86.Disassemble(code, uint64(pc), archMode)
}

const (
	resumeCheckSize   = x86.ResumeCheckSize64
	morestackStubSize = x86.MorestackStubSize64
	maxInstLen        = 15
)

func findStackSplit(code []byte, entry uintptr, read func(uintptr) []byte) (call, callee uintptr, ok bool) {
	split, ok := x86.FindStackSplit(code, uint64(entry), func(pc uint64) []byte {
		return read(uintptr(pc))
	}, archMode)
	return uintptr(split.Call), uintptr(split.Callee), ok
}

func jumpTarget(code []byte, pc uintptr) (uintptr, bool) {
	dest, ok := x86.JumpTarget(code, uint64(pc), archMode)
	return uintptr(dest), ok
}

func resumeCheck(pc, markAddr, resume uintptr) ([]byte, bool) {
	return x86.ResumeCheck(uint64(pc), uint64(markAddr), uint64(resume), archMode)
}

// morestackStub doesn't need markAddr: the marker goes in DX as an immediate.
func morestackStub(pc, marker, _, morestack uintptr) ([]byte, bool) {
	return x86.MorestackStub(uint64(pc), uint64(marker), uint64(morestack), archMode), true
}

func nearCall(pc, dest uintptr) ([]byte, bool) {
	return x86.NearCall(uint64(pc), uint64(dest), archMode)
}
