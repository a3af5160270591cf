package detour

import "github.com/pboyd/detour/internal/arm64"

const (
	nearJumpSize    = arm64.NearJumpSize
	absJumpSize     = arm64.AbsJumpSize
	closureJumpSize = arm64.ClosureJumpSize

	// The linker pads between functions with zero words.
	codePad = 0

	branchReach = 1 << 27
)

func patchLength(code []byte, min int) (int, error) {
	return arm64.PatchLength(code, min)
}

func maxRelocatedSize(code []byte) (int, error) {
	return arm64.MaxRelocatedSize(code), nil
}

func relocate(code []byte, src, dst uintptr) ([]byte, error) {
	return arm64.Relocate(code, uint64(src), uint64(dst))
}

func reachable(from, dest uintptr) bool {
	return arm64.Reachable(uint64(from), uint64(dest))
}

func nearJump(pc, dest uintptr) ([]byte, bool) {
	return arm64.NearJump(uint64(pc), uint64(dest))
}

func absJump(dest uintptr) []byte {
	return arm64.AbsJump(uint64(dest))
}

func closureJump(funcval uintptr) []byte {
	return arm64.ClosureJump(uint64(funcval))
}

func disassemble(code []byte, pc uintptr) string {
	return arm64.Disassemble(code, uint64(pc))
}

const (
	resumeCheckSize   = arm64.ResumeCheckSize
	morestackStubSize = arm64.MorestackStubSize
	maxInstLen        = arm64.InstSize
)

func findStackSplit(code []byte, entry uintptr, read func(uintptr) []byte) (call, callee uintptr, ok bool) {
	split, ok := arm64.FindStackSplit(code, uint64(entry), func(pc uint64) []byte {
		return read(uintptr(pc))
	})
	return uintptr(split.Call), uintptr(split.Callee), ok
}

func jumpTarget(code []byte, pc uintptr) (uintptr, bool) {
	dest, ok := arm64.JumpTarget(code, uint64(pc))
	return uintptr(dest), ok
}

func resumeCheck(pc, markAddr, resume uintptr) ([]byte, bool) {
	return arm64.ResumeCheck(uint64(pc), uint64(markAddr), uint64(resume))
}

// morestackStub doesn't need marker: X26 is loaded from markAddr.
func morestackStub(pc, _, markAddr, morestack uintptr) ([]byte, bool) {
	return arm64.MorestackStub(uint64(pc), uint64(markAddr), uint64(morestack))
}

func nearCall(pc, dest uintptr) ([]byte, bool) {
	return arm64.NearCall(uint64(pc), uint64(dest))
}
