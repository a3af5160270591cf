//go:build !amd64 && !386 && !arm64

package detour

import (
	"runtime"

	"github.com/pkg/errors"
)

const (
	nearJumpSize    = 0
	absJumpSize     = 0
	closureJumpSize = 0
	codePad         = 0
	branchReach     = 0

	resumeCheckSize   = 0
	morestackStubSize = 0
	maxInstLen        = 1
)

func patchLength([]byte, int) (int, error) {
	return 0, errors.Wrap(ErrUnsupportedArch, runtime.GOARCH)
}

func maxRelocatedSize([]byte) (int, error) {
	return 0, errors.Wrap(ErrUnsupportedArch, runtime.GOARCH)
}

func relocate([]byte, uintptr, uintptr) ([]byte, error) {
	return nil, errors.Wrap(ErrUnsupportedArch, runtime.GOARCH)
}

func reachable(uintptr, uintptr) bool { return false }

func nearJump(uintptr, uintptr) ([]byte, bool) { return nil, false }

func absJump(uintptr) []byte { return nil }

func closureJump(uintptr) []byte { return nil }

func disassemble([]byte, uintptr) string { return "" }

func findStackSplit([]byte, uintptr, func(uintptr) []byte) (uintptr, uintptr, bool) {
	return 0, 0, false
}

func jumpTarget([]byte, uintptr) (uintptr, bool) { return 0, false }

func resumeCheck(uintptr, uintptr, uintptr) ([]byte, bool) { return nil, false }

func morestackStub(uintptr, uintptr, uintptr, uintptr) ([]byte, bool) { return nil, false }

func nearCall(uintptr, uintptr) ([]byte, bool) { return nil, false }
