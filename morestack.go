package detour

import (
	"runtime"
	"strings"
)

// morestackNoctxtLen covers runtime.morestack_noctxt up to its jump.
const morestackNoctxtLen = 32

// morestackPath is how a Go function grows its stack. The check at its entry
// branches to a tail that calls runtime.morestack_noctxt and then jumps back
// to the entry. The trampoline keeps the check, but the entry is patched
// while the detour is enabled, so a trampoline call that grows the stack
// would resume in the replacement.
//
// To avoid that the tail's call is redirected to a stub in the block that
// loads a marker into the closure context register before entering
// runtime.morestack. morestack saves the register with the rest of the
// goroutine state and restores it when it restarts the function, and the
// relay sends calls carrying the marker back into the trampoline.
type morestackPath struct {
	call      uintptr // call instruction in the tail
	morestack uintptr
}

// findMorestackPath returns the morestack path of target, or nil when it
// doesn't have one that can be redirected. Functions that need their closure
// context call runtime.morestack instead and are left alone.
func findMorestackPath(target uintptr, code []byte) *morestackPath {
	fn := runtime.FuncForPC(target)
	if fn == nil || fn.Entry() != target {
		return nil
	}

	call, callee, ok := findStackSplit(code, target, func(pc uintptr) []byte {
		return funcCode(target, pc, maxInstLen)
	})
	if !ok {
		return nil
	}
	if runtimeName(callee) != "runtime.morestack_noctxt" {
		debugf("%s: stack check calls %s", fn.Name(), funcName(callee))
		return nil
	}

	morestack, ok := jumpTarget(funcCode(callee, callee, morestackNoctxtLen), callee)
	if !ok || runtimeName(morestack) != "runtime.morestack" {
		debugf("%s: unrecognized runtime.morestack_noctxt", fn.Name())
		return nil
	}

	return &morestackPath{
		call:      call,
		morestack: morestack,
	}
}

// runtimeName is funcName without the suffix assembly functions get when
// they also have a Go declaration.
func runtimeName(pc uintptr) string {
	return strings.TrimSuffix(funcName(pc), ".abi0")
}

// funcCode returns up to limit bytes at pc without reading past the end of
// the function at entry.
func funcCode(entry, pc uintptr, limit int) []byte {
	if pc < entry {
		return nil
	}

	n := 0
	for n < limit {
		fn := runtime.FuncForPC(pc + uintptr(n))
		if fn == nil || fn.Entry() != entry {
			break
		}
		n++
	}
	return readCode(pc, n)
}

// codePatch is a change to code outside the patch region.
type codePatch struct {
	addr  uintptr
	orig  []byte
	patch []byte
}

// morestackPatch redirects the call at ms.call to stub. Only the bytes that
// change are kept.
func morestackPatch(ms *morestackPath, stub uintptr) *codePatch {
	call, ok := nearCall(ms.call, stub)
	if !ok {
		debugf("%s: morestack stub %#x is out of range of %#x", funcName(ms.call), stub, ms.call)
		return nil
	}

	orig := readCode(ms.call, len(call))
	i := 0
	for i < len(call) && call[i] == orig[i] {
		i++
	}
	if i == len(call) {
		return nil
	}

	return &codePatch{
		addr:  ms.call + uintptr(i),
		orig:  orig[i:],
		patch: call[i:],
	}
}
