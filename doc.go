// Package detour redirects calls to a function at runtime, while keeping the
// original behavior callable through a trampoline.
//
// Building a detour decodes the first instructions of the target until there
// is room for a jump, copies them to executable memory with every
// PC-relative reference fixed up, and appends a jump back to the rest of the
// target. That copy is the trampoline. Enabling the detour overwrites the
// start of the target with a jump to the replacement; disabling it writes the
// saved bytes back. Neither rebuilds anything.
//
// There are three kinds of detour:
//   - RawDetour works on code addresses and checks nothing.
//   - Detour[F] works on Go funcs of type F, checks the replacement's
//     signature and offers Original, a typed call through the trampoline.
//   - Static[F] is a named slot declared up front and bound once with
//     Initialize.
//
// Func, Method, Restore and Original redefine Go functions in a single call.
//
// Limitations:
//   - amd64, 386 and arm64 only. arm64 needs cgo to flush the instruction
//     cache.
//   - Inlined calls to the target are not affected. Use //go:noinline.
//   - Enabling and disabling are atomic only when the patch fits in one
//     aligned 8-byte word. That is the usual case, a near jump at the
//     aligned start of a Go function, but no threads are suspended, and the
//     longer absolute patch can be seen half written.
//   - A trampoline that has to grow the stack resumes in the trampoline only
//     for Go functions whose stack check calls runtime.morestack_noctxt.
//     Closure bodies and code without a recognizable check restart at the
//     patched entry, so that one call reaches the replacement.
//   - Memory holding a trampoline is reused after Free. Make sure no thread
//     is still inside it.
//   - Some instructions can't be relocated, such as JRCXZ or LOOP on x86, and
//     targets whose first instructions use them fail with
//     ErrRelocationUnsupported.
package detour
