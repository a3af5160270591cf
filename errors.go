package detour

import "github.com/pboyd/detour/internal/errs"

// Errors returned by the engine. Returned errors carry context, so compare
// with errors.Is.
var (
	ErrUnanalyzableCode      = errs.ErrUnanalyzableCode
	ErrRelocationUnsupported = errs.ErrRelocationUnsupported
	ErrOutOfExecutableMemory = errs.ErrOutOfExecutableMemory
	ErrProtectionDenied      = errs.ErrProtectionDenied
	ErrSignatureMismatch     = errs.ErrSignatureMismatch
	ErrAlreadyEnabled        = errs.ErrAlreadyEnabled
	ErrAlreadyDisabled       = errs.ErrAlreadyDisabled
	ErrNotInitialized        = errs.ErrNotInitialized
	ErrAlreadyInitialized    = errs.ErrAlreadyInitialized
	ErrAlreadyDetoured       = errs.ErrAlreadyDetoured
	ErrFreed                 = errs.ErrFreed
	ErrUnsupportedArch       = errs.ErrUnsupportedArch
)
