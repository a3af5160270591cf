// Package errs holds the error kinds shared by the detour engine and its
// architecture packages.
package errs

import "github.com/pkg/errors"

var (
	// ErrUnanalyzableCode means no safe instruction boundary could be found.
	ErrUnanalyzableCode = errors.New("unanalyzable code")
	// ErrRelocationUnsupported means an instruction could not be relocated.
	ErrRelocationUnsupported = errors.New("relocation unsupported")
	// ErrOutOfExecutableMemory means no executable memory could be reserved.
	ErrOutOfExecutableMemory = errors.New("out of executable memory")
	// ErrProtectionDenied means memory permissions could not be changed.
	ErrProtectionDenied = errors.New("memory protection denied")
	// ErrSignatureMismatch means the target and replacement signatures differ.
	ErrSignatureMismatch = errors.New("function signatures do not match")
	// ErrAlreadyEnabled means the detour is already enabled.
	ErrAlreadyEnabled = errors.New("detour already enabled")
	// ErrAlreadyDisabled means the detour is not enabled.
	ErrAlreadyDisabled = errors.New("detour already disabled")
	// ErrNotInitialized means a static detour was used before Initialize.
	ErrNotInitialized = errors.New("static detour not initialized")
	// ErrAlreadyInitialized means a static detour was initialized twice.
	ErrAlreadyInitialized = errors.New("static detour already initialized")
	// ErrAlreadyDetoured means the target already has a detour.
	ErrAlreadyDetoured = errors.New("target already detoured")
	// ErrFreed means the detour has been freed.
	ErrFreed = errors.New("detour freed")
	// ErrUnsupportedArch means the engine has no backend for GOARCH.
	ErrUnsupportedArch = errors.New("unsupported architecture")
)
