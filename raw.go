package detour

import "github.com/pkg/errors"

// RawDetour redirects the machine code at one address to another. Nothing
// about the two functions is checked unless WithSignatures is given; the
// caller is responsible for them being compatible.
type RawDetour struct {
	d *detour
}

// NewRaw builds a trampoline for target but leaves target untouched until
// Enable. replacement must be a code address, not a Go func value; use New
// for those.
func NewRaw(target, replacement uintptr, opts ...Option) (*RawDetour, error) {
	cfg := newConfig(opts)
	if cfg.signatures != nil {
		if err := cfg.signatures[0].Check(cfg.signatures[1]); err != nil {
			return nil, err
		}
	}

	d, err := newDetour(target, destination{addr: replacement}, cfg)
	if err != nil {
		return nil, err
	}
	return &RawDetour{d: d}, nil
}

// Enable patches the target to jump to the replacement.
func (r *RawDetour) Enable() error {
	return errors.WithMessage(r.d.enable(), "enable")
}

// Disable restores the target's original code.
func (r *RawDetour) Disable() error {
	return errors.WithMessage(r.d.disable(), "disable")
}

// IsEnabled reports whether the target is currently patched.
func (r *RawDetour) IsEnabled() bool {
	return r.d.isEnabled()
}

// Target returns the detoured address.
func (r *RawDetour) Target() uintptr {
	return r.d.target
}

// Trampoline returns the address of code that behaves like the unpatched
// target, whether or not the detour is enabled. It is zero after Free.
func (r *RawDetour) Trampoline() uintptr {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return r.d.trampoline
}

// Free disables the detour and releases its trampoline. Nothing may call
// the trampoline afterwards. A detour that is never freed leaves the target
// patched and its trampoline allocated for the life of the process.
func (r *RawDetour) Free() error {
	return r.d.free()
}
