package detour

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// Detour redirects calls from a Go function of type F to a replacement with
// the same signature. Original calls through to the unpatched target.
type Detour[F any] struct {
	raw      RawDetour
	original F
}

// New builds a detour from target to replacement, which must also be a func
// of type F or one with an identical signature. Replacements may be closures.
// Target is untouched until Enable.
//
// If target has been inlined into a caller, that caller is not affected. Add
// a noinline directive where possible:
//
//	//go:noinline
//	func myfunc() {
//		...
//	}
func New[F any](target F, replacement any, opts ...Option) (*Detour[F], error) {
	fnv := reflect.ValueOf(target)
	if fnv.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	if fnv.IsNil() {
		return nil, errors.New("nil target")
	}
	return NewAt[F](fnv.Pointer(), replacement, opts...)
}

// NewAt is like New for a target known only by its address. The code at
// target must follow the Go calling convention for F.
func NewAt[F any](target uintptr, replacement any, opts ...Option) (*Detour[F], error) {
	dest, err := goDestination[F](replacement)
	if err != nil {
		return nil, err
	}

	d, err := newDetour(target, dest, newConfig(opts))
	if err != nil {
		return nil, err
	}

	return &Detour[F]{
		raw:      RawDetour{d: d},
		original: FuncOf[F](d.trampoline),
	}, nil
}

// goDestination checks replacement against F and returns the closure entry
// for it.
func goDestination[F any](replacement any) (destination, error) {
	want, err := SignatureFor[F]()
	if err != nil {
		return destination{}, err
	}

	newFnv := reflect.ValueOf(replacement)
	if newFnv.Kind() != reflect.Func {
		return destination{}, fmt.Errorf("not a function, kind: %v", newFnv.Kind())
	}
	if newFnv.IsNil() {
		return destination{}, errors.New("nil replacement")
	}

	if err := want.Check(signatureOfType(newFnv.Type())); err != nil {
		return destination{}, err
	}

	return destination{
		addr:    funcval(replacement),
		closure: true,
		keep:    replacement,
	}, nil
}

// Enable patches the target to call the replacement.
func (d *Detour[F]) Enable() error {
	return d.raw.Enable()
}

// Disable restores the target's original code.
func (d *Detour[F]) Disable() error {
	return d.raw.Disable()
}

// IsEnabled reports whether the target is currently patched.
func (d *Detour[F]) IsEnabled() bool {
	return d.raw.IsEnabled()
}

// Original returns a function that behaves like the unpatched target,
// whether or not the detour is enabled. It must not be called after Free.
//
// Targets that are closures capturing variables can't be called this way:
// the trampoline does not get their context.
func (d *Detour[F]) Original() F {
	return d.original
}

// Target returns the detoured address.
func (d *Detour[F]) Target() uintptr {
	return d.raw.Target()
}

// Trampoline returns the address behind Original.
func (d *Detour[F]) Trampoline() uintptr {
	return d.raw.Trampoline()
}

// Free disables the detour and releases its trampoline.
func (d *Detour[F]) Free() error {
	return d.raw.Free()
}
