package detour

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Static is a named, process-wide detour slot that is declared before its
// target is known and bound once with Initialize:
//
//	var messageBox = detour.NewStatic[func(string) int]("MessageBox")
//
//	func init() {
//		count := 0
//		messageBox.Initialize(showMessage, func(s string) int {
//			count++
//			return messageBox.MustOriginal()(s)
//		})
//	}
//
// Until Initialize succeeds every operation fails with ErrNotInitialized.
type Static[F any] struct {
	name string

	mu          sync.Mutex
	detour      *Detour[F]
	replacement any
}

var statics = struct {
	sync.Mutex
	slots map[string]any
}{
	slots: make(map[string]any),
}

// NewStatic declares a static detour slot. Names are process-wide; declaring
// the same name twice panics, like registering a flag twice.
func NewStatic[F any](name string) *Static[F] {
	if t := reflect.TypeFor[F](); t.Kind() != reflect.Func {
		panic(fmt.Sprintf("detour: static detour %q: %v is not a func type", name, t))
	}

	statics.Lock()
	defer statics.Unlock()

	if _, ok := statics.slots[name]; ok {
		panic(fmt.Sprintf("detour: static detour %q declared twice", name))
	}

	s := &Static[F]{name: name}
	statics.slots[name] = s
	return s
}

// LookupStatic returns the slot declared with name, or false if there is no
// such slot or it holds a different func type.
func LookupStatic[F any](name string) (*Static[F], bool) {
	statics.Lock()
	defer statics.Unlock()

	s, ok := statics.slots[name].(*Static[F])
	return s, ok
}

// Name returns the slot's name.
func (s *Static[F]) Name() string {
	return s.name
}

// Initialize binds the slot to target and replacement. It can only succeed
// once; later calls fail with ErrAlreadyInitialized. The replacement may be
// a closure and stays referenced by the slot.
func (s *Static[F]) Initialize(target F, replacement any, opts ...Option) error {
	return s.bind(func() (*Detour[F], error) {
		return New[F](target, replacement, opts...)
	}, replacement)
}

// InitializeAt is Initialize for a target known only by its address.
func (s *Static[F]) InitializeAt(target uintptr, replacement any, opts ...Option) error {
	return s.bind(func() (*Detour[F], error) {
		return NewAt[F](target, replacement, opts...)
	}, replacement)
}

func (s *Static[F]) bind(build func() (*Detour[F], error), replacement any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detour != nil {
		return errors.Wrapf(ErrAlreadyInitialized, "static detour %q", s.name)
	}

	d, err := build()
	if err != nil {
		return errors.WithMessagef(err, "static detour %q", s.name)
	}

	s.detour = d
	s.replacement = replacement
	return nil
}

func (s *Static[F]) bound() (*Detour[F], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detour == nil {
		return nil, errors.Wrapf(ErrNotInitialized, "static detour %q", s.name)
	}
	return s.detour, nil
}

// Enable patches the target to call the replacement.
func (s *Static[F]) Enable() error {
	d, err := s.bound()
	if err != nil {
		return err
	}
	return d.Enable()
}

// Disable restores the target's original code.
func (s *Static[F]) Disable() error {
	d, err := s.bound()
	if err != nil {
		return err
	}
	return d.Disable()
}

// IsEnabled reports whether the target is currently patched. An unbound
// slot is never enabled.
func (s *Static[F]) IsEnabled() bool {
	d, err := s.bound()
	return err == nil && d.IsEnabled()
}

// Original returns a function that behaves like the unpatched target.
func (s *Static[F]) Original() (F, error) {
	d, err := s.bound()
	if err != nil {
		var zero F
		return zero, err
	}
	return d.Original(), nil
}

// MustOriginal is Original for use inside the replacement, where the slot
// is known to be bound. It panics otherwise.
func (s *Static[F]) MustOriginal() F {
	fn, err := s.Original()
	if err != nil {
		panic(err)
	}
	return fn
}

// Replacement returns the bound replacement, or nil.
func (s *Static[F]) Replacement() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replacement
}

// Free disables the detour and releases its trampoline. The slot stays
// bound to the freed detour; a static detour is initialized only once.
func (s *Static[F]) Free() error {
	d, err := s.bound()
	if err != nil {
		return err
	}
	return d.Free()
}
