package detour

import "reflect"

// Original returns a function with the same behavior as the original version
// of a function redefined with Func or Method. If the function has not been
// redefined the passed function will be returned.
//
// If T is not a func type, or fn is nil, Original returns the zero value.
//
// The result calls into the redefinition's trampoline, so it must not be
// used after Restore.
func Original[T any](fn T) T {
	var zero T
	if reflect.TypeFor[T]().Kind() != reflect.Func {
		return zero
	}
	fnv := reflect.ValueOf(fn)
	if fnv.IsNil() {
		return zero
	}

	mu.RLock()
	defer mu.RUnlock()

	d, ok := redefined[fnv.Pointer()]
	if !ok {
		// Not redefined, so return the original func.
		return fn
	}

	return FuncOf[T](d.trampoline)
}
