package detour

import (
	"reflect"
	"unsafe"
)

// eface is the layout of an empty interface.
type eface struct {
	typ  unsafe.Pointer
	data unsafe.Pointer
}

// funcval returns the func value pointer held by fn. A func is stored
// directly in the interface data word, and its first word is the code
// pointer. Closures keep their captured variables after it.
func funcval(fn any) uintptr {
	return uintptr((*eface)(unsafe.Pointer(&fn)).data)
}

// FuncOf makes a Go func value of type F that calls the machine code at
// code, for example a trampoline. F must be a func type and the code must
// follow the Go calling convention for F; nothing is checked.
func FuncOf[F any](code uintptr) F {
	if reflect.TypeFor[F]().Kind() != reflect.Func {
		panic("detour: FuncOf type parameter must be a func type")
	}

	// The idea is to take a pointer to code and convince Go that it's
	// really a func value of type F.
	fv := new(uintptr)
	*fv = code
	return *(*F)(unsafe.Pointer(&fv))
}
