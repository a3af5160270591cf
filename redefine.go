package detour

import (
	"fmt"
	"reflect"
	"sync"
)

var (
	mu        sync.RWMutex
	redefined = map[uintptr]*detour{}
)

// Func redefines fn with newFn. It is a shortcut for New followed by Enable,
// with the detour kept in a process-wide table so Original and Restore can
// find it by function. An error will be returned if fn or newFn are not
// functions or if their signatures do not match.
//
// Redefining fn again replaces the previous redefinition.
func Func(fn, newFn any) error {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	newFnv := reflect.ValueOf(newFn)
	if newFnv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", newFnv.Kind())
	}

	if diff := diffFuncs(fnv, newFnv); !diff.Empty() {
		return &SignatureError{
			Target:      signatureOfType(fnv.Type()),
			Replacement: signatureOfType(newFnv.Type()),
			Err:         diff.Error(),
		}
	}

	return redefine(fnv, newFn)
}

// Method redefines a method with newFn. Both are given as method
// expressions, e.g. (*T).Name. The receiver types may differ, which lets a
// method of another type with the same memory layout stand in. All other
// arguments and results must match.
func Method(fn, newFn any) error {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	newFnv := reflect.ValueOf(newFn)
	if newFnv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", newFnv.Kind())
	}
	if fnv.Type().NumIn() == 0 || newFnv.Type().NumIn() == 0 {
		return fmt.Errorf("method expressions take the receiver as their first argument")
	}

	diff := diffFuncs(fnv, newFnv)
	if fnv.Type().In(0).Size() == newFnv.Type().In(0).Size() {
		diff.In[0] = nil
	}
	if !diff.Empty() {
		return &SignatureError{
			Target:      signatureOfType(fnv.Type()),
			Replacement: signatureOfType(newFnv.Type()),
			Err:         diff.Error(),
		}
	}

	return redefine(fnv, newFn)
}

func redefine(fnv reflect.Value, newFn any) error {
	if fnv.IsNil() {
		return fmt.Errorf("nil function")
	}
	if reflect.ValueOf(newFn).IsNil() {
		return fmt.Errorf("nil replacement")
	}
	entry := fnv.Pointer()

	mu.Lock()
	defer mu.Unlock()

	if old, ok := redefined[entry]; ok {
		if err := old.free(); err != nil {
			return err
		}
		delete(redefined, entry)
	}

	dest := destination{addr: funcval(newFn), closure: true, keep: newFn}
	d, err := newDetour(entry, dest, &config{})
	if err != nil {
		return err
	}

	if err := d.enable(); err != nil {
		d.free()
		return err
	}

	redefined[entry] = d
	return nil
}

// Restore undoes Func or Method, putting fn's original code back.
func Restore(fn any) error {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}

	mu.Lock()
	defer mu.Unlock()

	d, ok := redefined[fnv.Pointer()]
	if !ok {
		return fmt.Errorf("%s has not been redefined", funcName(fnv.Pointer()))
	}

	if err := d.free(); err != nil {
		return err
	}
	delete(redefined, fnv.Pointer())
	return nil
}
