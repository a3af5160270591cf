package detour

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// CallConv is a calling convention.
type CallConv int

const (
	// ConvGo is Go's internal register-based convention. Every func value
	// uses it.
	ConvGo CallConv = iota
	ConvC
	ConvCdecl
	ConvStdcall
	ConvFastcall
	ConvThiscall
	ConvWin64
	ConvSysV
	// ConvSystem is the platform's system call convention: stdcall on
	// 32-bit Windows, C everywhere else.
	ConvSystem
)

var callConvNames = [...]string{
	ConvGo:       "go",
	ConvC:        "c",
	ConvCdecl:    "cdecl",
	ConvStdcall:  "stdcall",
	ConvFastcall: "fastcall",
	ConvThiscall: "thiscall",
	ConvWin64:    "win64",
	ConvSysV:     "sysv64",
	ConvSystem:   "system",
}

func (c CallConv) String() string {
	if c >= 0 && int(c) < len(callConvNames) {
		return callConvNames[c]
	}
	return fmt.Sprintf("CallConv(%d)", int(c))
}

// cVariadic reports whether the convention allows C-style variadic
// arguments.
func (c CallConv) cVariadic() bool {
	return c == ConvC || c == ConvCdecl
}

// Signature describes the shape of a function: its convention, argument and
// result types, and whether it takes variadic arguments.
//
// For ConvGo, Variadic means a Go variadic function whose last argument is
// the slice. For other conventions it means C varargs after the fixed
// arguments in In.
type Signature struct {
	Conv     CallConv
	In       []reflect.Type
	Out      []reflect.Type
	Variadic bool
}

// SignatureOf returns the signature of a Go func value.
func SignatureOf(fn any) (Signature, error) {
	fnv := reflect.ValueOf(fn)
	if fnv.Kind() != reflect.Func {
		return Signature{}, fmt.Errorf("not a function, kind: %v", fnv.Kind())
	}
	return signatureOfType(fnv.Type()), nil
}

// SignatureFor returns the signature of func type F.
func SignatureFor[F any]() (Signature, error) {
	t := reflect.TypeFor[F]()
	if t.Kind() != reflect.Func {
		return Signature{}, fmt.Errorf("not a function, kind: %v", t.Kind())
	}
	return signatureOfType(t), nil
}

func signatureOfType(t reflect.Type) Signature {
	sig := Signature{
		Conv:     ConvGo,
		In:       make([]reflect.Type, t.NumIn()),
		Out:      make([]reflect.Type, t.NumOut()),
		Variadic: t.IsVariadic(),
	}
	for i := range sig.In {
		sig.In[i] = t.In(i)
	}
	for i := range sig.Out {
		sig.Out[i] = t.Out(i)
	}
	return sig
}

// Validate reports whether the signature can exist.
func (s Signature) Validate() error {
	if s.Conv < ConvGo || s.Conv > ConvSystem {
		return errors.Errorf("unknown calling convention %v", s.Conv)
	}
	for i, t := range s.In {
		if t == nil {
			return errors.Errorf("argument %d has no type", i)
		}
	}
	for i, t := range s.Out {
		if t == nil {
			return errors.Errorf("result %d has no type", i)
		}
	}

	if s.Conv == ConvGo {
		if s.Variadic && (len(s.In) == 0 || s.In[len(s.In)-1].Kind() != reflect.Slice) {
			return errors.New("go variadic function must end with a slice argument")
		}
		return nil
	}

	if len(s.Out) > 1 {
		return errors.Errorf("%v functions return at most one value", s.Conv)
	}
	if s.Conv == ConvThiscall && len(s.In) == 0 {
		return errors.New("thiscall functions take the object as their first argument")
	}
	if s.Variadic {
		if !s.Conv.cVariadic() {
			return errors.Errorf("%v functions cannot be variadic", s.Conv)
		}
		if len(s.In) == 0 {
			return errors.New("variadic functions need at least one fixed argument")
		}
	}
	return nil
}

// Check reports whether replacement may stand in for s. Arity, argument and
// result types, calling convention and variadic-ness must all be identical.
// A mismatch is a *SignatureError.
func (s Signature) Check(replacement Signature) error {
	if err := s.Validate(); err != nil {
		return errors.Wrap(err, "target signature")
	}
	if err := replacement.Validate(); err != nil {
		return errors.Wrap(err, "replacement signature")
	}

	diff := diffSignatures(s, replacement)
	if diff.Empty() {
		return nil
	}
	return &SignatureError{
		Target:      s,
		Replacement: replacement,
		Err:         diff.Error(),
	}
}

func (s Signature) String() string {
	var sb strings.Builder
	if s.Conv != ConvGo {
		fmt.Fprintf(&sb, "%v ", s.Conv)
	}
	sb.WriteString("func(")
	for i, t := range s.In {
		if i > 0 {
			sb.WriteString(", ")
		}
		if s.Variadic && s.Conv == ConvGo && i == len(s.In)-1 {
			sb.WriteString("..." + t.Elem().String())
			continue
		}
		sb.WriteString(t.String())
	}
	if s.Variadic && s.Conv != ConvGo {
		sb.WriteString(", ...")
	}
	sb.WriteString(")")

	switch len(s.Out) {
	case 0:
	case 1:
		sb.WriteString(" " + s.Out[0].String())
	default:
		sb.WriteString(" (")
		for i, t := range s.Out {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.String())
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// SignatureError lists every difference between a target and replacement
// signature. It matches ErrSignatureMismatch with errors.Is.
type SignatureError struct {
	Target      Signature
	Replacement Signature
	Err         error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%v: %v vs %v: %v", ErrSignatureMismatch, e.Target, e.Replacement, e.Err)
}

func (e *SignatureError) Is(target error) bool {
	return target == ErrSignatureMismatch
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}
