package detour

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-multierror"
)

type funcDifferences struct {
	Conv     *[2]CallConv
	Variadic *[2]bool
	In       []*argDifference
	Out      []*argDifference
}

func (d *funcDifferences) Empty() bool {
	if d.Conv != nil || d.Variadic != nil {
		return false
	}
	for _, arg := range d.In {
		if arg != nil {
			return false
		}
	}
	for _, out := range d.Out {
		if out != nil {
			return false
		}
	}
	return true
}

func (d *funcDifferences) Error() error {
	var result *multierror.Error
	if d.Conv != nil {
		result = multierror.Append(result, fmt.Errorf("calling convention: %v != %v", d.Conv[0], d.Conv[1]))
	}
	if d.Variadic != nil {
		result = multierror.Append(result, fmt.Errorf("variadic: %v != %v", d.Variadic[0], d.Variadic[1]))
	}
	for i, arg := range d.In {
		if arg != nil {
			result = multierror.Append(result, fmt.Errorf("argument %d: %v != %v", i, arg.A, arg.B))
		}
	}
	for i, out := range d.Out {
		if out != nil {
			result = multierror.Append(result, fmt.Errorf("output %d: %v != %v", i, out.A, out.B))
		}
	}

	return result.ErrorOrNil()
}

type argDifference struct {
	A reflect.Type
	B reflect.Type
}

// diffTypes compares two type lists position by position. A missing type on
// either side is nil.
func diffTypes(a, b []reflect.Type) []*argDifference {
	diff := make([]*argDifference, max(len(a), len(b)))
	for i := range diff {
		var at, bt reflect.Type
		if i < len(a) {
			at = a[i]
		}
		if i < len(b) {
			bt = b[i]
		}
		if at != bt {
			diff[i] = &argDifference{A: at, B: bt}
		}
	}
	return diff
}

func diffSignatures(a, b Signature) *funcDifferences {
	diff := funcDifferences{
		In:  diffTypes(a.In, b.In),
		Out: diffTypes(a.Out, b.Out),
	}
	if a.Conv != b.Conv {
		diff.Conv = &[2]CallConv{a.Conv, b.Conv}
	}
	if a.Variadic != b.Variadic {
		diff.Variadic = &[2]bool{a.Variadic, b.Variadic}
	}
	return &diff
}

// diffFuncs compares the signatures of two Go func values.
func diffFuncs(a, b reflect.Value) *funcDifferences {
	return diffSignatures(signatureOfType(a.Type()), signatureOfType(b.Type()))
}
