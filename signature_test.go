package detour

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	typeInt    = reflect.TypeFor[int]()
	typeString = reflect.TypeFor[string]()
	typeInts   = reflect.TypeFor[[]int]()
	typeError  = reflect.TypeFor[error]()
)

func TestSignatureOf(t *testing.T) {
	sig, err := SignatureOf(func(int, ...string) (int, error) { return 0, nil })
	require.NoError(t, err)

	assert.Equal(t, ConvGo, sig.Conv)
	assert.True(t, sig.Variadic)
	assert.Equal(t, []reflect.Type{typeInt, reflect.TypeFor[[]string]()}, sig.In)
	assert.Equal(t, []reflect.Type{typeInt, typeError}, sig.Out)
	assert.Equal(t, "func(int, ...string) (int, error)", sig.String())

	_, err = SignatureOf("nope")
	assert.Error(t, err)

	_, err = SignatureFor[int]()
	assert.Error(t, err)
}

func TestSignature_String(t *testing.T) {
	cases := []struct {
		sig  Signature
		want string
	}{
		{Signature{}, "func()"},
		{Signature{In: []reflect.Type{typeInt}, Out: []reflect.Type{typeString}}, "func(int) string"},
		{Signature{Conv: ConvStdcall, In: []reflect.Type{typeInt, typeInt}}, "stdcall func(int, int)"},
		{Signature{Conv: ConvC, In: []reflect.Type{typeString}, Variadic: true}, "c func(string, ...)"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.sig.String())
	}
}

func TestSignature_Validate(t *testing.T) {
	cases := map[string]struct {
		sig Signature
		ok  bool
	}{
		"empty go":               {Signature{}, true},
		"go variadic":            {Signature{In: []reflect.Type{typeInts}, Variadic: true}, true},
		"go variadic no slice":   {Signature{In: []reflect.Type{typeInt}, Variadic: true}, false},
		"go variadic no args":    {Signature{Variadic: true}, false},
		"go multiple returns":    {Signature{Out: []reflect.Type{typeInt, typeError}}, true},
		"c multiple returns":     {Signature{Conv: ConvC, Out: []reflect.Type{typeInt, typeError}}, false},
		"c variadic":             {Signature{Conv: ConvCdecl, In: []reflect.Type{typeString}, Variadic: true}, true},
		"c variadic no args":     {Signature{Conv: ConvC, Variadic: true}, false},
		"stdcall variadic":       {Signature{Conv: ConvStdcall, In: []reflect.Type{typeInt}, Variadic: true}, false},
		"thiscall":               {Signature{Conv: ConvThiscall, In: []reflect.Type{typeInt}}, true},
		"thiscall no receiver":   {Signature{Conv: ConvThiscall}, false},
		"unknown convention":     {Signature{Conv: ConvSystem + 1}, false},
		"negative convention":    {Signature{Conv: -1}, false},
		"nil argument":           {Signature{In: []reflect.Type{nil}}, false},
		"nil result":             {Signature{Out: []reflect.Type{nil}}, false},
		"system":                 {Signature{Conv: ConvSystem, In: []reflect.Type{typeInt}}, true},
		"win64 single result":    {Signature{Conv: ConvWin64, Out: []reflect.Type{typeInt}}, true},
		"fastcall no arguments":  {Signature{Conv: ConvFastcall}, true},
		"sysv variadic rejected": {Signature{Conv: ConvSysV, In: []reflect.Type{typeInt}, Variadic: true}, false},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.sig.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSignature_Check(t *testing.T) {
	base := Signature{In: []reflect.Type{typeInt, typeString}, Out: []reflect.Type{typeError}}

	assert.NoError(t, base.Check(base))

	cases := map[string]Signature{
		"convention":     {Conv: ConvC, In: base.In, Out: base.Out},
		"arity":          {In: base.In[:1], Out: base.Out},
		"argument type":  {In: []reflect.Type{typeString, typeString}, Out: base.Out},
		"result type":    {In: base.In, Out: []reflect.Type{typeInt}},
		"result count":   {In: base.In},
		"variadic":       {In: []reflect.Type{typeInt, typeInts}, Out: base.Out, Variadic: true},
		"invalid":        {Conv: ConvThiscall},
		"mixed variadic": {Conv: ConvC, In: base.In, Out: base.Out, Variadic: true},
	}

	for name, replacement := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, base.Check(replacement))
		})
	}

	t.Run("error lists every difference", func(t *testing.T) {
		err := base.Check(Signature{Conv: ConvC, In: []reflect.Type{typeString}})

		var sigErr *SignatureError
		require.ErrorAs(t, err, &sigErr)
		assert.ErrorIs(t, err, ErrSignatureMismatch)
		assert.Equal(t, base, sigErr.Target)

		msg := err.Error()
		assert.Contains(t, msg, "calling convention: go != c")
		assert.Contains(t, msg, "argument 0: int != string")
		assert.Contains(t, msg, "argument 1: string != <nil>")
		assert.Contains(t, msg, "output 0: error != <nil>")
	})

	t.Run("invalid target", func(t *testing.T) {
		err := Signature{Conv: ConvC, Variadic: true}.Check(base)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrSignatureMismatch)
	})
}

func TestCallConv_String(t *testing.T) {
	assert.Equal(t, "go", ConvGo.String())
	assert.Equal(t, "sysv64", ConvSysV.String())
	assert.Equal(t, "CallConv(42)", CallConv(42).String())
}
