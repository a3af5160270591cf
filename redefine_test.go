package detour

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// redefineFunc calls Func and restores fn when the test ends.
func redefineFunc(t *testing.T, fn, newFn any) {
	t.Helper()
	require.NoError(t, Func(fn, newFn))
	t.Cleanup(func() { Restore(fn) })
}

//go:noinline
func greet() string {
	return "hello"
}

func wave() string {
	return "wave"
}

func TestFunc(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("hello", greet())
	assert.NoError(Func(greet, wave))
	assert.Equal("wave", greet())

	assert.NoError(Restore(greet))
	assert.Equal("hello", greet())

	assert.Error(Restore(greet), "restored twice")
}

//go:noinline
func shout() string {
	return "HEY"
}

func TestFunc_Twice(t *testing.T) {
	assert := assert.New(t)

	redefineFunc(t, shout, wave)
	assert.Equal("wave", shout())

	// A second redefinition replaces the first.
	redefineFunc(t, shout, func() string { return "whisper" })
	assert.Equal("whisper", shout())

	assert.NoError(Restore(shout))
	assert.Equal("HEY", shout())
}

func TestFunc_NotAFunction(t *testing.T) {
	cases := []struct {
		name      string
		fn, newFn any
	}{
		{"first arg not a function", "not a function", wave},
		{"second arg not a function", greet, 42},
		{"both args not functions", []int{1, 2, 3}, map[string]int{}},
		{"nil first arg", nil, wave},
		{"nil second arg", greet, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Func(tc.fn, tc.newFn)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), "not a function")
			}
		})
	}

	assert.Equal(t, "hello", greet())
}

func TestFunc_SignatureMismatch(t *testing.T) {
	cases := []struct {
		name      string
		fn, newFn any
	}{
		{
			"different number of inputs",
			func(x int) int { return x },
			func(x, y int) int { return x + y },
		},
		{
			"different number of outputs",
			func() int { return 1 },
			func() (int, error) { return 1, nil },
		},
		{
			"different input types",
			func(x int) int { return x },
			func(x string) int { return len(x) },
		},
		{
			"different output types",
			func() int { return 1 },
			func() string { return "1" },
		},
		{
			"variadic",
			func(x []int) int { return len(x) },
			func(x ...int) int { return len(x) },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Func(tc.fn, tc.newFn)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), "signatures do not match")
				assert.ErrorIs(t, err, ErrSignatureMismatch)
			}
		})
	}
}

//go:noinline
func noArgsNoReturn() {}

func TestFunc_NoArgsNoReturn(t *testing.T) {
	called := false
	redefineFunc(t, noArgsNoReturn, func() { called = true })

	noArgsNoReturn()
	assert.True(t, called)
}

//go:noinline
func multipleArgs(x int, y string, z bool) int {
	if z {
		return x + len(y)
	}
	return x
}

//go:noinline
func multipleReturns(x int) (int, string, error) {
	return x * 2, "original", nil
}

func TestFunc_MultipleArgs(t *testing.T) {
	assert.Equal(t, 5, multipleArgs(2, "foo", true))

	redefineFunc(t, multipleArgs, func(x int, y string, z bool) int {
		return 999
	})
	assert.Equal(t, 999, multipleArgs(2, "foo", true))
	assert.Equal(t, 5, Original(multipleArgs)(2, "foo", true))
}

func TestFunc_MultipleReturns(t *testing.T) {
	assert := assert.New(t)

	n, s, err := multipleReturns(5)
	assert.NoError(err)
	assert.Equal(10, n)
	assert.Equal("original", s)

	redefineFunc(t, multipleReturns, func(x int) (int, string, error) {
		return x * 10, "replaced", nil
	})

	n, s, err = multipleReturns(5)
	assert.NoError(err)
	assert.Equal(50, n)
	assert.Equal("replaced", s)
}

//go:noinline
func withPointerArg(x *int) *int {
	result := *x * 2
	return &result
}

//go:noinline
func withSliceArg(s []int) int {
	sum := 0
	for _, v := range s {
		sum += v
	}
	return sum
}

//go:noinline
func withMapArg(m map[string]int) int {
	return m["key"]
}

func TestFunc_ReferenceArgs(t *testing.T) {
	t.Run("pointer", func(t *testing.T) {
		val := 5
		assert.Equal(t, 10, *withPointerArg(&val))

		redefineFunc(t, withPointerArg, func(x *int) *int {
			result := *x * 100
			return &result
		})
		assert.Equal(t, 500, *withPointerArg(&val))
	})

	t.Run("slice", func(t *testing.T) {
		slice := []int{1, 2, 3, 4, 5}
		assert.Equal(t, 15, withSliceArg(slice))

		redefineFunc(t, withSliceArg, func(s []int) int { return len(s) })
		assert.Equal(t, 5, withSliceArg(slice))
	})

	t.Run("map", func(t *testing.T) {
		m := map[string]int{"key": 42}
		assert.Equal(t, 42, withMapArg(m))

		redefineFunc(t, withMapArg, func(m map[string]int) int { return -1 })
		assert.Equal(t, -1, withMapArg(m))
	})
}

type valuer interface {
	Value() int
}

type box struct {
	val int
}

func (b box) Value() int {
	return b.val
}

//go:noinline
func withInterfaceArg(v valuer) int {
	return v.Value()
}

//go:noinline
func withStructArg(b box) int {
	return b.val
}

func TestFunc_ValueArgs(t *testing.T) {
	t.Run("interface", func(t *testing.T) {
		b := box{val: 21}
		assert.Equal(t, 21, withInterfaceArg(b))

		redefineFunc(t, withInterfaceArg, func(v valuer) int { return v.Value() * 2 })
		assert.Equal(t, 42, withInterfaceArg(b))
	})

	t.Run("struct", func(t *testing.T) {
		b := box{val: 5}
		assert.Equal(t, 5, withStructArg(b))

		redefineFunc(t, withStructArg, func(b box) int { return b.val + 100 })
		assert.Equal(t, 105, withStructArg(b))
	})
}

func TestRestore_NotAFunction(t *testing.T) {
	assert.Error(t, Restore(42))
}
