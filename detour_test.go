package detour

import (
	"reflect"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:noinline
func add(x, y int) int {
	return x + y
}

//go:noinline
func sub(x, y int) int {
	return x - y
}

// codeAt returns a copy of the first n bytes of fn's machine code.
func codeAt(fn any, n int) []byte {
	return readCode(funcEntry(fn), n)
}

func funcEntry(fn any) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

func TestDetour(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	d, err := New(add, sub)
	require.NoError(err)
	t.Cleanup(func() { d.Free() })

	assert.False(d.IsEnabled())
	assert.Equal(15, add(10, 5))
	assert.Equal(15, d.Original()(10, 5))

	require.NoError(d.Enable())
	assert.True(d.IsEnabled())
	assert.Equal(5, add(10, 5))
	assert.Equal(15, d.Original()(10, 5))

	require.NoError(d.Disable())
	assert.False(d.IsEnabled())
	assert.Equal(15, add(10, 5))
	assert.Equal(15, d.Original()(10, 5))
}

//go:noinline
func mul(x, y int) int {
	return x * y
}

func TestDetour_StateErrors(t *testing.T) {
	assert := assert.New(t)

	d, err := New(mul, sub)
	require.NoError(t, err)
	t.Cleanup(func() { d.Free() })

	assert.ErrorIs(d.Disable(), ErrAlreadyDisabled)

	assert.NoError(d.Enable())
	assert.ErrorIs(d.Enable(), ErrAlreadyEnabled)
	assert.True(d.IsEnabled())
	assert.Equal(5, mul(10, 5))

	assert.NoError(d.Disable())
	assert.ErrorIs(d.Disable(), ErrAlreadyDisabled)
	assert.False(d.IsEnabled())
	assert.Equal(50, mul(10, 5))
}

//go:noinline
func div(x, y int) int {
	return x / y
}

func TestDetour_SignatureMismatch(t *testing.T) {
	before := codeAt(div, 16)

	cases := map[string]any{
		"argument count": func(x int) int { return x },
		"return type":    func(x, y int) string { return "" },
		"argument type":  func(x int, y string) int { return x },
		"extra result":   func(x, y int) (int, error) { return x, nil },
		"not a function": 42,
	}

	for name, replacement := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(div, replacement)
			if assert.Error(t, err) && name != "not a function" {
				assert.ErrorIs(t, err, ErrSignatureMismatch)
				var sigErr *SignatureError
				assert.ErrorAs(t, err, &sigErr)
			}
			assert.Equal(t, before, codeAt(div, 16), "target modified")
		})
	}

	assert.Equal(t, 2, div(10, 5))
}

//go:noinline
func counter(x int) int {
	return x + 1
}

func TestDetour_Closure(t *testing.T) {
	assert := assert.New(t)

	calls := 0
	var d *Detour[func(int) int]
	d, err := New(counter, func(x int) int {
		calls++
		return d.Original()(x) * 100
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Free() })

	require.NoError(t, d.Enable())
	assert.Equal(200, counter(1))
	assert.Equal(300, counter(2))
	assert.Equal(2, calls)

	require.NoError(t, d.Disable())
	assert.Equal(2, counter(1))
	assert.Equal(2, calls)
}

//go:noinline
func twice(x int) int {
	return x * 2
}

func TestDetour_AlreadyDetoured(t *testing.T) {
	d, err := New(twice, sub2)
	require.NoError(t, err)

	_, err = New(twice, sub2)
	assert.ErrorIs(t, err, ErrAlreadyDetoured)

	require.NoError(t, d.Free())
	assert.ErrorIs(t, d.Enable(), ErrFreed)
	assert.Zero(t, d.Trampoline())

	// Free is idempotent and releases the target.
	assert.NoError(t, d.Free())
	d, err = New(twice, sub2)
	require.NoError(t, err)
	assert.NoError(t, d.Free())
}

func sub2(x int) int {
	return x - 2
}

//go:noinline
func thrice(x int) int {
	return x * 3
}

func TestDetour_FreeRestoresTarget(t *testing.T) {
	before := codeAt(thrice, 16)

	d, err := New(thrice, sub2)
	require.NoError(t, err)
	require.NoError(t, d.Enable())
	assert.NotEqual(t, before, codeAt(thrice, 16))
	assert.Equal(t, 1, thrice(3))

	require.NoError(t, d.Free())
	assert.Equal(t, before, codeAt(thrice, 16))
	assert.Equal(t, 9, thrice(3))
}

//go:noinline
func quad(x int) int {
	return x * 4
}

func TestDetour_ForceAbsolute(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		// Only amd64 pads short functions enough for an absolute jump into
		// a closure.
		t.Skip("needs amd64")
	}

	assert := assert.New(t)

	d, err := New(quad, sub2, ForceAbsolute())
	require.NoError(t, err)
	t.Cleanup(func() { d.Free() })

	require.NoError(t, d.Enable())
	assert.Equal(2, quad(4))
	assert.Equal(16, d.Original()(4))

	require.NoError(t, d.Disable())
	assert.Equal(16, quad(4))
}

//go:noinline
func addAt(x, y int) int {
	return x + y + 1
}

func TestNewAt(t *testing.T) {
	assert := assert.New(t)

	d, err := NewAt[func(int, int) int](funcEntry(addAt), sub)
	require.NoError(t, err)
	t.Cleanup(func() { d.Free() })

	assert.Equal(funcEntry(addAt), d.Target())
	require.NoError(t, d.Enable())
	assert.Equal(5, addAt(10, 5))
	assert.Equal(16, d.Original()(10, 5))
}
