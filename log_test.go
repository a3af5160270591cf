package detour

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:noinline
func logged(x int) int {
	return x ^ 0x55
}

func TestDebugLogging(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(log.New(&buf, "", 0))
	SetDebug(true)
	t.Cleanup(func() {
		SetDebug(false)
		SetLogger(nil)
	})

	d, err := New(logged, sub2)
	require.NoError(t, err)
	require.NoError(t, d.Free())

	out := buf.String()
	assert.Contains(t, out, "layout:")
	assert.Contains(t, out, "detour.logged")
	assert.Contains(t, out, "trampoline:")
}

func TestDebugLogging_Off(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(log.New(&buf, "", 0))
	t.Cleanup(func() { SetLogger(nil) })

	debugf("hidden %d", 1)
	debugDump("hidden", 1)
	assert.Zero(t, buf.Len())
}
