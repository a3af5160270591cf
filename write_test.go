package detour

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestStoreCode(t *testing.T) {
	buf := make([]uint64, 4)
	base := uintptr(unsafe.Pointer(&buf[0]))
	mem := unsafe.Slice((*byte)(unsafe.Pointer(base)), 32)

	t.Run("within a word", func(t *testing.T) {
		storeCode(base+2, []byte{1, 2, 3})
		assert.Equal(t, []byte{0, 0, 1, 2, 3, 0, 0, 0}, mem[:8])
	})

	t.Run("whole word", func(t *testing.T) {
		storeCode(base+8, []byte{1, 2, 3, 4, 5, 6, 7, 8})
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, mem[8:16])
	})

	t.Run("across words", func(t *testing.T) {
		storeCode(base+22, []byte{9, 9, 9, 9})
		assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 9, 9, 9, 9, 0, 0}, mem[16:28])
	})
}

func TestReadCode(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	got := readCode(uintptr(unsafe.Pointer(&buf[0])), 3)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got[0] = 42
	assert.Equal(t, byte(1), buf[0], "readCode returns a copy")
}
