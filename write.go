package detour

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"unsafe"
)

// writeMu serializes writes to live code. Two writers on the same page
// would otherwise race on its protection.
var writeMu sync.Mutex

// writeCode stores buf at addr, which is normally read-only code.
func writeCode(addr uintptr, buf []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	restore, err := makeWritable(addr, len(buf))
	if err != nil {
		return err
	}

	storeCode(addr, buf)
	cacheflush(addr, len(buf))

	return restore()
}

// storeCode copies buf to addr. When buf fits inside one aligned 8-byte word
// the word is replaced with a single atomic store, so a thread entering the
// code sees either the old or the new bytes. Longer writes can tear.
func storeCode(addr uintptr, buf []byte) {
	word := addr &^ 7
	if addr+uintptr(len(buf)) <= word+8 {
		p := (*uint64)(unsafe.Pointer(word))

		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], atomic.LoadUint64(p))
		copy(b[addr-word:], buf)
		atomic.StoreUint64(p, binary.LittleEndian.Uint64(b[:]))
		return
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buf)), buf)
}

// readCode returns a copy of n bytes at addr.
func readCode(addr uintptr, n int) []byte {
	buf := make([]byte, n)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(addr)), n))
	return buf
}
