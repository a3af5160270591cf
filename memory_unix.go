//go:build unix

package detour

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	mprotectExec = unix.PROT_EXEC
	mprotectRX   = unix.PROT_READ | unix.PROT_EXEC
	mprotectRWX  = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

var pageSize = uintptr(unix.Getpagesize())

// pageSpan returns the whole pages covering [addr, addr+n).
func pageSpan(addr uintptr, n int) []byte {
	start := addr &^ (pageSize - 1)
	end := (addr + uintptr(n) + pageSize - 1) &^ (pageSize - 1)
	return unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)
}

func mprotect(buf []byte, flags int) error {
	return unix.Mprotect(pageSpan(uintptr(unsafe.Pointer(unsafe.SliceData(buf))), len(buf)), flags)
}

// protRun is a range of pages sharing one protection.
type protRun struct {
	start, end uintptr
	prot       int
}

func (r protRun) pages() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(r.start)), r.end-r.start)
}

// textProtection is what protection falls back to: read/execute, which is
// how the loader maps text.
func textProtection(span []byte) []protRun {
	start := uintptr(unsafe.Pointer(unsafe.SliceData(span)))
	return []protRun{{start: start, end: start + uintptr(len(span)), prot: mprotectRX}}
}

// makeWritable makes the code at addr writable. The returned function puts
// back the protection the pages had before.
func makeWritable(addr uintptr, n int) (func() error, error) {
	span := pageSpan(addr, n)
	prev := protection(span)
	if err := unix.Mprotect(span, mprotectRWX); err != nil {
		return nil, errors.Wrapf(ErrProtectionDenied, "mprotect %#x: %v", addr, err)
	}

	return func() error {
		for _, r := range prev {
			if err := unix.Mprotect(r.pages(), r.prot); err != nil {
				return errors.Wrapf(ErrProtectionDenied, "mprotect %#x: %v", r.start, err)
			}
		}
		return nil
	}, nil
}

// mapAt maps size bytes of anonymous RWX memory at exactly addr.
func mapAt(addr uintptr, size int) ([]byte, error) {
	ptr, err := unix.MmapPtr(-1, 0, unsafe.Pointer(addr), uintptr(size), mprotectRWX, unix.MAP_PRIVATE|unix.MAP_ANON|_MAP_FIXED_NOREPLACE)
	if err != nil {
		return nil, err
	}

	// Without a fixed mapping flag the address is only a hint.
	if uintptr(ptr) != addr {
		unix.MunmapPtr(ptr, uintptr(size))
		return nil, errors.Errorf("mapped %#x instead of %#x", ptr, addr)
	}

	return unsafe.Slice((*byte)(ptr), size), nil
}

func unmap(mem []byte) error {
	return unix.MunmapPtr(unsafe.Pointer(unsafe.SliceData(mem)), uintptr(len(mem)))
}
