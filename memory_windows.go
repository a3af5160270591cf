//go:build windows

package detour

import (
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const (
	mprotectExec = windows.PAGE_EXECUTE
	mprotectRX   = windows.PAGE_EXECUTE_READ
	mprotectRWX  = windows.PAGE_EXECUTE_READWRITE
)

var pageSize = uintptr(syscall.Getpagesize())

func virtualProtect(addr uintptr, n int, flags uint32) (uint32, error) {
	// Round address down to page boundary.
	pageStart := addr &^ (pageSize - 1)

	// Round up to cover complete pages.
	regionSize := (addr+uintptr(n)+pageSize-1)&^(pageSize-1) - pageStart

	var oldFlags uint32
	err := windows.VirtualProtect(pageStart, regionSize, flags, &oldFlags)
	return oldFlags, err
}

func mprotect(buf []byte, flags int) error {
	_, err := virtualProtect(uintptr(unsafe.Pointer(unsafe.SliceData(buf))), len(buf), uint32(flags))
	return err
}

// makeWritable makes the code at addr writable. The returned function puts
// back whatever protection was there before.
func makeWritable(addr uintptr, n int) (func() error, error) {
	oldFlags, err := virtualProtect(addr, n, mprotectRWX)
	if err != nil {
		return nil, errors.Wrapf(ErrProtectionDenied, "VirtualProtect %#x: %v", addr, err)
	}

	return func() error {
		if _, err := virtualProtect(addr, n, oldFlags); err != nil {
			return errors.Wrapf(ErrProtectionDenied, "VirtualProtect %#x: %v", addr, err)
		}
		return nil
	}, nil
}

// mapAt commits size bytes of RWX memory at exactly addr. addr must be on
// the 64KiB allocation granularity.
func mapAt(addr uintptr, size int) ([]byte, error) {
	ptr, err := windows.VirtualAlloc(addr, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, mprotectRWX)
	if err != nil {
		return nil, err
	}
	if ptr != addr {
		windows.VirtualFree(ptr, 0, windows.MEM_RELEASE)
		return nil, errors.Errorf("allocated %#x instead of %#x", ptr, addr)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size), nil
}

func unmap(mem []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(unsafe.SliceData(mem))), 0, windows.MEM_RELEASE)
}
