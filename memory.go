package nativehook

import (
	"unsafe"

	"github.com/pkg/errors"
)

// makeSlice views n bytes at addr as a slice.
func makeSlice(addr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// localMemory is the address space of the current process. Its Protector
// half is per operating system.
type localMemory struct {
	pageSize uintptr
}

func (m localMemory) Read(addr uintptr, n int) ([]byte, error) {
	if addr == 0 || n < 0 {
		return nil, errors.Wrapf(ErrAddressRange, "read %d bytes at %#x", n, addr)
	}
	out := make([]byte, n)
	copy(out, makeSlice(addr, uintptr(n)))
	return out, nil
}

func (m localMemory) Write(addr uintptr, b []byte) error {
	if addr == 0 {
		return errors.Wrapf(ErrAddressRange, "write %d bytes at %#x", len(b), addr)
	}
	copy(makeSlice(addr, uintptr(len(b))), b)
	return nil
}
