//go:build unix

package nativehook

import (
	"golang.org/x/sys/unix"
)

func (m localMemory) SetWritable(addr uintptr, size int) error {
	return m.protectPages(addr, uintptr(size), unix.PROT_EXEC|unix.PROT_READ|unix.PROT_WRITE)
}

func (m localMemory) SetExecutable(addr uintptr, size int) error {
	return m.protectPages(addr, uintptr(size), unix.PROT_EXEC|unix.PROT_READ)
}

func (m localMemory) protectPages(addr, size uintptr, prot int) error {
	start, length := pageSpan(m.pageSize, addr, size)
	for i := uintptr(0); i < length; i += m.pageSize {
		data := makeSlice(start+i, m.pageSize)
		err := unix.Mprotect(data, prot)
		if err != nil {
			return err
		}
	}
	return nil
}
