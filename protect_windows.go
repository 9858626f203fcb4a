//go:build windows

package nativehook

import (
	"golang.org/x/sys/windows"
)

func (m localMemory) SetWritable(addr uintptr, size int) error {
	return m.protectPages(addr, uintptr(size), windows.PAGE_EXECUTE_READWRITE)
}

func (m localMemory) SetExecutable(addr uintptr, size int) error {
	return m.protectPages(addr, uintptr(size), windows.PAGE_EXECUTE_READ)
}

func (m localMemory) protectPages(addr, size uintptr, prot uint32) error {
	var old uint32
	start, length := pageSpan(m.pageSize, addr, size)
	return windows.VirtualProtect(start, length, prot, &old)
}
