package nativehook

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

var virtualProtect = windows.NewLazySystemDLL("kernel32.dll").NewProc("VirtualProtect")

// localAllocator reserves trampolines and data blocks with VirtualAlloc.
type localAllocator struct {
	mem  localMemory
	data *arena
}

func virtualAlloc(size uintptr) (uintptr, error) {
	p, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, errors.Wrap(err, "VirtualAlloc")
	}
	return p, nil
}

func (a *localAllocator) AllocCode(size int) (uintptr, error) {
	_, length := pageSpan(a.mem.pageSize, 0, uintptr(size))
	return virtualAlloc(length)
}

func (a *localAllocator) SealCode(addr uintptr, size int) error {
	return a.mem.SetExecutable(addr, size)
}

func (a *localAllocator) AllocData(size int) (uintptr, error) {
	return a.data.alloc(size)
}

// Process returns the space of the running process. Trampolines change
// page permissions through kernel32's VirtualProtect.
func Process() (Space, error) {
	if err := virtualProtect.Find(); err != nil {
		return Space{}, errors.Wrap(err, "locate VirtualProtect")
	}
	mem := localMemory{pageSize: uintptr(os.Getpagesize())}
	alloc := &localAllocator{
		mem:  mem,
		data: &arena{grow: virtualAlloc, chunk: mem.pageSize, align: 16},
	}
	return Space{
		Arch:        I386,
		Convention:  Thiscall,
		Memory:      mem,
		Allocator:   alloc,
		PageSize:    mem.pageSize,
		ProtectProc: virtualProtect.Addr(),
	}, nil
}
