package nativehook

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// localAllocator maps trampolines and data blocks into the current process.
// Every trampoline gets its own pages so sealing one never touches another.
type localAllocator struct {
	mem  localMemory
	data *arena
}

func mmap(size uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, errors.Wrap(err, "mmap")
	}
	return uintptr(unsafe.Pointer(&b[0])), nil
}

func (a *localAllocator) AllocCode(size int) (uintptr, error) {
	_, length := pageSpan(a.mem.pageSize, 0, uintptr(size))
	return mmap(length)
}

func (a *localAllocator) SealCode(addr uintptr, size int) error {
	return a.mem.SetExecutable(addr, size)
}

func (a *localAllocator) AllocData(size int) (uintptr, error) {
	return a.data.alloc(size)
}

// Process returns the space of the running process.
func Process() (Space, error) {
	mem := localMemory{pageSize: uintptr(os.Getpagesize())}
	alloc := &localAllocator{
		mem:  mem,
		data: &arena{grow: mmap, chunk: mem.pageSize, align: 16},
	}
	return Space{
		Arch:       AMD64,
		Convention: SysV,
		Memory:     mem,
		Allocator:  alloc,
		PageSize:   mem.pageSize,
	}, nil
}
