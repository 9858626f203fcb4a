package nativehook

import (
	"github.com/k2io/nativehook/internal/trampoline"
	"github.com/pkg/errors"
)

// Protector changes page permissions over a patch-length region. It must
// not assume anything about the permissions the pages had before.
type Protector interface {
	// SetWritable makes the pages covering [addr, addr+size) readable,
	// writable and executable.
	SetWritable(addr uintptr, size int) error
	// SetExecutable makes them readable and executable only.
	SetExecutable(addr uintptr, size int) error
}

// Memory is an address space hooks are installed into.
type Memory interface {
	Protector
	Read(addr uintptr, n int) ([]byte, error)
	Write(addr uintptr, b []byte) error
}

// Allocator provides memory for trampolines and hook data blocks.
type Allocator interface {
	// AllocCode reserves writable memory that will receive code.
	AllocCode(size int) (uintptr, error)
	// SealCode makes a written code region executable.
	SealCode(addr uintptr, size int) error
	// AllocData reserves zeroed, writable, non-executable memory.
	AllocData(size int) (uintptr, error)
}

// Space describes where and how hooks are installed.
type Space struct {
	Arch       Arch
	Convention Convention
	Memory     Memory
	Allocator  Allocator
	// PageSize is used to compute the region the trampolines re-protect.
	PageSize uintptr
	// ProtectProc is the address of a VirtualProtect compatible stdcall
	// procedure. Required on i386, where trampolines cannot issue the
	// system call themselves.
	ProtectProc uintptr
}

func (s Space) validate() error {
	if s.Memory == nil || s.Allocator == nil {
		return errors.New("space needs memory and an allocator")
	}
	if s.PageSize == 0 || s.PageSize&(s.PageSize-1) != 0 {
		return errors.Errorf("page size %#x is not a power of two", s.PageSize)
	}
	if s.Arch == I386 && s.ProtectProc == 0 {
		return errors.New("i386 space needs a protect procedure")
	}
	for _, k := range []Kind{Once, Before, After} {
		if !trampoline.Supported(s.Arch, s.Convention, k) {
			return errors.Wrapf(ErrUnsupported, "%s/%s", s.Arch, s.Convention)
		}
	}
	return nil
}

// pageRange returns the page-aligned region covering size bytes at addr.
func (s Space) pageRange(addr uintptr, size int) (uintptr, uintptr) {
	return pageSpan(s.PageSize, addr, uintptr(size))
}

// pageSpan rounds [addr, addr+size) out to whole pages of pageSize, a power
// of two.
func pageSpan(pageSize, addr, size uintptr) (start, length uintptr) {
	start = addr &^ (pageSize - 1)
	end := (addr + size + pageSize - 1) &^ (pageSize - 1)
	return start, end - start
}
