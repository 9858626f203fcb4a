// Package trampoline holds the fixed catalog of interceptor templates.
//
// A template is selected by architecture, calling convention and hook kind.
// Everything hook specific (target, callback, saved bytes) is read at run
// time from the hook's data block, so one template serves every hook of the
// same shape.
package trampoline

import (
	"fmt"

	"github.com/k2io/nativehook/internal/asm"
	"github.com/pkg/errors"
)

// Arch is the instruction set a hook is installed into.
type Arch int

const (
	AMD64 Arch = iota
	I386
)

func (a Arch) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case I386:
		return "i386"
	}
	return fmt.Sprintf("Arch(%d)", int(a))
}

// PatchLen is the number of bytes the jump patch overwrites.
func (a Arch) PatchLen() int {
	if a == I386 {
		return 7
	}
	return 12
}

// Mode is the decoder/emitter bit width.
func (a Arch) Mode() asm.Mode {
	if a == I386 {
		return asm.Mode32
	}
	return asm.Mode64
}

// Convention is how the hooked function receives its arguments.
type Convention int

const (
	// SysV passes arguments in registers (rdi, rsi, rdx, rcx, r8, r9).
	SysV Convention = iota
	// Thiscall passes this in ecx and the rest on the stack; the callee
	// pops its stack arguments.
	Thiscall
)

func (c Convention) String() string {
	switch c {
	case SysV:
		return "sysv"
	case Thiscall:
		return "thiscall"
	}
	return fmt.Sprintf("Convention(%d)", int(c))
}

// Kind is the policy deciding when the callback runs.
type Kind int

const (
	// Once calls the callback, removes the hook and tail-jumps to the
	// original. It never re-arms.
	Once Kind = iota
	// Before calls the callback, then the original, and re-arms.
	Before
	// After calls the original, re-arms, then calls the callback.
	After
)

func (k Kind) String() string {
	switch k {
	case Once:
		return "once"
	case Before:
		return "before"
	case After:
		return "after"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Offsets of the slots in a hook's data block. Every slot is 8 bytes wide;
// i386 code uses the low dword.
const (
	SlotTarget      = 0x00
	SlotCallback    = 0x08
	SlotProtStart   = 0x10
	SlotProtLen     = 0x18
	SlotProtectProc = 0x20
	SlotOldProtect  = 0x28
	SlotState       = 0x30
	SlotHits        = 0x38
	SlotPatch       = 0x40
	SlotBackup      = 0x50

	// DataSize is the size of a data block.
	DataSize = 0x60
	// MaxPatchLen bounds the patch and backup slots.
	MaxPatchLen = 0x10
)

// Page permissions requested by the in-trampoline patch routine on amd64
// (linux mprotect).
const (
	SysMprotect = 10
	ProtRWX     = 0x7
	ProtRX      = 0x5
)

// Page permissions requested on i386 (VirtualProtect).
const (
	PageExecuteReadWrite = 0x40
	PageExecuteRead      = 0x20
)

var (
	// ErrUnsupported means no template exists for the requested shape
	ErrUnsupported = errors.New("no trampoline template for this arch/convention/kind")
	// ErrAddressRange means an address does not fit the architecture
	ErrAddressRange = errors.New("address out of range for architecture")
)

// DefaultConvention is the convention modeled for each architecture.
func DefaultConvention(a Arch) Convention {
	if a == I386 {
		return Thiscall
	}
	return SysV
}

// Patch encodes the absolute jump written over a hooked function: load entry
// into the accumulator and jump through it.
func Patch(a Arch, entry uint64) ([]byte, error) {
	b := asm.New(a.Mode(), 0)
	switch a {
	case AMD64:
		b.MovImm64(asm.AX, entry)
	case I386:
		if entry > 0xffffffff {
			return nil, ErrAddressRange
		}
		b.MovImm32(asm.AX, uint32(entry))
	default:
		return nil, ErrUnsupported
	}
	b.JmpReg(asm.AX)
	code, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	if len(code) != a.PatchLen() {
		return nil, errors.Errorf("patch for %s is %d bytes, want %d", a, len(code), a.PatchLen())
	}
	return code, nil
}
