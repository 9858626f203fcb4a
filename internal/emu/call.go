package emu

import (
	"encoding/binary"

	"github.com/k2io/nativehook/internal/trampoline"
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

var sysvArgs = []int{uc.X86_REG_RDI, uc.X86_REG_RSI, uc.X86_REG_RDX, uc.X86_REG_RCX, uc.X86_REG_R8, uc.X86_REG_R9}

// Call runs the function at fn until it returns. On amd64 args go to the
// SysV argument registers. On i386 the first argument is the this pointer
// in ecx and the rest are pushed on the stack, last first.
func (e *Emulator) Call(fn uintptr, args ...uint64) (Result, error) {
	var res Result
	top := uint64(StackBase + StackSize - stackSlack)
	var sp, at uint64
	switch e.arch {
	case trampoline.AMD64:
		if len(args) > len(sysvArgs) {
			return res, errors.Errorf("%d arguments, at most %d", len(args), len(sysvArgs))
		}
		for i, a := range args {
			if err := e.mu.RegWrite(sysvArgs[i], a); err != nil {
				return res, err
			}
		}
		// rsp+8 is 16-byte aligned at entry
		at = top
		sp = at - 8
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], Return)
		if err := e.mu.MemWrite(sp, b[:]); err != nil {
			return res, err
		}
		if err := e.mu.RegWrite(uc.X86_REG_RSP, sp); err != nil {
			return res, err
		}
	case trampoline.I386:
		var stack []uint32
		stack = append(stack, Return)
		if len(args) > 0 {
			if err := e.mu.RegWrite(uc.X86_REG_ECX, args[0]); err != nil {
				return res, err
			}
			for _, a := range args[1:] {
				stack = append(stack, uint32(a))
			}
		}
		sp = top - uint64(4*len(stack))
		at = sp + 4
		buf := make([]byte, 4*len(stack))
		for i, v := range stack {
			binary.LittleEndian.PutUint32(buf[4*i:], v)
		}
		if err := e.mu.MemWrite(sp, buf); err != nil {
			return res, err
		}
		if err := e.mu.RegWrite(uc.X86_REG_ESP, sp); err != nil {
			return res, err
		}
	default:
		return res, trampoline.ErrUnsupported
	}

	err := e.mu.StartWithOptions(uint64(fn), Return, &uc.UcOptions{Count: maxInsns})
	pc, _ := e.pc()
	if err != nil {
		return res, errors.Wrapf(err, "emulation stopped at %#x", pc)
	}
	if pc != Return {
		return res, errors.Wrapf(ErrNoReturn, "stopped at %#x", pc)
	}

	acc, dat, spr := uc.X86_REG_RAX, uc.X86_REG_RDX, uc.X86_REG_RSP
	if e.arch == trampoline.I386 {
		acc, dat, spr = uc.X86_REG_EAX, uc.X86_REG_EDX, uc.X86_REG_ESP
	}
	res.Ret, _ = e.mu.RegRead(acc)
	res.Ret2, _ = e.mu.RegRead(dat)
	end, _ := e.mu.RegRead(spr)
	res.Popped = int64(end) - int64(at)
	e.log.Debugf("call %#x returned %#x, popped %d", fn, res.Ret, res.Popped)
	return res, nil
}

func (e *Emulator) pc() (uint64, error) {
	if e.arch == trampoline.I386 {
		return e.mu.RegRead(uc.X86_REG_EIP)
	}
	return e.mu.RegRead(uc.X86_REG_RIP)
}
