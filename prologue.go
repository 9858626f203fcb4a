package nativehook

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// maxInstLen is the longest x86 instruction.
const maxInstLen = 15

type info struct {
	// bytes of whole instructions covering the patch
	length int
	// no RIP-relative or branch-relative operand inside length
	relocatable bool
	insts       []x86asm.Inst
}

// ensureLength decodes src until at least size bytes of whole instructions
// are covered. A function that ends inside that window cannot take the
// patch without clobbering whatever follows it.
func ensureLength(src []byte, size int, mode int) (info, error) {
	var inf info
	inf.relocatable = true
	for inf.length < size {
		if inf.length >= len(src) {
			return inf, errors.Wrapf(ErrShortPrologue, "ran out of code after %d bytes", inf.length)
		}
		inst, i, err := analysis(src[inf.length:], mode)
		if err != nil {
			return inf, errors.Wrapf(err, "decode at +%#x", inf.length)
		}
		if terminates(inst) && inf.length+i.length < size {
			return inf, errors.Wrapf(ErrShortPrologue, "%s at +%#x", inst.Op, inf.length)
		}
		inf.relocatable = inf.relocatable && i.relocatable
		inf.length += i.length
		inf.insts = append(inf.insts, inst)
	}
	return inf, nil
}

func analysis(src []byte, mode int) (inst x86asm.Inst, inf info, err error) {
	inst, err = x86asm.Decode(src, mode)
	if err != nil {
		return
	}
	// truncated or unknown bytes decode as a one-byte prefix with no opcode
	if inst.Op == 0 {
		err = errors.Wrapf(x86asm.ErrUnrecognized, "% x", src[:min(len(src), maxInstLen)])
		return
	}
	inf.length = inst.Len
	inf.relocatable = true
	for _, a := range inst.Args {
		if mem, ok := a.(x86asm.Mem); ok {
			if mem.Base == x86asm.RIP {
				inf.relocatable = false
				return
			}
		} else if _, ok := a.(x86asm.Rel); ok {
			inf.relocatable = false
			return
		}
	}
	return
}

// terminates reports whether control never falls through inst.
func terminates(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP, x86asm.INT, x86asm.UD2, x86asm.HLT:
		return true
	}
	return false
}
