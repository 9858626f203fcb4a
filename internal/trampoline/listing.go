package trampoline

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// Line is one decoded instruction of a listing.
type Line struct {
	Addr  uint64
	Bytes []byte
	Inst  x86asm.Inst
}

func (l Line) String() string {
	return fmt.Sprintf("%#010x  % -30x %s", l.Addr, l.Bytes, x86asm.IntelSyntax(l.Inst, l.Addr, nil))
}

// Disassemble decodes code placed at base.
func Disassemble(a Arch, base uint64, code []byte) ([]Line, error) {
	var lines []Line
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], int(a.Mode()))
		if err == nil && inst.Op == 0 {
			err = x86asm.ErrUnrecognized
		}
		if err != nil {
			return lines, errors.Wrapf(err, "decode at %#x", base+uint64(off))
		}
		lines = append(lines, Line{
			Addr:  base + uint64(off),
			Bytes: code[off : off+inst.Len],
			Inst:  inst,
		})
		off += inst.Len
	}
	return lines, nil
}
