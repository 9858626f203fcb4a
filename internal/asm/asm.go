// Package asm is a small x86 machine code emitter.
//
// It knows only the handful of instruction forms the trampoline templates
// need. Memory operands always use a 32-bit displacement so that every
// instruction built from the same template has the same length no matter
// which addresses are filled in.
package asm

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Mode is the processor operating mode the code is emitted for.
type Mode int

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// Reg is a general purpose register, numbered as in the ModRM encoding.
// In Mode32 AX..DI name eax..edi.
type Reg uint8

const (
	AX Reg = iota
	CX
	DX
	BX
	SP
	BP
	SI
	DI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames64 = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

var regNames32 = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

// Name returns the register's assembler name in mode m.
func (r Reg) Name(m Mode) string {
	if m == Mode32 && int(r) < len(regNames32) {
		return regNames32[r]
	}
	if int(r) < len(regNames64) {
		return regNames64[r]
	}
	return fmt.Sprintf("reg%d", r)
}

var (
	// ErrUnboundLabel means a jump or call refers to a label never bound
	ErrUnboundLabel = errors.New("unbound label")
	// ErrMode means the instruction form does not exist in the builder's mode
	ErrMode = errors.New("instruction not encodable in this mode")
)

// Label marks a position in the emitted code.
type Label struct {
	off   int
	bound bool
}

type fixup struct {
	at    int
	label *Label
}

// Builder accumulates machine code. Encoding problems are recorded and
// reported once by Bytes.
type Builder struct {
	mode   Mode
	base   uint64
	buf    []byte
	fixups []fixup
	err    error
}

// New returns a builder for code that will live at base.
func New(mode Mode, base uint64) *Builder {
	return &Builder{mode: mode, base: base}
}

func (b *Builder) Mode() Mode { return b.mode }

// PC is the address of the next emitted byte.
func (b *Builder) PC() uint64 { return b.base + uint64(len(b.buf)) }

func (b *Builder) Len() int { return len(b.buf) }

// Bytes resolves label references and returns the code.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, f := range b.fixups {
		if !f.label.bound {
			return nil, ErrUnboundLabel
		}
		rel := int32(f.label.off - (f.at + 4))
		binary.LittleEndian.PutUint32(b.buf[f.at:], uint32(rel))
	}
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out, nil
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) emit(bs ...byte) { b.buf = append(b.buf, bs...) }

func (b *Builder) put32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *Builder) put64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

// Raw appends pre-encoded bytes.
func (b *Builder) Raw(bs ...byte) { b.emit(bs...) }

func (b *Builder) NewLabel() *Label { return &Label{} }

// Bind places l at the current position.
func (b *Builder) Bind(l *Label) {
	l.off = len(b.buf)
	l.bound = true
}

func (b *Builder) rel32(l *Label) {
	b.fixups = append(b.fixups, fixup{at: len(b.buf), label: l})
	b.put32(0)
}

// rex emits a REX prefix when one is needed (or w is requested) in Mode64.
// reg goes in ModRM.reg, rm in ModRM.rm or the opcode's low bits.
func (b *Builder) rex(w bool, reg, rm Reg) {
	if b.mode == Mode32 {
		if reg > DI || rm > DI {
			b.fail(errors.Wrap(ErrMode, "register above edi"))
		}
		return
	}
	p := byte(0x40)
	if w {
		p |= 0x08
	}
	p |= byte(reg>>3) << 2
	p |= byte(rm >> 3)
	if p != 0x40 {
		b.emit(p)
	}
}

// wide reports whether operand-size REX.W applies.
func (b *Builder) wide() bool { return b.mode == Mode64 }

// mem encodes ModRM (+SIB) for [base+disp32] with reg in the reg field.
func (b *Builder) mem(reg byte, base Reg, disp int32) {
	b.emit(0x80 | (reg&7)<<3 | byte(base)&7)
	if base&7 == SP {
		b.emit(0x24)
	}
	b.put32(uint32(disp))
}

// abs encodes ModRM for an absolute [disp32] operand; Mode32 only, since
// the same encoding is RIP-relative in Mode64.
func (b *Builder) abs(reg byte, addr uint32) {
	if b.mode != Mode32 {
		b.fail(errors.Wrap(ErrMode, "absolute memory operand"))
	}
	b.emit(0x05 | (reg&7)<<3)
	b.put32(addr)
}

func (b *Builder) Push(r Reg) {
	b.rex(false, 0, r)
	b.emit(0x50 + byte(r&7))
}

func (b *Builder) Pop(r Reg) {
	b.rex(false, 0, r)
	b.emit(0x58 + byte(r&7))
}

// PushImm8 pushes a sign-extended 8-bit immediate.
func (b *Builder) PushImm8(v int8) { b.emit(0x6a, byte(v)) }

func (b *Builder) PushImm32(v uint32) {
	b.emit(0x68)
	b.put32(v)
}

// PushAbs pushes the dword at addr (push dword [addr]).
func (b *Builder) PushAbs(addr uint32) {
	b.emit(0xff)
	b.abs(6, addr)
}

// SubSP subtracts imm from the stack pointer.
func (b *Builder) SubSP(imm int32) {
	b.rex(b.wide(), 0, SP)
	b.emit(0x81, 0xec)
	b.put32(uint32(imm))
}

// AddSP adds imm to the stack pointer.
func (b *Builder) AddSP(imm int32) {
	b.rex(b.wide(), 0, SP)
	b.emit(0x81, 0xc4)
	b.put32(uint32(imm))
}

// AlignSP16 clears the low four bits of rsp.
func (b *Builder) AlignSP16() {
	if b.mode != Mode64 {
		b.fail(errors.Wrap(ErrMode, "stack alignment"))
		return
	}
	b.emit(0x48, 0x83, 0xe4, 0xf0)
}

// Mov copies src into dst.
func (b *Builder) Mov(dst, src Reg) {
	b.rex(b.wide(), src, dst)
	b.emit(0x89, 0xc0|byte(src&7)<<3|byte(dst&7))
}

// MovImm32 loads a 32-bit immediate; in Mode64 it zero-extends.
func (b *Builder) MovImm32(r Reg, v uint32) {
	b.rex(false, 0, r)
	b.emit(0xb8 + byte(r&7))
	b.put32(v)
}

// MovImm64 loads a full 64-bit immediate (movabs).
func (b *Builder) MovImm64(r Reg, v uint64) {
	if b.mode != Mode64 {
		b.fail(errors.Wrap(ErrMode, "movabs"))
		return
	}
	b.rex(true, 0, r)
	b.emit(0xb8 + byte(r&7))
	b.put64(v)
}

// Load reads the word at [base+disp] into dst.
func (b *Builder) Load(dst, base Reg, disp int32) {
	b.rex(b.wide(), dst, base)
	b.emit(0x8b)
	b.mem(byte(dst), base, disp)
}

// Store writes src to [base+disp].
func (b *Builder) Store(base Reg, disp int32, src Reg) {
	b.rex(b.wide(), src, base)
	b.emit(0x89)
	b.mem(byte(src), base, disp)
}

// LoadAbs reads the dword at addr into dst.
func (b *Builder) LoadAbs(dst Reg, addr uint32) {
	b.rex(false, dst, 0)
	b.emit(0x8b)
	b.abs(byte(dst), addr)
}

// StoreAbs writes src to the dword at addr.
func (b *Builder) StoreAbs(addr uint32, src Reg) {
	b.rex(false, src, 0)
	b.emit(0x89)
	b.abs(byte(src), addr)
}

// Lea computes base+disp into dst.
func (b *Builder) Lea(dst, base Reg, disp int32) {
	b.rex(b.wide(), dst, base)
	b.emit(0x8d)
	b.mem(byte(dst), base, disp)
}

// Xor32 clears r with a 32-bit xor (which also clears the upper half in Mode64).
func (b *Builder) Xor32(r Reg) {
	b.rex(false, r, r)
	b.emit(0x31, 0xc0|byte(r&7)<<3|byte(r&7))
}

// Sub computes dst -= src.
func (b *Builder) Sub(dst, src Reg) {
	b.rex(b.wide(), src, dst)
	b.emit(0x29, 0xc0|byte(src&7)<<3|byte(dst&7))
}

// Add computes dst += src.
func (b *Builder) Add(dst, src Reg) {
	b.rex(b.wide(), src, dst)
	b.emit(0x01, 0xc0|byte(src&7)<<3|byte(dst&7))
}

// Test ands r with itself, setting flags.
func (b *Builder) Test(r Reg) {
	b.rex(b.wide(), r, r)
	b.emit(0x85, 0xc0|byte(r&7)<<3|byte(r&7))
}

// StoreXMM is movdqu [sp+disp], xmmN.
func (b *Builder) StoreXMM(disp int8, x int) {
	b.xmm(0x7f, disp, x)
}

// LoadXMM is movdqu xmmN, [sp+disp].
func (b *Builder) LoadXMM(x int, disp int8) {
	b.xmm(0x6f, disp, x)
}

func (b *Builder) xmm(op byte, disp int8, x int) {
	if x < 0 || x > 7 {
		b.fail(errors.Wrapf(ErrMode, "xmm%d", x))
		return
	}
	b.emit(0xf3, 0x0f, op, 0x44|byte(x)<<3, 0x24, byte(disp))
}

// Call emits a relative call to l.
func (b *Builder) Call(l *Label) {
	b.emit(0xe8)
	b.rel32(l)
}

// Jmp emits a relative jump to l.
func (b *Builder) Jmp(l *Label) {
	b.emit(0xe9)
	b.rel32(l)
}

func (b *Builder) Jnz(l *Label) {
	b.emit(0x0f, 0x85)
	b.rel32(l)
}

func (b *Builder) Jz(l *Label) {
	b.emit(0x0f, 0x84)
	b.rel32(l)
}

func (b *Builder) CallReg(r Reg) {
	b.rex(false, 0, r)
	b.emit(0xff, 0xd0|byte(r&7))
}

func (b *Builder) JmpReg(r Reg) {
	b.rex(false, 0, r)
	b.emit(0xff, 0xe0|byte(r&7))
}

// CallMem calls through the pointer at [base+disp].
func (b *Builder) CallMem(base Reg, disp int32) {
	b.rex(false, 0, base)
	b.emit(0xff)
	b.mem(2, base, disp)
}

// CallAbs calls through the pointer at addr.
func (b *Builder) CallAbs(addr uint32) {
	b.emit(0xff)
	b.abs(2, addr)
}

// JmpAbs jumps through the pointer at addr.
func (b *Builder) JmpAbs(addr uint32) {
	b.emit(0xff)
	b.abs(4, addr)
}

// LockInc atomically increments the word at [base+disp].
func (b *Builder) LockInc(base Reg, disp int32) {
	b.emit(0xf0)
	b.rex(b.wide(), 0, base)
	b.emit(0xff)
	b.mem(0, base, disp)
}

// LockIncAbs atomically increments the dword at addr.
func (b *Builder) LockIncAbs(addr uint32) {
	b.emit(0xf0, 0xff)
	b.abs(0, addr)
}

func (b *Builder) Ret()      { b.emit(0xc3) }
func (b *Builder) Ud2()      { b.emit(0x0f, 0x0b) }
func (b *Builder) Cld()      { b.emit(0xfc) }
func (b *Builder) Nop()      { b.emit(0x90) }
func (b *Builder) RepMovsb() { b.emit(0xf3, 0xa4) }

// Syscall is the amd64 syscall instruction.
func (b *Builder) Syscall() {
	if b.mode != Mode64 {
		b.fail(errors.Wrap(ErrMode, "syscall"))
		return
	}
	b.emit(0x0f, 0x05)
}
