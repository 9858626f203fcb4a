package trampoline

import (
	"github.com/k2io/nativehook/internal/asm"
)

// Register save area on amd64, relative to rsp after save:
//
//	0x00..0x7f  xmm7 .. xmm0
//	0x80        r11
//	0x88        r10
//	0x90        r9
//	0x98        r8
//	0xa0        rbp
//	0xa8        rdi
//	0xb0        rsi
//	0xb8        rdx
//	0xc0        rcx
//	0xc8        rbx
//	0xd0        rax
//	0xd8        return address
var saved64 = []asm.Reg{asm.AX, asm.BX, asm.CX, asm.DX, asm.SI, asm.DI, asm.BP, asm.R8, asm.R9, asm.R10, asm.R11}

const (
	xmmArea  = 0x80
	off64RAX = 0xd0
)

// gen64 emits amd64 SysV templates. rbx holds the data block inside every
// saved region; it is callee-saved, so it survives calls into user code.
type gen64 struct {
	b     *asm.Builder
	data  uint64
	write *asm.Label
}

func newGen64(b *asm.Builder, data uint64) *gen64 {
	return &gen64{b: b, data: data, write: b.NewLabel()}
}

func (g *gen64) save() {
	for _, r := range saved64 {
		g.b.Push(r)
	}
	g.b.SubSP(xmmArea)
	for x := 0; x < 8; x++ {
		g.b.StoreXMM(int8(0x70-0x10*x), x)
	}
}

func (g *gen64) restore() {
	for x := 7; x >= 0; x-- {
		g.b.LoadXMM(x, int8(0x70-0x10*x))
	}
	g.b.AddSP(xmmArea)
	for i := len(saved64) - 1; i >= 0; i-- {
		g.b.Pop(saved64[i])
	}
}

// saved runs body between a full register save and restore.
func (g *gen64) saved(body func()) {
	g.save()
	g.b.MovImm64(asm.BX, g.data)
	body()
	g.restore()
}

// aligned runs body on a 16-byte aligned stack; rbp keeps the old rsp.
func (g *gen64) aligned(body func()) {
	g.b.Push(asm.BP)
	g.b.Mov(asm.BP, asm.SP)
	g.b.AlignSP16()
	body()
	g.b.Mov(asm.SP, asm.BP)
	g.b.Pop(asm.BP)
}

func (g *gen64) countHit() {
	g.b.Push(asm.BX)
	g.b.MovImm64(asm.BX, g.data)
	g.b.LockInc(asm.BX, SlotHits)
	g.b.Pop(asm.BX)
}

func (g *gen64) callback() { g.b.CallMem(asm.BX, SlotCallback) }

func (g *gen64) unhook() {
	g.b.Lea(asm.SI, asm.BX, SlotBackup)
	g.b.Xor32(asm.R8)
	g.b.Call(g.write)
}

func (g *gen64) rehook() {
	g.b.Lea(asm.SI, asm.BX, SlotPatch)
	g.b.MovImm32(asm.R8, 1)
	g.b.Call(g.write)
}

// unhooked removes the patch, runs body and always re-installs it.
func (g *gen64) unhooked(body func()) {
	g.saved(func() { g.aligned(g.unhook) })
	body()
	g.saved(func() { g.aligned(g.rehook) })
}

// callOriginal calls the unpatched target with the caller's registers.
func (g *gen64) callOriginal() {
	g.aligned(func() {
		g.b.MovImm64(asm.AX, g.data)
		g.b.Load(asm.AX, asm.AX, SlotTarget)
		g.b.CallReg(asm.AX)
	})
}

// patchRoutine copies the patch length bytes at rsi over the target and
// stores r8 as the new state. The target pages are made writable for the
// copy and executable again afterwards; a refused mprotect aborts.
func (g *gen64) patchRoutine() {
	abort := g.b.NewLabel()
	protect := func(prot uint32) {
		g.b.MovImm32(asm.AX, SysMprotect)
		g.b.Load(asm.DI, asm.BX, SlotProtStart)
		g.b.Load(asm.SI, asm.BX, SlotProtLen)
		g.b.MovImm32(asm.DX, prot)
		g.b.Syscall()
		g.b.Test(asm.AX)
		g.b.Jnz(abort)
	}
	g.b.Bind(g.write)
	g.b.Push(asm.SI)
	g.b.Push(asm.R8)
	protect(ProtRWX)
	g.b.Pop(asm.R8)
	g.b.Pop(asm.SI)
	g.b.Load(asm.DI, asm.BX, SlotTarget)
	g.b.MovImm32(asm.CX, uint32(AMD64.PatchLen()))
	g.b.Cld()
	g.b.RepMovsb()
	g.b.Store(asm.BX, SlotState, asm.R8)
	protect(ProtRX)
	g.b.Ret()
	g.b.Bind(abort)
	g.b.Ud2()
}

func amd64Once(b *asm.Builder, data uint64) {
	g := newGen64(b, data)
	g.countHit()
	g.saved(func() {
		g.aligned(func() {
			g.callback()
			g.unhook()
		})
	})
	b.MovImm64(asm.AX, data)
	b.Load(asm.AX, asm.AX, SlotTarget)
	b.JmpReg(asm.AX)
	g.patchRoutine()
}

func amd64Before(b *asm.Builder, data uint64) {
	g := newGen64(b, data)
	g.countHit()
	g.saved(func() { g.aligned(g.callback) })
	g.unhooked(g.callOriginal)
	b.Ret()
	g.patchRoutine()
}

func amd64After(b *asm.Builder, data uint64) {
	g := newGen64(b, data)
	g.countHit()
	g.unhooked(g.callOriginal)
	g.saved(func() {
		g.aligned(func() {
			// rbp is 8 below the save area; hand the return value over
			b.Load(asm.DI, asm.BP, 8+off64RAX)
			b.Mov(asm.AX, asm.DI)
			g.callback()
		})
	})
	b.Ret()
	g.patchRoutine()
}
