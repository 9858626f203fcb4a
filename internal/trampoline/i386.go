package trampoline

import (
	"github.com/k2io/nativehook/internal/asm"
)

// Frame on i386 (thiscall), relative to esp after save:
//
//	0x00        consumed-stack slot (negated byte count popped by the original)
//	0x04..0x83  xmm7 .. xmm0
//	0x84        ebp
//	0x88        edi
//	0x8c        esi
//	0x90        edx
//	0x94        ecx
//	0x98        ebx
//	0x9c        eax
//	0xa0        return address
//	0xa4        stack arguments
//
// Every inner call runs on a copy of the first frameWindow bytes of this
// frame, so at most argWindow bytes of stack arguments are forwarded.
var saved32 = []asm.Reg{asm.AX, asm.BX, asm.CX, asm.DX, asm.SI, asm.DI, asm.BP}

const (
	off32Consumed = 0x00
	off32EDX      = 0x90
	off32ECX      = 0x94
	off32EAX      = 0x9c
	off32Ret      = 0xa0
	off32Args     = 0xa4

	frameWindow = 0x100
	argWindow   = frameWindow - off32Args
)

// ArgWindow is how many bytes of stack arguments the i386 templates forward.
const ArgWindow = argWindow

type gen32 struct {
	b     *asm.Builder
	data  uint32
	write *asm.Label
}

func newGen32(b *asm.Builder, data uint64) *gen32 {
	return &gen32{b: b, data: uint32(data), write: b.NewLabel()}
}

func (g *gen32) slot(off uint32) uint32 { return g.data + off }

func (g *gen32) save() {
	for _, r := range saved32 {
		g.b.Push(r)
	}
	g.b.SubSP(xmmArea)
	for x := 0; x < 8; x++ {
		g.b.StoreXMM(int8(0x70-0x10*x), x)
	}
	g.b.PushImm8(0)
}

// restore pops the frame built by save, leaving esp at the return address.
func (g *gen32) restore() {
	g.b.AddSP(4)
	for x := 7; x >= 0; x-- {
		g.b.LoadXMM(x, int8(0x70-0x10*x))
	}
	g.b.AddSP(xmmArea)
	for i := len(saved32) - 1; i >= 0; i-- {
		g.b.Pop(saved32[i])
	}
}

// frameCall calls through the pointer in slot on a duplicate of the frame:
// the callee sees the caller's registers, this pointer and stack arguments,
// and may pop any number of them. esp is back at the frame afterwards and
// ebx holds the negated number of argument bytes the callee popped; with
// record it is also kept in the consumed-stack slot.
func (g *gen32) frameCall(slot uint32, record bool) {
	g.b.SubSP(frameWindow)
	g.b.MovImm32(asm.CX, frameWindow)
	g.b.Lea(asm.SI, asm.SP, frameWindow)
	g.b.Mov(asm.DI, asm.SP)
	g.b.Cld()
	g.b.RepMovsb()
	g.restore()
	// drop the copied return address; the call pushes ours
	g.b.AddSP(4)
	g.b.Mov(asm.BX, asm.SP)
	g.b.CallAbs(g.slot(slot))
	g.b.Sub(asm.BX, asm.SP)
	g.b.AddSP(argWindow)
	g.b.Add(asm.SP, asm.BX)
	if record {
		g.b.Store(asm.SP, off32Consumed, asm.BX)
	}
}

func (g *gen32) countHit() { g.b.LockIncAbs(g.slot(SlotHits)) }

func (g *gen32) unhook() {
	g.b.MovImm32(asm.SI, g.slot(SlotBackup))
	g.b.Xor32(asm.DX)
	g.b.Call(g.write)
}

func (g *gen32) rehook() {
	g.b.MovImm32(asm.SI, g.slot(SlotPatch))
	g.b.MovImm32(asm.DX, 1)
	g.b.Call(g.write)
}

// unhooked removes the patch, runs body and always re-installs it.
func (g *gen32) unhooked(body func()) {
	g.unhook()
	body()
	g.rehook()
}

// callOriginal calls the unpatched target and stores its return value pair
// into the frame so that it survives until the final restore.
func (g *gen32) callOriginal() {
	g.frameCall(SlotTarget, true)
	g.b.Store(asm.SP, off32EAX, asm.AX)
	g.b.Store(asm.SP, off32EDX, asm.DX)
}

// returnConsumed restores the frame and returns to the caller, popping as
// many argument bytes as the original did. The return address is moved up
// over the consumed arguments and ecx carries the adjustment past the
// restore.
func (g *gen32) returnConsumed() {
	g.b.Load(asm.AX, asm.SP, off32Consumed)
	g.b.Load(asm.DX, asm.SP, off32Ret)
	g.b.Lea(asm.CX, asm.SP, off32Ret)
	g.b.Sub(asm.CX, asm.AX)
	g.b.Store(asm.CX, 0, asm.DX)
	g.b.Store(asm.SP, off32ECX, asm.AX)
	g.restore()
	g.b.Sub(asm.SP, asm.CX)
	g.b.Ret()
}

// patchRoutine copies the patch length bytes at esi over the target and
// stores edx as the new state, bracketed by two VirtualProtect calls made
// through the protect slot. A refused protection change aborts.
func (g *gen32) patchRoutine() {
	abort := g.b.NewLabel()
	protect := func(prot int8) {
		g.b.PushImm32(g.slot(SlotOldProtect))
		g.b.PushImm8(prot)
		g.b.PushAbs(g.slot(SlotProtLen))
		g.b.PushAbs(g.slot(SlotProtStart))
		g.b.CallAbs(g.slot(SlotProtectProc))
		g.b.Test(asm.AX)
		g.b.Jz(abort)
	}
	g.b.Bind(g.write)
	g.b.Push(asm.SI)
	g.b.Push(asm.DX)
	protect(PageExecuteReadWrite)
	g.b.Pop(asm.DX)
	g.b.Pop(asm.SI)
	g.b.LoadAbs(asm.DI, g.slot(SlotTarget))
	g.b.MovImm32(asm.CX, uint32(I386.PatchLen()))
	g.b.Cld()
	g.b.RepMovsb()
	g.b.StoreAbs(g.slot(SlotState), asm.DX)
	protect(PageExecuteRead)
	g.b.Ret()
	g.b.Bind(abort)
	g.b.Ud2()
}

func i386Once(b *asm.Builder, data uint64) {
	g := newGen32(b, data)
	g.countHit()
	g.save()
	g.frameCall(SlotCallback, false)
	g.unhook()
	g.restore()
	b.JmpAbs(g.slot(SlotTarget))
	g.patchRoutine()
}

func i386Before(b *asm.Builder, data uint64) {
	g := newGen32(b, data)
	g.countHit()
	g.save()
	g.frameCall(SlotCallback, false)
	g.unhooked(g.callOriginal)
	g.returnConsumed()
	g.patchRoutine()
}

func i386After(b *asm.Builder, data uint64) {
	g := newGen32(b, data)
	g.countHit()
	g.save()
	g.unhooked(g.callOriginal)
	g.frameCall(SlotCallback, false)
	g.returnConsumed()
	g.patchRoutine()
}
