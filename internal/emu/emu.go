// Package emu runs hooked code in a unicorn emulator. It provides an address
// space with the operating system services trampolines rely on: the linux
// mprotect system call on amd64 and a VirtualProtect procedure on i386.
package emu

import (
	"encoding/binary"
	"sync"

	"github.com/k2io/nativehook"
	"github.com/k2io/nativehook/internal/trampoline"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Memory layout of an emulator.
const (
	PageSize = 0x1000

	CodeBase  = 0x100000
	CodeSize  = 0x40000
	DataBase  = 0x200000
	DataSize  = 0x10000
	TextBase  = 0x300000
	TextSize  = 0x10000
	StubBase  = 0x400000
	StubSize  = 0x1000
	StackBase = 0x800000
	StackSize = 0x100000

	// Return is the return address pushed by Call; reaching it ends the run.
	Return = StubBase
	// VirtualProtect is the address of the emulated protect procedure.
	VirtualProtect = StubBase + 0x10

	// stack room left above the first argument for windows copied by
	// trampolines
	stackSlack = 0x1000
	maxInsns   = 1 << 20
)

const (
	sysMprotect = 10
	errEINVAL   = 22
	errENOSYS   = 38
)

var (
	// ErrNoReturn means emulation stopped before the call returned
	ErrNoReturn = errors.New("call did not return")
	// ErrExhausted means an allocation region is full
	ErrExhausted = errors.New("emulator region exhausted")
)

// Protect is one page permission change seen by the emulator.
type Protect struct {
	Addr, Size uint64
	// Prot is in unicorn (and mprotect) bits.
	Prot int
	// Guest is set for changes requested by emulated code.
	Guest bool
}

// Result of a Call.
type Result struct {
	// Ret and Ret2 are the accumulator and data register on return.
	Ret, Ret2 uint64
	// Popped is the number of argument bytes the callee removed.
	Popped int64
}

// Emulator is an x86 machine implementing nativehook.Memory and
// nativehook.Allocator.
type Emulator struct {
	mu   uc.Unicorn
	arch trampoline.Arch
	log  logrus.FieldLogger

	lock     sync.Mutex
	code     uint64
	data     uint64
	text     uint64
	prot     map[uint64]int
	protects []Protect
	events   []string
	refuse   bool
}

// New starts an emulator for arch with every region mapped.
func New(arch trampoline.Arch) (*Emulator, error) {
	mode := uc.MODE_64
	if arch == trampoline.I386 {
		mode = uc.MODE_32
	}
	mu, err := uc.NewUnicorn(uc.ARCH_X86, mode)
	if err != nil {
		return nil, errors.Wrap(err, "create unicorn")
	}
	e := &Emulator{
		mu:   mu,
		arch: arch,
		log:  logrus.WithField("arch", arch.String()),
		code: CodeBase,
		data: DataBase,
		text: TextBase,
		prot: make(map[uint64]int),
	}
	regions := []struct {
		base, size uint64
		prot       int
	}{
		{CodeBase, CodeSize, uc.PROT_READ | uc.PROT_WRITE},
		{DataBase, DataSize, uc.PROT_READ | uc.PROT_WRITE},
		{TextBase, TextSize, uc.PROT_READ | uc.PROT_EXEC},
		{StubBase, StubSize, uc.PROT_READ | uc.PROT_EXEC},
		{StackBase, StackSize, uc.PROT_READ | uc.PROT_WRITE},
	}
	for _, r := range regions {
		if err := mu.MemMapProt(r.base, r.size, r.prot); err != nil {
			mu.Close()
			return nil, errors.Wrapf(err, "map %#x", r.base)
		}
		e.setProt(r.base, r.size, r.prot)
	}
	if err := e.setup(); err != nil {
		mu.Close()
		return nil, err
	}
	return e, nil
}

func (e *Emulator) setup() error {
	// the return stub halts; VirtualProtect is `ret 0x10` run behind a hook
	stub := []byte{0xf4}
	if err := e.mu.MemWrite(Return, stub); err != nil {
		return err
	}
	if err := e.mu.MemWrite(VirtualProtect, []byte{0xc2, 0x10, 0x00}); err != nil {
		return err
	}
	if err := e.enableSSE(); err != nil {
		return errors.Wrap(err, "enable sse")
	}
	if e.arch == trampoline.AMD64 {
		_, err := e.mu.HookAdd(uc.HOOK_INSN, e.syscall, 1, 0, uc.X86_INS_SYSCALL)
		return errors.Wrap(err, "hook syscall")
	}
	_, err := e.mu.HookAdd(uc.HOOK_CODE, e.virtualProtect, VirtualProtect, VirtualProtect)
	return errors.Wrap(err, "hook VirtualProtect")
}

// enableSSE lets movdqu run: clear CR0.EM, set CR0.MP and CR4.OSFXSR
// with CR4.OSXMMEXCPT.
func (e *Emulator) enableSSE() error {
	cr0, err := e.mu.RegRead(uc.X86_REG_CR0)
	if err != nil {
		return err
	}
	if err := e.mu.RegWrite(uc.X86_REG_CR0, (cr0&^0x4)|0x2); err != nil {
		return err
	}
	cr4, err := e.mu.RegRead(uc.X86_REG_CR4)
	if err != nil {
		return err
	}
	return e.mu.RegWrite(uc.X86_REG_CR4, cr4|0x600)
}

// Close releases the emulator.
func (e *Emulator) Close() error { return e.mu.Close() }

// Arch returns the emulated architecture.
func (e *Emulator) Arch() trampoline.Arch { return e.arch }

// Space returns a hook space backed by the emulator.
func (e *Emulator) Space() nativehook.Space {
	s := nativehook.Space{
		Arch:       e.arch,
		Convention: trampoline.DefaultConvention(e.arch),
		Memory:     e,
		Allocator:  e,
		PageSize:   PageSize,
	}
	if e.arch == trampoline.I386 {
		s.ProtectProc = VirtualProtect
	}
	return s
}

func (e *Emulator) Read(addr uintptr, n int) ([]byte, error) {
	b, err := e.mu.MemRead(uint64(addr), uint64(n))
	return b, errors.Wrapf(err, "read %d bytes at %#x", n, addr)
}

func (e *Emulator) Write(addr uintptr, b []byte) error {
	return errors.Wrapf(e.mu.MemWrite(uint64(addr), b), "write %d bytes at %#x", len(b), addr)
}

func (e *Emulator) SetWritable(addr uintptr, size int) error {
	return e.protect(uint64(addr), uint64(size), uc.PROT_ALL, false)
}

func (e *Emulator) SetExecutable(addr uintptr, size int) error {
	return e.protect(uint64(addr), uint64(size), uc.PROT_READ|uc.PROT_EXEC, false)
}

// RefuseProtect makes every later permission change fail.
func (e *Emulator) RefuseProtect(x bool) {
	e.lock.Lock()
	e.refuse = x
	e.lock.Unlock()
}

func (e *Emulator) protect(addr, size uint64, prot int, guest bool) error {
	start := addr &^ (PageSize - 1)
	end := (addr + size + PageSize - 1) &^ (PageSize - 1)
	e.lock.Lock()
	refuse := e.refuse
	e.lock.Unlock()
	if refuse {
		return errors.Errorf("protect %#x: refused", addr)
	}
	if err := e.mu.MemProtect(start, end-start, prot); err != nil {
		return errors.Wrapf(err, "protect %#x", addr)
	}
	e.setProt(start, end-start, prot)
	e.lock.Lock()
	e.protects = append(e.protects, Protect{Addr: start, Size: end - start, Prot: prot, Guest: guest})
	e.lock.Unlock()
	return nil
}

func (e *Emulator) setProt(start, size uint64, prot int) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for p := start; p < start+size; p += PageSize {
		e.prot[p] = prot
	}
}

// Prot returns the current permission of the page holding addr.
func (e *Emulator) Prot(addr uintptr) int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.prot[uint64(addr)&^(PageSize-1)]
}

// Protects returns every permission change made through the emulator.
func (e *Emulator) Protects() []Protect {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]Protect(nil), e.protects...)
}

func (e *Emulator) AllocCode(size int) (uintptr, error) {
	n := (uint64(size) + PageSize - 1) &^ (PageSize - 1)
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.code+n > CodeBase+CodeSize {
		return 0, errors.Wrap(ErrExhausted, "code")
	}
	p := e.code
	e.code += n
	return uintptr(p), nil
}

func (e *Emulator) SealCode(addr uintptr, size int) error {
	return e.SetExecutable(addr, size)
}

func (e *Emulator) AllocData(size int) (uintptr, error) {
	n := (uint64(size) + 15) &^ 15
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.data+n > DataBase+DataSize {
		return 0, errors.Wrap(ErrExhausted, "data")
	}
	p := e.data
	e.data += n
	return uintptr(p), nil
}

// Load copies a function into the text region and returns its address.
// Functions are 0x100 aligned.
func (e *Emulator) Load(code []byte) (uintptr, error) {
	n := (uint64(len(code)) + 0xff) &^ 0xff
	e.lock.Lock()
	p := e.text
	if p+n > TextBase+TextSize {
		e.lock.Unlock()
		return 0, errors.Wrap(ErrExhausted, "text")
	}
	e.text += n
	e.lock.Unlock()
	if err := e.mu.MemWrite(p, code); err != nil {
		return 0, errors.Wrapf(err, "load at %#x", p)
	}
	return uintptr(p), nil
}

// Watch records name every time the instruction at addr executes.
func (e *Emulator) Watch(addr uintptr, name string) error {
	_, err := e.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, pc uint64, size uint32) {
		e.lock.Lock()
		e.events = append(e.events, name)
		e.lock.Unlock()
	}, uint64(addr), uint64(addr))
	return errors.Wrapf(err, "watch %#x", addr)
}

// Events returns the watched names in execution order.
func (e *Emulator) Events() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string(nil), e.events...)
}

// ResetEvents forgets recorded events.
func (e *Emulator) ResetEvents() {
	e.lock.Lock()
	e.events = nil
	e.lock.Unlock()
}

// Reg reads a register by its unicorn number.
func (e *Emulator) Reg(reg int) (uint64, error) { return e.mu.RegRead(reg) }

// SetReg writes a register by its unicorn number.
func (e *Emulator) SetReg(reg int, v uint64) error { return e.mu.RegWrite(reg, v) }

func (e *Emulator) syscall(mu uc.Unicorn) {
	nr, _ := mu.RegRead(uc.X86_REG_RAX)
	ret := uint64(0)
	if nr != sysMprotect {
		e.log.Warnf("unexpected system call %d", nr)
		ret = negErrno(errENOSYS)
	} else {
		addr, _ := mu.RegRead(uc.X86_REG_RDI)
		size, _ := mu.RegRead(uc.X86_REG_RSI)
		prot, _ := mu.RegRead(uc.X86_REG_RDX)
		if err := e.protect(addr, size, int(prot), true); err != nil {
			e.log.Debugf("mprotect: %v", err)
			ret = negErrno(errEINVAL)
		}
	}
	mu.RegWrite(uc.X86_REG_RAX, ret)
}

// virtualProtect serves VirtualProtect(addr, size, prot, old) before its
// `ret 0x10` pops the arguments.
func (e *Emulator) virtualProtect(mu uc.Unicorn, pc uint64, size uint32) {
	esp, _ := mu.RegRead(uc.X86_REG_ESP)
	args, err := mu.MemRead(esp+4, 16)
	if err != nil {
		mu.RegWrite(uc.X86_REG_EAX, 0)
		return
	}
	addr := uint64(binary.LittleEndian.Uint32(args[0:]))
	length := uint64(binary.LittleEndian.Uint32(args[4:]))
	prot := binary.LittleEndian.Uint32(args[8:])
	oldp := uint64(binary.LittleEndian.Uint32(args[12:]))

	old := toWindows(e.Prot(uintptr(addr)))
	if err := e.protect(addr, length, fromWindows(prot), true); err != nil {
		e.log.Debugf("VirtualProtect: %v", err)
		mu.RegWrite(uc.X86_REG_EAX, 0)
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], old)
	mu.MemWrite(oldp, b[:])
	mu.RegWrite(uc.X86_REG_EAX, 1)
}

func negErrno(n int64) uint64 { return uint64(-n) }

func fromWindows(p uint32) int {
	switch p {
	case trampoline.PageExecuteReadWrite:
		return uc.PROT_ALL
	case trampoline.PageExecuteRead:
		return uc.PROT_READ | uc.PROT_EXEC
	case 0x04:
		return uc.PROT_READ | uc.PROT_WRITE
	case 0x02:
		return uc.PROT_READ
	}
	return uc.PROT_NONE
}

func toWindows(p int) uint32 {
	switch p {
	case uc.PROT_ALL:
		return trampoline.PageExecuteReadWrite
	case uc.PROT_READ | uc.PROT_EXEC:
		return trampoline.PageExecuteRead
	case uc.PROT_READ | uc.PROT_WRITE:
		return 0x04
	case uc.PROT_READ:
		return 0x02
	}
	return 0x01
}
