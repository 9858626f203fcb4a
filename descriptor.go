package nativehook

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/k2io/nativehook/internal/trampoline"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"
)

// Descriptor is one hook: a target function, the callback run on each
// interception, the policy and the trampoline built for them.
//
// The trampoline removes and re-writes the patch around every Before/After
// call without any lock. Two threads calling the hooked function at the same
// time may see it unhooked, or interleave the two writes; callers that need
// every call intercepted must not enter the target concurrently. Install,
// Restore and Disable are serialized among themselves only.
type Descriptor struct {
	name   string
	target uintptr
	kind   Kind
	arch   Arch
	mem    Memory
	log    logrus.FieldLogger

	// data block read by the trampoline
	data uintptr
	// interceptor entry, the patch's jump target
	entry uintptr
	code  []byte
	patch []byte

	mu       sync.Mutex
	callback uintptr
	backup   Backup
	saved    bool
	broken   error
}

// New creates the descriptor for target. The trampoline and the data block
// are allocated and filled in; target itself is untouched until Install.
func (e *Engine) New(name string, target, callback uintptr, kind Kind) (*Descriptor, error) {
	if callback == 0 {
		return nil, ErrBadCallback
	}
	if e.space.Arch == I386 && (uint64(target) > math.MaxUint32 || uint64(callback) > math.MaxUint32) {
		return nil, errors.Wrapf(ErrAddressRange, "%s: target %#x, callback %#x", name, target, callback)
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	if _, ok := e.hooks[target]; ok {
		return nil, errors.Wrapf(ErrDoubleHook, "%s at %#x", name, target)
	}

	s := e.space
	params := trampoline.Params{Arch: s.Arch, Convention: s.Convention, Kind: kind}
	// the length of a template depends only on its shape
	probe, err := trampoline.Build(params)
	if err != nil {
		return nil, errors.Wrapf(err, "%s/%s/%s", s.Arch, s.Convention, kind)
	}
	data, err := s.Allocator.AllocData(trampoline.DataSize)
	if err != nil {
		return nil, errors.Wrap(err, "allocate data block")
	}
	code, err := s.Allocator.AllocCode(len(probe.Code))
	if err != nil {
		return nil, errors.Wrap(err, "allocate trampoline")
	}
	params.Data, params.Code = uint64(data), uint64(code)
	tpl, err := trampoline.Build(params)
	if err != nil {
		return nil, err
	}
	if err := s.Memory.Write(code, tpl.Code); err != nil {
		return nil, errors.Wrap(err, "write trampoline")
	}
	if err := s.Allocator.SealCode(code, len(tpl.Code)); err != nil {
		return nil, errors.Wrap(err, "seal trampoline")
	}
	patch, err := PatchBytes(s.Arch, uintptr(tpl.Entry))
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		name:     name,
		target:   target,
		kind:     kind,
		arch:     s.Arch,
		mem:      s.Memory,
		data:     data,
		entry:    uintptr(tpl.Entry),
		code:     tpl.Code,
		patch:    patch,
		callback: callback,
		log: e.log.WithFields(logrus.Fields{
			"hook":   name,
			"target": fmt.Sprintf("%#x", target),
			"kind":   kind.String(),
		}),
	}
	if err := s.Memory.Write(data, d.block(s)); err != nil {
		return nil, errors.Wrap(err, "write data block")
	}
	e.hooks[target] = d
	e.order = append(e.order, d)
	d.log.Debugf("trampoline for %s at %#x, data at %#x", name, d.entry, d.data)
	return d, nil
}

func (d *Descriptor) block(s Space) []byte {
	blk := make([]byte, trampoline.DataSize)
	put := func(off int, v uint64) { binary.LittleEndian.PutUint64(blk[off:], v) }
	start, size := s.pageRange(d.target, len(d.patch))
	put(trampoline.SlotTarget, uint64(d.target))
	put(trampoline.SlotCallback, uint64(d.callback))
	put(trampoline.SlotProtStart, uint64(start))
	put(trampoline.SlotProtLen, uint64(size))
	put(trampoline.SlotProtectProc, uint64(s.ProtectProc))
	copy(blk[trampoline.SlotPatch:], d.patch)
	return blk
}

// Name is the label used in log messages.
func (d *Descriptor) Name() string { return d.name }

// Target is the address of the hooked function.
func (d *Descriptor) Target() uintptr { return d.target }

// Kind is the interception policy.
func (d *Descriptor) Kind() Kind { return d.kind }

// Entry is the trampoline address the patch jumps to.
func (d *Descriptor) Entry() uintptr { return d.entry }

// DataBlock is the address of the slots the trampoline reads and writes.
func (d *Descriptor) DataBlock() uintptr { return d.data }

// Code returns the trampoline's machine code.
func (d *Descriptor) Code() []byte { return append([]byte(nil), d.code...) }

// Patch returns the bytes Install writes over the target.
func (d *Descriptor) Patch() []byte { return append([]byte(nil), d.patch...) }

// Callback is the function the trampoline calls.
func (d *Descriptor) Callback() uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.callback
}

// SetCallback points the trampoline at a different callback. It takes
// effect on the next interception.
func (d *Descriptor) SetCallback(cb uintptr) error {
	if cb == 0 {
		return ErrBadCallback
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeSlot(trampoline.SlotCallback, uint64(cb)); err != nil {
		return err
	}
	d.callback = cb
	return nil
}

// Backup returns the bytes saved by the last successful Install. ok is
// false until one happened.
func (d *Descriptor) Backup() (bk Backup, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backup, d.saved
}

// State reads the installation state shared with the trampoline, so it
// shows the transient unhooking done around Before/After calls and the
// permanent one done by Once.
func (d *Descriptor) State() State {
	v, err := d.readSlot(trampoline.SlotState)
	if err != nil {
		d.log.Warnf("read state: %v", err)
		return Uninstalled
	}
	if v != 0 {
		return Installed
	}
	return Uninstalled
}

// Hits is the number of calls that entered the trampoline.
func (d *Descriptor) Hits() uint64 {
	v, err := d.readSlot(trampoline.SlotHits)
	if err != nil {
		d.log.Warnf("read hits: %v", err)
		return 0
	}
	if d.arch == I386 {
		v &= 0xffffffff
	}
	return v
}

// Install writes the jump to the trampoline over the target.
func (d *Descriptor) Install() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.install()
}

// Restore writes the saved original bytes back over the target.
func (d *Descriptor) Restore() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.restore()
}

func (d *Descriptor) logf(format string, args ...interface{}) {
	if d.kind == Once {
		d.log.Infof(format, args...)
		return
	}
	d.log.Debugf(format, args...)
}

func (d *Descriptor) install() error {
	if d.broken != nil {
		return errors.Wrapf(ErrBroken, "%s: %v", d.name, d.broken)
	}
	if d.State() == Installed {
		return errors.Wrapf(ErrAlreadyInstalled, "%s", d.name)
	}
	if err := d.checkPrologue(); err != nil {
		return errors.Wrapf(err, "%s at %#x", d.name, d.target)
	}
	d.logf("Hooking %s", d.name)
	store := func(bk Backup) error {
		if err := d.mem.Write(d.data+trampoline.SlotBackup, bk.data[:]); err != nil {
			return err
		}
		return d.writeSlot(trampoline.SlotState, 1)
	}
	bk, dirty, err := installPatch(d.mem, d.target, d.patch, store)
	if err != nil {
		if dirty {
			d.broken = err
		}
		return errors.Wrapf(err, "hook %s", d.name)
	}
	d.backup, d.saved = bk, true
	d.logf("Original %s: % x", d.name, bk.Bytes())
	d.logf("Injected code: % x", d.patch)
	d.logf("%s successfully hooked", d.name)
	return nil
}

func (d *Descriptor) restore() error {
	if d.broken != nil {
		return errors.Wrapf(ErrBroken, "%s: %v", d.name, d.broken)
	}
	if !d.saved || d.State() != Installed {
		return errors.Wrapf(ErrNotInstalled, "%s", d.name)
	}
	d.logf("Restoring %s", d.name)
	dirty, err := restorePatch(d.mem, d.target, d.backup)
	if err != nil {
		if dirty {
			d.broken = err
		}
		return errors.Wrapf(err, "restore %s", d.name)
	}
	if err := d.writeSlot(trampoline.SlotState, 0); err != nil {
		return err
	}
	d.logf("%s successfully restored", d.name)
	return nil
}

// checkPrologue makes sure the patch only covers code of the target.
func (d *Descriptor) checkPrologue() error {
	n := d.arch.PatchLen()
	var src []byte
	var err error
	// the function may sit at the end of its mapping
	for k := n + maxInstLen - 1; k >= n; k-- {
		if src, err = d.mem.Read(d.target, k); err == nil {
			break
		}
	}
	if err != nil {
		return errors.Wrap(err, "read prologue")
	}
	inf, err := ensureLength(src, n, int(d.arch.Mode()))
	if err != nil {
		return err
	}
	if isDebug {
		pc := uint64(d.target)
		for _, inst := range inf.insts {
			d.log.Debugf("prologue %#x: %s", pc, x86asm.IntelSyntax(inst, pc, nil))
			pc += uint64(inst.Len)
		}
		if !inf.relocatable {
			d.log.Debugf("prologue of %s has relative operands", d.name)
		}
	}
	return nil
}

func (d *Descriptor) readSlot(off int) (uint64, error) {
	b, err := d.mem.Read(d.data+uintptr(off), 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Descriptor) writeSlot(off int, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return d.mem.Write(d.data+uintptr(off), b[:])
}

// Guard keeps a hook removed until Release.
type Guard struct {
	d    *Descriptor
	once sync.Once
	err  error
}

// Disable removes the hook so that the target can be called without
// interception. The returned guard re-installs it.
func (d *Descriptor) Disable() (*Guard, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.restore(); err != nil {
		return nil, err
	}
	return &Guard{d: d}, nil
}

// Release re-installs the hook. Only the first call has an effect; later
// calls return its result.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.d.mu.Lock()
		defer g.d.mu.Unlock()
		g.err = g.d.install()
	})
	return g.err
}
