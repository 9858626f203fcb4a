package nativehook

import (
	"sync"

	"github.com/k2io/nativehook/internal/trampoline"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type (
	// Arch is the instruction set of the hooked process.
	Arch = trampoline.Arch
	// Convention is the calling convention of the hooked functions.
	Convention = trampoline.Convention
	// Kind selects when the callback runs relative to the original.
	Kind = trampoline.Kind
)

const (
	AMD64 = trampoline.AMD64
	I386  = trampoline.I386

	SysV     = trampoline.SysV
	Thiscall = trampoline.Thiscall

	Once   = trampoline.Once
	Before = trampoline.Before
	After  = trampoline.After
)

// State is whether a hook's patch is currently written over its target.
type State int

const (
	Uninstalled State = iota
	Installed
)

func (s State) String() string {
	if s == Installed {
		return "installed"
	}
	return "uninstalled"
}

var (
	// ErrDoubleHook means the target already has a descriptor
	ErrDoubleHook = errors.New("double hook")
	// ErrHookNotFound means no descriptor exists for the target
	ErrHookNotFound = errors.New("hook not found")
	// ErrAlreadyInstalled means install was called on an installed hook
	ErrAlreadyInstalled = errors.New("hook already installed")
	// ErrNotInstalled means restore was called without a successful install
	ErrNotInstalled = errors.New("hook not installed")
	// ErrShortPrologue means the target's code ends inside the patch window
	ErrShortPrologue = errors.New("function shorter than patch")
	// ErrUnsupported means the arch/convention/kind has no template
	ErrUnsupported = trampoline.ErrUnsupported
	// ErrAddressRange means an address does not fit the architecture
	ErrAddressRange = trampoline.ErrAddressRange
	// ErrBadCallback means the callback address is zero
	ErrBadCallback = errors.New("callback address is zero")
	// ErrBroken means an earlier patch operation failed half way
	ErrBroken = errors.New("hook left in inconsistent state")
)

// Engine creates hook descriptors in one address space and keeps them by
// target address, so that a target is never hooked twice.
type Engine struct {
	space Space
	log   logrus.FieldLogger

	// protect the hooks map
	lock sync.Mutex
	// descriptors with target addresses as keys
	hooks map[uintptr]*Descriptor
	order []*Descriptor
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger replaces the package logger for one engine.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPageSize overrides the page size of the space.
func WithPageSize(n uintptr) Option {
	return func(e *Engine) { e.space.PageSize = n }
}

// WithProtectProc sets the procedure i386 trampolines call to change page
// permissions.
func WithProtectProc(addr uintptr) Option {
	return func(e *Engine) { e.space.ProtectProc = addr }
}

// NewEngine returns an engine installing hooks into space.
func NewEngine(space Space, opts ...Option) (*Engine, error) {
	e := &Engine{
		space: space,
		log:   logger,
		hooks: make(map[uintptr]*Descriptor),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.space.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Space returns the address space the engine patches.
func (e *Engine) Space() Space { return e.space }

// Lookup returns the descriptor created for target.
func (e *Engine) Lookup(target uintptr) (*Descriptor, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	d, ok := e.hooks[target]
	if !ok {
		return nil, ErrHookNotFound
	}
	return d, nil
}

// Descriptors returns every descriptor in creation order.
func (e *Engine) Descriptors() []*Descriptor {
	e.lock.Lock()
	defer e.lock.Unlock()
	out := make([]*Descriptor, len(e.order))
	copy(out, e.order)
	return out
}

// RestoreAll restores every installed hook, newest first. It keeps going
// after a failure and returns the first error.
func (e *Engine) RestoreAll() error {
	var first error
	hooks := e.Descriptors()
	for i := len(hooks) - 1; i >= 0; i-- {
		d := hooks[i]
		if d.State() != Installed {
			continue
		}
		if err := d.Restore(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
