package trampoline

import (
	"github.com/k2io/nativehook/internal/asm"
)

// Params places one instance of a template in memory.
type Params struct {
	Arch       Arch
	Convention Convention
	Kind       Kind
	// Data is the address of the hook's data block.
	Data uint64
	// Code is the address the generated code will be copied to.
	Code uint64
}

// Template is an instantiated interceptor.
type Template struct {
	Code []byte
	// Entry is the address the jump patch must target.
	Entry uint64
}

type shape struct {
	arch Arch
	conv Convention
	kind Kind
}

type emitter func(b *asm.Builder, data uint64)

var catalog = map[shape]emitter{
	{AMD64, SysV, Once}:      amd64Once,
	{AMD64, SysV, Before}:    amd64Before,
	{AMD64, SysV, After}:     amd64After,
	{I386, Thiscall, Once}:   i386Once,
	{I386, Thiscall, Before}: i386Before,
	{I386, Thiscall, After}:  i386After,
}

// Supported reports whether a template exists for the shape.
func Supported(a Arch, c Convention, k Kind) bool {
	_, ok := catalog[shape{a, c, k}]
	return ok
}

// Build emits the template selected by p for the given addresses.
func Build(p Params) (*Template, error) {
	emit, ok := catalog[shape{p.Arch, p.Convention, p.Kind}]
	if !ok {
		return nil, ErrUnsupported
	}
	if p.Arch == I386 && (p.Data+DataSize > 1<<32 || p.Code > 0xffffffff) {
		return nil, ErrAddressRange
	}
	b := asm.New(p.Arch.Mode(), p.Code)
	emit(b, p.Data)
	code, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return &Template{Code: code, Entry: p.Code}, nil
}
