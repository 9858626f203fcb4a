// Package addrtable maps symbolic names to addresses in a hooked image.
//
// A table pairs a load base with per operating system offsets, written in
// YAML:
//
//	base: 0x400000
//	symbols:
//	  FSlateApplication::Tick:
//	    linux: 0x1cd13f0
//	    windows: 0x730be0
//
// Offsets can also be read from an object file's symbol table.
package addrtable

import (
	"io/ioutil"
	"runtime"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var (
	// ErrNoSymbol means the table has no entry for the name
	ErrNoSymbol = errors.New("symbol not in table")
	// ErrNoOffset means the entry has no offset for the operating system
	ErrNoOffset = errors.New("no offset for this operating system")
)

// Offsets holds one symbol's offset per operating system (GOOS names).
type Offsets map[string]uint64

// Table is an address table.
type Table struct {
	Base    uint64             `yaml:"base"`
	Symbols map[string]Offsets `yaml:"symbols"`
}

// Parse decodes a YAML table.
func Parse(buf []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(buf, &t); err != nil {
		return nil, errors.Wrap(err, "parse address table")
	}
	if t.Symbols == nil {
		t.Symbols = make(map[string]Offsets)
	}
	return &t, nil
}

// Load reads a YAML table from a file.
func Load(path string) (t *Table, err error) {
	var buf []byte
	if buf, err = ioutil.ReadFile(path); err == nil {
		t, err = Parse(buf)
	}
	return
}

// Names returns the symbol names in order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Symbols))
	for n := range t.Symbols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Offset returns the offset of name for goos.
func (t *Table) Offset(name, goos string) (uint64, error) {
	off, ok := t.Symbols[name]
	if !ok {
		return 0, errors.Wrap(ErrNoSymbol, name)
	}
	v, ok := off[goos]
	if !ok {
		return 0, errors.Wrapf(ErrNoOffset, "%s on %s", name, goos)
	}
	return v, nil
}

// ResolveFor returns the absolute address of name in a goos process.
func (t *Table) ResolveFor(name, goos string) (uintptr, error) {
	off, err := t.Offset(name, goos)
	if err != nil {
		return 0, err
	}
	return uintptr(t.Base + off), nil
}

// Resolve returns the absolute address of name for the running system.
func (t *Table) Resolve(name string) (uintptr, error) {
	return t.ResolveFor(name, runtime.GOOS)
}

// Set records the offset of name for goos.
func (t *Table) Set(name, goos string, off uint64) {
	if t.Symbols == nil {
		t.Symbols = make(map[string]Offsets)
	}
	o, ok := t.Symbols[name]
	if !ok {
		o = make(Offsets)
		t.Symbols[name] = o
	}
	o[goos] = off
}

// Marshal encodes the table as YAML.
func (t *Table) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}
