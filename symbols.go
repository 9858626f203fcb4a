package nativehook

import (
	"github.com/k2io/nativehook/internal/addrtable"
	"github.com/pkg/errors"
)

// GetSymbols returns the symbol values of an ELF, PE or Mach-O file.
func GetSymbols(name string) (map[string]uintptr, error) {
	syms, _, err := addrtable.ReadSymbols(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uintptr, len(syms))
	for n, v := range syms {
		out[n] = uintptr(v)
	}
	return out, nil
}

// LoadAddresses reads a YAML address table and resolves every symbol that
// has an offset for the running system against base. A zero base keeps the
// table's own.
func LoadAddresses(path string, base uintptr) (map[string]uintptr, error) {
	t, err := addrtable.Load(path)
	if err != nil {
		return nil, err
	}
	if base != 0 {
		t.Base = uint64(base)
	}
	out := make(map[string]uintptr, len(t.Symbols))
	for _, n := range t.Names() {
		addr, err := t.Resolve(n)
		if errors.Cause(err) == addrtable.ErrNoOffset {
			logger.Debugf("%s has no offset for this system", n)
			continue
		}
		if err != nil {
			return nil, err
		}
		out[n] = addr
	}
	return out, nil
}
