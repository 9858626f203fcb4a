package addrtable

import (
	"debug/macho"
	"io"
)

type machoFile struct {
	macho *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

func (f *machoFile) GOOS() string { return "darwin" }

func (f *machoFile) Symbols() (map[string]uint64, error) {
	machoOff := make(map[string]uint64)
	if f.macho.Symtab == nil {
		return machoOff, nil
	}
	for _, s := range f.macho.Symtab.Syms {
		machoOff[s.Name] = s.Value
	}
	return machoOff, nil
}
