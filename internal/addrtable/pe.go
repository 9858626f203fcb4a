package addrtable

import (
	"debug/pe"
	"io"
)

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

func (f *peFile) GOOS() string { return "windows" }

// Symbols returns COFF symbols as offsets from the image base.
func (f *peFile) Symbols() (map[string]uint64, error) {
	peOff := make(map[string]uint64, len(f.pe.Symbols))
	for _, s := range f.pe.Symbols {
		n := int(s.SectionNumber)
		if n <= 0 || n > len(f.pe.Sections) {
			continue
		}
		peOff[s.Name] = uint64(f.pe.Sections[n-1].VirtualAddress) + uint64(s.Value)
	}
	return peOff, nil
}
