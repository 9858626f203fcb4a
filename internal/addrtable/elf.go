package addrtable

import (
	"debug/elf"
	"io"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) GOOS() string { return "linux" }

func (e *elfFile) Symbols() (map[string]uint64, error) {
	elfSyms, err := e.elf.Symbols()
	if err != nil {
		return nil, err
	}
	return getElfOff(elfSyms), nil
}

func getElfOff(stab []elf.Symbol) map[string]uint64 {
	elfOff := make(map[string]uint64, len(stab))
	for _, k := range stab {
		if elf.ST_TYPE(k.Info) != elf.STT_FUNC && elf.ST_TYPE(k.Info) != elf.STT_OBJECT {
			continue
		}
		elfOff[k.Name] = k.Value
	}
	return elfOff
}
