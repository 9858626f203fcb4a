package addrtable

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// rawFile is an opened object file of some format.
type rawFile interface {
	// GOOS is the operating system the format belongs to.
	GOOS() string
	Symbols() (map[string]uint64, error)
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openElf,
	openPE,
	openMacho,
}

// ErrUnknownObject means the file is not ELF, PE or Mach-O.
var ErrUnknownObject = errors.New("unrecognized object file")

// ReadSymbols returns the symbol values of an object file and the
// operating system its format belongs to.
func ReadSymbols(name string) (map[string]uint64, string, error) {
	r, err := os.Open(name)
	if err != nil {
		return nil, "", err
	}
	defer r.Close()
	for _, try := range objType {
		raw, err := try(r)
		if err != nil {
			log.Debugf("%s: %v", name, err)
			continue
		}
		syms, err := raw.Symbols()
		if err != nil {
			return nil, "", errors.Wrapf(err, "read symbols of %s", name)
		}
		return syms, raw.GOOS(), nil
	}
	return nil, "", errors.Wrapf(ErrUnknownObject, "open %s", name)
}

// FromObject builds a table from the symbols of an object file. Offsets are
// recorded for the operating system of the file's format and the base is
// left at zero.
func FromObject(name string) (*Table, error) {
	syms, goos, err := ReadSymbols(name)
	if err != nil {
		return nil, err
	}
	t := &Table{Symbols: make(map[string]Offsets, len(syms))}
	for n, v := range syms {
		if n == "" || v == 0 {
			continue
		}
		t.Set(n, goos, v)
	}
	log.Debugf("%s: %d symbols for %s", name, len(t.Symbols), goos)
	return t, nil
}
