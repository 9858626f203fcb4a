package nativehook

import (
	"github.com/k2io/nativehook/internal/trampoline"
	"github.com/pkg/errors"
)

// Backup holds the original bytes a patch overwrote.
type Backup struct {
	n    int
	data [trampoline.MaxPatchLen]byte
}

func newBackup(b []byte) Backup {
	var bk Backup
	bk.n = copy(bk.data[:], b)
	return bk
}

// Bytes returns a copy of the saved bytes.
func (b Backup) Bytes() []byte {
	out := make([]byte, b.n)
	copy(out, b.data[:b.n])
	return out
}

// Len is the number of saved bytes, zero for an empty backup.
func (b Backup) Len() int { return b.n }

// PatchBytes encodes the absolute jump written over a target: the entry
// address is loaded into the accumulator and jumped through.
func PatchBytes(a Arch, entry uintptr) ([]byte, error) {
	return trampoline.Patch(a, uint64(entry))
}

// installPatch saves the bytes at target and writes patch over them. store
// receives the backup before the first byte of target changes. dirty
// reports whether target was modified before a failure.
func installPatch(mem Memory, target uintptr, patch []byte, store func(Backup) error) (bk Backup, dirty bool, err error) {
	if err = mem.SetWritable(target, len(patch)); err != nil {
		return bk, false, errors.Wrapf(err, "make %#x writable", target)
	}
	orig, err := mem.Read(target, len(patch))
	if err != nil {
		return bk, false, reprotect(mem, target, len(patch), errors.Wrapf(err, "read %#x", target))
	}
	bk = newBackup(orig)
	if err = store(bk); err != nil {
		return bk, false, reprotect(mem, target, len(patch), errors.Wrap(err, "store backup"))
	}
	if err = mem.Write(target, patch); err != nil {
		return bk, true, errors.Wrapf(err, "write patch at %#x", target)
	}
	if err = mem.SetExecutable(target, len(patch)); err != nil {
		return bk, true, errors.Wrapf(err, "make %#x executable", target)
	}
	return bk, true, nil
}

// reprotect puts an untouched target back to executable after a failed
// install and returns cause.
func reprotect(mem Memory, target uintptr, size int, cause error) error {
	if err := mem.SetExecutable(target, size); err != nil {
		return errors.Wrapf(cause, "and %#x left writable: %v", target, err)
	}
	return cause
}

// restorePatch writes the backup back over target.
func restorePatch(mem Memory, target uintptr, bk Backup) (dirty bool, err error) {
	if bk.n == 0 {
		return false, ErrNotInstalled
	}
	if err = mem.SetWritable(target, bk.n); err != nil {
		return false, errors.Wrapf(err, "make %#x writable", target)
	}
	if err = mem.Write(target, bk.data[:bk.n]); err != nil {
		return true, errors.Wrapf(err, "write backup at %#x", target)
	}
	if err = mem.SetExecutable(target, bk.n); err != nil {
		return true, errors.Wrapf(err, "make %#x executable", target)
	}
	return true, nil
}
