//go:build !(linux && amd64) && !(windows && 386)

package nativehook

import (
	"runtime"

	"github.com/pkg/errors"
)

// Process returns the space of the running process. Only linux/amd64 and
// windows/386 processes can be hooked in place.
func Process() (Space, error) {
	return Space{}, errors.Wrapf(ErrUnsupported, "%s/%s", runtime.GOOS, runtime.GOARCH)
}
