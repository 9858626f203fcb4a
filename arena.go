package nativehook

import (
	"sync"

	"github.com/pkg/errors"
)

// arena hands out small blocks from page-sized chunks obtained from grow.
// Blocks are never freed; descriptors live as long as the process.
type arena struct {
	grow  func(size uintptr) (uintptr, error)
	chunk uintptr
	align uintptr

	mu   sync.Mutex
	next uintptr
	end  uintptr
}

func (a *arena) alloc(size int) (uintptr, error) {
	if size <= 0 {
		return 0, errors.Errorf("bad allocation size %d", size)
	}
	n := (uintptr(size) + a.align - 1) &^ (a.align - 1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next == 0 || a.next+n > a.end {
		c := a.chunk
		if n > c {
			c = (n + a.chunk - 1) &^ (a.chunk - 1)
		}
		base, err := a.grow(c)
		if err != nil {
			return 0, err
		}
		a.next, a.end = base, base+c
	}
	p := a.next
	a.next += n
	return p, nil
}
