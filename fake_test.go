package nativehook

import (
	"fmt"

	"github.com/pkg/errors"
)

type region struct {
	base uintptr
	data []byte
	prot string
}

// fakeMemory is an address space made of a few byte slices. It records
// every operation in ops.
type fakeMemory struct {
	regions []*region
	ops     []string
	fail    map[string]bool
	next    uintptr
	data    uintptr
}

const (
	fakeText = 0x10000
	fakeCode = 0x20000
	fakeData = 0x30000
)

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		regions: []*region{
			{base: fakeText, data: make([]byte, 0x1000), prot: "rx"},
			{base: fakeCode, data: make([]byte, 0x2000), prot: "rw"},
			{base: fakeData, data: make([]byte, 0x1000), prot: "rw"},
		},
		fail: make(map[string]bool),
		next: fakeCode,
		data: fakeData,
	}
}

func (m *fakeMemory) find(addr uintptr, n int) (*region, int, error) {
	for _, r := range m.regions {
		if addr >= r.base && addr+uintptr(n) <= r.base+uintptr(len(r.data)) {
			return r, int(addr - r.base), nil
		}
	}
	return nil, 0, errors.Errorf("%#x+%d unmapped", addr, n)
}

func (m *fakeMemory) op(name string, addr uintptr) error {
	m.ops = append(m.ops, fmt.Sprintf("%s %#x", name, addr))
	if m.fail[name] {
		return errors.Errorf("%s refused", name)
	}
	return nil
}

func (m *fakeMemory) Read(addr uintptr, n int) ([]byte, error) {
	r, off, err := m.find(addr, n)
	if err != nil {
		return nil, err
	}
	if r.base != fakeData {
		if err := m.op("read", addr); err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), r.data[off:off+n]...), nil
}

func (m *fakeMemory) Write(addr uintptr, b []byte) error {
	r, off, err := m.find(addr, len(b))
	if err != nil {
		return err
	}
	if r.base != fakeData {
		if err := m.op("write", addr); err != nil {
			return err
		}
	}
	copy(r.data[off:], b)
	return nil
}

func (m *fakeMemory) setProt(addr uintptr, prot string) error {
	r, _, err := m.find(addr, 1)
	if err != nil {
		return err
	}
	r.prot = prot
	return nil
}

func (m *fakeMemory) SetWritable(addr uintptr, size int) error {
	if err := m.op("writable", addr); err != nil {
		return err
	}
	return m.setProt(addr, "rwx")
}

func (m *fakeMemory) SetExecutable(addr uintptr, size int) error {
	if err := m.op("executable", addr); err != nil {
		return err
	}
	return m.setProt(addr, "rx")
}

func (m *fakeMemory) AllocCode(size int) (uintptr, error) {
	p := m.next
	m.next += uintptr(size+0xff) &^ 0xff
	if _, _, err := m.find(p, size); err != nil {
		return 0, err
	}
	return p, nil
}

func (m *fakeMemory) SealCode(addr uintptr, size int) error { return nil }

func (m *fakeMemory) AllocData(size int) (uintptr, error) {
	p := m.data
	m.data += uintptr(size+15) &^ 15
	if _, _, err := m.find(p, size); err != nil {
		return 0, err
	}
	return p, nil
}

func (m *fakeMemory) load(addr uintptr, code []byte) {
	r, off, err := m.find(addr, len(code))
	if err != nil {
		panic(err)
	}
	copy(r.data[off:], code)
}

// bytes reads memory without recording an operation.
func (m *fakeMemory) bytes(addr uintptr, n int) []byte {
	r, off, err := m.find(addr, n)
	if err != nil {
		panic(err)
	}
	return append([]byte(nil), r.data[off:off+n]...)
}

func (m *fakeMemory) prot(addr uintptr) string {
	r, _, err := m.find(addr, 1)
	if err != nil {
		panic(err)
	}
	return r.prot
}

func (m *fakeMemory) space(a Arch) Space {
	s := Space{
		Arch:       a,
		Convention: SysV,
		Memory:     m,
		Allocator:  m,
		PageSize:   0x1000,
	}
	if a == I386 {
		s.Convention = Thiscall
		s.ProtectProc = 0x7000
	}
	return s
}

// push rbp; mov rbp, rsp; mov rax, rdi; add rax, rdi; add rax, rsi;
// add rax, 7; pop rbp; ret
var sample64 = []byte{
	0x55, 0x48, 0x89, 0xe5, 0x48, 0x89, 0xf8, 0x48, 0x01, 0xf8,
	0x48, 0x01, 0xf0, 0x48, 0x83, 0xc0, 0x07, 0x5d, 0xc3,
}

// push ebp; mov ebp, esp; mov eax, [ebp+8]; add eax, [ebp+0xc];
// add eax, ecx; pop ebp; ret 8
var sample32 = []byte{
	0x55, 0x89, 0xe5, 0x8b, 0x45, 0x08, 0x03, 0x45, 0x0c,
	0x01, 0xc8, 0x5d, 0xc2, 0x08, 0x00,
}
