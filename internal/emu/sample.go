package emu

import (
	"encoding/binary"

	"github.com/k2io/nativehook/internal/trampoline"
)

// Sample is a small function to hook and a callback to hook it with.
type Sample struct {
	Target []byte
	// Body is the offset of an instruction past the patch window; it only
	// runs when the original code does.
	Body int
	// Args are passed by Call; on i386 the first one is the this pointer.
	Args []uint64
	// Want is the value the target returns for Args.
	Want uint64
	// Popped is the number of argument bytes the target pops.
	Popped int64
}

// NewSample returns the sample function for arch.
//
// amd64: f(a, b) = 2a + b + 7
//
// i386 thiscall: f(this; a, b) = a + b + this, popping a and b.
func NewSample(arch trampoline.Arch, args ...uint64) Sample {
	if arch == trampoline.I386 {
		if len(args) < 3 {
			args = []uint64{0x1000, 20, 300}
		}
		return Sample{
			Target: []byte{
				0x55,             // push ebp
				0x89, 0xe5,       // mov ebp, esp
				0x8b, 0x45, 0x08, // mov eax, [ebp+8]
				0x03, 0x45, 0x0c, // add eax, [ebp+0xc]
				0x01, 0xc8,       // add eax, ecx
				0x5d,             // pop ebp
				0xc2, 0x08, 0x00, // ret 8
			},
			Body:   9,
			Args:   args[:3],
			Want:   uint64(uint32(args[0] + args[1] + args[2])),
			Popped: 8,
		}
	}
	if len(args) < 2 {
		args = []uint64{5, 11}
	}
	return Sample{
		Target: []byte{
			0x55,                   // push rbp
			0x48, 0x89, 0xe5,       // mov rbp, rsp
			0x48, 0x89, 0xf8,       // mov rax, rdi
			0x48, 0x01, 0xf8,       // add rax, rdi
			0x48, 0x01, 0xf0,       // add rax, rsi
			0x48, 0x83, 0xc0, 0x07, // add rax, 7
			0x5d,                   // pop rbp
			0xc3,                   // ret
		},
		Body: 13,
		Args: args[:2],
		Want: 2*args[0] + args[1] + 7,
	}
}

// Callback returns a callback that stores its first argument (the this
// pointer on i386) at cell and then clobbers every scratch register it may.
// The i386 one pops two stack arguments, like the sample.
func Callback(arch trampoline.Arch, cell uint64) []byte {
	if arch == trampoline.I386 {
		c := []byte{0xb8, 0, 0, 0, 0} // mov eax, cell
		binary.LittleEndian.PutUint32(c[1:], uint32(cell))
		return append(c,
			0x89, 0x08,             // mov [eax], ecx
			0x31, 0xc9,             // xor ecx, ecx
			0x31, 0xd2,             // xor edx, edx
			0x66, 0x0f, 0xef, 0xc0, // pxor xmm0, xmm0
			0xc2, 0x08, 0x00,       // ret 8
		)
	}
	c := []byte{0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0} // mov rax, cell
	binary.LittleEndian.PutUint64(c[2:], cell)
	return append(c,
		0x48, 0x89, 0x38,       // mov [rax], rdi
		0x31, 0xff,             // xor edi, edi
		0x31, 0xf6,             // xor esi, esi
		0x31, 0xd2,             // xor edx, edx
		0x4d, 0x31, 0xc0,       // xor r8, r8
		0x66, 0x0f, 0xef, 0xc0, // pxor xmm0, xmm0
		0xc3,                   // ret
	)
}

// XMMTarget is an amd64 function returning xmm0 + rdi.
func XMMTarget() []byte {
	return []byte{
		0x55,                         // push rbp
		0x48, 0x89, 0xe5,             // mov rbp, rsp
		0x66, 0x48, 0x0f, 0x7e, 0xc0, // movq rax, xmm0
		0x48, 0x01, 0xf8,             // add rax, rdi
		0x5d,                         // pop rbp
		0xc3,                         // ret
	}
}

// XMMStub loads rsi into xmm0 and tail-jumps to target.
func XMMStub(target uint64) []byte {
	stub := []byte{0x66, 0x48, 0x0f, 0x6e, 0xc6} // movq xmm0, rsi
	stub = append(stub, 0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0)
	binary.LittleEndian.PutUint64(stub[7:], target)
	return append(stub, 0xff, 0xe0) // jmp rax
}
