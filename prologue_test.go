package nativehook

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func TestEnsureLength(t *testing.T) {
	inf, err := ensureLength(sample64, 12, 64)
	require.NoError(t, err)
	assert.Equal(t, 13, inf.length)
	assert.Len(t, inf.insts, 5)
	assert.True(t, inf.relocatable)

	inf, err = ensureLength(sample32, 7, 32)
	require.NoError(t, err)
	assert.Equal(t, 9, inf.length)
	assert.True(t, inf.relocatable)
}

func TestEnsureLengthShortFunction(t *testing.T) {
	tests := map[string][]byte{
		"ret":          {0xc3, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc, 0xcc},
		"push ret":     {0x55, 0x5d, 0xc3, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90},
		"jmp":          {0xeb, 0x10, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90},
		"out of code":  {0x55, 0x48, 0x89, 0xe5},
		"int3 padding": {0x90, 0xcd, 0x03, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0x90},
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ensureLength(src, 12, 64)
			assert.Equal(t, ErrShortPrologue, errors.Cause(err))
		})
	}
}

func TestEnsureLengthTerminatorAtEnd(t *testing.T) {
	// a ret that ends exactly at the window edge leaves nothing behind to clobber
	src := []byte{0x90, 0x90, 0x90, 0x90, 0x90, 0x90, 0xc3}
	inf, err := ensureLength(src, 7, 32)
	require.NoError(t, err)
	assert.Equal(t, 7, inf.length)
}

func TestEnsureLengthRelative(t *testing.T) {
	// mov rax, [rip]; call rel32
	src := []byte{
		0x48, 0x8b, 0x05, 0x00, 0x00, 0x00, 0x00,
		0xe8, 0x00, 0x00, 0x00, 0x00,
	}
	inf, err := ensureLength(src, 12, 64)
	require.NoError(t, err)
	assert.False(t, inf.relocatable)
}

func TestEnsureLengthBadCode(t *testing.T) {
	// truncated mov rax, imm64
	_, err := ensureLength([]byte{0x48, 0xb8, 0x01, 0x02}, 4, 64)
	assert.Equal(t, x86asm.ErrUnrecognized, errors.Cause(err))

	// valid push rbp, then a lone operand-size prefix
	_, err = ensureLength([]byte{0x55, 0x66}, 2, 64)
	assert.Equal(t, x86asm.ErrUnrecognized, errors.Cause(err))
}
