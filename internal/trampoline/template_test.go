package trampoline

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func TestPatchBytes(t *testing.T) {
	p, err := Patch(AMD64, 0x1122334455667788)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x48, 0xb8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0xff, 0xe0}, p)

	p, err = Patch(I386, 0x00401000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb8, 0x00, 0x10, 0x40, 0x00, 0xff, 0xe0}, p)

	_, err = Patch(I386, 1<<32)
	assert.ErrorIs(t, err, ErrAddressRange)
}

func TestPatchDecodes(t *testing.T) {
	for _, a := range []Arch{AMD64, I386} {
		p, err := Patch(a, 0x10000)
		require.NoError(t, err)
		lines, err := Disassemble(a, 0, p)
		require.NoError(t, err)
		require.Len(t, lines, 2, a.String())
		assert.Equal(t, x86asm.MOV, lines[0].Inst.Op)
		assert.Equal(t, x86asm.JMP, lines[1].Inst.Op)
	}
}

func TestCatalog(t *testing.T) {
	for _, k := range []Kind{Once, Before, After} {
		assert.True(t, Supported(AMD64, SysV, k))
		assert.True(t, Supported(I386, Thiscall, k))
		assert.False(t, Supported(AMD64, Thiscall, k))
		assert.False(t, Supported(I386, SysV, k))
	}
	_, err := Build(Params{Arch: AMD64, Convention: Thiscall, Kind: Once})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestI386AddressRange(t *testing.T) {
	_, err := Build(Params{Arch: I386, Convention: Thiscall, Kind: Before, Data: 0xffffffe0, Code: 0x1000})
	assert.ErrorIs(t, err, ErrAddressRange)
}

// patchCalls counts relative calls into the patch routine, which is the
// only near call target inside a template.
func patchCalls(lines []Line) int {
	n := 0
	for _, l := range lines {
		if l.Inst.Op != x86asm.CALL {
			continue
		}
		if _, ok := l.Inst.Args[0].(x86asm.Rel); ok {
			n++
		}
	}
	return n
}

func TestTemplatesDecode(t *testing.T) {
	cases := []struct {
		arch  Arch
		conv  Convention
		data  uint64
		code  uint64
		kind  Kind
		calls int
	}{
		{AMD64, SysV, 0x7f0000001000, 0x7f0000002000, Once, 1},
		{AMD64, SysV, 0x7f0000001000, 0x7f0000002000, Before, 2},
		{AMD64, SysV, 0x7f0000001000, 0x7f0000002000, After, 2},
		{I386, Thiscall, 0x00601000, 0x00602000, Once, 1},
		{I386, Thiscall, 0x00601000, 0x00602000, Before, 2},
		{I386, Thiscall, 0x00601000, 0x00602000, After, 2},
	}
	for _, c := range cases {
		t.Run(c.arch.String()+"/"+c.kind.String(), func(t *testing.T) {
			tpl, err := Build(Params{Arch: c.arch, Convention: c.conv, Kind: c.kind, Data: c.data, Code: c.code})
			require.NoError(t, err)
			assert.Equal(t, c.code, tpl.Entry)

			lines, err := Disassemble(c.arch, c.code, tpl.Code)
			require.NoError(t, err)
			assert.Equal(t, c.calls, patchCalls(lines), "unhook/re-hook calls")

			var syscalls, ud2 int
			for _, l := range lines {
				switch l.Inst.Op {
				case x86asm.SYSCALL:
					syscalls++
				case x86asm.UD2:
					ud2++
				}
			}
			assert.Equal(t, 1, ud2, "single abort path")
			if c.arch == AMD64 {
				assert.Equal(t, 2, syscalls)
			} else {
				assert.Zero(t, syscalls)
			}
		})
	}
}

func TestI386TemplateUsesDataSlots(t *testing.T) {
	const data = 0x00601000
	tpl, err := Build(Params{Arch: I386, Convention: Thiscall, Kind: Before, Data: data, Code: 0x602000})
	require.NoError(t, err)

	var hits [4]byte
	binary.LittleEndian.PutUint32(hits[:], data+SlotHits)
	assert.Contains(t, string(tpl.Code), string(hits[:]))

	lines, err := Disassemble(I386, 0x602000, tpl.Code)
	require.NoError(t, err)
	// the first instruction counts the interception
	assert.Equal(t, x86asm.INC, lines[0].Inst.Op)
	assert.Equal(t, int64(data+SlotHits), lines[0].Inst.Args[0].(x86asm.Mem).Disp)
}

func TestSameShapeSameLength(t *testing.T) {
	for _, k := range []Kind{Once, Before, After} {
		a, err := Build(Params{Arch: AMD64, Convention: SysV, Kind: k, Data: 0x1000, Code: 0x2000})
		require.NoError(t, err)
		b, err := Build(Params{Arch: AMD64, Convention: SysV, Kind: k, Data: 0x7fff00001000, Code: 0x7fff00009000})
		require.NoError(t, err)
		assert.Equal(t, len(a.Code), len(b.Code), k.String())
	}
}

func TestLineString(t *testing.T) {
	lines, err := Disassemble(AMD64, 0x1000, []byte{0xc3})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].String(), "ret")
}

func TestDisassembleRejectsTruncated(t *testing.T) {
	_, err := Disassemble(AMD64, 0x1000, []byte{0x48, 0xb8, 0x01, 0x02})
	assert.ErrorIs(t, err, x86asm.ErrUnrecognized)
}

func TestArgWindow(t *testing.T) {
	assert.Equal(t, 0x5c, ArgWindow)
}
