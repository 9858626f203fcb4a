package addrtable

import (
	"os"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tab, err := Load("testdata/game.yaml")
	require.NoError(t, err)
	assert.Len(t, tab.Symbols, 7)
	assert.Equal(t, "AMyCharacter::ForcedUnCrouch", tab.Names()[0])

	off, err := tab.Offset("FEngineLoop::Tick", "linux")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1905D98), off)
	off, err = tab.Offset("FEngineLoop::Tick", "windows")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4E8BBC), off)
}

func TestResolveAddsBase(t *testing.T) {
	tab, err := Load("testdata/game.yaml")
	require.NoError(t, err)
	tab.Base = 0x400000
	addr, err := tab.ResolveFor("FSlateApplication::Tick", "windows")
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x400000+0x730be0), addr)
}

func TestResolveErrors(t *testing.T) {
	tab, err := Parse([]byte("symbols:\n  only_linux:\n    linux: 0x10\n"))
	require.NoError(t, err)

	_, err = tab.ResolveFor("missing", "linux")
	assert.Equal(t, ErrNoSymbol, errors.Cause(err))
	_, err = tab.ResolveFor("only_linux", "windows")
	assert.Equal(t, ErrNoOffset, errors.Cause(err))

	if runtime.GOOS == "linux" {
		addr, err := tab.Resolve("only_linux")
		require.NoError(t, err)
		assert.Equal(t, uintptr(0x10), addr)
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("symbols: [1, 2"))
	assert.Error(t, err)
}

func TestSetAndMarshal(t *testing.T) {
	var tab Table
	tab.Set("f", "linux", 0x20)
	tab.Set("f", "windows", 0x30)
	buf, err := tab.Marshal()
	require.NoError(t, err)

	back, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, Offsets{"linux": 0x20, "windows": 0x30}, back.Symbols["f"])
}

func TestFromObject(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	tab, err := FromObject(exe)
	if err != nil {
		t.Skipf("no symbols in test binary: %v", err)
	}
	want := runtime.GOOS
	if want != "windows" && want != "darwin" {
		want = "linux"
	}
	_, err = tab.Offset("main.main", want)
	if err != nil {
		// mach-o names carry a leading underscore
		_, err = tab.Offset("_main.main", want)
	}
	assert.NoError(t, err)
}

func TestFromObjectRejectsText(t *testing.T) {
	_, err := FromObject("testdata/game.yaml")
	assert.Equal(t, ErrUnknownObject, errors.Cause(err))
}
