package main

import (
	"testing"

	"github.com/k2io/nativehook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	a, err := parseArch("x86")
	require.NoError(t, err)
	assert.Equal(t, nativehook.I386, a)
	a, err = parseArch("AMD64")
	require.NoError(t, err)
	assert.Equal(t, nativehook.AMD64, a)
	_, err = parseArch("arm64")
	assert.Error(t, err)

	k, err := parseKind("After")
	require.NoError(t, err)
	assert.Equal(t, nativehook.After, k)
	_, err = parseKind("twice")
	assert.Error(t, err)
}

func run(args ...string) error {
	c := newRootCmd()
	c.SetArgs(args)
	return c.Execute()
}

func TestTrampolineCmd(t *testing.T) {
	assert.NoError(t, run("trampoline", "--arch", "i386", "--kind", "after"))
	assert.NoError(t, run("trampoline", "--arch", "amd64", "--kind", "once", "--code", "0x7f0000001000"))
	assert.Error(t, run("trampoline", "--arch", "i386", "--code", "0x100000000"))
	assert.Error(t, run("trampoline", "--kind", "sometimes"))
}

func TestTableCmd(t *testing.T) {
	assert.NoError(t, run("table", "../../internal/addrtable/testdata/game.yaml", "--os", "windows", "--base", "0x400000"))
	assert.NoError(t, run("table", "../../internal/addrtable/testdata/game.yaml", "FEngineLoop::Tick", "--os", "linux"))
	assert.Error(t, run("table", "../../internal/addrtable/testdata/game.yaml", "Missing", "--os", "linux"))
	assert.Error(t, run("table", "missing.yaml"))
}

func TestSymbolsCmdRejectsText(t *testing.T) {
	assert.Error(t, run("symbols", "../../internal/addrtable/testdata/game.yaml"))
}
