package main

import (
	"strings"

	"github.com/k2io/nativehook"
	"github.com/pkg/errors"
)

func parseArch(s string) (nativehook.Arch, error) {
	switch strings.ToLower(s) {
	case "amd64", "x86_64", "x64":
		return nativehook.AMD64, nil
	case "i386", "386", "x86":
		return nativehook.I386, nil
	}
	return 0, errors.Errorf("unknown arch %q", s)
}

func parseKind(s string) (nativehook.Kind, error) {
	switch strings.ToLower(s) {
	case "once":
		return nativehook.Once, nil
	case "before":
		return nativehook.Before, nil
	case "after":
		return nativehook.After, nil
	}
	return 0, errors.Errorf("unknown hook kind %q", s)
}
