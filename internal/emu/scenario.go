package emu

import (
	"bytes"
	"encoding/binary"

	"github.com/k2io/nativehook"
	"github.com/pkg/errors"
)

// CallReport describes one call through a hooked sample.
type CallReport struct {
	Result
	// Want is what the unhooked sample returned for the same call.
	Want uint64
	// Patched is set when the patch was in place after the call.
	Patched bool
	State   nativehook.State
}

// Report is the outcome of Run.
type Report struct {
	Arch  nativehook.Arch
	Kind  nativehook.Kind
	Calls []CallReport
	// Events lists "callback" and "original" in execution order.
	Events    []string
	Callbacks int
	Originals int
	Hits      uint64
	// Recorded is the last value the callback stored: its first argument.
	Recorded uint64
	State    nativehook.State
}

// Baseline calls the unhooked sample n times in a fresh emulator.
func Baseline(arch nativehook.Arch, n int) ([]Result, error) {
	e, err := New(arch)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	s := NewSample(arch)
	fn, err := e.Load(s.Target)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		res, err := e.Call(fn, s.Args...)
		if err != nil {
			return nil, errors.Wrapf(err, "baseline call %d", i)
		}
		out = append(out, res)
	}
	return out, nil
}

// Run hooks the sample function with a recording callback and calls it n
// times, comparing every result with an unhooked run.
func Run(arch nativehook.Arch, kind nativehook.Kind, n int, opts ...nativehook.Option) (*Report, error) {
	base, err := Baseline(arch, n)
	if err != nil {
		return nil, err
	}
	e, err := New(arch)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	s := NewSample(arch)
	target, err := e.Load(s.Target)
	if err != nil {
		return nil, err
	}
	cell, err := e.AllocData(8)
	if err != nil {
		return nil, err
	}
	cb, err := e.Load(Callback(arch, uint64(cell)))
	if err != nil {
		return nil, err
	}
	if err := e.Watch(cb, "callback"); err != nil {
		return nil, err
	}
	if err := e.Watch(target+uintptr(s.Body), "original"); err != nil {
		return nil, err
	}

	eng, err := nativehook.NewEngine(e.Space(), opts...)
	if err != nil {
		return nil, err
	}
	d, err := eng.New("sample", target, cb, kind)
	if err != nil {
		return nil, err
	}
	if err := d.Install(); err != nil {
		return nil, err
	}

	r := &Report{Arch: arch, Kind: kind}
	patch := d.Patch()
	for i := 0; i < n; i++ {
		res, err := e.Call(target, s.Args...)
		if err != nil {
			return r, errors.Wrapf(err, "call %d", i)
		}
		now, err := e.Read(target, len(patch))
		if err != nil {
			return r, err
		}
		r.Calls = append(r.Calls, CallReport{
			Result:  res,
			Want:    base[i].Ret,
			Patched: bytes.Equal(now, patch),
			State:   d.State(),
		})
	}
	r.Events = e.Events()
	for _, ev := range r.Events {
		switch ev {
		case "callback":
			r.Callbacks++
		case "original":
			r.Originals++
		}
	}
	r.Hits = d.Hits()
	r.State = d.State()
	b, err := e.Read(cell, 8)
	if err != nil {
		return r, err
	}
	r.Recorded = binary.LittleEndian.Uint64(b)
	if arch == nativehook.I386 {
		r.Recorded &= 0xffffffff
	}
	return r, nil
}
