package coupler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/KevinKickass/OpenCoupler/internal/ur20"
)

type call struct {
	Op    string
	Addr  uint16
	Count uint16
}

// fakeTransport serves registers from two maps and records every request.
type fakeTransport struct {
	mu       sync.Mutex
	input    map[uint16]uint16
	holding  map[uint16]uint16
	calls    []call
	written  [][]uint16
	failOn   map[call]error
	override map[uint16][]uint16
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		input:    make(map[uint16]uint16),
		holding:  make(map[uint16]uint16),
		failOn:   make(map[call]error),
		override: make(map[uint16][]uint16),
	}
}

func (f *fakeTransport) setInput(addr uint16, regs ...uint16) {
	for i, r := range regs {
		f.input[addr+uint16(i)] = r
	}
}

func (f *fakeTransport) setHolding(addr uint16, regs ...uint16) {
	for i, r := range regs {
		f.holding[addr+uint16(i)] = r
	}
}

func (f *fakeTransport) read(op string, src map[uint16]uint16, addr, qty uint16) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := call{Op: op, Addr: addr, Count: qty}
	f.calls = append(f.calls, c)
	if err, ok := f.failOn[c]; ok {
		return nil, err
	}
	if regs, ok := f.override[addr]; ok && op == "input" {
		return regs, nil
	}
	out := make([]uint16, qty)
	for i := range out {
		out[i] = src[addr+uint16(i)]
	}
	return out, nil
}

func (f *fakeTransport) ReadInputRegisters(_ context.Context, addr, qty uint16) ([]uint16, error) {
	return f.read("input", f.input, addr, qty)
}

func (f *fakeTransport) ReadHoldingRegisters(_ context.Context, addr, qty uint16) ([]uint16, error) {
	return f.read("holding", f.holding, addr, qty)
}

func (f *fakeTransport) WriteMultipleRegisters(_ context.Context, addr uint16, values []uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := call{Op: "write", Addr: addr, Count: uint16(len(values))}
	f.calls = append(f.calls, c)
	if err, ok := f.failOn[c]; ok {
		return err
	}
	f.written = append(f.written, append([]uint16(nil), values...))
	for i, v := range values {
		f.holding[addr+uint16(i)] = v
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.written = nil
}

func (f *fakeTransport) dialer() Dialer {
	return func(context.Context, string) (Transport, error) {
		return f, nil
	}
}

// fakeDevice is a minimal codec used where the catalog would get in the way.
type fakeDevice struct {
	readers map[int][]byte
	nextErr error
	commits int
}

func (d *fakeDevice) Inputs() [][]ur20.ChannelValue  { return nil }
func (d *fakeDevice) Outputs() [][]ur20.ChannelValue { return nil }

func (d *fakeDevice) SetOutput(addr ur20.Address, _ ur20.ChannelValue) error {
	return fmt.Errorf("no channel %s", addr)
}

func (d *fakeDevice) Next(_, output []uint16) ([]uint16, error) {
	if d.nextErr != nil {
		return nil, d.nextErr
	}
	return output, nil
}

func (d *fakeDevice) Commit() { d.commits++ }

func (d *fakeDevice) Reader(module int) io.Reader {
	b, ok := d.readers[module]
	if !ok {
		return nil
	}
	return bytes.NewReader(b)
}

type fakeCodec struct {
	modules []ur20.ModuleType
	device  *fakeDevice
	newErr  error
}

func (c *fakeCodec) DecodeModuleList(raw []uint16) ([]ur20.ModuleType, error) {
	if len(raw) != 2*len(c.modules) {
		return nil, fmt.Errorf("got %d registers", len(raw))
	}
	return c.modules, nil
}

func (c *fakeCodec) ParameterWindows(modules []ur20.ModuleType) []ur20.RegisterWindow {
	return make([]ur20.RegisterWindow, len(modules))
}

func (c *fakeCodec) NewDevice(ur20.CouplerConfig) (Device, error) {
	if c.newErr != nil {
		return nil, c.newErr
	}
	return c.device, nil
}
