package coupler

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/KevinKickass/OpenCoupler/internal/modbus"
	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	id4DI = 0x00091F84
	id4DO = 0x01012FA0
	id4AO = 0x06092544
)

func packIdentity(s string) []uint16 {
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, 0)
	}
	regs := make([]uint16, len(b)/2)
	for i := range regs {
		regs[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return regs
}

func newTestCodec(t *testing.T) Codec {
	t.Helper()
	catalog, err := ur20.NewCatalog()
	require.NoError(t, err)
	return NewUR20Codec(ur20.NewCodec(catalog))
}

// threeModuleCoupler sets up a 4DI, a 4DO and a 4AO module.
func threeModuleCoupler() *fakeTransport {
	f := newFakeTransport()
	f.setInput(ur20.AddrCouplerID, packIdentity("UR20 FBC MOD 1")...)
	f.setInput(ur20.AddrCurrentModuleCount, 3)
	f.setInput(ur20.AddrCurrentModuleList,
		id4DI>>16, id4DI&0xFFFF,
		id4DO>>16, id4DO&0xFFFF,
		id4AO>>16, id4AO&0xFFFF)
	f.setInput(ur20.AddrModuleOffsets, 0, ur20.NoOffset, ur20.NoOffset, 0, ur20.NoOffset, 16)
	f.setInput(ur20.AddrProcessInputLen, 4)
	f.setInput(ur20.AddrProcessOutputLen, 80)
	f.setHolding(ur20.AddrModuleParameters, 1)
	return f
}

func connect(t *testing.T, f *fakeTransport, codec Codec) *Session {
	t.Helper()
	s, err := Connect(context.Background(), f.dialer(), "fake:502", codec, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestRegisterCount(t *testing.T) {
	tests := map[uint16]uint16{
		0: 0, 1: 1, 8: 1, 9: 1, 16: 1, 17: 2, 32: 2, 33: 3, 80: 5, 65535: 4096,
	}
	for bits, want := range tests {
		require.Equal(t, want, RegisterCount(bits), "bits=%d", bits)
	}
}

func TestDecodeIdentity(t *testing.T) {
	require.Equal(t, "UR20 FBC MOD 1", decodeIdentity(packIdentity("UR20 FBC MOD 1")))
	require.Equal(t, "\uFFFD\x00", decodeIdentity([]uint16{0x00FF}))
	require.Equal(t, "", decodeIdentity(nil))

	tests := []struct {
		name string
		regs []uint16
		want string
	}{
		{"truncated three byte sequence", []uint16{0x82E2, 0x0041}, "\uFFFDA\x00"},
		{"truncated four byte sequence", []uint16{0x9FF0, 0x4192}, "\uFFFDA"},
		{"stray continuation bytes", []uint16{0x8080}, "\uFFFD\uFFFD"},
		{"surrogate lead", []uint16{0xA0ED, 0x4180}, "\uFFFD\uFFFD\uFFFDA"},
		{"valid multibyte", []uint16{0xA9C3, 0x0041}, "\u00e9A\x00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, decodeIdentity(tt.regs))
		})
	}
}

func TestDiscoveryOrder(t *testing.T) {
	require := require.New(t)
	f := threeModuleCoupler()

	s := connect(t, f, newTestCodec(t))
	require.Equal(StateReady, s.State())
	require.Equal([]call{
		{"input", ur20.AddrCouplerID, ur20.CouplerIDRegisters},
		{"input", ur20.AddrCurrentModuleCount, 1},
		{"input", ur20.AddrCurrentModuleList, 6},
		{"input", ur20.AddrModuleOffsets, 6},
		{"input", ur20.AddrProcessInputLen, 1},
		{"input", ur20.AddrProcessOutputLen, 1},
		{"holding", 0xC000, 1},
		{"holding", 0xC200, 13},
	}, f.Calls())

	require.Equal("UR20 FBC MOD 1", s.DiscoveredIdentity())
	require.Equal(uint16(1), s.InputRegisterCount())
	require.Equal(uint16(5), s.OutputRegisterCount())

	mods := s.Modules()
	require.Len(mods, 3)
	require.Equal("UR20-4AO-UI-16", mods[2].Name)
}

func TestDiscoveryZeroModules(t *testing.T) {
	require := require.New(t)
	f := newFakeTransport()
	f.setInput(ur20.AddrCouplerID, packIdentity("empty")...)

	s := connect(t, f, newTestCodec(t))
	require.Empty(s.Modules())
	require.Equal([]call{
		{"input", ur20.AddrCouplerID, ur20.CouplerIDRegisters},
		{"input", ur20.AddrCurrentModuleCount, 1},
		{"input", ur20.AddrProcessInputLen, 1},
		{"input", ur20.AddrProcessOutputLen, 1},
	}, f.Calls())

	// no process image: tick touches nothing
	f.reset()
	require.NoError(s.Tick(context.Background()))
	require.Empty(f.Calls())

	in, err := s.Inputs()
	require.NoError(err)
	require.Empty(in)
}

func TestDiscoveryFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fakeTransport, c *fakeCodec)
		want  error
	}{
		{
			name:  "empty module count",
			setup: func(f *fakeTransport, _ *fakeCodec) { f.override[ur20.AddrCurrentModuleCount] = []uint16{} },
			want:  ErrProtocolViolation,
		},
		{
			name: "identity exception",
			setup: func(f *fakeTransport, _ *fakeCodec) {
				f.failOn[call{"input", ur20.AddrCouplerID, ur20.CouplerIDRegisters}] = &modbus.ExceptionError{
					FunctionCode: modbus.FuncCodeReadInputRegisters, ExceptionCode: modbus.ExceptionIllegalDataAddress,
				}
			},
			want: ErrDeviceException,
		},
		{
			name: "connection reset",
			setup: func(f *fakeTransport, _ *fakeCodec) {
				f.failOn[call{"input", ur20.AddrProcessInputLen, 1}] = io.ErrUnexpectedEOF
			},
			want: ErrTransport,
		},
		{
			name: "malformed response",
			setup: func(f *fakeTransport, _ *fakeCodec) {
				f.failOn[call{"input", ur20.AddrModuleOffsets, 2}] = modbus.ErrMalformed
			},
			want: ErrProtocolViolation,
		},
		{
			name:  "module list decode",
			setup: func(f *fakeTransport, _ *fakeCodec) { f.setInput(ur20.AddrCurrentModuleCount, 2) },
			want:  ErrDecode,
		},
		{
			name:  "device construction",
			setup: func(_ *fakeTransport, c *fakeCodec) { c.newErr = errors.New("offsets do not match") },
			want:  ErrDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeTransport()
			f.setInput(ur20.AddrCurrentModuleCount, 1)
			codec := &fakeCodec{modules: []ur20.ModuleType{{ID: 1, Name: "UR20-X"}}, device: &fakeDevice{}}
			tt.setup(f, codec)

			s, err := Connect(context.Background(), f.dialer(), "fake:502", codec, zaptest.NewLogger(t))
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, s)
			require.True(t, f.closed)
		})
	}
}

func TestConnectDialFailure(t *testing.T) {
	dial := func(context.Context, string) (Transport, error) {
		return nil, errors.New("connection refused")
	}
	_, err := Connect(context.Background(), dial, "fake:502", &fakeCodec{}, nil)
	require.ErrorIs(t, err, ErrTransport)
}

func TestTickAppliesStagedOutputs(t *testing.T) {
	require := require.New(t)
	f := threeModuleCoupler()
	f.setInput(ur20.AddrPackedProcessInputData, 0b1010)
	s := connect(t, f, newTestCodec(t))
	ctx := context.Background()

	require.NoError(s.SetOutput(ur20.Address{Module: 1, Channel: 2}, ur20.Bit(true)))
	require.NoError(s.SetOutput(ur20.Address{Module: 2, Channel: 1}, ur20.Word(0x1234)))

	f.reset()
	require.NoError(s.Tick(ctx))
	require.Equal([]call{
		{"input", ur20.AddrPackedProcessInputData, 1},
		{"holding", ur20.AddrPackedProcessOutputData, 5},
		{"write", ur20.AddrPackedProcessOutputData, 5},
	}, f.Calls())
	require.Equal([][]uint16{{0b0100, 0, 0x1234, 0, 0}}, f.written)

	out, err := s.Outputs()
	require.NoError(err)
	require.Equal(ur20.Bit(true), out[ur20.Address{Module: 1, Channel: 2}])
	require.Equal(ur20.Bit(false), out[ur20.Address{Module: 1, Channel: 0}])
	require.Equal(ur20.Word(0x1234), out[ur20.Address{Module: 2, Channel: 1}])
	require.Len(out, 8)

	in, err := s.Inputs()
	require.NoError(err)
	require.Equal(ur20.Bit(true), in[ur20.Address{Module: 0, Channel: 1}])
	require.Equal(ur20.Bit(false), in[ur20.Address{Module: 0, Channel: 2}])

	// the staged writes are gone: a cleared device image stays cleared
	f.setHolding(ur20.AddrPackedProcessOutputData, 0, 0, 0, 0, 0)
	f.reset()
	next, err := s.TickAndReturn(ctx)
	require.NoError(err)
	require.Same(s, next)
	require.Equal([][]uint16{{0, 0, 0, 0, 0}}, f.written)
}

func TestSetOutputValidation(t *testing.T) {
	s := connect(t, threeModuleCoupler(), newTestCodec(t))

	err := s.SetOutput(ur20.Address{Module: 0, Channel: 0}, ur20.Bit(true))
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, ur20.ErrInvalidAddress)

	err = s.SetOutput(ur20.Address{Module: 1, Channel: 0}, ur20.Word(1))
	require.ErrorIs(t, err, ur20.ErrTypeMismatch)
	require.Equal(t, StateReady, s.State())
}

func TestTickFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("exception keeps the session", func(t *testing.T) {
		f := threeModuleCoupler()
		s := connect(t, f, newTestCodec(t))
		f.failOn[call{"write", ur20.AddrPackedProcessOutputData, 5}] = &modbus.ExceptionError{
			FunctionCode: modbus.FuncCodeWriteMultipleRegisters, ExceptionCode: modbus.ExceptionServerDeviceFailure,
		}

		err := s.Tick(ctx)
		require.ErrorIs(t, err, ErrDeviceException)
		var ex *modbus.ExceptionError
		require.ErrorAs(t, err, &ex)
		require.Equal(t, modbus.ExceptionServerDeviceFailure, ex.ExceptionCode)
		require.Equal(t, StateReady, s.State())
	})

	t.Run("failed write keeps staged outputs", func(t *testing.T) {
		require := require.New(t)
		f := threeModuleCoupler()
		s := connect(t, f, newTestCodec(t))
		addr := ur20.Address{Module: 1, Channel: 2}
		require.NoError(s.SetOutput(addr, ur20.Bit(true)))

		write := call{"write", ur20.AddrPackedProcessOutputData, 5}
		f.failOn[write] = &modbus.ExceptionError{
			FunctionCode: modbus.FuncCodeWriteMultipleRegisters, ExceptionCode: modbus.ExceptionServerDeviceBusy,
		}
		require.ErrorIs(s.Tick(ctx), ErrDeviceException)

		out, err := s.Outputs()
		require.NoError(err)
		require.Equal(ur20.Bit(false), out[addr])

		delete(f.failOn, write)
		require.NoError(s.Tick(ctx))
		require.Equal([][]uint16{{0b0100, 0, 0, 0, 0}}, f.written)
		out, err = s.Outputs()
		require.NoError(err)
		require.Equal(ur20.Bit(true), out[addr])
	})

	t.Run("transport failure drops the session", func(t *testing.T) {
		f := threeModuleCoupler()
		s := connect(t, f, newTestCodec(t))
		f.failOn[call{"input", ur20.AddrPackedProcessInputData, 1}] = context.Canceled

		require.ErrorIs(t, s.Tick(ctx), ErrTransport)
		require.Equal(t, StateDisconnected, s.State())
		require.True(t, f.closed)

		require.ErrorIs(t, s.Tick(ctx), ErrNotReady)
		_, err := s.Outputs()
		require.ErrorIs(t, err, ErrNotReady)
		require.ErrorIs(t, s.SetOutput(ur20.Address{Module: 1}, ur20.Bit(true)), ErrNotReady)
	})

	t.Run("codec failure is a protocol violation", func(t *testing.T) {
		f := newFakeTransport()
		f.setInput(ur20.AddrProcessOutputLen, 16)
		dev := &fakeDevice{nextErr: errors.New("bad staged value")}
		s := connect(t, f, &fakeCodec{device: dev})

		f.reset()
		require.ErrorIs(t, s.Tick(ctx), ErrProtocolViolation)
		require.Equal(t, StateReady, s.State())
		require.Equal(t, []call{{"holding", ur20.AddrPackedProcessOutputData, 1}}, f.Calls())
		require.Zero(t, dev.commits)

		dev.nextErr = nil
		require.NoError(t, s.Tick(ctx))
		require.Equal(t, 1, dev.commits)
	})
}

func TestIdentityReread(t *testing.T) {
	f := threeModuleCoupler()
	s := connect(t, f, newTestCodec(t))

	f.setInput(ur20.AddrCouplerID, packIdentity("UR20 FBC MOD 2")...)
	id, err := s.Identity(context.Background())
	require.NoError(t, err)
	require.Equal(t, "UR20 FBC MOD 2", id)
	require.Equal(t, "UR20 FBC MOD 1", s.DiscoveredIdentity())
}

func TestBinaryInputData(t *testing.T) {
	require := require.New(t)
	f := newFakeTransport()
	f.setInput(ur20.AddrCurrentModuleCount, 3)
	codec := &fakeCodec{
		modules: []ur20.ModuleType{{ID: 1}, {ID: 2}, {ID: 3}},
		device:  &fakeDevice{readers: map[int][]byte{0: {}, 2: {0xCA, 0xFE}}},
	}
	s := connect(t, f, codec)

	data, err := s.BinaryInputData()
	require.NoError(err)
	require.Len(data, 2)

	idle, ok := data[ur20.Address{Module: 0}]
	require.True(ok)
	require.Nil(idle)
	require.Equal([]byte{0xCA, 0xFE}, data[ur20.Address{Module: 2}])
	_, ok = data[ur20.Address{Module: 1}]
	require.False(ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	f := threeModuleCoupler()
	s := connect(t, f, newTestCodec(t))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, StateDisconnected, s.State())
	_, err := s.Identity(context.Background())
	require.ErrorIs(t, err, ErrNotReady)

	require.Nil(t, s.Modules())
	require.Empty(t, s.DiscoveredIdentity())
	require.Zero(t, s.InputRegisterCount())
	require.Zero(t, s.OutputRegisterCount())
}
