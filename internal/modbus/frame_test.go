package modbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	require := require.New(t)

	req := ReadInputRegistersRequest(7, 1, 0x27FE, 1)
	data := req.Encode()
	require.Equal([]byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x01, 0x04, 0x27, 0xFE, 0x00, 0x01}, data)

	frame, err := DecodeFrame(data)
	require.NoError(err)
	require.Equal(uint16(7), frame.TransactionID)
	require.Equal(uint8(FuncCodeReadInputRegisters), frame.FunctionCode)
	require.Equal([]byte{0x27, 0xFE, 0x00, 0x01}, frame.Data)
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{0, 1, 0, 0}},
		{"protocol id", []byte{0, 1, 0, 1, 0, 2, 1, 3}},
		{"length", []byte{0, 1, 0, 0, 0, 9, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.data)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestWriteMultipleRegistersRequest(t *testing.T) {
	req := WriteMultipleRegistersRequest(1, 1, 0x0800, []uint16{0x0102, 0xA0B0})
	require.Equal(t, []byte{0x08, 0x00, 0x00, 0x02, 0x04, 0x01, 0x02, 0xA0, 0xB0}, req.Data)
}

func TestParseRegisterResponse(t *testing.T) {
	require := require.New(t)

	f := &ModbusFrame{Data: []byte{0x04, 0x00, 0x2A, 0xFF, 0x01}}
	regs, err := f.ParseRegisterResponse(2)
	require.NoError(err)
	require.Equal([]uint16{0x002A, 0xFF01}, regs)

	_, err = f.ParseRegisterResponse(3)
	require.ErrorIs(err, ErrMalformed)

	_, err = (&ModbusFrame{}).ParseRegisterResponse(1)
	require.ErrorIs(err, ErrMalformed)
}

func TestParseWriteResponse(t *testing.T) {
	f := &ModbusFrame{Data: []byte{0x08, 0x00, 0x00, 0x03}}
	require.NoError(t, f.ParseWriteResponse(0x0800, 3))
	require.ErrorIs(t, f.ParseWriteResponse(0x0800, 4), ErrMalformed)
	require.ErrorIs(t, (&ModbusFrame{Data: []byte{1}}).ParseWriteResponse(0, 0), ErrMalformed)
}

func TestExceptionFrame(t *testing.T) {
	f := &ModbusFrame{FunctionCode: 0x84, Data: []byte{0x02}}
	require.True(t, f.IsException())

	err := f.Exception()
	var ex *ExceptionError
	require.ErrorAs(t, err, &ex)
	require.Equal(t, uint8(0x04), ex.FunctionCode)
	require.Equal(t, ExceptionIllegalDataAddress, ex.ExceptionCode)
	require.Contains(t, err.Error(), "illegal data address")
	require.True(t, IsException(err))
}

func TestChunking(t *testing.T) {
	require := require.New(t)

	var calls [][2]uint16
	regs, err := readChunked(0x2A00, 128, func(addr, qty uint16) ([]uint16, error) {
		calls = append(calls, [2]uint16{addr, qty})
		return make([]uint16, qty), nil
	})
	require.NoError(err)
	require.Len(regs, 128)
	require.Equal([][2]uint16{{0x2A00, 125}, {0x2A00 + 125, 3}}, calls)

	regs, err = readChunked(0, 0, func(addr, qty uint16) ([]uint16, error) {
		t.Fatal("no read expected")
		return nil, nil
	})
	require.NoError(err)
	require.Empty(regs)

	var writes []int
	err = writeChunked(0x0800, make([]uint16, 250), func(addr uint16, chunk []uint16) error {
		writes = append(writes, len(chunk))
		return nil
	})
	require.NoError(err)
	require.Equal([]int{123, 123, 4}, writes)

	_, err = readChunked(0, 2, func(addr, qty uint16) ([]uint16, error) { return []uint16{1}, nil })
	require.ErrorIs(err, ErrMalformed)
}
