package modbus

import (
	"encoding/binary"
	"fmt"
)

// MBAP Header (7 Bytes) + Function Code + Data
type ModbusFrame struct {
	TransactionID uint16 // 2 Bytes - Request/Response Korrelation
	ProtocolID    uint16 // 2 Bytes - Immer 0x0000 für Modbus
	Length        uint16 // 2 Bytes - Anzahl folgender Bytes
	UnitID        uint8  // 1 Byte - Slave Address
	FunctionCode  uint8  // 1 Byte - Modbus Function
	Data          []byte // Variable Länge
}

// Modbus Function Codes
const (
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteMultipleRegisters = 0x10

	exceptionFlag = 0x80
)

const (
	mbapHeaderLen = 7
	// MaxReadRegisters is the largest quantity a single read request may carry.
	MaxReadRegisters = 125
	// MaxWriteRegisters is the largest quantity a single write request may carry.
	MaxWriteRegisters = 123
)

// Encode erstellt das komplette TCP Frame
func (f *ModbusFrame) Encode() []byte {
	// Length = UnitID (1) + FunctionCode (1) + Data
	f.Length = uint16(len(f.Data) + 2)

	frame := make([]byte, mbapHeaderLen+1+len(f.Data))

	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID

	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parses a complete received frame.
func DecodeFrame(data []byte) (*ModbusFrame, error) {
	if len(data) < mbapHeaderLen+1 {
		return nil, fmt.Errorf("%w: frame too short: %d bytes", ErrMalformed, len(data))
	}

	frame := &ModbusFrame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("%w: invalid protocol ID: 0x%04X", ErrMalformed, frame.ProtocolID)
	}
	if int(frame.Length) != len(data)-6 {
		return nil, fmt.Errorf("%w: length field %d does not match %d bytes", ErrMalformed, frame.Length, len(data)-6)
	}

	if len(data) > mbapHeaderLen+1 {
		frame.Data = data[8:]
	}

	return frame, nil
}

// IsException reports whether the frame is an exception response.
func (f *ModbusFrame) IsException() bool {
	return f.FunctionCode&exceptionFlag != 0
}

// Exception returns the exception carried by an exception response.
func (f *ModbusFrame) Exception() error {
	if len(f.Data) < 1 {
		return fmt.Errorf("%w: exception response without code", ErrMalformed)
	}
	return &ExceptionError{FunctionCode: f.FunctionCode &^ exceptionFlag, ExceptionCode: f.Data[0]}
}

func readRegistersRequest(fc uint8, transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *ModbusFrame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &ModbusFrame{
		TransactionID: transactionID,
		ProtocolID:    0x0000,
		UnitID:        unitID,
		FunctionCode:  fc,
		Data:          data,
	}
}

// ReadHoldingRegistersRequest erstellt Request für Function Code 0x03
func ReadHoldingRegistersRequest(transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *ModbusFrame {
	return readRegistersRequest(FuncCodeReadHoldingRegisters, transactionID, unitID, startAddr, quantity)
}

// ReadInputRegistersRequest erstellt Request für Function Code 0x04
func ReadInputRegistersRequest(transactionID uint16, unitID uint8, startAddr uint16, quantity uint16) *ModbusFrame {
	return readRegistersRequest(FuncCodeReadInputRegisters, transactionID, unitID, startAddr, quantity)
}

// WriteMultipleRegistersRequest erstellt Request für Function Code 0x10
func WriteMultipleRegistersRequest(transactionID uint16, unitID uint8, startAddr uint16, values []uint16) *ModbusFrame {
	data := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(values)))
	data[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(data[5+2*i:], v)
	}

	return &ModbusFrame{
		TransactionID: transactionID,
		ProtocolID:    0x0000,
		UnitID:        unitID,
		FunctionCode:  FuncCodeWriteMultipleRegisters,
		Data:          data,
	}
}

// ParseRegisterResponse parst Holding/Input Register Response
func (f *ModbusFrame) ParseRegisterResponse(quantity uint16) ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("%w: response too short", ErrMalformed)
	}

	byteCount := int(f.Data[0])
	if byteCount != 2*int(quantity) || len(f.Data) != byteCount+1 {
		return nil, fmt.Errorf("%w: expected %d registers, got byte count %d with %d data bytes",
			ErrMalformed, quantity, byteCount, len(f.Data)-1)
	}

	registers := make([]uint16, quantity)
	for i := range registers {
		offset := 1 + (i * 2)
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}

// ParseWriteResponse checks the address/quantity echo of a 0x10 response.
func (f *ModbusFrame) ParseWriteResponse(startAddr uint16, quantity uint16) error {
	if len(f.Data) != 4 {
		return fmt.Errorf("%w: write response has %d bytes", ErrMalformed, len(f.Data))
	}
	addr := binary.BigEndian.Uint16(f.Data[0:2])
	qty := binary.BigEndian.Uint16(f.Data[2:4])
	if addr != startAddr || qty != quantity {
		return fmt.Errorf("%w: write echo %d/%d, expected %d/%d", ErrMalformed, addr, qty, startAddr, quantity)
	}
	return nil
}
