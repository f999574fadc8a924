package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	gbmodbus "github.com/goburrow/modbus"
)

// GoburrowClient adapts github.com/goburrow/modbus to Conn.
type GoburrowClient struct {
	handler *gbmodbus.TCPClientHandler
	client  gbmodbus.Client
}

func DialGoburrow(ctx context.Context, opts Options) (*GoburrowClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := gbmodbus.NewTCPClientHandler(opts.Address)
	h.Timeout = opts.Timeout
	h.SlaveId = opts.UnitID

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	return &GoburrowClient{
		handler: h,
		client:  gbmodbus.NewClient(h),
	}, nil
}

func (c *GoburrowClient) ReadInputRegisters(ctx context.Context, addr uint16, quantity uint16) ([]uint16, error) {
	return readChunked(addr, quantity, func(addr, qty uint16) ([]uint16, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := c.client.ReadInputRegisters(addr, qty)
		if err != nil {
			return nil, mapGoburrowError(err)
		}
		return unpackRegisters(b, qty)
	})
}

func (c *GoburrowClient) ReadHoldingRegisters(ctx context.Context, addr uint16, quantity uint16) ([]uint16, error) {
	return readChunked(addr, quantity, func(addr, qty uint16) ([]uint16, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := c.client.ReadHoldingRegisters(addr, qty)
		if err != nil {
			return nil, mapGoburrowError(err)
		}
		return unpackRegisters(b, qty)
	})
}

func (c *GoburrowClient) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	return writeChunked(addr, values, func(addr uint16, chunk []uint16) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload := make([]byte, 2*len(chunk))
		for i, v := range chunk {
			binary.BigEndian.PutUint16(payload[2*i:], v)
		}
		if _, err := c.client.WriteMultipleRegisters(addr, uint16(len(chunk)), payload); err != nil {
			return mapGoburrowError(err)
		}
		return nil
	})
}

func (c *GoburrowClient) Close() error {
	return c.handler.Close()
}

func unpackRegisters(b []byte, quantity uint16) ([]uint16, error) {
	if len(b) != 2*int(quantity) {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformed, 2*int(quantity), len(b))
	}
	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return regs, nil
}

func mapGoburrowError(err error) error {
	var mbErr *gbmodbus.ModbusError
	if errors.As(err, &mbErr) {
		return &ExceptionError{
			FunctionCode:  mbErr.FunctionCode &^ exceptionFlag,
			ExceptionCode: mbErr.ExceptionCode,
		}
	}
	return err
}
