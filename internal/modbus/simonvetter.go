package modbus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mbsv "github.com/simonvetter/modbus"
)

// SimonvetterClient adapts github.com/simonvetter/modbus to Conn.
// It also accepts rtu:// URLs for serial couplers.
type SimonvetterClient struct {
	client *mbsv.ModbusClient
}

var simonvetterExceptions = map[mbsv.Error]uint8{
	mbsv.ErrIllegalFunction:         ExceptionIllegalFunction,
	mbsv.ErrIllegalDataAddress:      ExceptionIllegalDataAddress,
	mbsv.ErrIllegalDataValue:        ExceptionIllegalDataValue,
	mbsv.ErrServerDeviceFailure:     ExceptionServerDeviceFailure,
	mbsv.ErrAcknowledge:             ExceptionAcknowledge,
	mbsv.ErrServerDeviceBusy:        ExceptionServerDeviceBusy,
	mbsv.ErrMemoryParityError:       ExceptionMemoryParityError,
	mbsv.ErrGWPathUnavailable:       ExceptionGatewayPathUnavailable,
	mbsv.ErrGWTargetFailedToRespond: ExceptionGatewayTargetFailedRespond,
}

// DialSimonvetter opens a client. Plain host:port addresses are treated as tcp://.
func DialSimonvetter(ctx context.Context, opts Options) (*SimonvetterClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url := opts.Address
	if !strings.Contains(url, "://") {
		url = "tcp://" + url
	}

	client, err := mbsv.NewClient(&mbsv.ClientConfiguration{
		URL:     url,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Open(); err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	if err := client.SetUnitId(opts.UnitID); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set unit id: %w", err)
	}

	return &SimonvetterClient{client: client}, nil
}

func (c *SimonvetterClient) ReadInputRegisters(ctx context.Context, addr uint16, quantity uint16) ([]uint16, error) {
	return c.read(ctx, FuncCodeReadInputRegisters, mbsv.INPUT_REGISTER, addr, quantity)
}

func (c *SimonvetterClient) ReadHoldingRegisters(ctx context.Context, addr uint16, quantity uint16) ([]uint16, error) {
	return c.read(ctx, FuncCodeReadHoldingRegisters, mbsv.HOLDING_REGISTER, addr, quantity)
}

func (c *SimonvetterClient) read(ctx context.Context, fc uint8, regType mbsv.RegType, addr uint16, quantity uint16) ([]uint16, error) {
	return readChunked(addr, quantity, func(addr, qty uint16) ([]uint16, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		regs, err := c.client.ReadRegisters(addr, qty, regType)
		if err != nil {
			return nil, mapSimonvetterError(fc, err)
		}
		return regs, nil
	})
}

func (c *SimonvetterClient) WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error {
	return writeChunked(addr, values, func(addr uint16, chunk []uint16) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.client.WriteRegisters(addr, chunk); err != nil {
			return mapSimonvetterError(FuncCodeWriteMultipleRegisters, err)
		}
		return nil
	})
}

func (c *SimonvetterClient) Close() error {
	return c.client.Close()
}

// mapSimonvetterError sorts library errors into exception, malformed and I/O.
func mapSimonvetterError(fc uint8, err error) error {
	var mbErr mbsv.Error
	if !errors.As(err, &mbErr) {
		return err
	}
	if code, ok := simonvetterExceptions[mbErr]; ok {
		return &ExceptionError{FunctionCode: fc, ExceptionCode: code}
	}
	switch mbErr {
	case mbsv.ErrProtocolError, mbsv.ErrBadUnitId, mbsv.ErrBadTransactionId,
		mbsv.ErrUnknownProtocolId, mbsv.ErrShortFrame, mbsv.ErrBadCRC:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return err
}
