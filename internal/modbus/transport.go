package modbus

import (
	"context"
	"fmt"
	"time"
)

// Conn is an open register transport to one device.
type Conn interface {
	ReadInputRegisters(ctx context.Context, addr uint16, quantity uint16) ([]uint16, error)
	ReadHoldingRegisters(ctx context.Context, addr uint16, quantity uint16) ([]uint16, error)
	WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error
	Close() error
}

// Supported drivers
const (
	DriverNative      = "native"
	DriverSimonvetter = "simonvetter"
	DriverGoburrow    = "goburrow"
)

// Drivers lists the accepted driver names.
var Drivers = []string{DriverNative, DriverSimonvetter, DriverGoburrow}

// Options selects and configures a driver.
type Options struct {
	Driver  string
	Address string
	UnitID  uint8
	Timeout time.Duration
}

// Dial opens a connection with the configured driver.
func Dial(ctx context.Context, opts Options) (Conn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}

	switch opts.Driver {
	case DriverNative, "":
		c := NewClient(opts.Address, opts.UnitID, opts.Timeout)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	case DriverSimonvetter:
		c, err := DialSimonvetter(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	case DriverGoburrow:
		c, err := DialGoburrow(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// readChunked splits a read into requests of at most MaxReadRegisters.
func readChunked(addr uint16, quantity uint16, read func(addr, qty uint16) ([]uint16, error)) ([]uint16, error) {
	out := make([]uint16, 0, quantity)
	for done := uint16(0); done < quantity; {
		n := min(quantity-done, MaxReadRegisters)
		regs, err := read(addr+done, n)
		if err != nil {
			return nil, err
		}
		if len(regs) != int(n) {
			return nil, fmt.Errorf("%w: expected %d registers, got %d", ErrMalformed, n, len(regs))
		}
		out = append(out, regs...)
		done += n
	}
	return out, nil
}

// writeChunked splits a write into requests of at most MaxWriteRegisters.
func writeChunked(addr uint16, values []uint16, write func(addr uint16, chunk []uint16) error) error {
	for done := 0; done < len(values); {
		n := min(len(values)-done, MaxWriteRegisters)
		if err := write(addr+uint16(done), values[done:done+n]); err != nil {
			return err
		}
		done += n
	}
	return nil
}
