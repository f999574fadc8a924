package coupler

import (
	"context"
	"io"

	"github.com/KevinKickass/OpenCoupler/internal/ur20"
)

// Transport issues register requests on one exclusively owned connection.
// Requests must not overlap.
type Transport interface {
	ReadInputRegisters(ctx context.Context, addr uint16, quantity uint16) ([]uint16, error)
	ReadHoldingRegisters(ctx context.Context, addr uint16, quantity uint16) ([]uint16, error)
	WriteMultipleRegisters(ctx context.Context, addr uint16, values []uint16) error
	Close() error
}

// Dialer opens a fresh transport to address.
type Dialer func(ctx context.Context, address string) (Transport, error)

// Codec interprets the coupler's discovery registers.
type Codec interface {
	DecodeModuleList(raw []uint16) ([]ur20.ModuleType, error)
	ParameterWindows(modules []ur20.ModuleType) []ur20.RegisterWindow
	NewDevice(cfg ur20.CouplerConfig) (Device, error)
}

// Device is the live decoded coupler state.
type Device interface {
	Inputs() [][]ur20.ChannelValue
	Outputs() [][]ur20.ChannelValue
	SetOutput(addr ur20.Address, val ur20.ChannelValue) error
	// Next folds staged outputs into the output image and returns the image to write.
	Next(input, output []uint16) ([]uint16, error)
	// Commit marks the image from the last Next as written.
	Commit()
	// Reader returns nil for modules without a byte stream.
	Reader(module int) io.Reader
}

// NewUR20Codec exposes the catalog based UR20 codec as a Codec.
func NewUR20Codec(codec *ur20.Codec) Codec {
	return ur20Codec{Codec: codec}
}

type ur20Codec struct {
	*ur20.Codec
}

func (c ur20Codec) NewDevice(cfg ur20.CouplerConfig) (Device, error) {
	cp, err := c.NewCoupler(cfg)
	if err != nil {
		return nil, err
	}
	return cp, nil
}
