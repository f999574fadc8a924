package coupler

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenCoupler/internal/ur20"
)

// Tick runs one I/O cycle: read the input and output images, fold in the
// staged outputs and write the resulting output image back. Staged outputs
// are kept for the next cycle when the write does not happen.
func (s *Session) Tick(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	input, err := readInput(ctx, s.transport, "read process input data", ur20.AddrPackedProcessInputData, s.inputCount)
	if err != nil {
		return s.fail(err)
	}
	output, err := s.readOutput(ctx)
	if err != nil {
		return s.fail(err)
	}

	next, err := s.device.Next(input, output)
	if err != nil {
		return fmt.Errorf("compute output image: %w: %w", ErrProtocolViolation, err)
	}

	if s.outputCount == 0 {
		s.device.Commit()
		return nil
	}
	if len(next) != int(s.outputCount) {
		return fmt.Errorf("compute output image: %w: %d registers, expected %d",
			ErrProtocolViolation, len(next), s.outputCount)
	}
	if err := s.transport.WriteMultipleRegisters(ctx, ur20.AddrPackedProcessOutputData, next); err != nil {
		return s.fail(classify("write process output data", err))
	}
	s.device.Commit()
	return nil
}

// TickAndReturn runs Tick and hands the session back for call chains.
func (s *Session) TickAndReturn(ctx context.Context) (*Session, error) {
	if err := s.Tick(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) readOutput(ctx context.Context) ([]uint16, error) {
	if s.outputCount == 0 {
		return []uint16{}, nil
	}
	regs, err := s.transport.ReadHoldingRegisters(ctx, ur20.AddrPackedProcessOutputData, s.outputCount)
	if err != nil {
		return nil, classify("read process output data", err)
	}
	return regs, nil
}
