package coupler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateDiscovering
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session owns one coupler connection and the decoded device state.
// A Session is not safe for concurrent use.
type Session struct {
	id        uuid.UUID
	address   string
	transport Transport
	device    Device
	logger    *zap.Logger
	state     State

	identity    string
	modules     []ur20.ModuleType
	inputCount  uint16
	outputCount uint16
}

// Connect dials address and runs discovery over the fresh connection. On
// failure the connection is closed and no session is returned.
func Connect(ctx context.Context, dial Dialer, address string, codec Codec, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		id:      uuid.New(),
		address: address,
		state:   StateDiscovering,
	}
	s.logger = logger.With(zap.String("session_id", s.id.String()), zap.String("address", address))

	t, err := dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w: %w", address, ErrTransport, err)
	}

	d, err := Discover(ctx, t, codec, s.logger)
	if err != nil {
		t.Close()
		return nil, err
	}

	device, err := codec.NewDevice(d.Config())
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("build coupler: %w: %w", ErrDecode, err)
	}

	s.transport = t
	s.device = device
	s.identity = d.Identity
	s.modules = d.Modules
	s.inputCount = d.InputCount
	s.outputCount = d.OutputCount
	s.state = StateReady

	s.logger.Info("Coupler ready",
		zap.String("identity", s.identity),
		zap.Int("modules", len(s.modules)),
		zap.Uint16("input_registers", s.inputCount),
		zap.Uint16("output_registers", s.outputCount))

	return s, nil
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Address() string {
	return s.address
}

func (s *Session) State() State {
	return s.state
}

// InputRegisterCount is 0 once the session is no longer ready.
func (s *Session) InputRegisterCount() uint16 {
	if s.ready() != nil {
		return 0
	}
	return s.inputCount
}

func (s *Session) OutputRegisterCount() uint16 {
	if s.ready() != nil {
		return 0
	}
	return s.outputCount
}

// DiscoveredIdentity returns the identity read during discovery, or "" once
// the session is no longer ready.
func (s *Session) DiscoveredIdentity() string {
	if s.ready() != nil {
		return ""
	}
	return s.identity
}

// Identity re-reads the identity block from the coupler.
func (s *Session) Identity(ctx context.Context) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	id, err := readIdentity(ctx, s.transport)
	if err != nil {
		return "", s.fail(err)
	}
	return id, nil
}

// Modules returns the module inventory captured at discovery. It is nil once
// the session is no longer ready.
func (s *Session) Modules() []ur20.ModuleType {
	if s.ready() != nil {
		return nil
	}
	out := make([]ur20.ModuleType, len(s.modules))
	copy(out, s.modules)
	return out
}

// Inputs returns a copy of the current input channel values.
func (s *Session) Inputs() (map[ur20.Address]ur20.ChannelValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return flatten(s.device.Inputs()), nil
}

// Outputs returns a copy of the current output channel values.
func (s *Session) Outputs() (map[ur20.Address]ur20.ChannelValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return flatten(s.device.Outputs()), nil
}

// SetOutput stages a channel write for the next tick.
func (s *Session) SetOutput(addr ur20.Address, val ur20.ChannelValue) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.device.SetOutput(addr, val); err != nil {
		return fmt.Errorf("set output %s: %w: %w", addr, ErrValidation, err)
	}
	return nil
}

// BinaryInputData drains the byte stream of every module that has one.
// A module whose stream is empty maps to nil.
func (s *Session) BinaryInputData() (map[ur20.Address][]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	data := make(map[ur20.Address][]byte)
	for i := range s.modules {
		r := s.device.Reader(i)
		if r == nil {
			continue
		}
		buf, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read binary data of module %d: %w: %w", i, ErrDecode, err)
		}
		addr := ur20.Address{Module: i}
		if len(buf) == 0 {
			data[addr] = nil
			continue
		}
		data[addr] = buf
	}
	return data, nil
}

// Close disconnects. It is safe to call more than once.
func (s *Session) Close() error {
	if s.state == StateDisconnected {
		return nil
	}
	s.state = StateDisconnected
	s.logger.Info("Coupler disconnected")
	return s.transport.Close()
}

func (s *Session) ready() error {
	if s.state != StateReady {
		return fmt.Errorf("%w: session is %s", ErrNotReady, s.state)
	}
	return nil
}

// fail drops the connection after a transport failure, whose position in the
// request stream is unknown.
func (s *Session) fail(err error) error {
	if errors.Is(err, ErrTransport) {
		s.logger.Warn("Transport failure, dropping connection", zap.Error(err))
		s.Close()
	}
	return err
}

func flatten(tables [][]ur20.ChannelValue) map[ur20.Address]ur20.ChannelValue {
	out := make(map[ur20.Address]ur20.ChannelValue)
	for m, channels := range tables {
		for c, v := range channels {
			out[ur20.Address{Module: m, Channel: c}] = v
		}
	}
	return out
}
