package ur20

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModule is returned for module ids missing from the catalog.
	ErrUnknownModule = errors.New("unknown module type")

	// ErrInvalidConfig indicates discovery data that does not describe a consistent coupler.
	ErrInvalidConfig = errors.New("invalid coupler configuration")

	// ErrInvalidAddress is returned when an address does not name an existing channel.
	ErrInvalidAddress = errors.New("invalid channel address")

	// ErrTypeMismatch is returned when a value's kind does not match the channel.
	ErrTypeMismatch = errors.New("channel value type mismatch")

	// ErrImageTooShort indicates a process image smaller than the module offsets require.
	ErrImageTooShort = errors.New("process image too short")
)

// Codec turns raw discovery registers into a live Coupler.
type Codec struct {
	catalog *Catalog
}

func NewCodec(catalog *Catalog) *Codec {
	return &Codec{catalog: catalog}
}

// Catalog returns the catalog backing this codec.
func (c *Codec) Catalog() *Catalog {
	return c.catalog
}

// DecodeModuleList decodes the current module list. Every module occupies two
// registers holding its 32-bit id, high word first.
func (c *Codec) DecodeModuleList(raw []uint16) ([]ModuleType, error) {
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("module list has odd register count %d", len(raw))
	}
	modules := make([]ModuleType, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		id := uint32(raw[i])<<16 | uint32(raw[i+1])
		spec, ok := c.catalog.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: 0x%08X at position %d", ErrUnknownModule, id, i/2)
		}
		modules = append(modules, spec.Type)
	}
	return modules, nil
}

// ParameterWindows returns one register window per module slot. Modules
// without parameters get a zero-length window.
func (c *Codec) ParameterWindows(modules []ModuleType) []RegisterWindow {
	windows := make([]RegisterWindow, len(modules))
	for i, m := range modules {
		windows[i].Address = AddrModuleParameters + uint16(i)*ParameterStride
		if spec, ok := c.catalog.Lookup(m.ID); ok {
			windows[i].Count = uint16(spec.ParameterRegisters)
		}
	}
	return windows
}

// NewCoupler builds the live device state from a discovery snapshot.
func (c *Codec) NewCoupler(cfg CouplerConfig) (*Coupler, error) {
	n := len(cfg.Modules)
	if len(cfg.Offsets) != 2*n {
		return nil, fmt.Errorf("%w: %d offset registers for %d modules", ErrInvalidConfig, len(cfg.Offsets), n)
	}
	if len(cfg.Params) != n {
		return nil, fmt.Errorf("%w: %d parameter blocks for %d modules", ErrInvalidConfig, len(cfg.Params), n)
	}

	cp := &Coupler{
		specs:      make([]ModuleSpec, n),
		inOffsets:  make([]uint16, n),
		outOffsets: make([]uint16, n),
		params:     make([][]uint16, n),
		inputs:     make([][]ChannelValue, n),
		outputs:    make([][]ChannelValue, n),
		staged:     make(map[Address]ChannelValue),
	}

	for i, m := range cfg.Modules {
		spec, ok := c.catalog.Lookup(m.ID)
		if !ok {
			return nil, fmt.Errorf("%w: 0x%08X in slot %d", ErrUnknownModule, m.ID, i)
		}
		inOff, outOff := cfg.Offsets[2*i], cfg.Offsets[2*i+1]
		if spec.InputBits() > 0 && inOff == NoOffset {
			return nil, fmt.Errorf("%w: module %d (%s) has inputs but no input offset", ErrInvalidConfig, i, spec.Type.Name)
		}
		if spec.OutputBits() > 0 && outOff == NoOffset {
			return nil, fmt.Errorf("%w: module %d (%s) has outputs but no output offset", ErrInvalidConfig, i, spec.Type.Name)
		}
		if len(cfg.Params[i]) != spec.ParameterRegisters {
			return nil, fmt.Errorf("%w: module %d (%s) expects %d parameter registers, got %d",
				ErrInvalidConfig, i, spec.Type.Name, spec.ParameterRegisters, len(cfg.Params[i]))
		}

		cp.specs[i] = spec
		cp.inOffsets[i] = inOff
		cp.outOffsets[i] = outOff
		cp.params[i] = append([]uint16(nil), cfg.Params[i]...)
		cp.inputs[i] = zeroChannels(spec.InputChannels(), spec.inputKind)
		cp.outputs[i] = zeroChannels(spec.OutputChannels(), spec.outputKind)
	}

	return cp, nil
}

func zeroChannels(n int, kind func(int) ValueKind) []ChannelValue {
	vals := make([]ChannelValue, n)
	for ch := range vals {
		vals[ch] = ChannelValue{Kind: kind(ch)}
	}
	return vals
}
