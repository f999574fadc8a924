package ur20

import (
	"fmt"
	"io"
	"maps"
)

// Coupler is the live decoded state of a coupler and its modules.
// It is not safe for concurrent use.
type Coupler struct {
	specs      []ModuleSpec
	inOffsets  []uint16
	outOffsets []uint16
	params     [][]uint16

	inputs  [][]ChannelValue
	outputs [][]ChannelValue
	staged  map[Address]ChannelValue
	pending *pendingOutputs
}

// pendingOutputs is an output image computed by Next and not yet committed.
type pendingOutputs struct {
	outputs [][]ChannelValue
	applied map[Address]ChannelValue
}

// Modules returns the module specs in slot order.
func (c *Coupler) Modules() []ModuleSpec {
	return append([]ModuleSpec(nil), c.specs...)
}

// Params returns the raw parameter block read for a module.
func (c *Coupler) Params(module int) []uint16 {
	if module < 0 || module >= len(c.params) {
		return nil
	}
	return append([]uint16(nil), c.params[module]...)
}

// Inputs returns the last decoded input values per module.
func (c *Coupler) Inputs() [][]ChannelValue {
	return cloneTable(c.inputs)
}

// Outputs returns the last decoded output values per module.
func (c *Coupler) Outputs() [][]ChannelValue {
	return cloneTable(c.outputs)
}

// SetOutput stages a value for the next call to Next.
func (c *Coupler) SetOutput(addr Address, val ChannelValue) error {
	if addr.Module < 0 || addr.Module >= len(c.specs) {
		return fmt.Errorf("%w: module %d does not exist", ErrInvalidAddress, addr.Module)
	}
	spec := c.specs[addr.Module]
	if addr.Channel < 0 || addr.Channel >= spec.OutputChannels() {
		return fmt.Errorf("%w: %s has no output channel %d", ErrInvalidAddress, spec.Type.Name, addr.Channel)
	}
	if want := spec.outputKind(addr.Channel); val.Kind != want {
		return fmt.Errorf("%w: output %s expects %s, got %s", ErrTypeMismatch, addr, want, val.Kind)
	}
	c.staged[addr] = val
	return nil
}

// Pending returns the number of staged output writes.
func (c *Coupler) Pending() int {
	return len(c.staged)
}

// Next decodes the input image, applies all staged writes on top of the
// current output image and returns the output image to write back.
// Outputs and staged writes change only once Commit is called.
func (c *Coupler) Next(input, output []uint16) ([]uint16, error) {
	inputs := make([][]ChannelValue, len(c.specs))
	for i, spec := range c.specs {
		vals, err := decodeChannels(input, c.inOffsets[i], spec.DigitalInputs, spec.AnalogInputs)
		if err != nil {
			return nil, fmt.Errorf("module %d inputs: %w", i, err)
		}
		inputs[i] = vals
	}

	next := append([]uint16(nil), output...)
	for addr, val := range c.staged {
		spec := c.specs[addr.Module]
		base := int(c.outOffsets[addr.Module])
		var err error
		if addr.Channel < spec.DigitalOutputs {
			err = putBit(next, base+addr.Channel, val.Bit)
		} else {
			err = putWord(next, base+spec.DigitalOutputs+16*(addr.Channel-spec.DigitalOutputs), val.Word)
		}
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", addr, err)
		}
	}

	outputs := make([][]ChannelValue, len(c.specs))
	for i, spec := range c.specs {
		vals, err := decodeChannels(next, c.outOffsets[i], spec.DigitalOutputs, spec.AnalogOutputs)
		if err != nil {
			return nil, fmt.Errorf("module %d outputs: %w", i, err)
		}
		outputs[i] = vals
	}

	c.inputs = inputs
	c.pending = &pendingOutputs{outputs: outputs, applied: maps.Clone(c.staged)}
	return next, nil
}

// Commit accepts the image returned by the last Next as written. Writes
// staged again after that Next stay pending.
func (c *Coupler) Commit() {
	if c.pending == nil {
		return
	}
	c.outputs = c.pending.outputs
	for addr, val := range c.pending.applied {
		if cur, ok := c.staged[addr]; ok && cur.Equal(val) {
			delete(c.staged, addr)
		}
	}
	c.pending = nil
}

// Reader returns a byte stream source for modules that carry one.
// None of the catalog modules do.
func (c *Coupler) Reader(module int) io.Reader {
	return nil
}

func decodeChannels(img []uint16, offset uint16, bits, words int) ([]ChannelValue, error) {
	if bits+words == 0 {
		return []ChannelValue{}, nil
	}
	base := int(offset)
	if need := base + bits + 16*words; need > 16*len(img) {
		return nil, fmt.Errorf("%w: need %d bits, have %d", ErrImageTooShort, need, 16*len(img))
	}
	vals := make([]ChannelValue, 0, bits+words)
	for ch := 0; ch < bits; ch++ {
		vals = append(vals, Bit(getBit(img, base+ch)))
	}
	for ch := 0; ch < words; ch++ {
		vals = append(vals, Word(getWord(img, base+bits+16*ch)))
	}
	return vals, nil
}

// Bit positions are LSB-first within each register.
func getBit(img []uint16, pos int) bool {
	return img[pos/16]>>(pos%16)&1 == 1
}

func getWord(img []uint16, pos int) uint16 {
	if pos%16 == 0 {
		return img[pos/16]
	}
	var w uint16
	for i := 0; i < 16; i++ {
		if getBit(img, pos+i) {
			w |= 1 << i
		}
	}
	return w
}

func putBit(img []uint16, pos int, v bool) error {
	if pos/16 >= len(img) {
		return fmt.Errorf("%w: bit %d outside %d registers", ErrImageTooShort, pos, len(img))
	}
	if v {
		img[pos/16] |= 1 << (pos % 16)
	} else {
		img[pos/16] &^= 1 << (pos % 16)
	}
	return nil
}

func putWord(img []uint16, pos int, v uint16) error {
	if (pos+15)/16 >= len(img) {
		return fmt.Errorf("%w: word at bit %d outside %d registers", ErrImageTooShort, pos, len(img))
	}
	if pos%16 == 0 {
		img[pos/16] = v
		return nil
	}
	for i := 0; i < 16; i++ {
		_ = putBit(img, pos+i, v>>i&1 == 1)
	}
	return nil
}

func cloneTable(t [][]ChannelValue) [][]ChannelValue {
	out := make([][]ChannelValue, len(t))
	for i, row := range t {
		out[i] = append([]ChannelValue(nil), row...)
	}
	return out
}
