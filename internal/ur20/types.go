package ur20

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Address identifies one logical I/O channel on the coupler.
type Address struct {
	Module  int
	Channel int
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d", a.Module, a.Channel)
}

// ParseAddress parses the "module.channel" form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	mod, ch, ok := strings.Cut(s, ".")
	if !ok {
		return Address{}, fmt.Errorf("invalid address %q: expected module.channel", s)
	}
	m, err := strconv.Atoi(mod)
	if err != nil || m < 0 {
		return Address{}, fmt.Errorf("invalid module index in %q", s)
	}
	c, err := strconv.Atoi(ch)
	if err != nil || c < 0 {
		return Address{}, fmt.Errorf("invalid channel index in %q", s)
	}
	return Address{Module: m, Channel: c}, nil
}

// MarshalText makes Address usable as a JSON object key.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ValueKind is the shape of a ChannelValue.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindBit
	KindWord
	KindBytes
)

func (k ValueKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBit:
		return "bit"
	case KindWord:
		return "word"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

func parseKind(s string) (ValueKind, error) {
	switch s {
	case "none", "":
		return KindNone, nil
	case "bit":
		return KindBit, nil
	case "word":
		return KindWord, nil
	case "bytes":
		return KindBytes, nil
	default:
		return KindNone, fmt.Errorf("unknown value type %q", s)
	}
}

// ChannelValue is a tagged channel value. Only the field matching Kind is meaningful.
type ChannelValue struct {
	Kind  ValueKind
	Bit   bool
	Word  uint16
	Bytes []byte
}

func None() ChannelValue { return ChannelValue{Kind: KindNone} }

func Bit(v bool) ChannelValue { return ChannelValue{Kind: KindBit, Bit: v} }

func Word(v uint16) ChannelValue { return ChannelValue{Kind: KindWord, Word: v} }

func Bytes(b []byte) ChannelValue { return ChannelValue{Kind: KindBytes, Bytes: b} }

func (v ChannelValue) IsNone() bool { return v.Kind == KindNone }

func (v ChannelValue) Equal(o ChannelValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBit:
		return v.Bit == o.Bit
	case KindWord:
		return v.Word == o.Word
	case KindBytes:
		return string(v.Bytes) == string(o.Bytes)
	default:
		return true
	}
}

func (v ChannelValue) String() string {
	switch v.Kind {
	case KindBit:
		return strconv.FormatBool(v.Bit)
	case KindWord:
		return strconv.FormatUint(uint64(v.Word), 10)
	case KindBytes:
		return fmt.Sprintf("%x", v.Bytes)
	default:
		return "none"
	}
}

type channelValueJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (v ChannelValue) MarshalJSON() ([]byte, error) {
	out := channelValueJSON{Type: v.Kind.String()}
	var raw any
	switch v.Kind {
	case KindBit:
		raw = v.Bit
	case KindWord:
		raw = v.Word
	case KindBytes:
		raw = v.Bytes
	}
	if raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		out.Value = b
	}
	return json.Marshal(out)
}

func (v *ChannelValue) UnmarshalJSON(data []byte) error {
	var in channelValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, err := parseKind(in.Type)
	if err != nil {
		return err
	}
	*v = ChannelValue{Kind: kind}
	if kind != KindNone && len(in.Value) == 0 {
		return fmt.Errorf("missing value for type %q", in.Type)
	}
	switch kind {
	case KindBit:
		return json.Unmarshal(in.Value, &v.Bit)
	case KindWord:
		return json.Unmarshal(in.Value, &v.Word)
	case KindBytes:
		return json.Unmarshal(in.Value, &v.Bytes)
	}
	return nil
}

// ParseValue parses a command line value for a channel of the given kind.
func ParseValue(kind ValueKind, s string) (ChannelValue, error) {
	switch kind {
	case KindBit:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return ChannelValue{}, fmt.Errorf("invalid bit value %q: %w", s, err)
		}
		return Bit(b), nil
	case KindWord:
		w, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return ChannelValue{}, fmt.Errorf("invalid word value %q: %w", s, err)
		}
		return Word(uint16(w)), nil
	default:
		return ChannelValue{}, fmt.Errorf("cannot parse values of type %s", kind)
	}
}

// ModuleType is the identity of a physical module as listed in the catalog.
type ModuleType struct {
	ID   uint32 `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func (m ModuleType) String() string {
	return m.Name
}

// ShortName drops the vendor family prefix.
func (m ModuleType) ShortName() string {
	return strings.TrimPrefix(m.Name, "UR20-")
}

// RegisterWindow is a base address plus register count.
type RegisterWindow struct {
	Address uint16
	Count   uint16
}

// CouplerConfig is the snapshot taken at the end of discovery.
type CouplerConfig struct {
	Modules []ModuleType
	Offsets []uint16
	Params  [][]uint16
}
