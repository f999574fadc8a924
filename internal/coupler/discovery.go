package coupler

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"go.uber.org/zap"
)

// Discovery is everything learned during the discovery handshake.
type Discovery struct {
	Identity    string
	Modules     []ur20.ModuleType
	Offsets     []uint16
	InputBits   uint16
	OutputBits  uint16
	InputCount  uint16
	OutputCount uint16
	Params      [][]uint16
}

// Config returns the snapshot handed to the device codec.
func (d *Discovery) Config() ur20.CouplerConfig {
	return ur20.CouplerConfig{
		Modules: d.Modules,
		Offsets: d.Offsets,
		Params:  d.Params,
	}
}

// Discover runs the discovery handshake. The reads happen in a fixed order
// because each step sizes the next one.
func Discover(ctx context.Context, t Transport, codec Codec, logger *zap.Logger) (*Discovery, error) {
	d := &Discovery{}

	logger.Debug("Read the coupler ID")
	id, err := readIdentity(ctx, t)
	if err != nil {
		return nil, err
	}
	d.Identity = id

	logger.Debug("Read module count")
	raw, err := t.ReadInputRegisters(ctx, ur20.AddrCurrentModuleCount, 1)
	if err != nil {
		return nil, classify("read module count", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("read module count: %w: empty response", ErrProtocolViolation)
	}
	count := raw[0]
	if count == 0 {
		logger.Warn("UR20 system has no modules")
	}
	if count > 0xFFFF/2 {
		return nil, fmt.Errorf("read module count: %w: implausible module count %d", ErrProtocolViolation, count)
	}

	logger.Debug("Read module list", zap.Uint16("count", count))
	rawList, err := readInput(ctx, t, "read module list", ur20.AddrCurrentModuleList, count*2)
	if err != nil {
		return nil, err
	}
	modules, err := codec.DecodeModuleList(rawList)
	if err != nil {
		return nil, fmt.Errorf("decode module list: %w: %w", ErrDecode, err)
	}
	d.Modules = modules
	logModuleList(logger, modules)

	logger.Debug("Read module offsets")
	d.Offsets, err = readInput(ctx, t, "read module offsets", ur20.AddrModuleOffsets, uint16(len(modules))*2)
	if err != nil {
		return nil, err
	}

	logger.Debug("Read process input length")
	d.InputBits, err = readLength(ctx, t, "read process input length", ur20.AddrProcessInputLen)
	if err != nil {
		return nil, err
	}
	d.InputCount = RegisterCount(d.InputBits)

	logger.Debug("Read process output length")
	d.OutputBits, err = readLength(ctx, t, "read process output length", ur20.AddrProcessOutputLen)
	if err != nil {
		return nil, err
	}
	d.OutputCount = RegisterCount(d.OutputBits)

	logger.Debug("Read parameters")
	windows := codec.ParameterWindows(modules)
	d.Params = make([][]uint16, len(windows))
	for i, w := range windows {
		if w.Count == 0 {
			d.Params[i] = []uint16{}
			continue
		}
		block, err := t.ReadHoldingRegisters(ctx, w.Address, w.Count)
		if err != nil {
			return nil, classify(fmt.Sprintf("read parameters of module %d", i), err)
		}
		d.Params[i] = block
	}

	return d, nil
}

func readIdentity(ctx context.Context, t Transport) (string, error) {
	regs, err := t.ReadInputRegisters(ctx, ur20.AddrCouplerID, ur20.CouplerIDRegisters)
	if err != nil {
		return "", classify("read coupler id", err)
	}
	return decodeIdentity(regs), nil
}

// decodeIdentity splits every word into its low and high byte and decodes the
// result as UTF-8. Each maximal invalid subsequence becomes one U+FFFD.
func decodeIdentity(regs []uint16) string {
	buf := make([]byte, 0, 2*len(regs))
	for _, r := range regs {
		buf = append(buf, byte(r&0xFF), byte(r>>8))
	}

	var sb strings.Builder
	for len(buf) > 0 {
		r, size := utf8.DecodeRune(buf)
		if r == utf8.RuneError && size <= 1 {
			size = invalidPrefixLen(buf)
		}
		sb.WriteRune(r)
		buf = buf[size:]
	}
	return sb.String()
}

// invalidPrefixLen returns the length of the invalid sequence at the start of
// b: a lead byte plus the continuation bytes that still fit its encoding.
func invalidPrefixLen(b []byte) int {
	var lo, hi byte = 0x80, 0xBF
	var need int
	switch c := b[0]; {
	case c >= 0xC2 && c <= 0xDF:
		need = 1
	case c == 0xE0:
		need, lo = 2, 0xA0
	case c == 0xED:
		need, hi = 2, 0x9F
	case c >= 0xE1 && c <= 0xEF:
		need = 2
	case c == 0xF0:
		need, lo = 3, 0x90
	case c == 0xF4:
		need, hi = 3, 0x8F
	case c >= 0xF1 && c <= 0xF3:
		need = 3
	default:
		return 1
	}

	n := 1
	for ; n <= need && n < len(b); n++ {
		if b[n] < lo || b[n] > hi {
			break
		}
		lo, hi = 0x80, 0xBF
	}
	return n
}

// readInput reads count input registers; a zero count issues no request.
func readInput(ctx context.Context, t Transport, op string, addr uint16, count uint16) ([]uint16, error) {
	if count == 0 {
		return []uint16{}, nil
	}
	regs, err := t.ReadInputRegisters(ctx, addr, count)
	if err != nil {
		return nil, classify(op, err)
	}
	return regs, nil
}

// readLength reads a single length register; an empty response counts as 0.
func readLength(ctx context.Context, t Transport, op string, addr uint16) (uint16, error) {
	regs, err := t.ReadInputRegisters(ctx, addr, 1)
	if err != nil {
		return 0, classify(op, err)
	}
	if len(regs) == 0 {
		return 0, nil
	}
	return regs[0], nil
}

func logModuleList(logger *zap.Logger, modules []ur20.ModuleType) {
	logger.Info("The following I/O modules were detected", zap.Int("count", len(modules)))
	for i, m := range modules {
		logger.Info(fmt.Sprintf(" %d - %s", i, m.ShortName()))
	}
}
