package coupler

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenCoupler/internal/modbus"
)

var (
	// ErrTransport indicates a connection failure: refused, reset, timed out
	// or aborted. The session is unusable afterwards.
	ErrTransport = errors.New("transport failure")

	// ErrDeviceException indicates that the coupler rejected a register
	// operation. The cause is a *modbus.ExceptionError.
	ErrDeviceException = errors.New("device exception")

	// ErrProtocolViolation indicates a response of unexpected shape, or an
	// output image the device codec could not compute.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrDecode indicates discovery data the device codec could not turn
	// into a consistent coupler model.
	ErrDecode = errors.New("decode error")

	// ErrValidation is returned by SetOutput for unknown channels or values
	// of the wrong type. The session is not affected.
	ErrValidation = errors.New("validation error")

	// ErrNotReady is returned for operations on a session that is not ready.
	ErrNotReady = errors.New("session not ready")
)

// classify wraps a transport error with the matching sentinel.
func classify(op string, err error) error {
	switch {
	case modbus.IsException(err):
		return fmt.Errorf("%s: %w: %w", op, ErrDeviceException, err)
	case errors.Is(err, modbus.ErrMalformed):
		return fmt.Errorf("%s: %w: %w", op, ErrProtocolViolation, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}
}

// Class names the error class of err for logs and metrics.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrDeviceException):
		return "device_exception"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	default:
		return "unknown"
	}
}
