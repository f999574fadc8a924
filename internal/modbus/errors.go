package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed indicates a response that does not have the shape the
	// request requires (wrong length, byte count, echo or transaction id).
	ErrMalformed = errors.New("malformed modbus response")

	// ErrNotConnected is returned for requests on a closed client.
	ErrNotConnected = errors.New("not connected")

	// ErrUnknownDriver is returned by Dial for unsupported driver names.
	ErrUnknownDriver = errors.New("unknown modbus driver")
)

// Modbus exception codes
const (
	ExceptionIllegalFunction            uint8 = 0x01
	ExceptionIllegalDataAddress         uint8 = 0x02
	ExceptionIllegalDataValue           uint8 = 0x03
	ExceptionServerDeviceFailure        uint8 = 0x04
	ExceptionAcknowledge                uint8 = 0x05
	ExceptionServerDeviceBusy           uint8 = 0x06
	ExceptionMemoryParityError          uint8 = 0x08
	ExceptionGatewayPathUnavailable     uint8 = 0x0A
	ExceptionGatewayTargetFailedRespond uint8 = 0x0B
)

var exceptionNames = map[uint8]string{
	ExceptionIllegalFunction:            "illegal function",
	ExceptionIllegalDataAddress:         "illegal data address",
	ExceptionIllegalDataValue:           "illegal data value",
	ExceptionServerDeviceFailure:        "server device failure",
	ExceptionAcknowledge:                "acknowledge",
	ExceptionServerDeviceBusy:           "server device busy",
	ExceptionMemoryParityError:          "memory parity error",
	ExceptionGatewayPathUnavailable:     "gateway path unavailable",
	ExceptionGatewayTargetFailedRespond: "gateway target device failed to respond",
}

// ExceptionError is a request rejected by the device with an exception response.
type ExceptionError struct {
	FunctionCode  uint8
	ExceptionCode uint8
}

func (e *ExceptionError) Error() string {
	name, ok := exceptionNames[e.ExceptionCode]
	if !ok {
		name = "unknown exception"
	}
	return fmt.Sprintf("modbus exception 0x%02X (%s) for function 0x%02X", e.ExceptionCode, name, e.FunctionCode)
}

// IsException reports whether err carries a device exception response.
func IsException(err error) bool {
	var ex *ExceptionError
	return errors.As(err, &ex)
}
