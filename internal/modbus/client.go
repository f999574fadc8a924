package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Client is a Modbus TCP client. Requests are serialized; only one request
// is on the wire at a time.
type Client struct {
	address       string
	unitID        uint8
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	connected     bool
}

func NewClient(address string, unitID uint8, timeout time.Duration) *Client {
	return &Client{
		address: address,
		unitID:  unitID,
		timeout: timeout,
	}
}

// Connect stellt TCP-Verbindung her
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	c.conn = conn
	c.connected = true

	return nil
}

// Close schließt die Verbindung
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if !c.connected {
		return nil
	}

	err := c.conn.Close()
	c.connected = false
	c.conn = nil

	return err
}

// SendFrame sendet ein Frame und wartet auf Response.
// Any I/O failure leaves the stream in an unknown position, so the
// connection is closed.
func (c *Client) SendFrame(ctx context.Context, request *ModbusFrame) (*ModbusFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.transactionID++
	request.TransactionID = c.transactionID
	request.UnitID = c.unitID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn := c.conn
	if err := conn.SetDeadline(deadline); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("set deadline failed: %w", err)
	}
	// Abbruch über den Context: laufendes Read/Write sofort beenden
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	response, err := c.roundTrip(conn, request)
	if err != nil {
		c.closeLocked()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("request aborted: %w", ctxErr)
		}
		return nil, err
	}

	if response.TransactionID != request.TransactionID {
		c.closeLocked()
		return nil, fmt.Errorf("%w: transaction ID mismatch: expected %d, got %d",
			ErrMalformed, request.TransactionID, response.TransactionID)
	}
	if response.UnitID != request.UnitID && !(response.IsException() && response.UnitID == 0xFF) {
		return nil, fmt.Errorf("%w: unit ID mismatch: expected %d, got %d",
			ErrMalformed, request.UnitID, response.UnitID)
	}

	switch {
	case response.FunctionCode == request.FunctionCode:
		return response, nil
	case response.FunctionCode == request.FunctionCode|exceptionFlag:
		return nil, response.Exception()
	default:
		return nil, fmt.Errorf("%w: unexpected function code 0x%02X", ErrMalformed, response.FunctionCode)
	}
}

func (c *Client) roundTrip(conn net.Conn, request *ModbusFrame) (*ModbusFrame, error) {
	if _, err := conn.Write(request.Encode()); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	header := make([]byte, mbapHeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || length > 254 {
		return nil, fmt.Errorf("%w: invalid length field %d", ErrMalformed, length)
	}

	frame := make([]byte, mbapHeaderLen+length-1)
	copy(frame, header)
	if _, err := io.ReadFull(conn, frame[mbapHeaderLen:]); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	return DecodeFrame(frame)
}

// ReadHoldingRegisters liest Holding Registers
func (c *Client) ReadHoldingRegisters(ctx context.Context, startAddr uint16, quantity uint16) ([]uint16, error) {
	return readChunked(startAddr, quantity, func(addr, qty uint16) ([]uint16, error) {
		response, err := c.SendFrame(ctx, ReadHoldingRegistersRequest(0, c.unitID, addr, qty))
		if err != nil {
			return nil, err
		}
		return response.ParseRegisterResponse(qty)
	})
}

// ReadInputRegisters liest Input Registers
func (c *Client) ReadInputRegisters(ctx context.Context, startAddr uint16, quantity uint16) ([]uint16, error) {
	return readChunked(startAddr, quantity, func(addr, qty uint16) ([]uint16, error) {
		response, err := c.SendFrame(ctx, ReadInputRegistersRequest(0, c.unitID, addr, qty))
		if err != nil {
			return nil, err
		}
		return response.ParseRegisterResponse(qty)
	})
}

// WriteMultipleRegisters schreibt mehrere Register am Stück
func (c *Client) WriteMultipleRegisters(ctx context.Context, startAddr uint16, values []uint16) error {
	return writeChunked(startAddr, values, func(addr uint16, chunk []uint16) error {
		response, err := c.SendFrame(ctx, WriteMultipleRegistersRequest(0, c.unitID, addr, chunk))
		if err != nil {
			return err
		}
		return response.ParseWriteResponse(addr, uint16(len(chunk)))
	})
}
