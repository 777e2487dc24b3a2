// Package tmc configures TMC2209 stepper drivers over their UART
package tmc

import (
	"io"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers/tmc2209"
)

const (
	syncByte    = 0x05
	masterAddr  = 0xFF
	writeFlag   = 0x80
	writeLength = 8
	readLength  = 4
	replyLength = 8
)

var (
	ErrBadReply = errors.New("tmc2209: malformed reply")
	ErrCRC      = errors.New("tmc2209: reply CRC mismatch")
)

// UARTComm speaks the TMC2209 datagram protocol on a byte stream. It
// implements tmc2209.RegisterComm.
type UARTComm struct {
	rw io.ReadWriter

	// Echo discards the copy of each request that a single-wire bus
	// loops back to the receiver
	Echo bool
}

var _ tmc2209.RegisterComm = (*UARTComm)(nil)

// NewUARTComm wraps an open port
func NewUARTComm(rw io.ReadWriter, echo bool) *UARTComm {
	return &UARTComm{rw: rw, Echo: echo}
}

// WriteRegister sends a write datagram; the driver does not reply
func (c *UARTComm) WriteRegister(register uint8, value uint32, driverIndex uint8) error {
	var frame [writeLength]byte
	frame[0] = syncByte
	frame[1] = driverIndex
	frame[2] = register | writeFlag
	putUint32(frame[3:7], value)
	frame[7] = tmc2209.CalculateCRC(frame[:7])

	if err := c.send(frame[:]); err != nil {
		return errors.Wrapf(err, "write register 0x%02x", register)
	}
	return nil
}

// ReadRegister sends a read request and decodes the 8 byte reply
func (c *UARTComm) ReadRegister(register uint8, driverIndex uint8) (uint32, error) {
	var req [readLength]byte
	req[0] = syncByte
	req[1] = driverIndex
	req[2] = register &^ writeFlag
	req[3] = tmc2209.CalculateCRC(req[:3])

	if err := c.send(req[:]); err != nil {
		return 0, errors.Wrapf(err, "read register 0x%02x", register)
	}

	var reply [replyLength]byte
	if _, err := io.ReadFull(c.rw, reply[:]); err != nil {
		return 0, errors.Wrapf(err, "read register 0x%02x reply", register)
	}
	if reply[0]&0x0F != syncByte || reply[1] != masterAddr || reply[2] != register&^writeFlag {
		return 0, errors.Wrapf(ErrBadReply, "% x", reply)
	}
	if tmc2209.CalculateCRC(reply[:7]) != reply[7] {
		return 0, errors.Wrapf(ErrCRC, "register 0x%02x", register)
	}
	return getUint32(reply[3:7]), nil
}

func (c *UARTComm) send(frame []byte) error {
	if _, err := c.rw.Write(frame); err != nil {
		return err
	}
	if !c.Echo {
		return nil
	}
	var echo [writeLength]byte
	if _, err := io.ReadFull(c.rw, echo[:len(frame)]); err != nil {
		return errors.Wrap(err, "read echo")
	}
	return nil
}

// Register data travels most significant byte first
func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
