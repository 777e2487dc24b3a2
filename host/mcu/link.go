// Package mcu drives stepper firmware over the framed serial protocol
package mcu

import (
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stepdrive/core"
	"stepdrive/host/serial"
	"stepdrive/protocol"
	"stepdrive/standalone"
)

// ErrOutOfRange is returned for values the wire format cannot carry
var ErrOutOfRange = errors.New("value does not fit the wire format")

// Link is a standalone.Axis backed by firmware on the other end of a port
type Link struct {
	transport *protocol.HostTransport
	timeout   time.Duration
	log       *zap.SugaredLogger
}

var _ standalone.Axis = (*Link)(nil)

// Open opens the configured serial device and starts the link
func Open(cfg standalone.LinkConfig, log *zap.SugaredLogger) (*Link, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	port, err := serial.Open(&serial.Config{
		Device:      cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		log.Debugw("flush serial port", "device", port.Device(), "error", err)
	}
	log.Debugw("serial port open", "device", port.Device(), "baud", cfg.Baud)
	return NewLink(port, time.Duration(cfg.TimeoutMs)*time.Millisecond, log), nil
}

// NewLink runs the protocol over an already open port. timeout bounds the
// wait for each acknowledgement and response.
func NewLink(port io.ReadWriteCloser, timeout time.Duration, log *zap.SugaredLogger) *Link {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = protocol.DefaultAckTimeout
	}
	return &Link{
		transport: protocol.NewHostTransport(port),
		timeout:   timeout,
		log:       log,
	}
}

// Close stops the reader and closes the port
func (l *Link) Close() error {
	return l.transport.Close()
}

// Reset resynchronizes the sequence with the firmware
func (l *Link) Reset() {
	l.transport.Reset()
}

func (l *Link) send(cmdID uint16, args func(protocol.OutputBuffer)) error {
	err := l.transport.SendCommandWithTimeout(cmdID, args, l.timeout)
	if err != nil {
		l.log.Warnw("send failed", "command", protocol.CommandName(cmdID), "error", err)
		return errors.Wrap(err, protocol.CommandName(cmdID))
	}
	return nil
}

func (l *Link) sendInt(cmdID uint16, v int32) error {
	return l.send(cmdID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQInt(out, v)
	})
}

func (l *Link) sendUint(cmdID uint16, v uint32) error {
	return l.send(cmdID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, v)
	})
}

func toInt32(v int64) (int32, error) {
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, errors.Wrapf(ErrOutOfRange, "%d", v)
	}
	return int32(v), nil
}

// toMilli scales v to milli-units rounded to nearest
func toMilli(v float64) (int32, error) {
	m := math.Round(v * protocol.MilliScale)
	if math.IsNaN(m) || m > math.MaxInt32 || m < math.MinInt32 {
		return 0, errors.Wrapf(ErrOutOfRange, "%v", v)
	}
	return int32(m), nil
}

// toMilliLimit validates a speed or acceleration and scales it
func toMilliLimit(v float64) (uint32, error) {
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, errors.Wrapf(core.ErrInvalidLimit, "%v", v)
	}
	m := math.Round(v * protocol.MilliScale)
	if m < 1 || m > math.MaxUint32 {
		return 0, errors.Wrapf(ErrOutOfRange, "%v", v)
	}
	return uint32(m), nil
}

func (l *Link) MoveTo(position int64) error {
	p, err := toInt32(position)
	if err != nil {
		return err
	}
	return l.sendInt(protocol.CmdMoveTo, p)
}

func (l *Link) MoveRelative(delta int64) error {
	d, err := toInt32(delta)
	if err != nil {
		return err
	}
	return l.sendInt(protocol.CmdMoveRelative, d)
}

func (l *Link) Rotate(degrees float64) error {
	m, err := toMilli(degrees)
	if err != nil {
		return err
	}
	return l.sendInt(protocol.CmdRotate, m)
}

func (l *Link) RotateRevolutions(n float64) error {
	m, err := toMilli(n)
	if err != nil {
		return err
	}
	return l.sendInt(protocol.CmdRotateRevs, m)
}

func (l *Link) Stop() error          { return l.send(protocol.CmdStop, nil) }
func (l *Link) EmergencyStop() error { return l.send(protocol.CmdEmergencyStop, nil) }
func (l *Link) Enable() error        { return l.send(protocol.CmdEnable, nil) }
func (l *Link) Disable() error       { return l.send(protocol.CmdDisable, nil) }
func (l *Link) SetHome() error       { return l.send(protocol.CmdSetHome, nil) }
func (l *Link) GoHome() error        { return l.send(protocol.CmdGoHome, nil) }

func (l *Link) setLimit(cmdID uint16, v float64) error {
	m, err := toMilliLimit(v)
	if err != nil {
		return err
	}
	return l.sendUint(cmdID, m)
}

func (l *Link) SetMaxSpeed(v float64) error {
	return l.setLimit(protocol.CmdSetMaxSpeed, v)
}

func (l *Link) SetAcceleration(a float64) error {
	return l.setLimit(protocol.CmdSetAcceleration, a)
}

func (l *Link) SetDeceleration(d float64) error {
	return l.setLimit(protocol.CmdSetDeceleration, d)
}

// Home is not part of the wire protocol; the firmware has no limit input
func (l *Link) Home() error {
	return errors.Wrap(standalone.ErrUnsupported, "homing over the link")
}

// Status queries the firmware
func (l *Link) Status() (standalone.AxisStatus, error) {
	args, err := l.transport.Query(protocol.CmdGetStatus, nil, protocol.RespStatus, l.timeout)
	if err != nil {
		return standalone.AxisStatus{}, errors.Wrap(err, "get_status")
	}
	st, err := protocol.DecodeStatus(&args)
	if err != nil {
		return standalone.AxisStatus{}, errors.Wrap(err, "decode status")
	}
	return statusFromWire(st), nil
}

func statusFromWire(st protocol.Status) standalone.AxisStatus {
	return standalone.AxisStatus{
		Position:  int64(st.Position),
		Target:    int64(st.Target),
		Speed:     float64(st.MSpeed) / protocol.MilliScale,
		Phase:     core.Phase(st.Phase),
		Enabled:   st.Flags&protocol.StatusEnabled != 0,
		Moving:    st.Flags&protocol.StatusMoving != 0,
		Clockwise: st.Flags&protocol.StatusClockwise != 0,
		Homing:    st.Flags&protocol.StatusHoming != 0,
	}
}

// Sequence returns the sequence number of the next command
func (l *Link) Sequence() uint8 {
	return l.transport.GetCurrentSequence()
}
