package protocol

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

var ErrMessageTooLong = errors.New("message exceeds frame length")

// CommandHandler handles one decoded command. It must consume its own
// arguments from args; the next command in the frame starts where it stops.
type CommandHandler func(cmdID uint16, args *[]byte) error

// TransportStats counts link events since the last Reset
type TransportStats struct {
	Frames        uint32 // Frames accepted in sequence
	Retransmits   uint32 // Valid frames ignored for a wrong sequence
	Resyncs       uint32 // Corrupt frames that dropped synchronization
	HandlerErrors uint32
}

// Transport is the device side of the link. It parses frames from an
// InputBuffer, dispatches the commands they carry and acknowledges every
// frame with the next expected sequence.
type Transport struct {
	isSynchronized uint32 // atomic bool
	nextSequence   uint32 // atomic, 0x10-0x1F

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()

	stats TransportStats
}

// NewTransport creates a synchronized transport expecting sequence 0x10
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		isSynchronized: 1,
		nextSequence:   MessageDest,
		output:         output,
		handler:        handler,
	}
}

// Receive consumes every complete frame in input. Partial frames stay in
// the buffer for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			var found bool
			data, found = skipToSync(data)
			if found {
				t.setSynchronized(true)
				t.encodeAckNak()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		n, status := scanFrame(data, true)
		if status == scanNeedMore {
			break
		}
		if status == scanBad {
			t.stats.Resyncs++
			t.setSynchronized(false)
			continue
		}

		seq := data[MessagePositionSeq]
		payload := framePayload(data[:n])
		data = data[n:]

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == expected {
			atomic.StoreUint32(&t.nextSequence, uint32(nextSeq(seq)))
			t.stats.Frames++
			if err := t.parseFrame(payload); err != nil {
				t.stats.HandlerErrors++
			}
		} else {
			t.stats.Retransmits++
		}
		// A wrong sequence is answered too; the ACK then acts as a NAK
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame dispatches every command in a frame payload
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
			err = errors.Errorf("command handler panic: %v", r)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return errors.Wrapf(err, "command %d", cmdID)
		}
	}
	return nil
}

// encodeAckNak writes an empty frame carrying the next expected sequence
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	var ack [MessageLengthMin]byte
	ack[MessagePositionLen] = MessageLengthMin
	ack[MessagePositionSeq] = ns
	crc := CRC16(ack[:MessageHeaderSize])
	ack[2] = byte(crc >> 8)
	ack[3] = byte(crc)
	ack[4] = MessageValueSync
	t.output.Output(ack[:])

	// ACKs go out ahead of any response queued behind them
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame whose payload is produced by frameData.
// Responses reuse the current sequence; it is not advanced.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()
	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	frameData(t.output)

	length := len(t.output.DataSince(cursor)) + MessageTrailerSize
	t.output.Update(cursor, uint8(length))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}

// SendCommand encodes cmdID followed by its arguments as one frame
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on sequence, e.g. after a USB reconnect
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	t.stats = TransportStats{}
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback is called when the host restarts its sequence
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback is called after each ACK so it can be written out at once
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// Stats returns the link counters
func (t *Transport) Stats() TransportStats {
	return t.stats
}

// NextSequence returns the sequence expected from the host
func (t *Transport) NextSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.nextSequence))
}

func (t *Transport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	var v uint32
	if val {
		v = 1
	}
	atomic.StoreUint32(&t.isSynchronized, v)
}
