package protocol

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

type recordedCommand struct {
	ID   uint16
	Args []int32
}

// recordingHandler decodes one signed argument for move_to and none otherwise
func recordingHandler(got *[]recordedCommand) CommandHandler {
	return func(cmdID uint16, args *[]byte) error {
		rc := recordedCommand{ID: cmdID}
		if cmdID == CmdMoveTo {
			v, err := DecodeVLQInt(args)
			if err != nil {
				return err
			}
			rc.Args = append(rc.Args, v)
		}
		*got = append(*got, rc)
		return nil
	}
}

func hostFrame(t *testing.T, seq uint8, cmdID uint16, args ...int32) []byte {
	t.Helper()
	msg, err := buildCommandMessage(seq, cmdID, func(out OutputBuffer) {
		for _, a := range args {
			EncodeVLQInt(out, a)
		}
	})
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	return msg
}

func ackFrame(seq uint8) []byte {
	return appendTrailer([]byte{MessageLengthMin, seq})
}

func TestTransportKnownFrame(t *testing.T) {
	frame := hostFrame(t, MessageDest, CmdMoveTo, 400)
	want := []byte{0x08, 0x10, 0x00, 0x83, 0x10, 0x1F, 0x2C, 0x7E}
	if !bytes.Equal(frame, want) {
		t.Errorf("move_to frame = % x, want % x", frame, want)
	}
}

func TestTransportReceiveAndAck(t *testing.T) {
	var got []recordedCommand
	out := NewScratchOutput()
	tr := NewTransport(out, recordingHandler(&got))

	input := NewSliceInputBuffer(hostFrame(t, MessageDest, CmdMoveTo, -300))
	tr.Receive(input)

	want := []recordedCommand{{ID: CmdMoveTo, Args: []int32{-300}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dispatched commands mismatch (-want +got):\n%s", diff)
	}
	if input.Available() != 0 {
		t.Errorf("expected input consumed, %d bytes left", input.Available())
	}
	if !bytes.Equal(out.Result(), ackFrame(MessageDest+1)) {
		t.Errorf("ack = % x, want % x", out.Result(), ackFrame(MessageDest+1))
	}
	if tr.NextSequence() != MessageDest+1 {
		t.Errorf("next sequence = 0x%02x, want 0x11", tr.NextSequence())
	}
}

func TestTransportPartialFrame(t *testing.T) {
	var got []recordedCommand
	tr := NewTransport(NewScratchOutput(), recordingHandler(&got))

	frame := hostFrame(t, MessageDest, CmdStop)
	fifo := NewFifoBuffer(64)
	fifo.Write(frame[:3])
	tr.Receive(fifo)
	if len(got) != 0 {
		t.Fatal("partial frame must not dispatch")
	}
	if fifo.Available() != 3 {
		t.Fatalf("partial frame must stay buffered, %d bytes left", fifo.Available())
	}

	fifo.Write(frame[3:])
	tr.Receive(fifo)
	if len(got) != 1 || got[0].ID != CmdStop {
		t.Errorf("expected stop after completing the frame, got %+v", got)
	}
}

func TestTransportRetransmitIsNotDispatchedTwice(t *testing.T) {
	var got []recordedCommand
	out := NewScratchOutput()
	tr := NewTransport(out, recordingHandler(&got))

	frame := hostFrame(t, MessageDest+1, CmdEnable)
	tr.Receive(NewSliceInputBuffer(hostFrame(t, MessageDest, CmdEnable)))
	tr.Receive(NewSliceInputBuffer(frame))
	tr.Receive(NewSliceInputBuffer(frame))

	if len(got) != 2 {
		t.Errorf("expected 2 dispatches, got %d", len(got))
	}
	stats := tr.Stats()
	if stats.Frames != 2 || stats.Retransmits != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestTransportResyncAfterCorruption(t *testing.T) {
	var got []recordedCommand
	tr := NewTransport(NewScratchOutput(), recordingHandler(&got))

	bad := hostFrame(t, MessageDest, CmdEnable)
	bad[2] ^= 0xFF // break the CRC
	good := hostFrame(t, MessageDest, CmdDisable)

	tr.Receive(NewSliceInputBuffer(append(bad, good...)))

	if len(got) != 1 || got[0].ID != CmdDisable {
		t.Errorf("expected only disable after resync, got %+v", got)
	}
	if tr.Stats().Resyncs != 1 {
		t.Errorf("expected 1 resync, got %d", tr.Stats().Resyncs)
	}
}

func TestTransportHostReset(t *testing.T) {
	var resets int
	tr := NewTransport(NewScratchOutput(), func(uint16, *[]byte) error { return nil })
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(hostFrame(t, MessageDest, CmdStop)))
	tr.Receive(NewSliceInputBuffer(hostFrame(t, MessageDest, CmdStop)))

	if resets != 1 {
		t.Errorf("expected reset callback once, got %d", resets)
	}
}

func TestTransportHandlerError(t *testing.T) {
	tr := NewTransport(NewScratchOutput(), func(uint16, *[]byte) error {
		return errors.New("boom")
	})
	tr.Receive(NewSliceInputBuffer(hostFrame(t, MessageDest, CmdStop)))
	if tr.Stats().HandlerErrors != 1 {
		t.Errorf("expected handler error counted, got %+v", tr.Stats())
	}
	// Handler errors do not break the link
	if !tr.getSynchronized() {
		t.Error("transport should stay synchronized")
	}
}

func TestEncodeMessageTooLong(t *testing.T) {
	if _, err := EncodeMessage(MessageDest, make([]byte, MessageLengthMax)); err != ErrMessageTooLong {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
}

// fakeDevice runs a device Transport on one end of a pipe
func fakeDevice(t *testing.T, conn net.Conn, handler CommandHandler) {
	t.Helper()
	go func() {
		out := NewScratchOutput()
		fifo := NewFifoBuffer(256)
		tr := NewTransport(out, handler)
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			fifo.Write(buf[:n])
			out.Reset()
			tr.Receive(fifo)
			if len(out.Result()) > 0 {
				if _, err := conn.Write(out.Result()); err != nil {
					return
				}
			}
		}
	}()
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, devEnd := net.Pipe()
	defer devEnd.Close()

	var devTr *Transport
	handler := func(cmdID uint16, args *[]byte) error {
		if cmdID == CmdGetStatus {
			devTr.SendCommand(RespStatus, func(out OutputBuffer) {
				EncodeStatus(out, Status{Position: 12, Target: 40, MSpeed: 250000, Phase: 1, Flags: StatusEnabled | StatusMoving})
			})
		}
		return nil
	}

	// The device transport writes its response into the same output as the ACK
	go func() {
		out := NewScratchOutput()
		fifo := NewFifoBuffer(256)
		devTr = NewTransport(out, handler)
		buf := make([]byte, 64)
		for {
			n, err := devEnd.Read(buf)
			if err != nil {
				return
			}
			fifo.Write(buf[:n])
			out.Reset()
			devTr.Receive(fifo)
			if _, err := devEnd.Write(out.Result()); err != nil {
				return
			}
		}
	}()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	if err := host.SendCommand(CmdEnable, nil); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if host.GetCurrentSequence() != MessageDest+1 {
		t.Errorf("sequence after one command = 0x%02x, want 0x11", host.GetCurrentSequence())
	}

	args, err := host.Query(CmdGetStatus, nil, RespStatus, time.Second)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	st, err := DecodeStatus(&args)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	want := Status{Position: 12, Target: 40, MSpeed: 250000, Phase: 1, Flags: StatusEnabled | StatusMoving}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestHostTransportAckTimeout(t *testing.T) {
	hostEnd, devEnd := net.Pipe()
	defer devEnd.Close()

	// Swallow everything, never acknowledge
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := devEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	err := host.SendCommandWithTimeout(CmdStop, nil, 20*time.Millisecond)
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("expected ErrAckTimeout, got %v", err)
	}
}

// Query bounds the acknowledgement wait by its own timeout, not the default
func TestHostTransportQueryAckTimeout(t *testing.T) {
	hostEnd, devEnd := net.Pipe()
	defer devEnd.Close()
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := devEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	start := time.Now()
	_, err := host.Query(CmdGetStatus, nil, RespStatus, 20*time.Millisecond)
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("expected ErrAckTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= DefaultAckTimeout {
		t.Errorf("query waited %v, past the default ack timeout", elapsed)
	}
}

func TestHostTransportEchoDevice(t *testing.T) {
	hostEnd, devEnd := net.Pipe()
	defer devEnd.Close()

	var got []recordedCommand
	fakeDevice(t, devEnd, recordingHandler(&got))

	host := NewHostTransport(hostEnd)
	for i := 0; i < 20; i++ {
		err := host.SendCommand(CmdMoveTo, func(out OutputBuffer) { EncodeVLQInt(out, int32(i)) })
		if err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
	}
	if err := host.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if len(got) != 20 {
		t.Fatalf("expected 20 commands, got %d", len(got))
	}
	for i, c := range got {
		if c.Args[0] != int32(i) {
			t.Errorf("command %d carried %d", i, c.Args[0])
		}
	}
}
