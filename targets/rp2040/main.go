//go:build rp2040 || rp2350

// Command rp2040 is the stepper firmware: it runs one motion engine and
// answers the framed command protocol over USB.
package main

import (
	"machine"
	"time"

	"stepdrive/core"
	"stepdrive/protocol"
	"stepdrive/targets/pio"
)

// Board wiring
var pins = pio.Pins{
	Step:         machine.GPIO2,
	Dir:          machine.GPIO3,
	Enable:       machine.GPIO4,
	InvertEnable: true, // TMC2209 EN is active low
}

const ledPin = machine.LED

const (
	idleBlinkUs   = 500000
	movingBlinkUs = 100000
	maxWriteFails = 10
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport
	engine       *core.MotionEngine

	writeFailures uint32
	disconnected  bool
	loopErrors    uint32
)

func main() {
	// Clear a watchdog left running across a reset
	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})

	InitUSB()
	clock := hwClock{}
	engine = core.NewMotionEngine(clock, newPulseDriver(pins))

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()
	reg := core.NewCommandRegistry()
	transport = protocol.NewTransport(outputBuffer, reg.Dispatch)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		engine.EmergencyStop()
	})
	// ACKs must leave before any response queued after them
	transport.SetFlushCallback(writeUSB)
	if err := core.RegisterEngineCommands(reg, engine, transport.SendCommand); err != nil {
		halt()
	}

	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	sched := core.NewScheduler(clock)
	heartbeat := &core.Timer{WakeTime: clock.NowMicros(), Handler: blink}
	sched.Schedule(heartbeat)

	for {
		poll(sched)
	}
}

// poll runs one pass of the control loop
func poll(sched *core.Scheduler) {
	defer func() {
		if r := recover(); r != nil {
			loopErrors++
			engine.EmergencyStop()
			inputBuffer.Reset()
			outputBuffer.Reset()
		}
	}()

	readUSB()
	if inputBuffer.Available() > 0 {
		transport.Receive(inputBuffer)
	}
	if len(outputBuffer.Result()) > 0 {
		writeUSB()
	}
	engine.Run()
	sched.Dispatch()
}

var ledOn bool

func blink(t *core.Timer) uint8 {
	ledOn = !ledOn
	ledPin.Set(ledOn)
	if engine.IsRunning() {
		t.WakeTime += movingBlinkUs
	} else {
		t.WakeTime += idleBlinkUs
	}
	return core.SF_RESCHEDULE
}

// readUSB moves whatever the host sent into the input FIFO
func readUSB() {
	var b [1]byte
	for USBAvailable() > 0 && inputBuffer.Free() > 0 {
		c, err := USBRead()
		if err != nil {
			loopErrors++
			return
		}
		if disconnected {
			// Fresh connection: drop state from the previous host
			disconnected = false
			writeFailures = 0
			inputBuffer.Reset()
			outputBuffer.Reset()
			transport.Reset()
		}
		b[0] = c
		inputBuffer.Write(b[:])
	}
}

// writeUSB sends the pending output. Repeated failures are taken as a
// disconnect and the stale output is dropped.
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			writeFailures++
			if writeFailures > maxWriteFails {
				disconnected = true
				writeFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
				engine.EmergencyStop()
			}
			return
		}
		written += n
	}
	writeFailures = 0
	outputBuffer.Reset()
}

// halt blinks fast forever
func halt() {
	ledPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		ledPin.High()
		time.Sleep(100 * time.Millisecond)
		ledPin.Low()
		time.Sleep(100 * time.Millisecond)
	}
}
