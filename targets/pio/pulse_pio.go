//go:build rp2040

package pio

import (
	"machine"

	"github.com/pkg/errors"
	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"stepdrive/core"
)

// ErrNoStateMachine is returned when every state machine is claimed
var ErrNoStateMachine = errors.New("no free PIO state machine")

// PIO clock divider: 125 MHz system clock down to 1 MHz, one cycle per µs
const pioClockDiv = 125

// buildStepProgram assembles the step program. The delay count is kept in
// ISR so every pulse of a burst waits the same number of cycles.
func buildStepProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),                      // 0: pull block
		asm.Out(rp2pio.OutDestX, pulseBits).Encode(),        // 1: out x, 16
		asm.Out(rp2pio.OutDestY, 8).Encode(),                // 2: out y, 8
		asm.Out(rp2pio.OutDestPins, 1).Encode(),             // 3: out pins, 1
		asm.Mov(rp2pio.MovDestISR, rp2pio.MovSrcY).Encode(), // 4: mov isr, y
		// pulse:
		asm.Set(rp2pio.SetDestPins, 1).Delay(highCycles-1).Encode(), // 5: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),                     // 6: set pins, 0
		asm.Mov(rp2pio.MovDestY, rp2pio.MovSrcISR).Encode(),         // 7: mov y, isr
		// delay:
		asm.Jmp(8, rp2pio.JmpYNZeroDec).Encode(), // 8: jmp y--, delay
		asm.Jmp(5, rp2pio.JmpXNZeroDec).Encode(), // 9: jmp x--, pulse
		// .wrap
	}
}

// Jump targets above are absolute
const stepProgramOrigin = 0

var allocator Allocator

// PIODriver is a core.PulseDriver whose pulses are timed by a PIO state
// machine. Only the FIFO write happens on the CPU.
type PIODriver struct {
	pio       *rp2pio.PIO
	sm        rp2pio.StateMachine
	stepPin   machine.Pin
	dirPin    machine.Pin
	enable    machine.Pin
	invertDir bool
	invertEn  bool
	dirHigh   bool
	pioNum    uint8
	smNum     uint8
}

var (
	_ core.PulseDriver = (*PIODriver)(nil)
	_ core.Enabler     = (*PIODriver)(nil)
)

// NewPIODriver claims a state machine, loads the step program and leaves
// the driver stage disabled
func NewPIODriver(pins Pins) (*PIODriver, error) {
	pioNum, smNum, ok := allocator.Allocate()
	if !ok {
		return nil, ErrNoStateMachine
	}
	hw := rp2pio.PIO0
	if pioNum == 1 {
		hw = rp2pio.PIO1
	}
	d := &PIODriver{
		pio:       hw,
		sm:        hw.StateMachine(smNum),
		stepPin:   pins.Step,
		dirPin:    pins.Dir,
		enable:    pins.Enable,
		invertDir: pins.InvertDir,
		invertEn:  pins.InvertEnable,
		pioNum:    pioNum,
		smNum:     smNum,
	}
	if err := d.init(); err != nil {
		allocator.Release(pioNum, smNum)
		return nil, err
	}
	return d, nil
}

func (d *PIODriver) init() error {
	d.sm.TryClaim()

	program := buildStepProgram()
	offset, err := d.pio.AddProgram(program, stepProgramOrigin)
	if err != nil {
		return errors.Wrap(err, "load step program")
	}

	d.stepPin.Configure(machine.PinConfig{Mode: d.pio.PinMode()})
	d.dirPin.Configure(machine.PinConfig{Mode: d.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(d.stepPin, 1)
	cfg.SetOutPins(d.dirPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(pioClockDiv, 0)

	// Pin directions only stick after Init
	d.sm.Init(offset, cfg)
	d.sm.SetPindirsConsecutive(d.stepPin, 1, true)
	d.sm.SetPindirsConsecutive(d.dirPin, 1, true)
	d.sm.SetPinsConsecutive(d.stepPin, 1, false)
	d.sm.SetPinsConsecutive(d.dirPin, 1, false)
	d.sm.SetEnabled(true)

	if d.enable != machine.NoPin {
		d.enable.Configure(machine.PinConfig{Mode: machine.PinOutput})
		d.SetEnabled(false)
	}
	return nil
}

// SetDirection latches the level sent with the next pulse. The program
// drives the pin one PIO cycle ahead of the rising edge.
func (d *PIODriver) SetDirection(clockwise bool) {
	d.dirHigh = DirLevel(clockwise, d.invertDir)
}

// EmitPulse queues a single pulse
func (d *PIODriver) EmitPulse() {
	cmd, _ := EncodeCommand(1, 0, d.dirHigh)
	for d.sm.IsTxFIFOFull() {
	}
	d.sm.TxPut(cmd)
}

// QueueBurst queues pulses back to back with delay extra cycles between them
func (d *PIODriver) QueueBurst(pulses uint32, delay uint8) bool {
	cmd, ok := EncodeCommand(pulses, delay, d.dirHigh)
	if !ok {
		return false
	}
	for d.sm.IsTxFIFOFull() {
	}
	d.sm.TxPut(cmd)
	return true
}

// Abort drops queued pulses and restarts the program
func (d *PIODriver) Abort() {
	d.sm.SetEnabled(false)
	d.sm.ClearFIFOs()
	d.sm.Restart()
	d.sm.SetPinsConsecutive(d.stepPin, 1, false)
	d.sm.SetEnabled(true)
}

// SetEnabled drives the enable pin; a disabled driver also drops any
// queued pulses
func (d *PIODriver) SetEnabled(on bool) {
	if !on {
		d.Abort()
	}
	if d.enable != machine.NoPin {
		d.enable.Set(on != d.invertEn)
	}
}
