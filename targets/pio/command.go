// Package pio emits step pulses on RP2040-class chips, either from a PIO
// state machine running a small step program or by toggling GPIO directly.
package pio

// Command word consumed by the step program. The OSR shifts right, so
// fields are taken from the least significant end:
//
//	bits 0-15  pulses minus one
//	bits 16-23 delay loop count between pulses
//	bit 24     direction pin level
const (
	pulseBits  = 16
	delayShift = 16
	dirShift   = 24

	// MaxBurst is the largest pulse count a single command carries
	MaxBurst = 1 << pulseBits
)

// Cycle costs of the step program, in PIO clocks
const (
	setupCycles = 5 // pull, out x, out y, out pins, mov isr
	highCycles  = 8 // set pins 1 [7]
	loopCycles  = 4 // set pins 0, mov y, final jmp y--, jmp x--
)

// EncodeCommand packs a burst of pulses for the step program. It reports
// false when pulses is outside 1..MaxBurst.
func EncodeCommand(pulses uint32, delay uint8, dirHigh bool) (uint32, bool) {
	if pulses == 0 || pulses > MaxBurst {
		return 0, false
	}
	cmd := (pulses - 1) | uint32(delay)<<delayShift
	if dirHigh {
		cmd |= 1 << dirShift
	}
	return cmd, true
}

// DecodeCommand is the inverse of EncodeCommand
func DecodeCommand(cmd uint32) (pulses uint32, delay uint8, dirHigh bool) {
	pulses = cmd&(MaxBurst-1) + 1
	delay = uint8(cmd >> delayShift)
	dirHigh = cmd>>dirShift&1 == 1
	return
}

// BurstCycles is the number of PIO clocks the program spends on one command
func BurstCycles(pulses uint32, delay uint8) uint32 {
	return setupCycles + pulses*(highCycles+loopCycles+uint32(delay))
}

// DirLevel maps a motion direction to the pin level
func DirLevel(clockwise, invert bool) bool {
	return clockwise != invert
}

const (
	numBlocks   = 2
	smsPerBlock = 4
)

// Allocator hands out state machines round-robin across the PIO blocks
type Allocator struct {
	used    [numBlocks][smsPerBlock]bool
	nextPIO uint8
	nextSM  uint8
}

// Allocate claims the next free state machine
func (a *Allocator) Allocate() (pioNum, smNum uint8, ok bool) {
	for i := 0; i < numBlocks*smsPerBlock; i++ {
		p, s := a.nextPIO, a.nextSM
		a.nextSM++
		if a.nextSM >= smsPerBlock {
			a.nextSM = 0
			a.nextPIO = (a.nextPIO + 1) % numBlocks
		}
		if !a.used[p][s] {
			a.used[p][s] = true
			return p, s, true
		}
	}
	return 0, 0, false
}

// Release returns a state machine to the pool
func (a *Allocator) Release(pioNum, smNum uint8) {
	if pioNum < numBlocks && smNum < smsPerBlock {
		a.used[pioNum][smNum] = false
	}
}

// InUse reports the number of claimed state machines
func (a *Allocator) InUse() int {
	n := 0
	for _, block := range a.used {
		for _, u := range block {
			if u {
				n++
			}
		}
	}
	return n
}
