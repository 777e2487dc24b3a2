package standalone

// SimDriver is a pulse driver that only counts. Its Position is the
// physical shaft position and is not affected by SetHome.
type SimDriver struct {
	Pulses           int
	DirectionChanges int
	EnableChanges    int

	position  int64
	clockwise bool
	dirSet    bool
	enabled   bool
}

// NewSimDriver creates a driver at physical position 0
func NewSimDriver() *SimDriver {
	return &SimDriver{}
}

// SetDirection implements core.PulseDriver
func (d *SimDriver) SetDirection(clockwise bool) {
	if !d.dirSet || clockwise != d.clockwise {
		d.DirectionChanges++
	}
	d.clockwise = clockwise
	d.dirSet = true
}

// EmitPulse implements core.PulseDriver
func (d *SimDriver) EmitPulse() {
	d.Pulses++
	if d.clockwise {
		d.position++
	} else {
		d.position--
	}
}

// SetEnabled implements core.Enabler
func (d *SimDriver) SetEnabled(on bool) {
	if on != d.enabled {
		d.EnableChanges++
	}
	d.enabled = on
}

// Position returns the physical step count
func (d *SimDriver) Position() int64 { return d.position }

// Enabled reports the simulated enable line
func (d *SimDriver) Enabled() bool { return d.enabled }

// SimLimit is a switch fixed at a physical position of a SimDriver
type SimLimit struct {
	Driver *SimDriver
	At     int64
}

// IsTriggered implements core.LimitSensor
func (l *SimLimit) IsTriggered() bool {
	return l.Driver.Position() <= l.At
}
