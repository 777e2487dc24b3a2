package tmc

import (
	"io"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers/tmc2209"

	"stepdrive/core"
	"stepdrive/host/serial"
	"stepdrive/standalone"
)

// ErrNoDriver is returned when nothing answers at the configured address
var ErrNoDriver = errors.New("tmc2209: no driver responding")

// mresFullStep is the CHOPCONF.MRES value for full steps; each lower
// value doubles the microstep count
const mresFullStep = 8

// Driver is one TMC2209 on a shared UART, selected by its strap address
type Driver struct {
	comm tmc2209.RegisterComm
	addr uint8
}

// New addresses the driver at addr (0-3) through comm
func New(comm tmc2209.RegisterComm, addr uint8) *Driver {
	return &Driver{comm: comm, addr: addr}
}

// Open opens the configured UART. The returned closer releases the port.
func Open(cfg standalone.DriverConfig) (*Driver, io.Closer, error) {
	port, err := serial.Open(&serial.Config{
		Device:      cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: serial.DefaultConfig(cfg.Device).ReadTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return New(NewUARTComm(port, true), uint8(cfg.Address)), port, nil
}

// Version reads the silicon version from IOIN
func (d *Driver) Version() (uint8, error) {
	ioin := tmc2209.NewIoin()
	v, err := d.comm.ReadRegister(ioin.GetAddress(), d.addr)
	if err != nil {
		return 0, err
	}
	ioin.Bytes = v
	ioin.Unpack(v)
	if ioin.Version == 0 {
		return 0, errors.Wrapf(ErrNoDriver, "address %d", d.addr)
	}
	return uint8(ioin.Version), nil
}

// WriteCount reads IFCNT, which the driver increments on every accepted write
func (d *Driver) WriteCount() (uint8, error) {
	v, err := d.comm.ReadRegister(tmc2209.IFCNT, d.addr)
	return uint8(v), err
}

// SetStepMode selects the microstep resolution over UART instead of the
// MS1/MS2 pins
func (d *Driver) SetStepMode(mode core.StepMode) error {
	gconf := tmc2209.NewGconf()
	v, err := d.comm.ReadRegister(gconf.GetAddress(), d.addr)
	if err != nil {
		return errors.Wrap(err, "read GCONF")
	}
	gconf.Bytes = v
	gconf.Unpack(v)
	gconf.PdnDisable = 1
	gconf.MstepRegSelect = 1
	if err := d.comm.WriteRegister(gconf.GetAddress(), gconf.Pack(), d.addr); err != nil {
		return errors.Wrap(err, "write GCONF")
	}

	chop := tmc2209.NewChopconf()
	v, err = d.comm.ReadRegister(chop.GetAddress(), d.addr)
	if err != nil {
		return errors.Wrap(err, "read CHOPCONF")
	}
	chop.Bytes = v
	chop.Unpack(v)
	exponent := tmc2209.SetMicrostepsPerStep(uint16(mode.Microsteps()))
	chop.Mres = uint32(mresFullStep - exponent)
	if err := d.comm.WriteRegister(chop.GetAddress(), chop.Pack(), d.addr); err != nil {
		return errors.Wrap(err, "write CHOPCONF")
	}
	return nil
}

// StepMode reads back the microstep resolution
func (d *Driver) StepMode() (core.StepMode, error) {
	chop := tmc2209.NewChopconf()
	v, err := d.comm.ReadRegister(chop.GetAddress(), d.addr)
	if err != nil {
		return 0, err
	}
	chop.Bytes = v
	chop.Unpack(v)
	if chop.Mres > mresFullStep || mresFullStep-chop.Mres > uint32(core.StepSixteenth) {
		return 0, errors.Errorf("tmc2209: MRES %d has no step mode", chop.Mres)
	}
	return core.StepMode(mresFullStep - chop.Mres), nil
}

// Configure checks the driver answers and applies the step mode. Writes
// are confirmed through IFCNT.
func (d *Driver) Configure(mode core.StepMode) error {
	if _, err := d.Version(); err != nil {
		return err
	}
	before, err := d.WriteCount()
	if err != nil {
		return err
	}
	if err := d.SetStepMode(mode); err != nil {
		return err
	}
	after, err := d.WriteCount()
	if err != nil {
		return err
	}
	if after-before != 2 {
		return errors.Errorf("tmc2209: %d of 2 writes accepted", after-before)
	}
	return nil
}
