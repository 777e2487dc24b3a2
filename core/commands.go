package core

import (
	"math"

	"github.com/pkg/errors"

	"stepdrive/protocol"
)

// ErrCommandTable is returned when a registry already holds entries that
// would shift the fixed command IDs
var ErrCommandTable = errors.New("command registry does not match the protocol table")

// Responder sends a device -> host message, normally Transport.SendCommand
type Responder func(cmdID uint16, args func(output protocol.OutputBuffer))

// RegisterEngineCommands binds the protocol command table to engine. The
// registry must be empty so registration order yields the table IDs.
func RegisterEngineCommands(reg *CommandRegistry, engine *MotionEngine, respond Responder) error {
	handlers := map[uint16]CommandHandler{
		protocol.CmdMoveTo: func(data *[]byte) error {
			pos, err := protocol.DecodeVLQInt(data)
			if err != nil {
				return err
			}
			engine.MoveTo(int64(pos))
			return nil
		},
		protocol.CmdMoveRelative: func(data *[]byte) error {
			delta, err := protocol.DecodeVLQInt(data)
			if err != nil {
				return err
			}
			engine.MoveRelative(int64(delta))
			return nil
		},
		protocol.CmdRotate: func(data *[]byte) error {
			mdeg, err := protocol.DecodeVLQInt(data)
			if err != nil {
				return err
			}
			engine.Rotate(float64(mdeg) / protocol.MilliScale)
			return nil
		},
		protocol.CmdRotateRevs: func(data *[]byte) error {
			mrev, err := protocol.DecodeVLQInt(data)
			if err != nil {
				return err
			}
			engine.RotateRevolutions(float64(mrev) / protocol.MilliScale)
			return nil
		},
		protocol.CmdStop:            noArgs(engine.Stop),
		protocol.CmdEmergencyStop:   noArgs(engine.EmergencyStop),
		protocol.CmdEnable:          noArgs(engine.Enable),
		protocol.CmdDisable:         noArgs(engine.Disable),
		protocol.CmdSetMaxSpeed:     milliSetter("set_max_speed", engine.SetMaxSpeed),
		protocol.CmdSetAcceleration: milliSetter("set_acceleration", engine.SetAcceleration),
		protocol.CmdSetDeceleration: milliSetter("set_deceleration", engine.SetDeceleration),
		protocol.CmdSetHome:         noArgs(engine.SetHome),
		protocol.CmdGoHome:          noArgs(engine.GoHome),
		protocol.CmdGetStatus: func(data *[]byte) error {
			st := EngineStatus(engine, false)
			respond(protocol.RespStatus, func(output protocol.OutputBuffer) {
				protocol.EncodeStatus(output, st)
			})
			return nil
		},
	}

	for _, c := range protocol.CommandTable {
		var id uint16
		if c.Response {
			id = reg.RegisterResponse(c.Name, c.Format)
		} else {
			id = reg.Register(c.Name, c.Format, handlers[c.ID])
		}
		if id != c.ID {
			return errors.Wrapf(ErrCommandTable, "%s registered as %d, want %d", c.Name, id, c.ID)
		}
	}
	return nil
}

func noArgs(fn func()) CommandHandler {
	return func(*[]byte) error {
		fn()
		return nil
	}
}

// milliSetter decodes a milli-unit argument for one of the limit setters
func milliSetter(name string, set func(float64) error) CommandHandler {
	return func(data *[]byte) error {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		if err := set(float64(v) / protocol.MilliScale); err != nil {
			DebugPrintln("[CMD] " + name + " rejected: " + err.Error())
			return err
		}
		return nil
	}
}

// EngineStatus builds the status response for engine. Positions outside
// the 32-bit wire range saturate.
func EngineStatus(engine *MotionEngine, homing bool) protocol.Status {
	var flags uint8
	if engine.IsEnabled() {
		flags |= protocol.StatusEnabled
	}
	if engine.IsRunning() {
		flags |= protocol.StatusMoving
	}
	if engine.Clockwise() {
		flags |= protocol.StatusClockwise
	}
	if homing {
		flags |= protocol.StatusHoming
	}
	return protocol.Status{
		Position: saturate32(engine.CurrentPosition()),
		Target:   saturate32(engine.TargetPosition()),
		MSpeed:   uint32(engine.CurrentSpeed() * protocol.MilliScale),
		Phase:    uint8(engine.Phase()),
		Flags:    flags,
	}
}

func saturate32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
