// Package protocol implements the framed binary link between a host and the
// stepdrive firmware: VLQ argument encoding, CRC16 framing with sequence
// numbers and ACKs, and the fixed command table both sides agree on.
package protocol

// Version is the protocol revision reported by the host tools
const Version = "0.1.0"

// Buffer sizing
const (
	MessageMax = 512 // Scratch output capacity, room for several frames

	MessageSeqMask = 0x0F
)

// Command and response IDs. The table is fixed so firmware and host never
// exchange a dictionary; appending is the only compatible change.
const (
	CmdMoveTo uint16 = iota
	CmdMoveRelative
	CmdRotate
	CmdRotateRevs
	CmdStop
	CmdEmergencyStop
	CmdEnable
	CmdDisable
	CmdSetMaxSpeed
	CmdSetAcceleration
	CmdSetDeceleration
	CmdSetHome
	CmdGoHome
	CmdGetStatus

	RespStatus
)

// Status flag bits carried in the status response
const (
	StatusEnabled   = 1 << 0
	StatusMoving    = 1 << 1
	StatusClockwise = 1 << 2
	StatusHoming    = 1 << 3
)

// MilliScale converts milli-unit wire values (speeds, degrees, revolutions)
const MilliScale = 1000.0

// CommandInfo describes one entry of the command table
type CommandInfo struct {
	ID       uint16
	Name     string
	Format   string
	Response bool // true for device -> host messages
}

// CommandTable lists every message in ID order
var CommandTable = [...]CommandInfo{
	{CmdMoveTo, "move_to", "pos=%i", false},
	{CmdMoveRelative, "move_relative", "delta=%i", false},
	{CmdRotate, "rotate", "millideg=%i", false},
	{CmdRotateRevs, "rotate_revs", "millirev=%i", false},
	{CmdStop, "stop", "", false},
	{CmdEmergencyStop, "emergency_stop", "", false},
	{CmdEnable, "enable", "", false},
	{CmdDisable, "disable", "", false},
	{CmdSetMaxSpeed, "set_max_speed", "mspeed=%u", false},
	{CmdSetAcceleration, "set_acceleration", "maccel=%u", false},
	{CmdSetDeceleration, "set_deceleration", "mdecel=%u", false},
	{CmdSetHome, "set_home", "", false},
	{CmdGoHome, "go_home", "", false},
	{CmdGetStatus, "get_status", "", false},
	{RespStatus, "status", "pos=%i target=%i mspeed=%u phase=%c flags=%c", true},
}

// CommandName returns the name for an ID, or "" when unknown
func CommandName(id uint16) string {
	if int(id) < len(CommandTable) {
		return CommandTable[id].Name
	}
	return ""
}

// Dictionary renders the table one "name format" line per entry
func Dictionary() string {
	dict := ""
	for _, c := range CommandTable {
		if c.Format != "" {
			dict += c.Name + " " + c.Format + "\n"
		} else {
			dict += c.Name + "\n"
		}
	}
	return dict
}

// Status is the decoded status response
type Status struct {
	Position int32
	Target   int32
	MSpeed   uint32 // milli-steps/s
	Phase    uint8
	Flags    uint8
}

// EncodeStatus writes the status arguments (without the response ID)
func EncodeStatus(output OutputBuffer, s Status) {
	EncodeVLQInt(output, s.Position)
	EncodeVLQInt(output, s.Target)
	EncodeVLQUint(output, s.MSpeed)
	EncodeVLQUint(output, uint32(s.Phase))
	EncodeVLQUint(output, uint32(s.Flags))
}

// DecodeStatus reads status arguments following the response ID
func DecodeStatus(data *[]byte) (Status, error) {
	var s Status
	var err error
	if s.Position, err = DecodeVLQInt(data); err != nil {
		return s, err
	}
	if s.Target, err = DecodeVLQInt(data); err != nil {
		return s, err
	}
	if s.MSpeed, err = DecodeVLQUint(data); err != nil {
		return s, err
	}
	phase, err := DecodeVLQUint(data)
	if err != nil {
		return s, err
	}
	flags, err := DecodeVLQUint(data)
	if err != nil {
		return s, err
	}
	s.Phase = uint8(phase)
	s.Flags = uint8(flags)
	return s, nil
}
