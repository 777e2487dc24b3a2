package standalone

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgument    = errors.New("bad argument")
)

type argKind uint8

const (
	argNone argKind = iota
	argInt
	argFloat
)

type consoleCommand struct {
	arg  argKind
	help string
	run  func(a Axis, c Command) error
}

// Command is one parsed console line
type Command struct {
	Verb  string
	Int   int64
	Float float64
}

var consoleCommands = map[string]consoleCommand{
	"move": {argInt, "move N      move N steps relative",
		func(a Axis, c Command) error { return a.MoveRelative(c.Int) }},
	"moveto": {argInt, "moveto N    move to absolute step N",
		func(a Axis, c Command) error { return a.MoveTo(c.Int) }},
	"rotate": {argFloat, "rotate DEG  rotate the output shaft by DEG degrees",
		func(a Axis, c Command) error { return a.Rotate(c.Float) }},
	"revs": {argFloat, "revs N      rotate the output shaft N revolutions",
		func(a Axis, c Command) error { return a.RotateRevolutions(c.Float) }},
	"stop": {argNone, "stop        halt immediately",
		func(a Axis, c Command) error { return a.Stop() }},
	"estop": {argNone, "estop       halt and disable the driver",
		func(a Axis, c Command) error { return a.EmergencyStop() }},
	"enable": {argNone, "enable      power the driver",
		func(a Axis, c Command) error { return a.Enable() }},
	"disable": {argNone, "disable     unpower the driver",
		func(a Axis, c Command) error { return a.Disable() }},
	"maxspeed": {argFloat, "maxspeed V  set max speed in steps/s",
		func(a Axis, c Command) error { return a.SetMaxSpeed(c.Float) }},
	"accel": {argFloat, "accel A     set acceleration in steps/s^2",
		func(a Axis, c Command) error { return a.SetAcceleration(c.Float) }},
	"decel": {argFloat, "decel D     set deceleration in steps/s^2",
		func(a Axis, c Command) error { return a.SetDeceleration(c.Float) }},
	"sethome": {argNone, "sethome     make the current position 0",
		func(a Axis, c Command) error { return a.SetHome() }},
	"gohome": {argNone, "gohome      move to position 0",
		func(a Axis, c Command) error { return a.GoHome() }},
	"home": {argNone, "home        seek the limit switch and zero",
		func(a Axis, c Command) error { return a.Home() }},
	"status": {argNone, "status      print position and speed", nil},
	"help":   {argNone, "help        list commands", nil},
}

// ParseCommand splits a console line with shell quoting rules and checks
// the verb and its argument. An empty or comment line yields a zero Command.
func ParseCommand(line string) (Command, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return Command{}, errors.Wrap(ErrBadArgument, err.Error())
	}
	if len(fields) == 0 {
		return Command{}, nil
	}

	verb := strings.ToLower(fields[0])
	entry, ok := consoleCommands[verb]
	if !ok {
		return Command{}, errors.Wrapf(ErrUnknownCommand, "%q", fields[0])
	}

	cmd := Command{Verb: verb}
	args := fields[1:]
	if entry.arg == argNone {
		if len(args) != 0 {
			return Command{}, errors.Wrapf(ErrBadArgument, "%s takes no argument", verb)
		}
		return cmd, nil
	}
	if len(args) != 1 {
		return Command{}, errors.Wrapf(ErrBadArgument, "usage: %s", entry.help)
	}

	switch entry.arg {
	case argInt:
		cmd.Int, err = strconv.ParseInt(args[0], 10, 64)
	case argFloat:
		cmd.Float, err = strconv.ParseFloat(args[0], 64)
	}
	if err != nil {
		return Command{}, errors.Wrapf(ErrBadArgument, "%s %q", verb, args[0])
	}
	return cmd, nil
}

// Help lists the console commands in alphabetical order
func Help() string {
	names := make([]string, 0, len(consoleCommands))
	for name := range consoleCommands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(consoleCommands[name].help)
		b.WriteByte('\n')
	}
	return b.String()
}

