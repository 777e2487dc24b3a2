// Package gcode runs G-code programs against a single stepper axis. X is
// the axis position in steps and A a relative rotation of the output shaft
// in degrees. Feed rates are in steps per minute.
package gcode

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrSyntax      = errors.New("gcode: syntax error")
	ErrUnsupported = errors.New("gcode: unsupported")
)

// Command is one parsed line
type Command struct {
	Letter  byte // 'G' or 'M'; 0 for a blank or comment-only line
	Number  int
	Params  map[byte]float64
	Comment string
}

// Code returns the command word, e.g. "G1"
func (c Command) Code() string {
	if c.Letter == 0 {
		return ""
	}
	return fmt.Sprintf("%c%d", c.Letter, c.Number)
}

// Has reports whether the parameter was given
func (c Command) Has(param byte) bool {
	_, ok := c.Params[param]
	return ok
}

// Get returns a parameter value, or def when it is absent
func (c Command) Get(param byte, def float64) float64 {
	if v, ok := c.Params[param]; ok {
		return v
	}
	return def
}

// ParseLine parses one line of G-code. Line numbers and checksums are
// dropped; text after ';' or '(' is returned as the comment.
func ParseLine(line string) (Command, error) {
	var cmd Command
	end := len(line)
	for i := 0; i < len(line); i++ {
		if line[i] == ';' || line[i] == '(' {
			cmd.Comment = line[i:]
			end = i
			break
		}
		if line[i] == '*' {
			end = i
			break
		}
	}
	line = line[:end]

	i := 0
	first := true
	for {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}
		if !isLetter(line[i]) {
			return Command{}, errors.Wrapf(ErrSyntax, "unexpected %q", line[i])
		}
		letter := toUpper(line[i])
		value, next := parseNumber(line, i+1)
		if next == i+1 {
			return Command{}, errors.Wrapf(ErrSyntax, "%c has no value", letter)
		}
		i = next

		switch {
		case letter == 'N' && first:
			// line number
		case (letter == 'G' || letter == 'M') && cmd.Letter == 0:
			if value != math.Trunc(value) || value < 0 {
				return Command{}, errors.Wrapf(ErrSyntax, "%c%v", letter, value)
			}
			cmd.Letter = letter
			cmd.Number = int(value)
		default:
			if cmd.Letter == 0 {
				return Command{}, errors.Wrapf(ErrSyntax, "%c before a G or M word", letter)
			}
			if cmd.Params == nil {
				cmd.Params = make(map[byte]float64)
			}
			if _, dup := cmd.Params[letter]; dup {
				return Command{}, errors.Wrapf(ErrSyntax, "%c given twice", letter)
			}
			cmd.Params[letter] = value
		}
		first = false
	}
	return cmd, nil
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	return i
}

// parseNumber scans a signed decimal starting at pos. It returns pos
// unchanged when there are no digits.
func parseNumber(s string, pos int) (float64, int) {
	i := pos
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		if s[i] != '.' {
			digits++
		}
		i++
	}
	if digits == 0 {
		return 0, pos
	}
	v, err := strconv.ParseFloat(s[pos:i], 64)
	if err != nil {
		return 0, pos
	}
	return v, i
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
