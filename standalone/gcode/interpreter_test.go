package gcode

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"stepdrive/core"
	"stepdrive/standalone"
)

// recAxis records every call as a console-style line
type recAxis struct {
	calls  []string
	status standalone.AxisStatus
	fail   error
}

func (a *recAxis) rec(format string, args ...interface{}) error {
	a.calls = append(a.calls, fmt.Sprintf(format, args...))
	return a.fail
}

func (a *recAxis) MoveTo(p int64) error              { return a.rec("moveto %d", p) }
func (a *recAxis) MoveRelative(d int64) error        { return a.rec("move %d", d) }
func (a *recAxis) Rotate(deg float64) error          { return a.rec("rotate %v", deg) }
func (a *recAxis) RotateRevolutions(n float64) error { return a.rec("revs %v", n) }
func (a *recAxis) Stop() error                       { return a.rec("stop") }
func (a *recAxis) EmergencyStop() error              { return a.rec("estop") }
func (a *recAxis) Enable() error                     { return a.rec("enable") }
func (a *recAxis) Disable() error                    { return a.rec("disable") }
func (a *recAxis) SetMaxSpeed(v float64) error       { return a.rec("maxspeed %v", v) }
func (a *recAxis) SetAcceleration(v float64) error   { return a.rec("accel %v", v) }
func (a *recAxis) SetDeceleration(v float64) error   { return a.rec("decel %v", v) }
func (a *recAxis) SetHome() error                    { return a.rec("sethome") }
func (a *recAxis) GoHome() error                     { return a.rec("gohome") }
func (a *recAxis) Home() error                       { return a.rec("home") }
func (a *recAxis) Status() (standalone.AxisStatus, error) {
	return a.status, a.fail
}

func execute(t *testing.T, in *Interpreter, line string) Action {
	t.Helper()
	cmd, err := ParseLine(line)
	if err != nil {
		t.Fatalf("%q: %v", line, err)
	}
	act, err := in.Execute(cmd)
	if err != nil {
		t.Fatalf("%q: %v", line, err)
	}
	return act
}

func TestInterpreterCalls(t *testing.T) {
	axis := &recAxis{}
	in := NewInterpreter(axis)

	program := []string{
		"M17",
		"G1 X100 F6000",
		"G91",
		"G0 X-25.4",
		"G1 A90",
		"G90",
		"G1 X0",
		"G1 F1200",
		"M201 X500",
		"M202 X250",
		"M203 X800",
		"G92 X0",
		"G28",
		"M410",
		"M112",
		"M18",
		"M84",
	}
	for _, line := range program {
		execute(t, in, line)
	}

	want := []string{
		"enable",
		"maxspeed 100", "moveto 100",
		"move -25",
		"rotate 90",
		"moveto 0",
		"maxspeed 20",
		"accel 500",
		"decel 250",
		"maxspeed 800",
		"sethome",
		"home",
		"stop",
		"estop",
		"disable",
		"disable",
	}
	if diff := cmp.Diff(want, axis.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestInterpreterActions(t *testing.T) {
	axis := &recAxis{status: standalone.AxisStatus{Position: 7, Target: 9, Phase: core.PhaseCruising, Enabled: true, Moving: true}}
	in := NewInterpreter(axis)

	tests := []struct {
		line string
		want Action
	}{
		{"G1 X1", Action{Wait: true}},
		{"G1 F600", Action{}},
		{"G4 P250", Action{Wait: true, Dwell: 250 * time.Millisecond}},
		{"G4 S1.5", Action{Wait: true, Dwell: 1500 * time.Millisecond}},
		{"G28", Action{Wait: true}},
		{"M400", Action{Wait: true}},
		{"M17", Action{}},
		{"M114", Action{Report: "pos=7 target=9 speed=0.0 phase=cruising enabled moving"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, execute(t, in, tt.line)); diff != "" {
			t.Errorf("%q mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestInterpreterModes(t *testing.T) {
	in := NewInterpreter(&recAxis{})
	if in.Relative() {
		t.Error("starts relative")
	}
	execute(t, in, "G91")
	if !in.Relative() {
		t.Error("G91 not applied")
	}
	execute(t, in, "G90")
	if in.Relative() {
		t.Error("G90 not applied")
	}
}

func TestInterpreterErrors(t *testing.T) {
	in := NewInterpreter(&recAxis{})

	tests := []struct {
		line string
		want error
	}{
		{"G2 X1", ErrUnsupported},
		{"M104 S200", ErrUnsupported},
		{"G92 X10", ErrUnsupported},
		{"G1 X1 A1", ErrSyntax},
		{"G4 P-1", ErrSyntax},
		{"M203", ErrSyntax},
	}
	for _, tt := range tests {
		cmd, err := ParseLine(tt.line)
		if err != nil {
			if !errors.Is(err, tt.want) {
				t.Errorf("%q: parse error %v", tt.line, err)
			}
			continue
		}
		if _, err := in.Execute(cmd); !errors.Is(err, tt.want) {
			t.Errorf("%q: got %v, want %v", tt.line, err, tt.want)
		}
	}

	if _, err := toSteps(1e300); !errors.Is(err, ErrSyntax) {
		t.Errorf("toSteps overflow: %v", err)
	}

	failing := &recAxis{fail: core.ErrInvalidLimit}
	in = NewInterpreter(failing)
	cmd, _ := ParseLine("M203 X-5")
	if _, err := in.Execute(cmd); !errors.Is(err, core.ErrInvalidLimit) {
		t.Errorf("axis error not returned: %v", err)
	}
	if !strings.HasPrefix(failing.calls[0], "maxspeed -5") {
		t.Errorf("calls %v", failing.calls)
	}
}
