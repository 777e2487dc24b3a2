package gcode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stepdrive/standalone"
)

// Machine is the control loop a program runs on; *standalone.Manager
// satisfies it
type Machine interface {
	Axis() standalone.Axis
	Poll() bool
	Busy() bool
}

// Runner feeds a program to an Interpreter one line at a time and keeps
// the control loop polled while motion completes
type Runner struct {
	m      Machine
	interp *Interpreter
	clock  clock.Clock
	log    *zap.SugaredLogger

	// Idle is called when a wait has nothing to poll. The default sleeps
	// one millisecond on the clock.
	Idle func()
}

// NewRunner creates a runner; a nil log discards output
func NewRunner(m Machine, clk clock.Clock, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Runner{
		m:      m,
		interp: NewInterpreter(m.Axis()),
		clock:  clk,
		log:    log,
	}
	r.Idle = func() { clk.Sleep(time.Millisecond) }
	return r
}

// Run executes src to the end. Reports are written to out. The first
// failing line aborts the program with the axis stopped; so does ctx.
func (r *Runner) Run(ctx context.Context, src io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(src)
	n := 0
	for sc.Scan() {
		n++
		if err := r.runLine(ctx, sc.Text(), out); err != nil {
			r.stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "line %d", n)
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "read program")
	}
	r.log.Infow("program done", "lines", n)
	return nil
}

func (r *Runner) runLine(ctx context.Context, line string, out io.Writer) error {
	cmd, err := ParseLine(line)
	if err != nil {
		return err
	}
	if cmd.Letter == 0 {
		return nil
	}

	r.log.Debugw("gcode", "code", cmd.Code(), "params", cmd.Params)
	act, err := r.interp.Execute(cmd)
	if err != nil {
		return err
	}
	if act.Report != "" {
		fmt.Fprintln(out, act.Report)
	}
	if act.Wait {
		if err := r.waitIdle(ctx); err != nil {
			return err
		}
	}
	if act.Dwell > 0 {
		return r.dwell(ctx, act.Dwell)
	}
	return nil
}

// waitIdle polls until the axis has finished. A remote axis is asked for
// its status since its loop runs elsewhere.
func (r *Runner) waitIdle(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.m.Poll() {
			continue
		}
		if !r.m.Busy() {
			s, err := r.m.Axis().Status()
			if err != nil {
				return err
			}
			if !(s.Moving && s.Enabled) && !s.Homing {
				return nil
			}
		}
		r.Idle()
	}
}

func (r *Runner) dwell(ctx context.Context, d time.Duration) error {
	deadline := r.clock.Now().Add(d)
	for r.clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.m.Poll()
		r.Idle()
	}
	return nil
}

func (r *Runner) stop() {
	if err := r.m.Axis().Stop(); err != nil {
		r.log.Warnw("stop after abort", "error", err)
	}
}
