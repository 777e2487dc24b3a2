package standalone

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"stepdrive/core"
)

// Options supplies the collaborators a Manager would otherwise simulate
type Options struct {
	Clock  core.Clock
	Driver core.PulseDriver // nil selects a SimDriver
	Limit  core.LimitSensor // nil builds one from LimitConfig
	Logger *zap.SugaredLogger
}

// StatusReporter receives the periodic status report
type StatusReporter func(AxisStatus)

// Manager runs the console against an axis. With a local engine it also
// owns the poll loop: engine, homing and the status timer.
type Manager struct {
	config *MachineConfig
	log    *zap.SugaredLogger

	axis  Axis
	local *localAxis // nil when the axis is remote

	clock     core.Clock
	scheduler *core.Scheduler
	sim       *SimDriver

	lastHoming core.HomingState

	statusTimer    core.Timer
	statusInterval uint32
	statusDue      bool
	reporter       StatusReporter
}

// NewManager builds a local engine from config
func NewManager(config *MachineConfig, opts Options) (*Manager, error) {
	m := newManager(config, opts)
	if m.clock == nil {
		return nil, errors.New("standalone: a clock is required")
	}

	driver := opts.Driver
	if driver == nil {
		m.sim = NewSimDriver()
		driver = m.sim
	}

	engine := core.NewMotionEngine(m.clock, driver)
	if err := configureEngine(engine, config.Axis); err != nil {
		return nil, err
	}

	local := &localAxis{engine: engine, scheduler: m.scheduler, clock: m.clock}
	limit, err := m.buildLimit(opts.Limit)
	if err != nil {
		return nil, err
	}
	if limit != nil {
		local.endstop = limit
		local.checkUs = uint32(config.Limit.CheckUs)
		local.sampleUs = uint32(config.Limit.SampleUs)
		local.homing = core.NewHoming(engine, limit, core.HomingConfig{
			SeekSpeed: config.Homing.SeekSpeed,
			MaxTravel: config.Homing.MaxTravel,
			Backoff:   config.Homing.Backoff,
		})
	}

	m.local = local
	m.axis = local
	m.startStatusTimer()
	return m, nil
}

// NewRemoteManager runs the console against an axis in another process,
// typically firmware behind a serial link
func NewRemoteManager(config *MachineConfig, axis Axis, opts Options) *Manager {
	m := newManager(config, opts)
	m.axis = axis
	if m.clock != nil {
		m.startStatusTimer()
	}
	return m
}

func newManager(config *MachineConfig, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	m := &Manager{
		config: config,
		log:    log,
		clock:  opts.Clock,
	}
	if m.clock != nil {
		m.scheduler = core.NewScheduler(m.clock)
	}
	m.reporter = func(s AxisStatus) {
		m.log.Debugw("status", "pos", s.Position, "target", s.Target, "speed", s.Speed, "phase", s.Phase.String())
	}
	return m
}

func configureEngine(engine *core.MotionEngine, axis AxisConfig) error {
	stepsPerRev, err := axisStepsPerRev(axis)
	if err != nil {
		return err
	}
	if err := engine.SetGeometry(stepsPerRev, axis.GearRatio); err != nil {
		return err
	}
	if err := engine.SetMaxSpeed(axis.MaxSpeed); err != nil {
		return err
	}
	if err := engine.SetAcceleration(axis.Acceleration); err != nil {
		return err
	}
	return engine.SetDeceleration(axis.Deceleration)
}

func axisStepsPerRev(axis AxisConfig) (int, error) {
	family, err := core.ParseMotorFamily(axis.Motor)
	if err != nil {
		return 0, err
	}
	mode, err := core.ParseStepMode(axis.StepMode)
	if err != nil {
		return 0, err
	}
	return core.StepsPerRevolution(family, mode)
}

// buildLimit wraps the configured sensor in an Endstop debounce
func (m *Manager) buildLimit(sensor core.LimitSensor) (*core.Endstop, error) {
	cfg := m.config.Limit
	if sensor == nil {
		switch cfg.Type {
		case LimitNone, "":
			return nil, nil
		case LimitSim:
			if m.sim == nil {
				return nil, errors.New("standalone: sim limit needs the simulated driver")
			}
			sensor = &SimLimit{Driver: m.sim, At: cfg.Position}
		default:
			return nil, errors.Errorf("standalone: limit %q must be supplied by the caller", cfg.Type)
		}
	}

	samples := cfg.SampleCount
	if samples < 1 {
		samples = 1
	}
	// Level polarity is already applied by the sensor; InvertPin flips it
	return core.NewEndstop(sensor.IsTriggered, !cfg.InvertPin, uint8(samples)), nil
}

func (m *Manager) startStatusTimer() {
	if m.config.StatusIntervalMs <= 0 {
		return
	}
	m.statusInterval = uint32(m.config.StatusIntervalMs) * 1000
	m.statusTimer.WakeTime = m.clock.NowMicros() + m.statusInterval
	m.statusTimer.Handler = func(t *core.Timer) uint8 {
		m.statusDue = true
		t.WakeTime += m.statusInterval
		return core.SF_RESCHEDULE
	}
	m.scheduler.Schedule(&m.statusTimer)
}

// SetStatusReporter replaces the periodic status callback
func (m *Manager) SetStatusReporter(r StatusReporter) {
	if r == nil {
		r = func(AxisStatus) {}
	}
	m.reporter = r
}

// Poll performs one iteration of the control loop and reports whether a
// step was emitted. It never blocks.
func (m *Manager) Poll() bool {
	stepped := false
	if m.local != nil {
		stepped = m.local.poll()
		m.logHomingResult()
	}

	if m.scheduler != nil {
		m.scheduler.Dispatch()
		if m.statusDue {
			m.statusDue = false
			if s, err := m.axis.Status(); err == nil {
				m.reporter(s)
			} else {
				m.log.Warnw("status", "error", err)
			}
		}
	}
	return stepped
}

// logHomingResult logs the end of a homing sequence once
func (m *Manager) logHomingResult() {
	h := m.local.homing
	if h == nil || h.State() == m.lastHoming {
		return
	}
	m.lastHoming = h.State()
	switch m.lastHoming {
	case core.HomingDone:
		m.log.Infow("homing done", "pos", m.local.engine.CurrentPosition())
	case core.HomingFailed:
		m.log.Warnw("homing failed", "error", h.Err())
	}
}

// ProcessLine parses and executes one console line and returns the text
// to show the operator
func (m *Manager) ProcessLine(line string) (string, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return "", err
	}

	switch cmd.Verb {
	case "":
		return "", nil
	case "help":
		return Help(), nil
	case "status":
		s, err := m.axis.Status()
		if err != nil {
			return "", errors.Wrap(err, "status")
		}
		return FormatStatus(s), nil
	}

	m.log.Debugw("command", "verb", cmd.Verb, "int", cmd.Int, "float", cmd.Float)
	if err := consoleCommands[cmd.Verb].run(m.axis, cmd); err != nil {
		m.log.Warnw("command rejected", "line", line, "error", err)
		return "", errors.Wrap(err, cmd.Verb)
	}
	return "ok", nil
}

// FormatStatus renders a status report on one line
func FormatStatus(s AxisStatus) string {
	line := fmt.Sprintf("pos=%d target=%d speed=%.1f phase=%s", s.Position, s.Target, s.Speed, s.Phase)
	if s.Enabled {
		line += " enabled"
	}
	if s.Moving {
		line += " moving"
	}
	if s.Homing {
		line += " homing"
	}
	return line
}

// Busy reports whether the local axis still has work to do
func (m *Manager) Busy() bool {
	if m.local == nil {
		return false
	}
	if m.local.homing != nil && m.local.homing.Active() {
		return true
	}
	return m.local.engine.IsRunning() && m.local.engine.IsEnabled()
}

// Axis returns the axis the console drives
func (m *Manager) Axis() Axis {
	return m.axis
}

// Engine returns the local engine, nil for a remote axis
func (m *Manager) Engine() *core.MotionEngine {
	if m.local == nil {
		return nil
	}
	return m.local.engine
}

// Homing returns the local homing sequencer, nil when no limit is configured
func (m *Manager) Homing() *core.Homing {
	if m.local == nil {
		return nil
	}
	return m.local.homing
}

// SimDriver returns the simulated driver, nil when a real one was supplied
func (m *Manager) SimDriver() *SimDriver {
	return m.sim
}
