// Command stepdrive runs the stepper console, either against an in-process
// simulated axis or against firmware over a serial link.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"stepdrive/core"
	"stepdrive/host/api"
	"stepdrive/host/mcu"
	"stepdrive/host/sensor"
	"stepdrive/host/tmc"
	"stepdrive/protocol"
	"stepdrive/standalone"
	"stepdrive/standalone/config"
	"stepdrive/standalone/gcode"
)

var (
	configPath = flag.String("config", "", "configuration file, JSON or YAML")
	mode       = flag.String("mode", "", "override the configured mode: sim or link")
	device     = flag.String("device", "", "override the firmware serial device")
	verbose    = flag.Bool("verbose", false, "debug logging and step timing trace")
	tmcSetup   = flag.Bool("tmc", true, "program the TMC2209 step mode at startup")
	gcodePath  = flag.String("gcode", "", "run a G-code program instead of the console")
	logFile    = flag.String("log-file", "", "also write logs to this file, rotated")
	tokenFor   = flag.String("token", "", "print an API token for this operator and exit")
)

func main() {
	flag.Parse()

	log := newLogger(*verbose)
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("stepdrive failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *zap.SugaredLogger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	}
	sink := zapcore.Lock(os.Stderr)
	if *logFile != "" {
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(&lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    16,
			MaxBackups: 3,
			Compress:   true,
		}))
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, sink, level), zap.AddCaller()).Sugar()
}

func loadConfig() (*standalone.MachineConfig, error) {
	var (
		cfg *standalone.MachineConfig
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.LoadConfig(nil)
	}
	if err != nil {
		return nil, err
	}

	if *mode == "" && *device == "" {
		return cfg, nil
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *device != "" {
		cfg.Link.Device = *device
	}
	return cfg, config.Validate(cfg)
}

func run(log *zap.SugaredLogger) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if *tokenFor != "" {
		return printToken(cfg.API, *tokenFor)
	}

	core.SetDebugWriter(func(msg string) { log.Debug(msg) })
	core.SetDebugEnabled(*verbose)
	core.SetTimingEnabled(*verbose)

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i].Close())
		}
	}()

	if cfg.Driver.Type == standalone.DriverTMC2209 && *tmcSetup {
		if err := setupDriver(cfg, log); err != nil {
			return err
		}
	}

	clk := core.NewSystemClock()
	opts := standalone.Options{Clock: clk, Logger: log}

	var m *standalone.Manager
	switch cfg.Mode {
	case standalone.ModeLink:
		link, err := mcu.Open(cfg.Link, log)
		if err != nil {
			return err
		}
		closers = append(closers, link)
		log.Infow("link open", "device", cfg.Link.Device, "baud", cfg.Link.Baud)
		logDictionary(log)
		m = standalone.NewRemoteManager(cfg, link, opts)

	default:
		if cfg.Limit.Type == standalone.LimitVL53L1X {
			limit, closer, err := sensor.Open(cfg.Limit, clk)
			if err != nil {
				return err
			}
			closers = append(closers, closer)
			opts.Limit = limit
		}
		if m, err = standalone.NewManager(cfg, opts); err != nil {
			return err
		}
		log.Infow("simulated axis ready", "motor", cfg.Axis.Motor, "step_mode", cfg.Axis.StepMode)
	}

	if *verbose {
		defer core.DumpTimingRing()
	}
	if *gcodePath != "" {
		return runProgram(m, *gcodePath, interrupts(), log)
	}

	sess := &session{m: m, log: log}
	if cfg.API.Journal != "" {
		j, err := api.OpenJournal(cfg.API.Journal, clock.New())
		if err != nil {
			return err
		}
		closers = append(closers, j)
		sess.journal = j
	}
	if cfg.API.Listen != "" {
		stop, err := sess.serveAPI(cfg.API)
		if err != nil {
			return err
		}
		defer stop()
	}
	return sess.console(os.Stdin, os.Stdout, interrupts())
}

// logDictionary lists the command table the host expects the firmware to
// serve, one debug line per entry
func logDictionary(log *zap.SugaredLogger) {
	for _, line := range strings.Split(strings.TrimSpace(protocol.Dictionary()), "\n") {
		log.Debugw("command", "entry", line)
	}
}

const tokenLifespan = 24 * time.Hour

func printToken(cfg standalone.APIConfig, operator string) error {
	if cfg.Secret == "" {
		return errors.New("api secret is not configured")
	}
	tok, err := api.NewToken([]byte(cfg.Secret), operator, time.Now(), tokenLifespan)
	if err != nil {
		return errors.Wrap(err, "sign token")
	}
	fmt.Println(tok)
	return nil
}

// runProgram executes a G-code file; a signal cancels it with the axis
// stopped
func runProgram(m *standalone.Manager, path string, sig <-chan os.Signal, log *zap.SugaredLogger) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open program")
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case s := <-sig:
			log.Infow("stopping", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Infow("running program", "path", path)
	return gcode.NewRunner(m, clock.New(), log).Run(ctx, f, os.Stdout)
}

func setupDriver(cfg *standalone.MachineConfig, log *zap.SugaredLogger) error {
	mode, err := core.ParseStepMode(cfg.Axis.StepMode)
	if err != nil {
		return err
	}
	drv, port, err := tmc.Open(cfg.Driver)
	if err != nil {
		return err
	}
	defer port.Close()

	if err := drv.Configure(mode); err != nil {
		return errors.Wrap(err, "configure TMC2209")
	}
	log.Infow("TMC2209 configured", "device", cfg.Driver.Device, "address", cfg.Driver.Address, "step_mode", mode.String())
	return nil
}

func interrupts() <-chan os.Signal {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	return sig
}

// session is the control loop: console lines, API jobs and polling all
// happen on the goroutine running console
type session struct {
	m       *standalone.Manager
	jobs    <-chan api.Job
	journal *api.Journal // nil when disabled
	log     *zap.SugaredLogger
}

// serveAPI starts the HTTP server and publishes status reports to its
// websocket stream. The returned func shuts the server down.
func (s *session) serveAPI(cfg standalone.APIConfig) (func(), error) {
	queue := api.NewQueue()
	server := api.NewServer(queue, s.journal, []byte(cfg.Secret), s.log)
	s.jobs = queue.Jobs()
	hub := server.Hub()
	s.m.SetStatusReporter(func(st standalone.AxisStatus) {
		hub.Publish(st)
		s.log.Debugw("status", "position", st.Position, "speed", st.Speed, "phase", st.Phase.String())
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, errors.Wrap(err, "api listen")
	}
	srv := &http.Server{Handler: server.Routes()}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("api server", "error", err)
		}
	}()
	s.log.Infow("api listening", "addr", ln.Addr().String(), "auth", cfg.Secret != "")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warnw("api shutdown", "error", err)
		}
	}, nil
}

// exec runs one console line and journals it
func (s *session) exec(line string) (string, error) {
	resp, err := s.m.ProcessLine(line)
	if s.journal != nil && strings.TrimSpace(line) != "" {
		if jerr := s.journal.Record(api.SourceConsole, line, resp, err); jerr != nil {
			s.log.Warnw("journal", "error", jerr)
		}
	}
	return resp, err
}

// console feeds lines from in to the manager while polling it. At end of
// input it waits for the axis to go idle.
func (s *session) console(in io.Reader, out io.Writer, sig <-chan os.Signal) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	m := s.m
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				for m.Busy() {
					m.Poll()
				}
				return <-scanErr
			}
			switch strings.TrimSpace(line) {
			case "quit", "exit":
				return nil
			}
			resp, err := s.exec(line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if resp != "" {
				fmt.Fprintln(out, strings.TrimRight(resp, "\n"))
			}

		case job := <-s.jobs:
			job(m)

		case sg := <-sig:
			s.log.Infow("stopping", "signal", sg.String())
			if _, err := m.ProcessLine("stop"); err != nil {
				s.log.Warnw("stop on exit", "error", err)
			}
			return nil

		default:
			if m.Poll() {
				continue
			}
			if m.Busy() {
				runtime.Gosched()
			} else {
				time.Sleep(time.Millisecond)
			}
		}
	}
}
