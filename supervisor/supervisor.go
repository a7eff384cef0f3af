// Package supervisor wires PID controllers to the current limiter and owns
// the startup/teardown order of the whole brewing-rig control stack.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autobrew/brewctl/internal/clock"
	"github.com/autobrew/brewctl/limiter"
	"github.com/autobrew/brewctl/pid"
	"github.com/autobrew/brewctl/thermal"
	"github.com/autobrew/brewctl/valve"
)

// defaultTickInterval matches the original PID supervisor loop's 1-second
// cadence.
const defaultTickInterval = 1 * time.Second

// Loop binds a PID controller to a temperature probe and a limiter pin: on
// each tick, the probe's latest temperature drives the controller, and the
// controller's output is pushed back into the pin's desired PWM load.
type Loop struct {
	Name       string
	SensorID   thermal.SensorID
	PinNumber  int
	Controller *pid.Controller
}

// Config holds Supervisor construction parameters.
type Config struct {
	Limiter *limiter.Limiter
	Thermal *thermal.Manager
	Valve   *valve.Controller
	Loops   []Loop

	// TickInterval is the PID loop cadence. Defaults to 1 second.
	TickInterval time.Duration

	Clock clock.Clock
}

// Supervisor owns the top-level start/stop sequencing for the control
// stack: temperature manager, valve controller, limiter, and the PID loops
// that connect them.
type Supervisor struct {
	cfg Config
	log *slog.Logger
	clk clock.Clock

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mux     sync.Mutex
	running bool
}

// New validates cfg and returns a Supervisor.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("supervisor: limiter is required")
	}
	if cfg.Thermal == nil {
		return nil, fmt.Errorf("supervisor: thermal manager is required")
	}
	if cfg.Valve == nil {
		return nil, fmt.Errorf("supervisor: valve controller is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}

	for _, l := range cfg.Loops {
		if l.Controller == nil {
			return nil, fmt.Errorf("supervisor: pid loop %q has a nil controller", l.Name)
		}
	}

	return &Supervisor{cfg: cfg, log: slog.Default(), clk: clk}, nil
}

// Start brings up the stack in dependency order: temperature manager,
// valve controller, then the PID loop worker. Idempotent.
func (s *Supervisor) Start() {
	s.mux.Lock()
	defer s.mux.Unlock()

	if s.running {
		return
	}
	s.running = true

	s.cfg.Thermal.Start()
	s.cfg.Valve.Start()

	// Pins under PID control have no command-surface owner (that surface is
	// out of scope here), so the supervisor enables them directly; the PID
	// output then governs only their duty cycle.
	for _, l := range s.cfg.Loops {
		if err := s.cfg.Limiter.EnablePin(l.PinNumber); err != nil {
			s.log.Warn("supervisor: failed to enable pid-controlled pin at startup", "loop", l.Name, "pin", l.PinNumber, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.runPIDLoops(ctx)
}

// Stop tears the stack down in reverse-dependency order: the PID loop
// worker, temperature manager, valve controller, then the limiter (which
// joins its own PWM engines). Idempotent.
func (s *Supervisor) Stop() {
	s.mux.Lock()
	if !s.running {
		s.mux.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mux.Unlock()

	cancel()
	s.wg.Wait()

	s.cfg.Thermal.Stop()
	s.cfg.Valve.Stop()

	if err := s.cfg.Limiter.Close(); err != nil {
		s.log.Warn("supervisor: error closing limiter during teardown, ignoring", "error", err)
	}
}

func (s *Supervisor) runPIDLoops(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	lastTickMs := s.clk.NowMs()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.clk.NowMs()
			dtSeconds := float64(now-lastTickMs) / 1000.0
			lastTickMs = now
			s.tickLoops(dtSeconds)
		}
	}
}

func (s *Supervisor) tickLoops(dtSeconds float64) {
	for _, l := range s.cfg.Loops {
		stats, err := s.cfg.Thermal.GetProbeStats(l.SensorID)
		if err != nil {
			s.log.Warn("supervisor: no stats yet for pid loop probe, skipping tick", "loop", l.Name, "sensor", l.SensorID, "error", err)
			continue
		}

		measuredC := float64(stats.LastTempMC) / 1000.0
		output := l.Controller.Update(measuredC, dtSeconds)

		duty := output / 100.0
		if duty < 0 {
			duty = 0
		}
		if duty > 1 {
			duty = 1
		}

		config, err := s.cfg.Limiter.GetPinConfiguration(l.PinNumber)
		if err != nil {
			s.log.Warn("supervisor: pid loop targets unknown pin, skipping tick", "loop", l.Name, "pin", l.PinNumber, "error", err)
			continue
		}
		config.PWMLoad = duty

		if err := s.cfg.Limiter.UpdatePinConfiguration(config); err != nil {
			s.log.Warn("supervisor: failed to push pid output to limiter", "loop", l.Name, "pin", l.PinNumber, "error", err)
		}
	}
}
