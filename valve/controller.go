// Package valve implements the three-state valve controller: ON, OFF, and
// FLOAT (float-switch driven), layered on top of the current limiter.
package valve

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autobrew/brewctl/gpio"
	"github.com/autobrew/brewctl/limiter"
)

// Mode is the valve's operating mode.
type Mode int

const (
	// ModeOff holds the valve pin disabled.
	ModeOff Mode = iota
	// ModeOn holds the valve pin enabled.
	ModeOn
	// ModeFloat drives the valve pin from the float switch reading.
	ModeFloat
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeOn:
		return "ON"
	case ModeFloat:
		return "FLOAT"
	default:
		return "UNKNOWN"
	}
}

// minPollInterval is the floor on the controller's tick period, per spec.
const minPollInterval = 100 * time.Millisecond

// debounceSamples is how many consecutive matching float-switch polls are
// required before a reading is accepted, resolving the spec's open
// question on float debounce policy.
const debounceSamples = 2

// Config holds Controller construction parameters.
type Config struct {
	Limiter     *limiter.Limiter
	ValvePin    int
	FloatSwitch gpio.StateReader
	// PollInterval is the tick period while in FLOAT mode. Clamped up to
	// minPollInterval if smaller. Defaults to minPollInterval.
	PollInterval time.Duration
}

// Controller is the valve's three-state state machine.
type Controller struct {
	cfg Config
	log *slog.Logger

	mux  sync.Mutex
	mode Mode

	lastFloatReading bool
	matchCount       int

	runMux  sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Controller. The valve pin must already be registered with
// cfg.Limiter (non-PWM, critical, per the example pin table).
func New(cfg Config) (*Controller, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("valve: limiter is required")
	}
	if cfg.FloatSwitch == nil {
		return nil, fmt.Errorf("valve: float switch is required")
	}
	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}

	return &Controller{
		cfg:  cfg,
		log:  slog.Default(),
		mode: ModeOff,
	}, nil
}

// SetMode changes the valve's mode. Takes effect on the controller's next
// tick; in ON/OFF mode the change is also applied immediately so a caller
// observing the limiter need not wait for a tick.
func (c *Controller) SetMode(mode Mode) error {
	c.mux.Lock()
	c.mode = mode
	c.matchCount = 0
	c.mux.Unlock()

	switch mode {
	case ModeOn:
		return c.cfg.Limiter.EnablePin(c.cfg.ValvePin)
	case ModeOff:
		return c.cfg.Limiter.DisablePin(c.cfg.ValvePin)
	case ModeFloat:
		return nil
	default:
		return fmt.Errorf("valve: unknown mode %v", mode)
	}
}

// Mode returns the controller's current mode.
func (c *Controller) Mode() Mode {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.mode
}

// Start begins the background tick worker. Idempotent.
func (c *Controller) Start() {
	c.runMux.Lock()
	defer c.runMux.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	go c.loop(c.stopCh, c.doneCh)
}

// Stop signals the worker and blocks until it exits. Idempotent.
func (c *Controller) Stop() {
	c.runMux.Lock()
	if !c.running {
		c.runMux.Unlock()
		return
	}
	c.running = false
	stopCh := c.stopCh
	doneCh := c.doneCh
	c.runMux.Unlock()

	close(stopCh)
	<-doneCh
}

func (c *Controller) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) tick() {
	c.mux.Lock()
	mode := c.mode
	c.mux.Unlock()

	if mode != ModeFloat {
		return
	}

	reading, err := c.cfg.FloatSwitch.GetState()
	if err != nil {
		c.log.Warn("valve: failed to read float switch, holding last state", "error", err)
		return
	}

	c.mux.Lock()
	if reading == c.lastFloatReading {
		c.matchCount++
	} else {
		c.lastFloatReading = reading
		c.matchCount = 1
	}
	accepted := c.matchCount >= debounceSamples
	c.mux.Unlock()

	if !accepted {
		return
	}

	var applyErr error
	if reading {
		applyErr = c.cfg.Limiter.EnablePin(c.cfg.ValvePin)
	} else {
		applyErr = c.cfg.Limiter.DisablePin(c.cfg.ValvePin)
	}
	if applyErr != nil {
		c.log.Warn("valve: failed to apply float-driven state to limiter", "error", applyErr)
	}
}
