package limiter

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/autobrew/brewctl/gpio"
)

// pinEntry bundles a configuration with its owned hardware handles.
type pinEntry struct {
	config PinConfiguration
	state  PinState
	sw     gpio.Switch
	pwm    *gpio.PWM // non-nil iff config.PWM
}

// Limiter arbitrates desired pin states against a milliamp budget. All
// public operations are serialized under a single coarse lock, per spec.
type Limiter struct {
	mux sync.Mutex

	baseMilliAmps int
	maxMilliAmps  int

	entries map[int]*pinEntry
	// order holds pin numbers in ascending order for deterministic
	// arbitration iteration.
	order []int

	log *slog.Logger
}

// New creates a Limiter with the given base overhead and supply ceiling.
func New(cfg Config) (*Limiter, error) {
	if cfg.MaxMilliAmps < cfg.BaseMilliAmps {
		return nil, fmt.Errorf("limiter: max_milli_amps (%d) must be >= base_milli_amps (%d)", cfg.MaxMilliAmps, cfg.BaseMilliAmps)
	}

	return &Limiter{
		baseMilliAmps: cfg.BaseMilliAmps,
		maxMilliAmps:  cfg.MaxMilliAmps,
		entries:       make(map[int]*pinEntry),
		log:           slog.Default(),
	}, nil
}

// AddPinConfiguration registers a new pin, failing if its pin number is
// already present. If config.PWM, a PWM engine is started (initially paused,
// duty 0) at config.PWMFrequencyHz.
func (l *Limiter) AddPinConfiguration(config PinConfiguration, sw gpio.Switch) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	if _, exists := l.entries[config.PinNumber]; exists {
		return fmt.Errorf("limiter: cannot add pin configuration for pin %d, already configured", config.PinNumber)
	}

	entry := &pinEntry{
		config: config,
		state: PinState{
			PinNumber:    config.PinNumber,
			DesiredState: false,
			Overridden:   false,
			Enabled:      false,
			PWMLoad:      0,
		},
		sw: sw,
	}

	if config.PWM {
		entry.pwm = gpio.NewPWM(sw, config.PWMFrequencyHz)
		entry.pwm.SetLoadCycle(0)
	}

	l.entries[config.PinNumber] = entry
	l.order = append(l.order, config.PinNumber)
	slices.Sort(l.order)

	return nil
}

// GetPinConfiguration returns a snapshot of a pin's configuration.
func (l *Limiter) GetPinConfiguration(pin int) (PinConfiguration, error) {
	l.mux.Lock()
	defer l.mux.Unlock()

	entry, exists := l.entries[pin]
	if !exists {
		return PinConfiguration{}, fmt.Errorf("limiter: no such pin %d", pin)
	}
	return entry.config, nil
}

// UpdatePinConfiguration replaces a pin's configuration, rejecting any
// attempt to change the PWM flag, then re-arbitrates.
func (l *Limiter) UpdatePinConfiguration(config PinConfiguration) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	entry, exists := l.entries[config.PinNumber]
	if !exists {
		return fmt.Errorf("limiter: cannot update pin configuration for non-existent pin %d", config.PinNumber)
	}

	if entry.config.PWM != config.PWM {
		return fmt.Errorf("limiter: cannot change the pwm flag for pin %d after registration", config.PinNumber)
	}

	entry.config = config
	l.evaluateConfiguration()
	return nil
}

// GetPinState returns a snapshot of a pin's arbitrated state.
func (l *Limiter) GetPinState(pin int) (PinState, error) {
	l.mux.Lock()
	defer l.mux.Unlock()

	entry, exists := l.entries[pin]
	if !exists {
		return PinState{}, fmt.Errorf("limiter: no such pin %d", pin)
	}
	return entry.state, nil
}

// EnablePin sets a pin's desired state to true, re-arbitrating only if it
// changed.
func (l *Limiter) EnablePin(pin int) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	entry, exists := l.entries[pin]
	if !exists {
		return fmt.Errorf("limiter: cannot enable non-existent pin %d", pin)
	}

	if !entry.state.DesiredState {
		entry.state.DesiredState = true
		l.evaluateConfiguration()
	}
	return nil
}

// DisablePin sets a pin's desired state to false, re-arbitrating only if it
// changed.
func (l *Limiter) DisablePin(pin int) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	entry, exists := l.entries[pin]
	if !exists {
		return fmt.Errorf("limiter: cannot disable non-existent pin %d", pin)
	}

	if entry.state.DesiredState {
		entry.state.DesiredState = false
		l.evaluateConfiguration()
	}
	return nil
}

// IsEnabled returns the pin's desired state (the request, not the arbitrated
// result).
func (l *Limiter) IsEnabled(pin int) (bool, error) {
	l.mux.Lock()
	defer l.mux.Unlock()

	entry, exists := l.entries[pin]
	if !exists {
		return false, fmt.Errorf("limiter: cannot query non-existent pin %d", pin)
	}
	return entry.state.DesiredState, nil
}

// Close stops and joins every PWM engine, then drives every owned switch
// low. All errors during teardown are logged and swallowed.
func (l *Limiter) Close() error {
	l.mux.Lock()
	defer l.mux.Unlock()

	for _, pin := range l.order {
		entry := l.entries[pin]

		if entry.config.PWM && entry.pwm != nil {
			entry.pwm.Stop()
			entry.pwm.Join()
		}

		if err := entry.sw.SetState(false); err != nil {
			l.log.Warn("limiter: error disabling pin during close, ignoring", "pin", pin, "error", err)
		}
	}

	return nil
}

// evaluateConfiguration runs the three-phase arbitration algorithm. Must be
// called with l.mux held.
func (l *Limiter) evaluateConfiguration() {
	available := l.maxMilliAmps - l.baseMilliAmps
	if available < 0 {
		available = 0
	}

	// Phase 1: critical, non-PWM pins.
	for _, pin := range l.order {
		entry := l.entries[pin]
		config := entry.config

		if !config.Critical || config.PWM {
			continue
		}

		if !entry.state.DesiredState {
			entry.state.Overridden = false
			entry.state.Enabled = false
			if err := entry.sw.SetState(false); err != nil {
				l.log.Warn("limiter: failed to drive switch off", "pin", pin, "error", err)
			}
			continue
		}

		remainder := available - config.MilliAmps
		if remainder > 0 {
			entry.state.Overridden = false
			entry.state.Enabled = true
			available = remainder
		} else {
			l.log.Warn("limiter: critical non-pwm pin won't fit in budget, overriding off", "pin", pin, "name", config.Name)
			entry.state.Overridden = true
			entry.state.Enabled = false
			if err := entry.sw.SetState(false); err != nil {
				l.log.Warn("limiter: failed to drive switch off", "pin", pin, "error", err)
			}
		}
	}

	// Phase 2: non-critical, PWM pins. Pins not currently desired on
	// contribute nothing to the pool and always end up at load 0, per the
	// invariant that ¬desired_state implies a zero effective pwm_load.
	totalDesiredMilliAmps := 0.0
	for _, pin := range l.order {
		entry := l.entries[pin]
		if entry.config.Critical || !entry.config.PWM || !entry.state.DesiredState {
			continue
		}
		totalDesiredMilliAmps += float64(entry.config.MilliAmps) * entry.config.PWMLoad
	}

	for _, pin := range l.order {
		entry := l.entries[pin]
		if entry.config.Critical || !entry.config.PWM {
			continue
		}
		if !entry.state.DesiredState {
			entry.state.PWMLoad = 0
			continue
		}

		switch {
		case totalDesiredMilliAmps <= epsilonMilliAmps:
			entry.state.PWMLoad = 0
		case totalDesiredMilliAmps <= float64(available):
			entry.state.PWMLoad = entry.config.PWMLoad
		default:
			ratio := float64(available) / totalDesiredMilliAmps
			entry.state.PWMLoad = ratio * entry.config.PWMLoad
		}
	}

	// Phase 3: apply.
	for _, pin := range l.order {
		entry := l.entries[pin]
		config := entry.config

		if config.PWM {
			entry.state.Enabled = entry.state.DesiredState && entry.state.PWMLoad > 0
			entry.pwm.SetLoadCycle(entry.state.PWMLoad)
			if err := entry.pwm.SetFrequency(config.PWMFrequencyHz); err != nil {
				l.log.Warn("limiter: failed to set pwm frequency", "pin", pin, "error", err)
			}
			entry.pwm.Unpause()
		} else if entry.state.Enabled {
			if err := entry.sw.SetState(true); err != nil {
				l.log.Warn("limiter: failed to drive switch on", "pin", pin, "error", err)
			}
		}
	}
}
