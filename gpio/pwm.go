package gpio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// pausedPollInterval bounds how long Pause/Stop/frequency changes may take
// to be observed by the worker while it is paused and idle.
const pausedPollInterval = 10 * time.Millisecond

// PWM is a per-pin software PWM driver. It owns a Switch and runs a
// background worker that toggles it on/off to realize a fractional duty
// cycle. Frequency and duty changes take effect at the next cycle boundary;
// a duty of 0 holds the switch off without toggling it, a duty of 1 holds
// it on, per the spec's "duty 0/1 never toggles" contract.
type PWM struct {
	sw Switch

	mux       sync.Mutex
	freqHz    float64
	duty      float64
	running   bool
	paused    bool
	stopCh    chan struct{}
	stoppedWg sync.WaitGroup

	log *slog.Logger
}

// NewPWM creates a PWM engine for sw at the given initial frequency (Hz)
// and starts its background worker in the paused state.
func NewPWM(sw Switch, frequencyHz float64) *PWM {
	p := &PWM{
		sw:     sw,
		freqHz: frequencyHz,
		paused: true,
		log:    slog.Default(),
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stoppedWg.Add(1)
	go p.loop()
	return p
}

// SetFrequency sets the PWM frequency in Hz. Negative values are rejected.
func (p *PWM) SetFrequency(hz float64) error {
	if hz < 0 {
		return fmt.Errorf("gpio: pwm frequency must be nonnegative, got %v", hz)
	}

	p.mux.Lock()
	defer p.mux.Unlock()
	p.freqHz = hz
	return nil
}

// SetLoadCycle sets the desired duty cycle, clamped to [0.0, 1.0].
func (p *PWM) SetLoadCycle(d float64) {
	if d < 0 {
		d = 0
	}
	if d > 1 {
		d = 1
	}

	p.mux.Lock()
	defer p.mux.Unlock()
	p.duty = d
}

// LoadCycle returns the currently configured duty cycle.
func (p *PWM) LoadCycle() float64 {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.duty
}

// Unpause starts (or resumes) output.
func (p *PWM) Unpause() {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.paused = false
}

// Pause stops output; the switch is left in the off state.
func (p *PWM) Pause() {
	p.mux.Lock()
	p.paused = true
	p.mux.Unlock()

	if err := p.sw.SetState(false); err != nil {
		p.log.Warn("gpio: pwm failed to set switch off on pause", "error", err)
	}
}

// Stop terminates the background worker. It is idempotent.
func (p *PWM) Stop() {
	p.mux.Lock()
	if !p.running {
		p.mux.Unlock()
		return
	}
	p.running = false
	p.mux.Unlock()

	close(p.stopCh)
}

// Join blocks until the background worker has exited. Safe to call whether
// or not Stop has been called yet (Join will wait for a subsequent Stop).
func (p *PWM) Join() {
	p.stoppedWg.Wait()
}

func (p *PWM) snapshot() (duty, freqHz float64, running, paused bool) {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.duty, p.freqHz, p.running, p.paused
}

func (p *PWM) loop() {
	defer p.stoppedWg.Done()

	for {
		duty, freqHz, running, paused := p.snapshot()
		if !running {
			return
		}

		if paused || freqHz <= 0 {
			if err := p.sw.SetState(false); err != nil {
				p.log.Warn("gpio: pwm failed to set switch off while paused", "error", err)
			}
			if p.sleep(pausedPollInterval) {
				return
			}
			continue
		}

		period := time.Duration(float64(time.Second) / freqHz)

		switch {
		case duty <= 0:
			if err := p.sw.SetState(false); err != nil {
				p.log.Warn("gpio: pwm failed to set switch off at duty 0", "error", err)
			}
			if p.sleep(minDuration(period, pausedPollInterval)) {
				return
			}
		case duty >= 1:
			if err := p.sw.SetState(true); err != nil {
				p.log.Warn("gpio: pwm failed to set switch on at duty 1", "error", err)
			}
			if p.sleep(minDuration(period, pausedPollInterval)) {
				return
			}
		default:
			onNs := time.Duration(float64(period) * duty)
			offNs := period - onNs

			if err := p.sw.SetState(true); err != nil {
				p.log.Warn("gpio: pwm failed to set switch on", "error", err)
			}
			if p.sleep(onNs) {
				return
			}

			if err := p.sw.SetState(false); err != nil {
				p.log.Warn("gpio: pwm failed to set switch off", "error", err)
			}
			if p.sleep(offNs) {
				return
			}
		}
	}
}

// sleep waits for d or until Stop is called, whichever comes first. It
// returns true if Stop fired during the wait.
func (p *PWM) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-p.stopCh:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.stopCh:
		return true
	case <-timer.C:
		return false
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
