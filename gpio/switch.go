// Package gpio provides the Switch capability abstraction and the software
// PWM engine used to drive fractional loads on binary GPIO outputs.
package gpio

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
)

// Switch is the narrow capability a load's GPIO output must satisfy. It is
// the sole write interface the current limiter and PWM engine use; callers
// never see the underlying pin type.
type Switch interface {
	// SetState drives the switch on (true) or off (false).
	SetState(on bool) error
}

// StateReader is an optional capability a Switch may additionally satisfy,
// allowing callers to read back the last commanded state.
type StateReader interface {
	GetState() (bool, error)
}

// PeriphSwitch adapts a periph.io gpio.PinIO into a Switch, backing onto
// real GPIO hardware.
type PeriphSwitch struct {
	mux sync.Mutex
	pin gpio.PinIO
}

// NewPeriphSwitch configures pin as an output driven low (off) and returns a
// Switch backed by it. host.Init must have been called once per process
// before pins are opened; callers typically do this via InitHost.
func NewPeriphSwitch(pin gpio.PinIO) (*PeriphSwitch, error) {
	if pin == nil {
		return nil, fmt.Errorf("gpio: pin cannot be nil")
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio: failed to configure pin %s as output: %w", pin, err)
	}
	return &PeriphSwitch{pin: pin}, nil
}

// InitHost initializes periph.io's host drivers. It must be called once
// before any real (non-simulated) GPIO pin is opened.
func InitHost() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("gpio: failed to initialize host: %w", err)
	}
	return nil
}

// SetState implements Switch.
func (s *PeriphSwitch) SetState(on bool) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if on {
		return s.pin.Out(gpio.High)
	}
	return s.pin.Out(gpio.Low)
}

// GetState implements StateReader.
func (s *PeriphSwitch) GetState() (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	return s.pin.Read() == gpio.High, nil
}

// SimSwitch is an in-memory Switch used by tests and simulated hardware. It
// tracks every SetState call for assertions, and can be made to
// fail to exercise the limiter's and PWM engine's error-tolerant paths.
type SimSwitch struct {
	mux       sync.Mutex
	state     bool
	failNext  bool
	setCount  int
	onCount   int
	offCount  int
	lastWrite bool
}

// NewSimSwitch returns a SimSwitch initialized to the off state.
func NewSimSwitch() *SimSwitch {
	return &SimSwitch{}
}

// SetState implements Switch.
func (s *SimSwitch) SetState(on bool) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.setCount++
	if s.failNext {
		s.failNext = false
		return fmt.Errorf("gpio: simulated switch failure")
	}

	s.state = on
	s.lastWrite = on
	if on {
		s.onCount++
	} else {
		s.offCount++
	}
	return nil
}

// GetState implements StateReader.
func (s *SimSwitch) GetState() (bool, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.state, nil
}

// FailNextWrite makes the next SetState call return an error.
func (s *SimSwitch) FailNextWrite() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.failNext = true
}

// Counts returns the number of SetState calls, and how many set the switch
// on vs off, for test assertions.
func (s *SimSwitch) Counts() (total, on, off int) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.setCount, s.onCount, s.offCount
}
