package valve

import (
	"testing"
	"time"

	"github.com/autobrew/brewctl/gpio"
	"github.com/autobrew/brewctl/limiter"
)

const valvePin = 22

func newTestLimiter(t *testing.T) (*limiter.Limiter, *gpio.SimSwitch) {
	t.Helper()

	lim, err := limiter.New(limiter.Config{BaseMilliAmps: 0, MaxMilliAmps: 10000})
	if err != nil {
		t.Fatalf("limiter.New: %v", err)
	}

	sw := gpio.NewSimSwitch()
	cfg := limiter.PinConfiguration{
		Name:      "valve1",
		ID:        "valve1",
		PinNumber: valvePin,
		MilliAmps: 200,
		Critical:  true,
		PWM:       false,
	}
	if err := lim.AddPinConfiguration(cfg, sw); err != nil {
		t.Fatalf("AddPinConfiguration: %v", err)
	}
	return lim, sw
}

func TestController_OnModeEnablesPinImmediately(t *testing.T) {
	lim, sw := newTestLimiter(t)
	floatSw := gpio.NewSimSwitch()

	c, err := New(Config{Limiter: lim, ValvePin: valvePin, FloatSwitch: floatSw})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.SetMode(ModeOn); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	state, err := lim.GetPinState(valvePin)
	if err != nil {
		t.Fatalf("GetPinState: %v", err)
	}
	if !state.Enabled {
		t.Fatalf("expected valve pin enabled in ON mode")
	}
	if _, on, _ := sw.Counts(); on == 0 {
		t.Fatalf("expected switch to have been driven on")
	}
}

func TestController_OffModeDisablesPinImmediately(t *testing.T) {
	lim, _ := newTestLimiter(t)
	floatSw := gpio.NewSimSwitch()

	c, err := New(Config{Limiter: lim, ValvePin: valvePin, FloatSwitch: floatSw})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = c.SetMode(ModeOn)
	if err := c.SetMode(ModeOff); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	state, err := lim.GetPinState(valvePin)
	if err != nil {
		t.Fatalf("GetPinState: %v", err)
	}
	if state.Enabled {
		t.Fatalf("expected valve pin disabled in OFF mode")
	}
}

func TestController_FloatModeFollowsDebounceFloatSwitch(t *testing.T) {
	lim, _ := newTestLimiter(t)
	floatSw := gpio.NewSimSwitch()

	c, err := New(Config{
		Limiter:      lim,
		ValvePin:     valvePin,
		FloatSwitch:  floatSw,
		PollInterval: minPollInterval,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.SetMode(ModeFloat); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	_ = floatSw.SetState(true)

	// A single tick should not yet satisfy the 2-sample debounce.
	c.tick()
	state, _ := lim.GetPinState(valvePin)
	if state.Enabled {
		t.Fatalf("expected valve pin still disabled after a single matching poll")
	}

	c.tick()
	state, _ = lim.GetPinState(valvePin)
	if !state.Enabled {
		t.Fatalf("expected valve pin enabled after two consecutive matching polls")
	}
}

func TestController_FloatModeResetsDebounceOnFlap(t *testing.T) {
	lim, _ := newTestLimiter(t)
	floatSw := gpio.NewSimSwitch()

	c, err := New(Config{Limiter: lim, ValvePin: valvePin, FloatSwitch: floatSw, PollInterval: minPollInterval})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = c.SetMode(ModeFloat)

	_ = floatSw.SetState(true)
	c.tick()
	_ = floatSw.SetState(false)
	c.tick()
	_ = floatSw.SetState(true)
	c.tick()

	state, _ := lim.GetPinState(valvePin)
	if state.Enabled {
		t.Fatalf("expected valve pin disabled; flapping readings should not satisfy debounce")
	}
}

func TestController_StartStopIsIdempotent(t *testing.T) {
	lim, _ := newTestLimiter(t)
	floatSw := gpio.NewSimSwitch()

	c, err := New(Config{Limiter: lim, ValvePin: valvePin, FloatSwitch: floatSw, PollInterval: minPollInterval})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Start()
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestController_RejectsMissingDependencies(t *testing.T) {
	lim, _ := newTestLimiter(t)
	floatSw := gpio.NewSimSwitch()

	if _, err := New(Config{ValvePin: valvePin, FloatSwitch: floatSw}); err == nil {
		t.Fatalf("expected error with nil limiter")
	}
	if _, err := New(Config{Limiter: lim, ValvePin: valvePin}); err == nil {
		t.Fatalf("expected error with nil float switch")
	}
}
