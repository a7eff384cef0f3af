// Package pid implements a pure, side-effect-free PID controller used to
// map a (setpoint, measured, dt) triple onto a bounded control output.
package pid

import "sync"

// Config holds PID construction parameters.
type Config struct {
	Kp, Ki, Kd float64
	Setpoint   float64
	MinOutput  float64
	MaxOutput  float64
	// ErrorAccumulationCap clamps the integral term's magnitude to prevent
	// windup. Zero disables the cap (unbounded integral).
	ErrorAccumulationCap float64
}

// Controller is a stateful PID loop. All methods are safe for concurrent
// use.
type Controller struct {
	mux sync.Mutex
	cfg Config

	integral float64
	lastErr  float64
	lastOut  float64
}

// New creates a PID controller from cfg.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// SetSetpoint updates the target value the controller drives toward.
func (c *Controller) SetSetpoint(setpoint float64) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.cfg.Setpoint = setpoint
}

// Setpoint returns the current setpoint.
func (c *Controller) Setpoint() float64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.cfg.Setpoint
}

// SetErrorAccumulationCap updates the integral clamp.
func (c *Controller) SetErrorAccumulationCap(cap float64) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.cfg.ErrorAccumulationCap = cap
}

// Output returns the most recently computed output.
func (c *Controller) Output() float64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.lastOut
}

// Reset clears accumulated integral and derivative history, as if the
// controller had just been constructed.
func (c *Controller) Reset() {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.integral = 0
	c.lastErr = 0
	c.lastOut = 0
}

// Update advances the controller by one step given a fresh measurement and
// the elapsed time (seconds) since the last update, returning the new
// clamped output. On the controller's first call (or after Reset), the
// prior error is taken to be zero, so the derivative term is err/dt rather
// than suppressed outright. dt <= 0 suppresses the derivative term.
func (c *Controller) Update(measured, dtSeconds float64) float64 {
	c.mux.Lock()
	defer c.mux.Unlock()

	err := c.cfg.Setpoint - measured

	if dtSeconds > 0 {
		c.integral += err * dtSeconds
	}
	if cap := c.cfg.ErrorAccumulationCap; cap > 0 {
		c.integral = clamp(c.integral, -cap, cap)
	}

	var deriv float64
	if dtSeconds > 0 {
		deriv = (err - c.lastErr) / dtSeconds
	}

	raw := c.cfg.Kp*err + c.cfg.Ki*c.integral + c.cfg.Kd*deriv

	c.lastErr = err

	output := clamp(raw, c.cfg.MinOutput, c.cfg.MaxOutput)
	c.lastOut = output
	return output
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
