// Package limiter implements the current limiter: a priority-and-proportional
// power arbiter that owns GPIO outputs, maintains a global milliamp budget,
// and reconciles desired pin states against available current.
package limiter

// PinConfiguration is the caller-supplied policy for a single managed pin.
type PinConfiguration struct {
	// Name is a human-readable label.
	Name string
	// ID is a stable string key used for serialization.
	ID string
	// PinNumber must be unique within a Limiter.
	PinNumber int
	// MilliAmps is the peak current draw at full duty.
	MilliAmps int
	// Critical pins must be honored before any discretionary load.
	Critical bool
	// PWM selects fractional (true) vs binary on/off (false) control. Fixed
	// for the pin's lifetime once registered.
	PWM bool
	// PWMFrequencyHz is the software PWM frequency, only meaningful if PWM.
	PWMFrequencyHz float64
	// PWMLoad is the desired duty cycle in [0.0, 1.0], only meaningful if PWM.
	PWMLoad float64
}

// PinState is the limiter-internal arbitrated state of a configured pin.
type PinState struct {
	PinNumber int
	// DesiredState is the caller's requested on/off.
	DesiredState bool
	// Overridden is true if the limiter forced the pin off for budget reasons.
	Overridden bool
	// Enabled is the effective on/off after arbitration.
	Enabled bool
	// PWMLoad is the effective duty cycle after proportional scaling.
	PWMLoad float64
}

// Config holds construction parameters for a Limiter.
type Config struct {
	// BaseMilliAmps is fixed device overhead subtracted from the budget.
	BaseMilliAmps int
	// MaxMilliAmps is the supply ceiling.
	MaxMilliAmps int
}

// epsilonMilliAmps is the floating-point slack (1 microamp) used when
// comparing milliamp quantities, per spec.
const epsilonMilliAmps = 0.001
