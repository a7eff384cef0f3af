package limiter

import "encoding/json"

// ConfigurationSnapshot mirrors PinConfiguration's externally-observed shape.
type ConfigurationSnapshot struct {
	Name           string  `json:"name"`
	ID             string  `json:"id"`
	PinNumber      int     `json:"pinNumber"`
	MilliAmps      int     `json:"milliAmps"`
	Critical       bool    `json:"critical"`
	PWM            bool    `json:"pwm"`
	PWMFrequencyHz float64 `json:"pwmFrequency"`
	PWMLoad        float64 `json:"pwmLoad"`
}

// StateSnapshot mirrors PinState's externally-observed shape.
type StateSnapshot struct {
	PinNumber    int     `json:"pinNumber"`
	DesiredState bool    `json:"desiredState"`
	Overridden   bool    `json:"overriden"`
	Enabled      bool    `json:"enabled"`
	PWMLoad      float64 `json:"pwmLoad"`
}

// PinSnapshot bundles a pin's configuration and state, keyed by pin ID in
// Snapshot.Pins.
type PinSnapshot struct {
	Config ConfigurationSnapshot `json:"config"`
	State  StateSnapshot         `json:"state"`
}

// Snapshot is the serializable observed state of a Limiter, per spec's
// external-interfaces section.
type Snapshot struct {
	BaseMilliAmps int                    `json:"baseMilliAmps"`
	MaxMilliAmps  int                    `json:"maxMilliAmps"`
	Pins          map[string]PinSnapshot `json:"-"`
}

// Snapshot returns a point-in-time serializable view of every configured pin.
func (l *Limiter) Snapshot() Snapshot {
	l.mux.Lock()
	defer l.mux.Unlock()

	snap := Snapshot{
		BaseMilliAmps: l.baseMilliAmps,
		MaxMilliAmps:  l.maxMilliAmps,
		Pins:          make(map[string]PinSnapshot, len(l.order)),
	}

	for _, pin := range l.order {
		entry := l.entries[pin]
		snap.Pins[entry.config.ID] = PinSnapshot{
			Config: ConfigurationSnapshot{
				Name:           entry.config.Name,
				ID:             entry.config.ID,
				PinNumber:      entry.config.PinNumber,
				MilliAmps:      entry.config.MilliAmps,
				Critical:       entry.config.Critical,
				PWM:            entry.config.PWM,
				PWMFrequencyHz: entry.config.PWMFrequencyHz,
				PWMLoad:        entry.config.PWMLoad,
			},
			State: StateSnapshot{
				PinNumber:    entry.state.PinNumber,
				DesiredState: entry.state.DesiredState,
				Overridden:   entry.state.Overridden,
				Enabled:      entry.state.Enabled,
				PWMLoad:      entry.state.PWMLoad,
			},
		}
	}

	return snap
}

// MarshalJSON implements json.Marshaler, flattening Pins into top-level
// keys alongside baseMilliAmps/maxMilliAmps, matching the original
// implementation's to_json shape.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Pins)+2)
	out["baseMilliAmps"] = s.BaseMilliAmps
	out["maxMilliAmps"] = s.MaxMilliAmps
	for id, pin := range s.Pins {
		out[id] = pin
	}
	return json.Marshal(out)
}
