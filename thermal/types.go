// Package thermal implements the temperature manager: a periodic poller
// that discovers 1-wire probes and publishes readings to subscribers and to
// PID loops.
package thermal

import "context"

// SensorID identifies a single 1-wire probe by its stable hardware id,
// scoped to the manager (bus/provider) that exposes it.
type SensorID struct {
	ManagerID string
	SensorID  string
}

// String returns a human-readable identifier, convenient for map keys and
// log fields.
func (s SensorID) String() string {
	return s.ManagerID + ":" + s.SensorID
}

// ProbeStats tracks a single probe's read history.
type ProbeStats struct {
	SensorID   SensorID
	LastTempMC int64 // last temperature reading, in milli-Celsius
	LastSeenMs int64 // monotonic ms of the last successful read
	FirstSeenMs int64
	NumSuccess int64
	NumErrors  int64
}

// SensorProvider is the narrow capability the temperature manager polls:
// enumerate available probes, and read one's current temperature.
type SensorProvider interface {
	// ListSensors returns every currently-discoverable probe.
	ListSensors(ctx context.Context) ([]SensorID, error)
	// ReadTemperature returns a probe's temperature in milli-Celsius along
	// with the reading's monotonic timestamp in ms.
	ReadTemperature(ctx context.Context, id SensorID) (milliCelsius int64, atMs int64, err error)
}

// StatsListener is called whenever a probe's stats change, receiving the
// pre- and post-update snapshots.
type StatsListener func(before, after ProbeStats)

// NewProbeListener is called when a probe is discovered for the first time.
type NewProbeListener func(id SensorID, stats ProbeStats)

// Config holds Manager construction parameters.
type Config struct {
	Provider SensorProvider

	// UpdateFrequencyMs is how often temperatures are polled. Defaults to
	// 333ms.
	UpdateFrequencyMs int64
	// UpdateProbeListFrequencyMs is how often the probe list is refreshed.
	// Defaults to 15000ms.
	UpdateProbeListFrequencyMs int64
}

const (
	defaultUpdateFrequencyMs          = 333
	defaultUpdateProbeListFrequencyMs = 15000

	// pollTickMs is the short sleep increment used while waiting for the
	// next update tick, so shutdown stays responsive.
	pollTickMs = 3
)
