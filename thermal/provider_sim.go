package thermal

import (
	"context"
	"fmt"
	"sync"

	"github.com/autobrew/brewctl/internal/clock"
)

// SimProvider is a deterministic, in-memory SensorProvider for tests and
// for running on hosts with no 1-wire bus attached.
type SimProvider struct {
	clk clock.Clock

	mux      sync.Mutex
	sensors  []SensorID
	temps    map[SensorID]int64
	failNext map[SensorID]int
}

// NewSimProvider creates a SimProvider. clk may be nil to use the real
// wall clock.
func NewSimProvider(clk clock.Clock) *SimProvider {
	if clk == nil {
		clk = clock.System{}
	}
	return &SimProvider{
		clk:      clk,
		temps:    make(map[SensorID]int64),
		failNext: make(map[SensorID]int),
	}
}

// AddSensor registers id with an initial temperature reading in
// milli-Celsius, making it visible to the next ListSensors call.
func (p *SimProvider) AddSensor(id SensorID, initialMilliCelsius int64) {
	p.mux.Lock()
	defer p.mux.Unlock()

	if _, ok := p.temps[id]; !ok {
		p.sensors = append(p.sensors, id)
	}
	p.temps[id] = initialMilliCelsius
}

// SetTemperature updates a registered sensor's reading.
func (p *SimProvider) SetTemperature(id SensorID, milliCelsius int64) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.temps[id] = milliCelsius
}

// FailNextRead causes the next n ReadTemperature calls for id to return an
// error, simulating a flaky probe.
func (p *SimProvider) FailNextRead(id SensorID, n int) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.failNext[id] = n
}

// ListSensors implements SensorProvider.
func (p *SimProvider) ListSensors(ctx context.Context) ([]SensorID, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	out := make([]SensorID, len(p.sensors))
	copy(out, p.sensors)
	return out, nil
}

// ReadTemperature implements SensorProvider.
func (p *SimProvider) ReadTemperature(ctx context.Context, id SensorID) (int64, int64, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	if n := p.failNext[id]; n > 0 {
		p.failNext[id] = n - 1
		return 0, 0, fmt.Errorf("thermal: simulated read failure for %s", id)
	}

	temp, ok := p.temps[id]
	if !ok {
		return 0, 0, fmt.Errorf("thermal: unknown sensor %s", id)
	}
	return temp, p.clk.NowMs(), nil
}
