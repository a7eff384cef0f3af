// Package diag runs a self-test pass over the limiter, thermal manager, and
// valve controller, recording pass/fail/warning results the way the
// teacher's hardware diagnostics manager does for GPIO/power/thermal/security.
package diag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autobrew/brewctl/limiter"
	"github.com/autobrew/brewctl/thermal"
	"github.com/autobrew/brewctl/valve"
)

// TestType identifies a diagnostic category.
type TestType string

const (
	TestLimiterBudget TestType = "LIMITER_BUDGET"
	TestLimiterPin    TestType = "LIMITER_PIN"
	TestThermalProbe  TestType = "THERMAL_PROBE"
	TestValveMode     TestType = "VALVE_MODE"
)

// TestStatus is a diagnostic test's outcome.
type TestStatus string

const (
	StatusPass    TestStatus = "PASS"
	StatusFail    TestStatus = "FAIL"
	StatusWarning TestStatus = "WARNING"
	StatusSkipped TestStatus = "SKIPPED"
)

// TestResult is a single diagnostic outcome.
type TestResult struct {
	Type        TestType
	Component   string
	Status      TestStatus
	Reading     float64
	Expected    float64
	Description string
	Error       error
	Timestamp   time.Time
}

// Config holds Manager construction parameters.
type Config struct {
	Limiter *limiter.Limiter
	Thermal *thermal.Manager
	Valve   *valve.Controller

	// PinsToProbe are pin numbers whose arbitrated state is sanity-checked
	// against their desired state.
	PinsToProbe []int
	// ProbesToCheck are sensor ids expected to be reachable.
	ProbesToCheck []thermal.SensorID
	// MaxProbeSilenceMs flags a probe as stale if it hasn't been seen this
	// recently. Defaults to 10000ms.
	MaxProbeSilenceMs int64

	Retries int

	// OnTestComplete, if set, is invoked once per recorded result.
	OnTestComplete func(TestResult)

	// NowMs supplies the current monotonic time for staleness checks.
	// Defaults to time.Now().UnixMilli.
	NowMs func() int64
}

// Manager runs diagnostic passes and records their results.
type Manager struct {
	mux sync.RWMutex
	cfg Config

	results []TestResult
}

// New creates a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("diag: limiter is required")
	}
	if cfg.Thermal == nil {
		return nil, fmt.Errorf("diag: thermal manager is required")
	}
	if cfg.Valve == nil {
		return nil, fmt.Errorf("diag: valve controller is required")
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.MaxProbeSilenceMs == 0 {
		cfg.MaxProbeSilenceMs = 10000
	}
	if cfg.NowMs == nil {
		cfg.NowMs = func() int64 { return time.Now().UnixMilli() }
	}

	return &Manager{cfg: cfg}, nil
}

// TestLimiterBudget reads each probed pin's arbitrated state and confirms
// the invariant that a pin not desired is neither enabled nor loaded. It
// does not compute the remaining budget.
func (m *Manager) TestLimiterBudget(ctx context.Context) error {
	for _, pin := range m.cfg.PinsToProbe {
		state, err := m.cfg.Limiter.GetPinState(pin)
		if err != nil {
			m.recordResult(TestResult{
				Type: TestLimiterBudget, Component: fmt.Sprintf("pin_%d", pin),
				Status: StatusFail, Description: "failed to read pin state", Error: err,
				Timestamp: time.Now(),
			})
			return fmt.Errorf("diag: failed to read pin %d state: %w", pin, err)
		}

		if !state.DesiredState && (state.Enabled || state.PWMLoad != 0) {
			m.recordResult(TestResult{
				Type: TestLimiterBudget, Component: fmt.Sprintf("pin_%d", pin),
				Status: StatusFail, Description: "invariant violated: pin enabled or loaded while not desired",
				Timestamp: time.Now(),
			})
			return fmt.Errorf("diag: pin %d violates not-desired invariant", pin)
		}
	}

	m.recordResult(TestResult{
		Type: TestLimiterBudget, Component: "limiter", Status: StatusPass,
		Description: "arbitration invariants hold", Timestamp: time.Now(),
	})
	return nil
}

// TestLimiterPins verifies each probed pin's configuration is still
// retrievable (catching accidental removal or a corrupted entries table).
func (m *Manager) TestLimiterPins(ctx context.Context) error {
	for _, pin := range m.cfg.PinsToProbe {
		if _, err := m.cfg.Limiter.GetPinConfiguration(pin); err != nil {
			m.recordResult(TestResult{
				Type: TestLimiterPin, Component: fmt.Sprintf("pin_%d", pin),
				Status: StatusFail, Description: "pin configuration missing", Error: err,
				Timestamp: time.Now(),
			})
			return fmt.Errorf("diag: pin %d configuration missing: %w", pin, err)
		}
		m.recordResult(TestResult{
			Type: TestLimiterPin, Component: fmt.Sprintf("pin_%d", pin),
			Status: StatusPass, Description: "pin configured", Timestamp: time.Now(),
		})
	}
	return nil
}

// TestThermalProbes verifies every expected probe has reported recently.
func (m *Manager) TestThermalProbes(ctx context.Context) error {
	now := m.cfg.NowMs()

	for _, id := range m.cfg.ProbesToCheck {
		stats, err := m.cfg.Thermal.GetProbeStats(id)
		if err != nil {
			m.recordResult(TestResult{
				Type: TestThermalProbe, Component: id.String(),
				Status: StatusFail, Description: "probe not yet discovered", Error: err,
				Timestamp: time.Now(),
			})
			return fmt.Errorf("diag: probe %s not discovered: %w", id, err)
		}

		silenceMs := now - stats.LastSeenMs
		if silenceMs > m.cfg.MaxProbeSilenceMs {
			m.recordResult(TestResult{
				Type: TestThermalProbe, Component: id.String(),
				Status: StatusWarning, Reading: float64(silenceMs), Expected: float64(m.cfg.MaxProbeSilenceMs),
				Description: "probe has not reported recently", Timestamp: time.Now(),
			})
			continue
		}

		m.recordResult(TestResult{
			Type: TestThermalProbe, Component: id.String(), Status: StatusPass,
			Reading: float64(stats.LastTempMC), Description: "probe reporting", Timestamp: time.Now(),
		})
	}
	return nil
}

// TestValve verifies the valve controller reports a recognized mode.
func (m *Manager) TestValve(ctx context.Context) error {
	mode := m.cfg.Valve.Mode()
	switch mode {
	case valve.ModeOff, valve.ModeOn, valve.ModeFloat:
		m.recordResult(TestResult{
			Type: TestValveMode, Component: "valve", Status: StatusPass,
			Description: fmt.Sprintf("mode %s", mode), Timestamp: time.Now(),
		})
		return nil
	default:
		m.recordResult(TestResult{
			Type: TestValveMode, Component: "valve", Status: StatusFail,
			Description: "unrecognized valve mode", Timestamp: time.Now(),
		})
		return fmt.Errorf("diag: valve reports unrecognized mode %v", mode)
	}
}

// RunAll runs every diagnostic test, attempting each up to cfg.Retries times
// in total before giving up.
func (m *Manager) RunAll(ctx context.Context) error {
	tests := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"limiter_budget", m.TestLimiterBudget},
		{"limiter_pins", m.TestLimiterPins},
		{"thermal_probes", m.TestThermalProbes},
		{"valve", m.TestValve},
	}

	for _, test := range tests {
		var lastErr error
		for retry := 0; retry < m.cfg.Retries; retry++ {
			if err := test.fn(ctx); err != nil {
				lastErr = err
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Errorf("diag: %s failed after %d attempts: %w", test.name, m.cfg.Retries, lastErr)
		}
	}

	return nil
}

// GetResults returns every recorded result since construction.
func (m *Manager) GetResults() []TestResult {
	m.mux.RLock()
	defer m.mux.RUnlock()

	out := make([]TestResult, len(m.results))
	copy(out, m.results)
	return out
}

func (m *Manager) recordResult(result TestResult) {
	m.mux.Lock()
	m.results = append(m.results, result)
	m.mux.Unlock()

	if m.cfg.OnTestComplete != nil {
		m.cfg.OnTestComplete(result)
	}
}
