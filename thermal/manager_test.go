package thermal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/autobrew/brewctl/internal/clock"
)

func newTestManager(t *testing.T, provider *SimProvider, clk clock.Clock) *Manager {
	t.Helper()
	m, err := New(Config{
		Provider:                   provider,
		UpdateFrequencyMs:          5,
		UpdateProbeListFrequencyMs: 5,
	}, clk)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestManager_DiscoversProbeAndFiresNewProbeEvent(t *testing.T) {
	clk := clock.NewFake(0)
	provider := NewSimProvider(clk)
	id := SensorID{ManagerID: "bus0", SensorID: "probe1"}
	provider.AddSensor(id, 20000)

	m := newTestManager(t, provider, clk)

	var mux sync.Mutex
	seen := make([]SensorID, 0)
	m.SubscribeNewProbe(func(gotID SensorID, stats ProbeStats) {
		mux.Lock()
		defer mux.Unlock()
		seen = append(seen, gotID)
	})

	if err := m.updateProbeList(context.Background()); err != nil {
		t.Fatalf("updateProbeList: %v", err)
	}

	mux.Lock()
	defer mux.Unlock()
	if len(seen) != 1 || seen[0] != id {
		t.Fatalf("expected new-probe event for %v, got %v", id, seen)
	}

	probes := m.ListProbes()
	if len(probes) != 1 || probes[0] != id {
		t.Fatalf("expected ListProbes to report %v, got %v", id, probes)
	}
}

func TestManager_SuccessfulReadUpdatesStats(t *testing.T) {
	clk := clock.NewFake(1000)
	provider := NewSimProvider(clk)
	id := SensorID{ManagerID: "bus0", SensorID: "probe1"}
	provider.AddSensor(id, 65500)

	m := newTestManager(t, provider, clk)
	if err := m.updateProbeList(context.Background()); err != nil {
		t.Fatalf("updateProbeList: %v", err)
	}

	m.updateTemperatures(context.Background())

	stats, err := m.GetProbeStats(id)
	if err != nil {
		t.Fatalf("GetProbeStats: %v", err)
	}
	if stats.LastTempMC != 65500 {
		t.Fatalf("expected last temp 65500, got %d", stats.LastTempMC)
	}
	if stats.LastSeenMs != 1000 {
		t.Fatalf("expected last seen 1000, got %d", stats.LastSeenMs)
	}
	if stats.NumSuccess != 1 || stats.NumErrors != 0 {
		t.Fatalf("expected 1 success 0 errors, got success=%d errors=%d", stats.NumSuccess, stats.NumErrors)
	}
}

func TestManager_FailedReadIncrementsErrorsNotLastSeen(t *testing.T) {
	clk := clock.NewFake(1000)
	provider := NewSimProvider(clk)
	id := SensorID{ManagerID: "bus0", SensorID: "probe1"}
	provider.AddSensor(id, 65500)

	m := newTestManager(t, provider, clk)
	if err := m.updateProbeList(context.Background()); err != nil {
		t.Fatalf("updateProbeList: %v", err)
	}

	provider.FailNextRead(id, 1)
	m.updateTemperatures(context.Background())

	stats, err := m.GetProbeStats(id)
	if err != nil {
		t.Fatalf("GetProbeStats: %v", err)
	}
	if stats.NumErrors != 1 || stats.NumSuccess != 0 {
		t.Fatalf("expected 1 error 0 successes, got success=%d errors=%d", stats.NumSuccess, stats.NumErrors)
	}
	if stats.LastSeenMs != 0 {
		t.Fatalf("expected last seen unchanged (0) after failed read, got %d", stats.LastSeenMs)
	}
}

func TestManager_StatsListenerPanicDoesNotStopOtherListeners(t *testing.T) {
	clk := clock.NewFake(0)
	provider := NewSimProvider(clk)
	id := SensorID{ManagerID: "bus0", SensorID: "probe1"}
	provider.AddSensor(id, 1000)

	m := newTestManager(t, provider, clk)
	if err := m.updateProbeList(context.Background()); err != nil {
		t.Fatalf("updateProbeList: %v", err)
	}

	var mux sync.Mutex
	secondCalled := false

	m.SubscribeStats(func(before, after ProbeStats) {
		panic("boom")
	})
	m.SubscribeStats(func(before, after ProbeStats) {
		mux.Lock()
		defer mux.Unlock()
		secondCalled = true
	})

	m.updateTemperatures(context.Background())

	mux.Lock()
	defer mux.Unlock()
	if !secondCalled {
		t.Fatalf("expected second listener to still run after first panicked")
	}
}

func TestManager_StartStopIsClean(t *testing.T) {
	provider := NewSimProvider(nil)
	id := SensorID{ManagerID: "bus0", SensorID: "probe1"}
	provider.AddSensor(id, 1000)

	m, err := New(Config{Provider: provider, UpdateFrequencyMs: 1, UpdateProbeListFrequencyMs: 1}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.Start()
	m.Start() // idempotent
	time.Sleep(20 * time.Millisecond)
	m.Stop()
	m.Stop() // idempotent

	probes := m.ListProbes()
	if len(probes) != 1 {
		t.Fatalf("expected the background worker to have discovered the probe, got %v", probes)
	}
}
