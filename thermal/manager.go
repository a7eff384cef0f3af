package thermal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autobrew/brewctl/internal/clock"
)

// Manager periodically discovers 1-wire probes and polls their
// temperatures, publishing readings to subscribers.
type Manager struct {
	cfg Config
	clk clock.Clock
	log *slog.Logger

	dataMux     sync.Mutex
	knownProbes map[SensorID]struct{}
	probeOrder  []SensorID
	stats       map[SensorID]ProbeStats

	eventMux          sync.Mutex
	statsListeners    map[int64]StatsListener
	newProbeListeners map[int64]NewProbeListener
	nextListenerKey   int64

	runMux  sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	lastUpdateMs    int64
	lastProbeListMs int64
}

// New creates a Manager. clk may be nil, in which case the real wall clock
// is used.
func New(cfg Config, clk clock.Clock) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("thermal: sensor provider is required")
	}
	if cfg.UpdateFrequencyMs == 0 {
		cfg.UpdateFrequencyMs = defaultUpdateFrequencyMs
	}
	if cfg.UpdateProbeListFrequencyMs == 0 {
		cfg.UpdateProbeListFrequencyMs = defaultUpdateProbeListFrequencyMs
	}
	if clk == nil {
		clk = clock.System{}
	}

	return &Manager{
		cfg:               cfg,
		clk:               clk,
		log:               slog.Default(),
		knownProbes:       make(map[SensorID]struct{}),
		stats:             make(map[SensorID]ProbeStats),
		statsListeners:    make(map[int64]StatsListener),
		newProbeListeners: make(map[int64]NewProbeListener),
	}, nil
}

// ListProbes returns a snapshot of known sensor ids.
func (m *Manager) ListProbes() []SensorID {
	m.dataMux.Lock()
	defer m.dataMux.Unlock()

	out := make([]SensorID, len(m.probeOrder))
	copy(out, m.probeOrder)
	return out
}

// GetProbeStats returns a probe's current stats, failing if unknown.
func (m *Manager) GetProbeStats(id SensorID) (ProbeStats, error) {
	m.dataMux.Lock()
	defer m.dataMux.Unlock()

	stats, ok := m.stats[id]
	if !ok {
		return ProbeStats{}, fmt.Errorf("thermal: no such probe stats: %s", id)
	}
	return stats, nil
}

// SubscribeStats registers cb to be called whenever a probe's stats change,
// returning a key usable with UnsubscribeStats.
func (m *Manager) SubscribeStats(cb StatsListener) int64 {
	m.eventMux.Lock()
	defer m.eventMux.Unlock()

	m.nextListenerKey++
	key := m.nextListenerKey
	m.statsListeners[key] = cb
	return key
}

// UnsubscribeStats removes a stats listener registered with SubscribeStats.
func (m *Manager) UnsubscribeStats(key int64) {
	m.eventMux.Lock()
	defer m.eventMux.Unlock()
	delete(m.statsListeners, key)
}

// SubscribeNewProbe registers cb to be called when a probe is discovered
// for the first time, returning a key usable with UnsubscribeNewProbe.
func (m *Manager) SubscribeNewProbe(cb NewProbeListener) int64 {
	m.eventMux.Lock()
	defer m.eventMux.Unlock()

	m.nextListenerKey++
	key := m.nextListenerKey
	m.newProbeListeners[key] = cb
	return key
}

// UnsubscribeNewProbe removes a listener registered with SubscribeNewProbe.
func (m *Manager) UnsubscribeNewProbe(key int64) {
	m.eventMux.Lock()
	defer m.eventMux.Unlock()
	delete(m.newProbeListeners, key)
}

// Start begins the background polling worker. Idempotent.
func (m *Manager) Start() {
	m.runMux.Lock()
	defer m.runMux.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.lastUpdateMs = m.clk.NowMs()

	go m.loop(m.stopCh, m.doneCh)
}

// Stop signals the worker and blocks until it exits. Idempotent.
func (m *Manager) Stop() {
	m.runMux.Lock()
	if !m.running {
		m.runMux.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.runMux.Unlock()

	close(stopCh)
	<-doneCh
}

func (m *Manager) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		now := m.clk.NowMs()
		elapsed := now - m.lastUpdateMs

		if elapsed < m.cfg.UpdateFrequencyMs {
			if sleepOrStop(stopCh, pollTickMs*time.Millisecond) {
				return
			}
			continue
		}

		if now-m.lastProbeListMs > m.cfg.UpdateProbeListFrequencyMs {
			if err := m.updateProbeList(context.Background()); err != nil {
				m.log.Warn("thermal: failed to list probes, will retry", "error", err)
				if sleepOrStop(stopCh, pollTickMs*time.Millisecond) {
					return
				}
				continue
			}
			m.lastProbeListMs = now
		}

		m.updateTemperatures(context.Background())
		m.lastUpdateMs = now
	}
}

func sleepOrStop(stopCh chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stopCh:
		return true
	case <-timer.C:
		return false
	}
}

func (m *Manager) updateProbeList(ctx context.Context) error {
	probes, err := m.cfg.Provider.ListSensors(ctx)
	if err != nil {
		return fmt.Errorf("thermal: failed to list sensors: %w", err)
	}

	now := m.clk.NowMs()

	var newProbes []SensorID
	m.dataMux.Lock()
	for _, id := range probes {
		if _, known := m.knownProbes[id]; !known {
			newProbes = append(newProbes, id)
		}
	}

	var newStats []ProbeStats
	for _, id := range newProbes {
		m.knownProbes[id] = struct{}{}
		m.probeOrder = append(m.probeOrder, id)
		stats := ProbeStats{
			SensorID:    id,
			LastTempMC:  -1,
			LastSeenMs:  0,
			FirstSeenMs: now,
		}
		m.stats[id] = stats
		newStats = append(newStats, stats)
	}
	m.dataMux.Unlock()

	for _, stats := range newStats {
		m.fireNewProbeEvent(stats.SensorID, stats)
	}

	return nil
}

func (m *Manager) updateTemperatures(ctx context.Context) {
	for _, id := range m.ListProbes() {
		m.dataMux.Lock()
		before, ok := m.stats[id]
		m.dataMux.Unlock()
		if !ok {
			m.log.Warn("thermal: probe missing from stats table, ignoring", "probe", id)
			continue
		}

		after := before

		temp, atMs, err := m.cfg.Provider.ReadTemperature(ctx, id)
		if err != nil {
			after.NumErrors++
			m.log.Warn("thermal: failed to read probe", "probe", id, "error_count", after.NumErrors, "error", err)
		} else {
			after.NumSuccess++
			after.LastTempMC = temp
			after.LastSeenMs = atMs
		}

		m.dataMux.Lock()
		m.stats[id] = after
		m.dataMux.Unlock()

		m.fireStatsChangedEvent(before, after)
	}
}

// fireStatsChangedEvent snapshots the listener list under the event lock,
// then invokes callbacks without holding it, so a subscriber can safely
// re-enter the manager (e.g. call GetProbeStats) from its callback.
func (m *Manager) fireStatsChangedEvent(before, after ProbeStats) {
	m.eventMux.Lock()
	callbacks := make([]StatsListener, 0, len(m.statsListeners))
	for _, cb := range m.statsListeners {
		callbacks = append(callbacks, cb)
	}
	m.eventMux.Unlock()

	for _, cb := range callbacks {
		m.invokeStatsListener(cb, before, after)
	}
}

func (m *Manager) invokeStatsListener(cb StatsListener, before, after ProbeStats) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("thermal: stats listener panicked, ignoring", "panic", r)
		}
	}()
	cb(before, after)
}

func (m *Manager) fireNewProbeEvent(id SensorID, stats ProbeStats) {
	m.eventMux.Lock()
	callbacks := make([]NewProbeListener, 0, len(m.newProbeListeners))
	for _, cb := range m.newProbeListeners {
		callbacks = append(callbacks, cb)
	}
	m.eventMux.Unlock()

	for _, cb := range callbacks {
		m.invokeNewProbeListener(cb, id, stats)
	}
}

func (m *Manager) invokeNewProbeListener(cb NewProbeListener, id SensorID, stats ProbeStats) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("thermal: new-probe listener panicked, ignoring", "panic", r)
		}
	}()
	cb(id, stats)
}
