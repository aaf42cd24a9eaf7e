// Package fleet drives a sim.Simulator from a route source on a wall-clock
// ticker and fans every tick out to the configured sinks.
package fleet

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"bus-simulator/internal/conditions"
	mmetrics "bus-simulator/internal/metrics"
	"bus-simulator/internal/sim"
	"bus-simulator/internal/transit"
)

// Source supplies bus assignments and route stops. *db.Store implements it.
type Source interface {
	FetchAssignments(ctx context.Context) ([]transit.Assignment, error)
	FetchRouteStops(ctx context.Context, routeID string) ([]transit.Stop, error)
}

// Frame is everything one tick produced.
type Frame struct {
	Statuses []sim.StatusSnapshot `json:"buses"`
	Stats    sim.Stats            `json:"stats"`
	At       time.Time            `json:"serverTime"`
}

// Sink receives every frame. Errors are logged and counted, never fatal.
type Sink interface {
	Name() string
	Publish(ctx context.Context, f Frame) error
}

type Options struct {
	TickInterval    time.Duration // wall clock between ticks
	SimDelta        time.Duration // simulated time per tick
	RefreshInterval time.Duration // 0 disables periodic reloads
	Location        *time.Location
	// Regime pins the time of day. Empty follows the wall clock.
	Regime sim.TimeOfDay
	Seed   int64
	Now    func() time.Time
}

type Manager struct {
	sim     *sim.Simulator
	src     Source
	sinks   []Sink
	opts    Options
	metrics *mmetrics.Collector

	loadMu sync.Mutex
	rng    *rand.Rand

	mu     sync.Mutex
	labels map[string]string // busID -> bus number
	regime sim.TimeOfDay     // pinned regime, empty follows the clock

	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewManager(s *sim.Simulator, src Source, opts Options, metrics *mmetrics.Collector, sinks ...Sink) *Manager {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 3 * time.Second
	}
	if opts.SimDelta <= 0 {
		opts.SimDelta = sim.DefaultTickDelta
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Manager{
		sim:     s,
		src:     src,
		sinks:   sinks,
		opts:    opts,
		metrics: metrics,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		labels:  make(map[string]string),
		regime:  opts.Regime,
	}
}

func (m *Manager) Simulator() *sim.Simulator { return m.sim }

// Load registers every assigned bus whose route has stops and drops buses
// that lost their assignment. Buses already running on the same route keep
// their state. It returns the number of newly initialized buses.
func (m *Manager) Load(ctx context.Context) (int, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	return m.load(ctx)
}

// load does the work of Load. The caller holds loadMu.
func (m *Manager) load(ctx context.Context) (int, error) {
	assignments, err := m.src.FetchAssignments(ctx)
	if err != nil {
		if m.metrics != nil {
			m.metrics.LoadErrors.Inc()
		}
		return 0, fmt.Errorf("fetch assignments: %w", err)
	}

	stopsByRoute := make(map[string][]transit.Stop)
	assigned := make(map[string]bool, len(assignments))
	labels := make(map[string]string, len(assignments))
	added := 0
	for _, a := range assignments {
		if a.BusID == "" {
			continue
		}
		assigned[a.BusID] = true
		labels[a.BusID] = a.BusNumber

		if b, ok := m.sim.Bus(a.BusID); ok && b.RouteID == a.RouteID {
			continue
		}
		stops, cached := stopsByRoute[a.RouteID]
		if !cached {
			stops, err = m.src.FetchRouteStops(ctx, a.RouteID)
			if err != nil {
				if ctx.Err() != nil {
					return added, ctx.Err()
				}
				log.WithError(err).WithField("route", a.RouteID).Warn("fetch route stops failed")
				continue
			}
			stopsByRoute[a.RouteID] = stops
		}
		if len(stops) == 0 {
			log.WithFields(log.Fields{"bus": a.BusID, "route": a.RouteID}).Warn("route has no stops, bus skipped")
			delete(assigned, a.BusID)
			continue
		}
		m.sim.InitializeBus(a.BusID, a.RouteID, stops, m.rng.Intn(len(stops)))
		added++
	}

	removed := 0
	for _, id := range m.sim.BusIDs() {
		if !assigned[id] {
			m.sim.RemoveBus(id)
			removed++
		}
	}

	m.mu.Lock()
	m.labels = labels
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.BusesLoaded.Add(float64(added))
		m.metrics.BusesRemoved.Add(float64(removed))
		m.metrics.ActiveBuses.Set(float64(m.sim.Len()))
	}
	log.Printf("fleet loaded: %d buses (%d new, %d removed)", m.sim.Len(), added, removed)
	return added, nil
}

// Label returns the fleet number of a bus, falling back to its id.
func (m *Manager) Label(busID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.labels[busID]; l != "" {
		return l
	}
	return busID
}

// PinRegime fixes the time of day until Unpin is called and applies it now.
func (m *Manager) PinRegime(t sim.TimeOfDay) {
	m.mu.Lock()
	m.regime = t
	m.mu.Unlock()
	m.sim.SetTimeOfDay(t)
}

// Unpin makes ticks follow the wall clock again.
func (m *Manager) Unpin() {
	m.mu.Lock()
	m.regime = ""
	m.mu.Unlock()
	m.sim.SetTimeOfDay(conditions.RegimeAt(m.opts.Now().In(m.opts.Location)))
}

func (m *Manager) Pinned() (sim.TimeOfDay, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regime, m.regime != ""
}

// Reset drops every bus and loads the fleet again from the source. No load
// or tick runs between the two.
func (m *Manager) Reset(ctx context.Context) (int, error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.sim.Reset()
	return m.load(ctx)
}

// TickOnce follows the wall-clock regime, advances every bus by SimDelta and
// publishes the resulting frame. It waits for a running load or reset.
func (m *Manager) TickOnce(ctx context.Context) Frame {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	tickStart := time.Now()
	now := m.opts.Now()

	regime, pinned := m.Pinned()
	if !pinned {
		regime = conditions.RegimeAt(now.In(m.opts.Location))
	}
	if regime != m.sim.TimeOfDay() {
		log.Printf("time of day %s -> %s", m.sim.TimeOfDay(), regime)
		m.sim.SetTimeOfDay(regime)
	}

	ids := m.sim.BusIDs()
	f := Frame{Statuses: make([]sim.StatusSnapshot, 0, len(ids)), At: now}
	for _, id := range ids {
		if st, ok := m.sim.UpdateBusPosition(id, m.opts.SimDelta); ok {
			f.Statuses = append(f.Statuses, st)
		}
	}
	f.Stats = m.sim.SimulationStats()

	for _, s := range m.sinks {
		if err := s.Publish(ctx, f); err != nil {
			log.WithError(err).WithField("sink", s.Name()).Warn("sink publish failed")
			if m.metrics != nil {
				m.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			}
		}
	}

	if m.metrics != nil {
		m.metrics.Ticks.Inc()
		m.metrics.ObserveStats(f.Stats)
		m.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
	}
	return f
}

// Start runs TickOnce every TickInterval until ctx is cancelled or Stop is
// called.
func (m *Manager) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.opts.TickInterval)
		defer ticker.Stop()
		log.Printf("simulation running: tick every %s, %s simulated per tick", m.opts.TickInterval, m.opts.SimDelta)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.TickOnce(ctx)
			}
		}
	}()
}

// StartRefresher launches a background loop that periodically reloads the
// fleet so new assignments start and withdrawn buses stop.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.opts.RefreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		ticker := time.NewTicker(m.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Load(ctx); err != nil && ctx.Err() == nil {
					log.Printf("refresh fleet error: %v", err)
				}
			}
		}
	}()
}

func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
