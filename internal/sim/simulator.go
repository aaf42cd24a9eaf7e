// Package sim fabricates plausible real-time positions, speeds, delays and
// passenger loads for buses running back and forth along routes of ordered
// stops.
//
// The simulator owns no timer. Time only advances inside UpdateBusPosition,
// by whatever delta the caller passes, so a host decides the cadence.
package sim

import (
	"sync"
	"time"

	"bus-simulator/internal/transit"
)

// DefaultTickDelta is the simulated time applied when UpdateBusPosition gets
// a non-positive delta.
const DefaultTickDelta = 5 * time.Second

// Simulator is a registry of simulated buses plus the two fleet-wide
// environment scalars. All methods are safe for concurrent use.
type Simulator struct {
	mu        sync.Mutex
	buses     map[string]*Bus
	order     []string // registration order
	timeOfDay TimeOfDay
	weather   float64

	rng Random
	now func() time.Time
}

type Option func(*Simulator)

// WithRand injects the random source used for every stochastic draw.
func WithRand(r Random) Option {
	return func(s *Simulator) { s.rng = r }
}

func WithSeed(seed int64) Option {
	return func(s *Simulator) { s.rng = newRandom(seed) }
}

// WithClock replaces time.Now for timestamps, schedules and delays.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

func New(opts ...Option) *Simulator {
	s := &Simulator{
		buses:     make(map[string]*Bus),
		timeOfDay: Normal,
		weather:   1.0,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = newRandom(defaultSeed())
	}
	return s
}

// InitializeBus registers a fresh bus on a route, replacing any bus with the
// same id, and returns a copy of its initial state. An out of range start
// index is clamped onto the route.
func (s *Simulator) InitializeBus(busID, routeID string, stops []transit.Stop, initialStopIndex int) Bus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	speed := baseSpeed(s.timeOfDay, s.weather)
	b := &Bus{
		ID:               busID,
		RouteID:          routeID,
		Stops:            append([]transit.Stop(nil), stops...),
		CurrentStopIndex: clampIndex(initialStopIndex, len(stops)),
		Direction:        Forward,
		Speed:            speed,
		AverageSpeed:     speed,
		MaxSpeed:         defaultMaxSpeedKmh,
		Acceleration:     defaultAcceleration,
		Deceleration:     defaultDeceleration,
		Status:           StatusMoving,
		Capacity:         defaultCapacity,
		LastUpdate:       now,
	}
	b.Passengers = min(10+s.rng.Intn(50), b.Capacity)
	b.Fuel = float64(60 + s.rng.Intn(40))
	b.BatteryLevel = 60 + s.rng.Intn(40)
	b.GPSAccuracy = uniform(s.rng, 90, 10)
	b.SignalStrength = 3 + s.rng.Intn(2)
	b.Driver = newDriverProfile(s.rng)
	b.RouteKnowledge = uniform(s.rng, 0.7, 0.3)
	b.EstimatedArrivals = estimateArrivals(b.Stops, b.AverageSpeed, now, b.CurrentStopIndex)

	if _, exists := s.buses[busID]; !exists {
		s.order = append(s.order, busID)
	}
	s.buses[busID] = b
	return b.clone()
}

// UpdateBusPosition advances a bus by delta of simulated time and returns its
// snapshot. ok is false for an unknown id or a route without stops.
func (s *Simulator) UpdateBusPosition(busID string, delta time.Duration) (StatusSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buses[busID]
	if !ok || len(b.Stops) == 0 {
		return StatusSnapshot{}, false
	}
	if delta <= 0 {
		delta = DefaultTickDelta
	}
	s.step(b, delta.Seconds(), s.now())
	return snapshotOf(b), true
}

// BusStatus returns the snapshot of a bus without advancing it.
func (s *Simulator) BusStatus(busID string) (StatusSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buses[busID]
	if !ok {
		return StatusSnapshot{}, false
	}
	return snapshotOf(b), true
}

// AllBusesStatus returns one snapshot per bus in registration order.
func (s *Simulator) AllBusesStatus() []StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StatusSnapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, snapshotOf(s.buses[id]))
	}
	return out
}

// Bus returns a copy of the full internal state of a bus.
func (s *Simulator) Bus(busID string) (Bus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buses[busID]
	if !ok {
		return Bus{}, false
	}
	return b.clone(), true
}

func (s *Simulator) BusIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Simulator) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buses)
}

// RemoveBus deletes a bus and reports whether it was registered.
func (s *Simulator) RemoveBus(busID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buses[busID]; !ok {
		return false
	}
	delete(s.buses, busID)
	for i, id := range s.order {
		if id == busID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Reset drops every bus. Environment settings are kept.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buses = make(map[string]*Bus)
	s.order = nil
}

// SetTimeOfDay switches the regime and rebases every bus's average speed.
// Instantaneous speeds converge to the new baseline over later ticks.
func (s *Simulator) SetTimeOfDay(t TimeOfDay) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeOfDay = t
	avg := baseSpeed(t, s.weather)
	for _, b := range s.buses {
		b.AverageSpeed = avg
	}
}

func (s *Simulator) TimeOfDay() TimeOfDay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeOfDay
}

// SetWeatherFactor stores f clamped to [0.3, 1.2]. 1.0 is clear weather.
func (s *Simulator) SetWeatherFactor(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weather = clampWeather(f)
}

func (s *Simulator) WeatherFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weather
}

func (s *Simulator) SimulationStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}
