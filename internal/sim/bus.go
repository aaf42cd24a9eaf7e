package sim

import (
	"time"

	"bus-simulator/internal/transit"
)

// Status is the operational state of a simulated bus.
type Status string

const (
	StatusMoving    Status = "moving"
	StatusArriving  Status = "arriving"
	StatusStopped   Status = "stopped"
	StatusDeparting Status = "departing"
)

const (
	Forward  = 1
	Backward = -1
)

const (
	nominalSpeedKmh       = 35.0
	minSpeedKmh           = 5.0
	defaultMaxSpeedKmh    = 60.0
	defaultAcceleration   = 2.0 // km/h per second
	defaultDeceleration   = 3.0 // km/h per second
	defaultCapacity       = 60
	arrivingAtProgress    = 85.0
	baseDwellSeconds      = 30.0
	scheduledDwellMinutes = 2.0
	maxTrafficDelay       = 20.0
	minGPSAccuracy        = 85.0
	maxGPSAccuracy        = 100.0
	minSignalBars         = 1
	maxSignalBars         = 4
)

// DriverProfile modulates speed and dwell. It never changes after creation.
type DriverProfile struct {
	Aggressiveness float64 `json:"aggressiveness"` // 0.3-0.7
	Punctuality    float64 `json:"punctuality"`    // 0.6-1.0
	Experience     float64 `json:"experience"`     // 0.7-1.0
	Efficiency     float64 `json:"efficiency"`     // 0.7-1.0
	SafetyFactor   float64 `json:"safetyFactor"`   // 0.8-1.0
}

func newDriverProfile(r Random) DriverProfile {
	return DriverProfile{
		Aggressiveness: uniform(r, 0.3, 0.4),
		Punctuality:    uniform(r, 0.6, 0.4),
		Experience:     uniform(r, 0.7, 0.3),
		Efficiency:     uniform(r, 0.7, 0.3),
		SafetyFactor:   uniform(r, 0.8, 0.2),
	}
}

// Bus is the mutable state of one simulated vehicle.
type Bus struct {
	ID      string
	RouteID string
	Stops   []transit.Stop

	CurrentStopIndex int
	Progress         float64 // 0-100 between the current and the next stop
	Direction        int

	Speed        float64 // km/h
	AverageSpeed float64
	MaxSpeed     float64
	Acceleration float64
	Deceleration float64

	Status Status

	Passengers int
	Capacity   int

	Fuel           float64
	BatteryLevel   int
	GPSAccuracy    float64
	SignalStrength int

	DwellTime         float64 // seconds left at the current stop
	Delay             float64 // minutes, positive is late
	LastUpdate        time.Time
	LastStopArrival   time.Time
	EstimatedArrivals []time.Time

	TrafficDelay         float64 // percent
	MechanicalIssue      bool
	MechanicalIssueUntil time.Time

	Driver         DriverProfile
	RouteKnowledge float64
}

func (b *Bus) clone() Bus {
	c := *b
	c.Stops = append([]transit.Stop(nil), b.Stops...)
	c.EstimatedArrivals = append([]time.Time(nil), b.EstimatedArrivals...)
	return c
}

func (b *Bus) loadFactor() float64 {
	if b.Capacity <= 0 {
		return 0
	}
	return float64(b.Passengers) / float64(b.Capacity)
}

// nextStopIndex reports the stop ahead in the current direction, if any.
func (b *Bus) nextStopIndex() (int, bool) {
	next := b.CurrentStopIndex + b.Direction
	if next < 0 || next >= len(b.Stops) {
		return 0, false
	}
	return next, true
}

// advanceStop moves to the next stop, turning around at either end of the line.
func (b *Bus) advanceStop() {
	next := b.CurrentStopIndex + b.Direction
	if next < 0 || next >= len(b.Stops) {
		b.Direction = -b.Direction
		next = b.CurrentStopIndex + b.Direction
	}
	b.CurrentStopIndex = clampIndex(next, len(b.Stops))
}

// DwellFor is the time in seconds the bus should stay at a stop given its
// load, its driver and the regime. It depends on nothing else.
func (b Bus) DwellFor(regime TimeOfDay) float64 {
	t := baseDwellSeconds + b.loadFactor()*20 + (2-b.Driver.Efficiency)*10
	if regime.IsRush() {
		t *= 1.5
	}
	return t
}

func clampIndex(i, n int) int {
	if n <= 0 {
		return 0
	}
	return clampInt(i, 0, n-1)
}
