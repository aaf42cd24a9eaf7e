package sim

import (
	"math"
	"time"
)

const (
	mechanicalIssueChance   = 0.0001
	mechanicalIssueDuration = 30 * time.Second
	trafficRerollChance     = 0.01
	signalChangeChance      = 0.05
	passengerDriftChance    = 0.01
)

// step advances one bus through exactly one state machine transition.
// dt is the simulated time in seconds.
func (s *Simulator) step(b *Bus, dt float64, now time.Time) {
	if b.MechanicalIssue && !now.Before(b.MechanicalIssueUntil) {
		b.MechanicalIssue = false
		b.MechanicalIssueUntil = time.Time{}
	}

	s.updateConditions(b, dt, now)

	switch b.Status {
	case StatusMoving:
		s.handleMoving(b, dt)
	case StatusArriving:
		s.handleArriving(b, dt, now)
	case StatusStopped:
		s.handleStopped(b, dt)
	case StatusDeparting:
		s.handleDeparting(b, dt)
	}

	updateDelay(b, now)
	s.driftPassengers(b)
	b.LastUpdate = now
}

func (s *Simulator) updateConditions(b *Bus, dt float64, now time.Time) {
	b.Fuel = math.Max(0, b.Fuel-(b.Speed/100)*dt/3600)

	if s.rng.Float64() < mechanicalIssueChance {
		b.MechanicalIssue = true
		b.MechanicalIssueUntil = now.Add(mechanicalIssueDuration)
	}
	if s.rng.Float64() < trafficRerollChance {
		b.TrafficDelay = s.rng.Float64() * maxTrafficDelay
	}
	b.GPSAccuracy = clamp(b.GPSAccuracy+(s.rng.Float64()-0.5)*5, minGPSAccuracy, maxGPSAccuracy)
	if s.rng.Float64() < signalChangeChance {
		b.SignalStrength = clampInt(b.SignalStrength+s.rng.Intn(3)-1, minSignalBars, maxSignalBars)
	}
}

func (s *Simulator) handleMoving(b *Bus, dt float64) {
	next, ok := b.nextStopIndex()
	if !ok {
		// end of the line: turn around and pull into the previous stop
		b.Direction = -b.Direction
		b.Status = StatusArriving
		return
	}

	segment := SegmentDistance(b.Stops[b.CurrentStopIndex], b.Stops[next])
	speed := s.currentSpeed(b, dt)
	covered := speed * 1000 / 3600 * dt
	b.Progress = math.Min(100, b.Progress+covered/segment*100)

	if b.Progress >= arrivingAtProgress {
		b.Status = StatusArriving
		b.Speed = math.Max(b.Speed*0.7, minSpeedKmh)
	}
}

func (s *Simulator) handleArriving(b *Bus, dt float64, now time.Time) {
	b.Speed = math.Max(b.Speed*0.8, minSpeedKmh)
	b.Progress += b.Speed / 10 * dt
	if b.Progress < 100 {
		return
	}

	b.Progress = 0
	b.advanceStop()
	b.DwellTime = b.DwellFor(s.timeOfDay)
	b.LastStopArrival = now
	s.exchangePassengers(b)
	b.Speed = 0
	b.Status = StatusStopped
}

func (s *Simulator) handleStopped(b *Bus, dt float64) {
	b.DwellTime -= dt
	if b.DwellTime <= 0 {
		b.DwellTime = 0
		b.Speed = 0
		b.Status = StatusDeparting
	}
}

func (s *Simulator) handleDeparting(b *Bus, dt float64) {
	b.Speed = math.Min(b.Speed+b.Acceleration*dt, b.MaxSpeed)
	if b.Speed >= b.AverageSpeed*0.8 {
		b.Status = StatusMoving
	}
}

// currentSpeed moves the bus speed toward the multi-factor target and
// returns it clamped to [5, MaxSpeed].
func (s *Simulator) currentSpeed(b *Bus, dt float64) float64 {
	target := b.AverageSpeed
	target *= 0.8 + b.Driver.Aggressiveness*0.4
	target *= 1 - b.TrafficDelay/100
	target *= s.weather
	target *= 1 - b.loadFactor()*0.2
	if b.MechanicalIssue {
		target *= 0.7
	}

	if b.Speed < target {
		b.Speed = math.Min(b.Speed+b.Acceleration*dt, target)
	} else if b.Speed > target {
		b.Speed = math.Max(b.Speed-b.Deceleration*dt, target)
	}
	b.Speed = clamp(b.Speed, minSpeedKmh, b.MaxSpeed)
	return b.Speed
}

func (s *Simulator) exchangePassengers(b *Bus) {
	terminal := b.CurrentStopIndex == 0 || b.CurrentStopIndex == len(b.Stops)-1

	alighting := int(float64(b.Passengers) * uniform(s.rng, 0.1, 0.3))
	b.Passengers = max(0, b.Passengers-alighting)

	room := b.Capacity - b.Passengers
	demand := stopDemand(terminal, s.timeOfDay)
	boarding := int(s.rng.Float64() * float64(min(room, demand)))
	b.Passengers = clampInt(b.Passengers+boarding, 0, b.Capacity)
}

// driftPassengers models the odd rider getting on or off between stops.
func (s *Simulator) driftPassengers(b *Bus) {
	if b.Status != StatusMoving || s.rng.Float64() >= passengerDriftChance {
		return
	}
	b.Passengers = clampInt(b.Passengers+s.rng.Intn(3)-1, 0, b.Capacity)
}

func updateDelay(b *Bus, now time.Time) {
	if b.LastStopArrival.IsZero() || b.CurrentStopIndex >= len(b.EstimatedArrivals) {
		return
	}
	b.Delay = now.Sub(b.EstimatedArrivals[b.CurrentStopIndex]).Minutes()
}
