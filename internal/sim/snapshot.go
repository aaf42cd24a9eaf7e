package sim

import (
	"math"
	"time"

	"bus-simulator/internal/transit"
)

const (
	OccupancyLow    = "Low"
	OccupancyMedium = "Medium"
	OccupancyHigh   = "High"
	OccupancyFull   = "Full"

	OnTime          = "On Time"
	SlightlyDelayed = "Slightly Delayed"
	Delayed         = "Delayed"
	VeryDelayed     = "Very Delayed"
)

// StatusSnapshot is the read-only view of a bus handed to hosts.
type StatusSnapshot struct {
	ID                string        `json:"id"`
	RouteID           string        `json:"routeId"`
	CurrentStopIndex  int           `json:"currentStopIndex"`
	CurrentStop       *transit.Stop `json:"currentStop,omitempty"`
	NextStop          *transit.Stop `json:"nextStop,omitempty"`
	Progress          int           `json:"progress"`
	Status            Status        `json:"status"`
	Speed             int           `json:"speed"`
	Passengers        int           `json:"passengers"`
	Capacity          int           `json:"capacity"`
	Fuel              int           `json:"fuel"`
	Delay             float64       `json:"delay"`
	Direction         int           `json:"direction"`
	DwellTime         int           `json:"dwellTime"`
	GPSAccuracy       int           `json:"gpsAccuracy"`
	SignalStrength    int           `json:"signalStrength"`
	BatteryLevel      int           `json:"batteryLevel"`
	MechanicalIssues  bool          `json:"mechanicalIssues"`
	TrafficDelay      int           `json:"trafficDelay"`
	EstimatedNextStop *int          `json:"estimatedNextStop,omitempty"` // minutes
	OccupancyLevel    string        `json:"occupancyLevel"`
	OnTimePerformance string        `json:"onTimePerformance"`
	LastUpdate        time.Time     `json:"lastUpdate"`
}

func snapshotOf(b *Bus) StatusSnapshot {
	st := StatusSnapshot{
		ID:                b.ID,
		RouteID:           b.RouteID,
		CurrentStopIndex:  b.CurrentStopIndex,
		Progress:          round(b.Progress),
		Status:            b.Status,
		Speed:             round(b.Speed),
		Passengers:        b.Passengers,
		Capacity:          b.Capacity,
		Fuel:              round(b.Fuel),
		Delay:             roundTo(b.Delay, 1),
		Direction:         b.Direction,
		DwellTime:         round(b.DwellTime),
		GPSAccuracy:       round(b.GPSAccuracy),
		SignalStrength:    b.SignalStrength,
		BatteryLevel:      b.BatteryLevel,
		MechanicalIssues:  b.MechanicalIssue,
		TrafficDelay:      round(b.TrafficDelay),
		OccupancyLevel:    OccupancyLevel(b.Passengers, b.Capacity),
		OnTimePerformance: OnTimeLabel(b.Delay),
		LastUpdate:        b.LastUpdate,
	}
	if len(b.Stops) == 0 {
		return st
	}
	cur := b.Stops[b.CurrentStopIndex]
	st.CurrentStop = &cur
	if next, ok := b.nextStopIndex(); ok {
		ns := b.Stops[next]
		st.NextStop = &ns
		if eta, ok := minutesToStop(b, next); ok {
			st.EstimatedNextStop = &eta
		}
	}
	return st
}

// minutesToStop estimates whole minutes (at least one) until the bus reaches
// the given adjacent stop.
func minutesToStop(b *Bus, idx int) (int, bool) {
	speed := b.Speed
	if speed <= 0 {
		speed = b.AverageSpeed
	}
	if speed <= 0 {
		return 0, false
	}
	km := SegmentDistance(b.Stops[b.CurrentStopIndex], b.Stops[idx]) / 1000
	minutes := (100 - b.Progress) / 100 * km / (speed / 60)
	return max(1, round(minutes)), true
}

// OccupancyLevel buckets passengers/capacity.
func OccupancyLevel(passengers, capacity int) string {
	ratio := 1.0
	if capacity > 0 {
		ratio = float64(passengers) / float64(capacity)
	}
	switch {
	case ratio < 0.3:
		return OccupancyLow
	case ratio < 0.6:
		return OccupancyMedium
	case ratio < 0.9:
		return OccupancyHigh
	}
	return OccupancyFull
}

// OnTimeLabel buckets the absolute delay in minutes.
func OnTimeLabel(delay float64) string {
	d := math.Abs(delay)
	switch {
	case d <= 2:
		return OnTime
	case d <= 5:
		return SlightlyDelayed
	case d <= 10:
		return Delayed
	}
	return VeryDelayed
}

func round(v float64) int { return int(math.Round(v)) }

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
