package sim

import (
	"fmt"
	"math"
)

// TimeOfDay is the coarse regime of the day that shapes speed and demand.
type TimeOfDay string

const (
	RushMorning TimeOfDay = "rush_morning"
	RushEvening TimeOfDay = "rush_evening"
	Normal      TimeOfDay = "normal"
	LateNight   TimeOfDay = "late_night"
	Weekend     TimeOfDay = "weekend"
)

// ParseTimeOfDay validates a regime name supplied by a host.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	switch t := TimeOfDay(s); t {
	case RushMorning, RushEvening, Normal, LateNight, Weekend:
		return t, nil
	}
	return "", fmt.Errorf("unknown time of day %q", s)
}

func (t TimeOfDay) IsRush() bool {
	return t == RushMorning || t == RushEvening
}

// speedFactor scales the nominal cruising speed. Unknown regimes are neutral.
func (t TimeOfDay) speedFactor() float64 {
	switch t {
	case RushMorning:
		return 0.6
	case RushEvening:
		return 0.65
	case LateNight:
		return 1.2
	case Weekend:
		return 1.1
	}
	return 1.0
}

// demandFactor scales how many riders wait at a stop.
func (t TimeOfDay) demandFactor() float64 {
	switch t {
	case RushMorning:
		return 2.0
	case RushEvening:
		return 1.8
	case LateNight:
		return 0.3
	case Weekend:
		return 0.7
	}
	return 1.0
}

const (
	MinWeatherFactor = 0.3
	MaxWeatherFactor = 1.2
)

func clampWeather(f float64) float64 {
	if math.IsNaN(f) {
		return 1.0
	}
	return clamp(f, MinWeatherFactor, MaxWeatherFactor)
}

// baseSpeed is the regime and weather adjusted cruising speed in km/h.
func baseSpeed(t TimeOfDay, weather float64) float64 {
	return nominalSpeedKmh * t.speedFactor() * weather
}

// stopDemand is the upper bound of riders boarding at one stop.
func stopDemand(terminal bool, t TimeOfDay) int {
	base := 8.0
	if terminal {
		base = 15
	}
	return int(base * t.demandFactor())
}
