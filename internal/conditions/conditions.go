// Package conditions maps wall-clock time and weather labels onto the
// simulator's environment controls.
package conditions

import (
	"fmt"
	"strings"
	"time"

	"bus-simulator/internal/sim"
)

// RegimeAt buckets a local time into a time-of-day regime. Nights win over
// weekends, weekends win over rush hours.
func RegimeAt(t time.Time) sim.TimeOfDay {
	h := t.Hour()
	switch {
	case h >= 22 || h <= 5:
		return sim.LateNight
	case t.Weekday() == time.Saturday || t.Weekday() == time.Sunday:
		return sim.Weekend
	case h >= 7 && h <= 9:
		return sim.RushMorning
	case h >= 17 && h <= 19:
		return sim.RushEvening
	}
	return sim.Normal
}

type Weather string

const (
	Sunny  Weather = "sunny"
	Cloudy Weather = "cloudy"
	Rainy  Weather = "rainy"
	Stormy Weather = "stormy"
)

// Factor is the speed multiplier handed to sim.Simulator.SetWeatherFactor.
func (w Weather) Factor() float64 {
	switch w {
	case Cloudy:
		return 0.95
	case Rainy:
		return 0.8
	case Stormy:
		return 0.6
	}
	return 1.0
}

func ParseWeather(s string) (Weather, error) {
	switch w := Weather(strings.ToLower(strings.TrimSpace(s))); w {
	case Sunny, Cloudy, Rainy, Stormy:
		return w, nil
	}
	return "", fmt.Errorf("unknown weather %q", s)
}

// Chooser is the subset of *math/rand.Rand used to pick a random weather.
type Chooser interface {
	Intn(n int) int
}

// RandomWeather picks one of the everyday conditions. Storms are never
// chosen at random.
func RandomWeather(r Chooser) Weather {
	everyday := []Weather{Sunny, Cloudy, Rainy}
	return everyday[r.Intn(len(everyday))]
}
