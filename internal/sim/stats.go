package sim

import "math"

// Stats aggregates the whole fleet at one instant.
type Stats struct {
	TotalBuses        int       `json:"totalBuses"`
	AverageSpeed      int       `json:"averageSpeed"`
	AverageDelay      float64   `json:"averageDelay"` // mean absolute delay, minutes
	TotalPassengers   int       `json:"totalPassengers"`
	OnTimePerformance int       `json:"onTimePerformance"` // percent of buses within 2 minutes
	TimeOfDay         TimeOfDay `json:"timeOfDay"`
	WeatherFactor     float64   `json:"weatherFactor"`
}

func (s *Simulator) statsLocked() Stats {
	st := Stats{
		TotalBuses:    len(s.buses),
		TimeOfDay:     s.timeOfDay,
		WeatherFactor: s.weather,
	}
	if st.TotalBuses == 0 {
		return st
	}

	var speed, delay float64
	onTime := 0
	for _, b := range s.buses {
		speed += b.Speed
		abs := math.Abs(b.Delay)
		delay += abs
		st.TotalPassengers += b.Passengers
		if abs <= 2 {
			onTime++
		}
	}
	n := float64(st.TotalBuses)
	st.AverageSpeed = round(speed / n)
	st.AverageDelay = roundTo(delay/n, 1)
	st.OnTimePerformance = round(float64(onTime) / n * 100)
	return st
}
