package sim

import (
	"math"
	"time"

	"bus-simulator/internal/transit"
)

// minSegmentMeters keeps coincident or coordinate-less stops from producing
// zero-length segments.
const minSegmentMeters = 500.0

// Haversine distance in meters
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// SegmentDistance returns the great-circle distance between two stops in
// meters, floored at 500 m.
func SegmentDistance(a, b transit.Stop) float64 {
	lat1, lon1 := a.Coordinates()
	lat2, lon2 := b.Coordinates()
	return math.Max(minSegmentMeters, haversine(lat1, lon1, lat2, lon2))
}

// estimateArrivals plans the first pass over every stop for a bus leaving
// stop from at start: forward to the end of the line, then back for the stops
// behind it. It assumes avgSpeed km/h and a two minute dwell at each
// intermediate stop.
func estimateArrivals(stops []transit.Stop, avgSpeed float64, start time.Time, from int) []time.Time {
	n := len(stops)
	if n == 0 {
		return nil
	}
	from = clampIndex(from, n)
	leg := func(a, b int, dwell bool) time.Duration {
		minutes := 0.0
		if avgSpeed > 0 {
			minutes = (SegmentDistance(stops[a], stops[b]) / 1000) / (avgSpeed / 60)
		}
		if dwell {
			minutes += scheduledDwellMinutes
		}
		return time.Duration(minutes * float64(time.Minute))
	}

	out := make([]time.Time, n)
	cur := start
	out[from] = cur
	for i := from + 1; i < n; i++ {
		cur = cur.Add(leg(i-1, i, i < n-1))
		out[i] = cur
	}
	for i := n - 2; i >= 0; i-- {
		cur = cur.Add(leg(i+1, i, i > 0))
		if i < from {
			out[i] = cur
		}
	}
	return out
}
