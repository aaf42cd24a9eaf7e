package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-simulator/internal/sim"
)

func TestRegimeAt(t *testing.T) {
	// 2024-03-04 is a Monday, 2024-03-09 a Saturday
	at := func(day, hour int) time.Time {
		return time.Date(2024, 3, day, hour, 30, 0, 0, time.UTC)
	}
	tests := []struct {
		name string
		t    time.Time
		want sim.TimeOfDay
	}{
		{"early morning", at(4, 5), sim.LateNight},
		{"dawn", at(4, 6), sim.Normal},
		{"morning rush start", at(4, 7), sim.RushMorning},
		{"morning rush end", at(4, 9), sim.RushMorning},
		{"midday", at(4, 12), sim.Normal},
		{"evening rush", at(4, 18), sim.RushEvening},
		{"after rush", at(4, 20), sim.Normal},
		{"night", at(4, 22), sim.LateNight},
		{"saturday rush hour", at(9, 8), sim.Weekend},
		{"saturday night", at(9, 23), sim.LateNight},
		{"sunday afternoon", at(10, 15), sim.Weekend},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RegimeAt(tc.t))
		})
	}
}

func TestWeatherFactor(t *testing.T) {
	assert.Equal(t, 1.0, Sunny.Factor())
	assert.Equal(t, 0.95, Cloudy.Factor())
	assert.Equal(t, 0.8, Rainy.Factor())
	assert.Equal(t, 0.6, Stormy.Factor())
	assert.Equal(t, 1.0, Weather("foggy").Factor())
}

func TestParseWeather(t *testing.T) {
	w, err := ParseWeather(" Rainy ")
	require.NoError(t, err)
	assert.Equal(t, Rainy, w)

	_, err = ParseWeather("hail")
	assert.Error(t, err)
}

type seqChooser struct{ next int }

func (s *seqChooser) Intn(n int) int {
	v := s.next % n
	s.next++
	return v
}

func TestRandomWeatherNeverStorms(t *testing.T) {
	c := &seqChooser{}
	got := map[Weather]bool{}
	for i := 0; i < 9; i++ {
		got[RandomWeather(c)] = true
	}
	assert.Equal(t, map[Weather]bool{Sunny: true, Cloudy: true, Rainy: true}, got)
}
