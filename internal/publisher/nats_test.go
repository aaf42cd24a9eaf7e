package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-simulator/internal/fleet"
	"bus-simulator/internal/sim"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []message
	fail map[string]bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.fail[subject] {
		return errors.New("nats: connection closed")
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

type countingMetrics struct {
	published, errs, observed int
}

func (c *countingMetrics) NATSPublishedInc()            { c.published++ }
func (c *countingMetrics) NATSPublishErrInc()           { c.errs++ }
func (c *countingMetrics) PublishObserve(time.Duration) { c.observed++ }
func (c *countingMetrics) NATSSetConnected(bool)        {}

func TestSubjectToken(t *testing.T) {
	cases := map[string]string{
		"12":         "12",
		" Route 7 ":  "Route_7",
		"a.b":        "a_b",
		"x>*":        "x__",
		"line/north": "line_north",
		"":           "_",
		"   ":        "_",
	}
	for in, want := range cases {
		assert.Equal(t, want, subjectToken(in), "input %q", in)
	}
}

func TestPrefixNormalized(t *testing.T) {
	assert.Equal(t, "buses.10.1", newPublisher(&fakeConn{}, "", false, nil).StatusSubject("10", "1"))
	assert.Equal(t, "city.fleet.10.1", newPublisher(&fakeConn{}, " .city.fleet. ", false, nil).StatusSubject("10", "1"))
}

func TestPublishFrame(t *testing.T) {
	c := &fakeConn{}
	m := &countingMetrics{}
	p := newPublisher(c, "sim", false, m)
	at := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), fleet.Frame{
		Statuses: []sim.StatusSnapshot{
			{ID: "1", RouteID: "10", Speed: 31, Status: sim.StatusMoving},
			{ID: "2", RouteID: "Route 20", Status: sim.StatusStopped},
		},
		Stats: sim.Stats{TotalBuses: 2, AverageSpeed: 15, TimeOfDay: sim.Normal, WeatherFactor: 1},
		At:    at,
	})
	require.NoError(t, err)
	require.Len(t, c.msgs, 3)
	assert.Equal(t, "sim.10.1", c.msgs[0].subject)
	assert.Equal(t, "sim.Route_20.2", c.msgs[1].subject)
	assert.Equal(t, "sim.stats", c.msgs[2].subject)

	var st sim.StatusSnapshot
	require.NoError(t, json.Unmarshal(c.msgs[0].data, &st))
	assert.Equal(t, 31, st.Speed)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(c.msgs[2].data, &stats))
	assert.EqualValues(t, 2, stats["totalBuses"])
	assert.Equal(t, "normal", stats["timeOfDay"])
	assert.Equal(t, "2024-03-04T12:00:00Z", stats["timestamp"])

	assert.Equal(t, 3, m.published)
	assert.Equal(t, 3, m.observed)
	assert.Zero(t, m.errs)
}

func TestPublishFrameContinuesAfterError(t *testing.T) {
	c := &fakeConn{fail: map[string]bool{"buses.10.1": true}}
	m := &countingMetrics{}
	p := newPublisher(c, "", false, m)

	err := p.Publish(context.Background(), fleet.Frame{
		Statuses: []sim.StatusSnapshot{{ID: "1", RouteID: "10"}, {ID: "2", RouteID: "10"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish bus 1")
	assert.Len(t, c.msgs, 2)
	assert.Equal(t, 1, m.errs)
	assert.Equal(t, 2, m.published)
}
