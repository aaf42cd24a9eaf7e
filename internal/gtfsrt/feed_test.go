package gtfsrt

import (
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"bus-simulator/internal/sim"
	"bus-simulator/internal/transit"
)

func stop(id string, order int, lat, lon float64) *transit.Stop {
	return &transit.Stop{ID: id, Order: order, Name: id, Latitude: &lat, Longitude: &lon}
}

var now = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func TestInterpolateMidpoint(t *testing.T) {
	st := sim.StatusSnapshot{
		Status:      sim.StatusMoving,
		Progress:    50,
		CurrentStop: stop("a", 1, 40.0, -3.7),
		NextStop:    stop("b", 2, 40.1, -3.7),
	}
	lat, lon, bearing, ok := Interpolate(st)
	require.True(t, ok)
	assert.InDelta(t, 40.05, lat, 1e-9)
	assert.InDelta(t, -3.7, lon, 1e-9)
	assert.InDelta(t, 0, bearing, 1e-6) // due north
}

func TestInterpolateStoppedAndEdges(t *testing.T) {
	st := sim.StatusSnapshot{
		Status:      sim.StatusStopped,
		Progress:    80,
		CurrentStop: stop("a", 1, 0, 0),
		NextStop:    stop("b", 2, 0, 1),
	}
	lat, lon, bearing, ok := Interpolate(st)
	require.True(t, ok)
	assert.Zero(t, lat)
	assert.Zero(t, lon)
	assert.InDelta(t, 90, bearing, 1e-6) // due east

	st.NextStop = &transit.Stop{ID: "nocoords"}
	_, _, bearing, ok = Interpolate(st)
	assert.True(t, ok)
	assert.Zero(t, bearing)

	st.CurrentStop = &transit.Stop{ID: "nocoords"}
	_, _, _, ok = Interpolate(st)
	assert.False(t, ok)

	_, _, _, ok = Interpolate(sim.StatusSnapshot{})
	assert.False(t, ok)
}

func TestBuildFeed(t *testing.T) {
	statuses := []sim.StatusSnapshot{
		{
			ID: "1", RouteID: "10", Status: sim.StatusMoving, Speed: 36, Progress: 25,
			Direction: sim.Forward, OccupancyLevel: sim.OccupancyMedium,
			CurrentStop: stop("s1", 1, 40.0, -3.7), NextStop: stop("s2", 2, 40.1, -3.7),
			LastUpdate: now.Add(-time.Second),
		},
		{
			ID: "2", RouteID: "10", Status: sim.StatusStopped, Direction: sim.Backward,
			OccupancyLevel: sim.OccupancyFull,
			CurrentStop:    stop("s2", 2, 40.1, -3.7), NextStop: stop("s1", 1, 40.0, -3.7),
		},
		{
			ID: "3", RouteID: "20", Status: sim.StatusArriving, OccupancyLevel: sim.OccupancyLow,
			CurrentStop: &transit.Stop{ID: "x1", Order: 1}, NextStop: &transit.Stop{ID: "x2", Order: 2},
		},
	}
	labels := map[string]string{"1": "B-101"}
	feed := BuildFeed(statuses, now, func(id string) string {
		if l, ok := labels[id]; ok {
			return l
		}
		return id
	})

	assert.Equal(t, Version, feed.GetHeader().GetGtfsRealtimeVersion())
	assert.Equal(t, gtfs.FeedHeader_FULL_DATASET, feed.GetHeader().GetIncrementality())
	assert.Equal(t, uint64(now.Unix()), feed.GetHeader().GetTimestamp())
	require.Len(t, feed.GetEntity(), 3)

	moving := feed.GetEntity()[0].GetVehicle()
	assert.Equal(t, "B-101", moving.GetVehicle().GetLabel())
	assert.Equal(t, "10", moving.GetTrip().GetRouteId())
	assert.Equal(t, uint32(0), moving.GetTrip().GetDirectionId())
	assert.Equal(t, gtfs.VehiclePosition_IN_TRANSIT_TO, moving.GetCurrentStatus())
	assert.Equal(t, "s2", moving.GetStopId())
	assert.Equal(t, uint32(2), moving.GetCurrentStopSequence())
	assert.Equal(t, gtfs.VehiclePosition_FEW_SEATS_AVAILABLE, moving.GetOccupancyStatus())
	assert.InDelta(t, 10.0, moving.GetPosition().GetSpeed(), 1e-4)
	assert.InDelta(t, 40.025, moving.GetPosition().GetLatitude(), 1e-4)
	assert.Equal(t, uint64(now.Unix()-1), moving.GetTimestamp())

	stopped := feed.GetEntity()[1].GetVehicle()
	assert.Equal(t, "2", stopped.GetVehicle().GetLabel())
	assert.Equal(t, uint32(1), stopped.GetTrip().GetDirectionId())
	assert.Equal(t, gtfs.VehiclePosition_STOPPED_AT, stopped.GetCurrentStatus())
	assert.Equal(t, "s2", stopped.GetStopId())
	assert.Equal(t, gtfs.VehiclePosition_FULL, stopped.GetOccupancyStatus())
	assert.Equal(t, uint64(now.Unix()), stopped.GetTimestamp())

	arriving := feed.GetEntity()[2].GetVehicle()
	assert.Equal(t, gtfs.VehiclePosition_INCOMING_AT, arriving.GetCurrentStatus())
	assert.Equal(t, gtfs.VehiclePosition_MANY_SEATS_AVAILABLE, arriving.GetOccupancyStatus())
	assert.Nil(t, arriving.GetPosition())

	data, err := proto.Marshal(feed)
	require.NoError(t, err)
	var decoded gtfs.FeedMessage
	require.NoError(t, proto.Unmarshal(data, &decoded))
	assert.Len(t, decoded.GetEntity(), 3)
}

func TestBuildFeedEmpty(t *testing.T) {
	feed := BuildFeed(nil, now, nil)
	assert.Empty(t, feed.GetEntity())
	assert.NotNil(t, feed.GetHeader())
}
