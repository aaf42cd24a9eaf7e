// Package gtfsrt renders simulator snapshots as a GTFS-Realtime
// VehiclePositions feed.
package gtfsrt

import (
	"math"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"bus-simulator/internal/sim"
	"bus-simulator/internal/transit"
)

const Version = "2.0"

// BuildFeed returns a full-dataset feed with one vehicle entity per
// snapshot. label maps a bus id to its public fleet number and may be nil.
func BuildFeed(statuses []sim.StatusSnapshot, now time.Time, label func(busID string) string) *gtfs.FeedMessage {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(Version),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(statuses)),
	}
	for _, st := range statuses {
		feed.Entity = append(feed.Entity, &gtfs.FeedEntity{
			Id:      proto.String(st.ID),
			Vehicle: vehiclePosition(st, now, label),
		})
	}
	return feed
}

func vehiclePosition(st sim.StatusSnapshot, now time.Time, label func(string) string) *gtfs.VehiclePosition {
	name := st.ID
	if label != nil {
		name = label(st.ID)
	}
	ts := now
	if !st.LastUpdate.IsZero() {
		ts = st.LastUpdate
	}

	vp := &gtfs.VehiclePosition{
		Trip: &gtfs.TripDescriptor{
			RouteId:     proto.String(st.RouteID),
			DirectionId: proto.Uint32(directionID(st.Direction)),
		},
		Vehicle: &gtfs.VehicleDescriptor{
			Id:    proto.String(st.ID),
			Label: proto.String(name),
		},
		CurrentStatus:   stopStatus(st.Status).Enum(),
		OccupancyStatus: occupancy(st.OccupancyLevel).Enum(),
		Timestamp:       proto.Uint64(uint64(ts.Unix())),
	}

	if stop := reportedStop(st); stop != nil {
		vp.StopId = proto.String(stop.ID)
		if stop.Order > 0 {
			vp.CurrentStopSequence = proto.Uint32(uint32(stop.Order))
		}
	}

	if lat, lon, bearing, ok := Interpolate(st); ok {
		vp.Position = &gtfs.Position{
			Latitude:  proto.Float32(float32(lat)),
			Longitude: proto.Float32(float32(lon)),
			Bearing:   proto.Float32(float32(bearing)),
			Speed:     proto.Float32(float32(float64(st.Speed) / 3.6)),
		}
	}
	return vp
}

// reportedStop is the stop the vehicle status refers to: the current stop
// while dwelling, otherwise the one ahead.
func reportedStop(st sim.StatusSnapshot) *transit.Stop {
	if st.Status == sim.StatusStopped || st.NextStop == nil {
		return st.CurrentStop
	}
	return st.NextStop
}

func directionID(d int) uint32 {
	if d == sim.Backward {
		return 1
	}
	return 0
}

func stopStatus(s sim.Status) gtfs.VehiclePosition_VehicleStopStatus {
	switch s {
	case sim.StatusStopped:
		return gtfs.VehiclePosition_STOPPED_AT
	case sim.StatusArriving:
		return gtfs.VehiclePosition_INCOMING_AT
	}
	return gtfs.VehiclePosition_IN_TRANSIT_TO
}

func occupancy(level string) gtfs.VehiclePosition_OccupancyStatus {
	switch level {
	case sim.OccupancyLow:
		return gtfs.VehiclePosition_MANY_SEATS_AVAILABLE
	case sim.OccupancyMedium:
		return gtfs.VehiclePosition_FEW_SEATS_AVAILABLE
	case sim.OccupancyHigh:
		return gtfs.VehiclePosition_STANDING_ROOM_ONLY
	case sim.OccupancyFull:
		return gtfs.VehiclePosition_FULL
	}
	return gtfs.VehiclePosition_EMPTY
}

// Interpolate places the bus on the straight line between its current and
// next stop by progress. ok is false when the current stop has no
// coordinates. Without a usable next stop the bus sits on the current one.
func Interpolate(st sim.StatusSnapshot) (lat, lon, bearing float64, ok bool) {
	if st.CurrentStop == nil || !st.CurrentStop.HasCoordinates() {
		return 0, 0, 0, false
	}
	lat, lon = st.CurrentStop.Coordinates()
	if st.NextStop == nil || !st.NextStop.HasCoordinates() {
		return lat, lon, 0, true
	}
	nlat, nlon := st.NextStop.Coordinates()
	bearing = bearingDeg(lat, lon, nlat, nlon)
	if st.Status == sim.StatusStopped {
		return lat, lon, bearing, true
	}
	frac := math.Max(0, math.Min(1, float64(st.Progress)/100))
	return lat + (nlat-lat)*frac, lon + (nlon-lon)*frac, bearing, true
}

func bearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	y := math.Sin((lon2-lon1)*math.Pi/180.0) * math.Cos(lat2*math.Pi/180.0)
	x := math.Cos(lat1*math.Pi/180.0)*math.Sin(lat2*math.Pi/180.0) - math.Sin(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*math.Cos((lon2-lon1)*math.Pi/180.0)
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}
