package transit

// Route is an active line read from the routes table.
type Route struct {
	ID     string `json:"id"`
	Number string `json:"route_number"`
	Name   string `json:"route_name"`
}

// Stop is an ordered waypoint on a route. Coordinates and the scheduled
// arrival are optional in the source data.
type Stop struct {
	ID               string   `json:"id"`
	Order            int      `json:"stop_order"` // 1-based, unique within a route
	Name             string   `json:"stop_name"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	ScheduledArrival string   `json:"estimated_arrival_time,omitempty"` // HH:MM
}

// Coordinates returns the stop position, treating a missing component as 0.
func (s Stop) Coordinates() (lat, lon float64) {
	if s.Latitude != nil {
		lat = *s.Latitude
	}
	if s.Longitude != nil {
		lon = *s.Longitude
	}
	return lat, lon
}

func (s Stop) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Assignment binds an active bus to the route it serves.
type Assignment struct {
	BusID     string
	BusNumber string
	RouteID   string
}
