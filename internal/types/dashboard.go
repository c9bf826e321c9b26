package types

// Stats are the dashboard counters. Each value comes from an independent
// count query, so together they form an approximate snapshot.
type Stats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"ativos"`
	Inactive int64 `json:"inativos"`
	Pending  int64 `json:"pendentes"`
	Approved int64 `json:"aprovados"`
	Rejected int64 `json:"rejeitados"`
}

// GeoPoint is a WGS 84 coordinate pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationAggregate counts approved persons at a rounded coordinate.
type LocationAggregate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Quantity  int     `json:"quantidade"`
}

// Dashboard bundles the independent dashboard sections. A section that
// failed carries its error and leaves the others untouched.
type Dashboard struct {
	Stats          *Stats              `json:"stats,omitempty"`
	StatsError     string              `json:"stats_error,omitempty"`
	Locations      []LocationAggregate `json:"locations"`
	MapError       string              `json:"map_error,omitempty"`
	Birthdays      []Person            `json:"birthdays"`
	BirthdaysError string              `json:"birthdays_error,omitempty"`
}
