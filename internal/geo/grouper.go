// Package geo aggregates coordinates for the dashboard map.
package geo

import (
	"math"

	"github.com/FACorreiaa/person-registry/internal/types"
)

// Round rounds v to precision decimals with halves going toward +Inf, on
// the binary value of v*10^precision. -23.555 becomes -23.55 and 1.005
// becomes 1.
func Round(v float64, precision int) float64 {
	if precision < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow10(precision)
	return math.Floor(v*scale+0.5) / scale
}

// RoundingGrouper returns a function that rounds each point to precision
// decimals and counts points per rounded coordinate. Groups keep the order in
// which their first point appeared.
func RoundingGrouper(precision int) func([]types.GeoPoint) []types.LocationAggregate {
	return func(points []types.GeoPoint) []types.LocationAggregate {
		out := make([]types.LocationAggregate, 0)
		index := make(map[types.GeoPoint]int, len(points))
		for _, p := range points {
			key := types.GeoPoint{Latitude: Round(p.Latitude, precision), Longitude: Round(p.Longitude, precision)}
			if i, ok := index[key]; ok {
				out[i].Quantity++
				continue
			}
			index[key] = len(out)
			out = append(out, types.LocationAggregate{Latitude: key.Latitude, Longitude: key.Longitude, Quantity: 1})
		}
		return out
	}
}
