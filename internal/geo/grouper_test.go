package geo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/FACorreiaa/person-registry/internal/types"
)

func TestRound(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		precision int
		want      float64
	}{
		{"below half", 10.004, 2, 10.0},
		{"positive half goes up", 2.5, 0, 3.0},
		{"negative half goes toward zero", -2.5, 0, -2.0},
		{"negative latitude tie", -23.555, 2, -23.55},
		{"negative longitude tie", -46.625, 2, -46.62},
		{"small negative tie", -0.125, 2, -0.12},
		{"binary value below the half", 1.005, 2, 1.0},
		{"negative precision is a no-op", 1.23456, -1, 1.23456},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Round(tt.value, tt.precision))
		})
	}
}

func TestRoundingGrouper(t *testing.T) {
	group := RoundingGrouper(2)

	t.Run("merges points that round to the same coordinate", func(t *testing.T) {
		got := group([]types.GeoPoint{
			{Latitude: 10.001, Longitude: 20.001},
			{Latitude: 10.004, Longitude: 20.004},
			{Latitude: 11.00, Longitude: 20.00},
		})
		assert.Equal(t, []types.LocationAggregate{
			{Latitude: 10.0, Longitude: 20.0, Quantity: 2},
			{Latitude: 11.0, Longitude: 20.0, Quantity: 1},
		}, got)
	})

	t.Run("keeps first-seen order", func(t *testing.T) {
		got := group([]types.GeoPoint{
			{Latitude: -23.55, Longitude: -46.63},
			{Latitude: -22.90, Longitude: -43.17},
			{Latitude: -23.551, Longitude: -46.632},
		})
		assert.Len(t, got, 2)
		assert.Equal(t, -23.55, got[0].Latitude)
		assert.Equal(t, 2, got[0].Quantity)
		assert.Equal(t, -22.9, got[1].Latitude)
	})

	t.Run("negative ties share the upper cell", func(t *testing.T) {
		got := group([]types.GeoPoint{
			{Latitude: -23.555, Longitude: -46.625},
			{Latitude: -23.546, Longitude: -46.617},
		})
		assert.Equal(t, []types.LocationAggregate{
			{Latitude: -23.55, Longitude: -46.62, Quantity: 2},
		}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		got := group(nil)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("quantities add up to the input size", func(t *testing.T) {
		r := rand.New(rand.NewSource(7))
		points := make([]types.GeoPoint, 500)
		for i := range points {
			points[i] = types.GeoPoint{Latitude: r.Float64() * 0.1, Longitude: r.Float64() * 0.1}
		}
		total := 0
		for _, g := range group(points) {
			total += g.Quantity
		}
		assert.Equal(t, len(points), total)
	})
}

func BenchmarkRoundingGrouper(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	points := make([]types.GeoPoint, 10_000)
	for i := range points {
		points[i] = types.GeoPoint{Latitude: -90 + r.Float64()*180, Longitude: -180 + r.Float64()*360}
	}
	group := RoundingGrouper(2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = group(points)
	}
}
