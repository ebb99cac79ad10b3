package geo

import (
	"context"
	"math"

	"tripnav/internal/model"
)

// Leg is the travel estimate between two coordinates.
type Leg struct {
	DistanceKm  float64
	DurationMin float64
}

// Oracle answers point-to-point distance/duration queries. Implementations
// wrap external routing providers; lookups are read-only and safe to issue
// concurrently.
type Oracle interface {
	Distance(ctx context.Context, a, b model.GeoPoint) (Leg, error)
}

// Haversine is the provider-free Oracle: great-circle distance at a fixed
// average driving speed. Used when no routing provider is configured and in
// tests.
type Haversine struct {
	SpeedKph float64
}

func (h Haversine) Distance(_ context.Context, a, b model.GeoPoint) (Leg, error) {
	km := HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
	speed := h.SpeedKph
	if speed <= 0 {
		speed = 80
	}
	return Leg{DistanceKm: km, DurationMin: km / speed * 60}, nil
}

// HaversineKm returns the great-circle distance in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
