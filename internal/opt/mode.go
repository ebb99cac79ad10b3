package opt

import "tripnav/internal/model"

// Thresholds decide when a leg is worth flying. Both values are configuration,
// not literals, so the policy can be tuned per deployment.
type Thresholds struct {
	FlyDistanceKm  float64
	FlyDurationMin float64
}

// DefaultThresholds matches the long-standing policy: fly when the drive
// exceeds four hours or 300 km.
func DefaultThresholds() Thresholds {
	return Thresholds{FlyDistanceKm: 300, FlyDurationMin: 240}
}

// Classify is a total function over a distance/duration pair. Callers must
// not invoke it with unresolved inputs; that is a precondition, not an error
// case here.
func (t Thresholds) Classify(distanceKm, durationMin float64) model.TravelMode {
	if durationMin > t.FlyDurationMin || distanceKm > t.FlyDistanceKm {
		return model.ModeFly
	}
	return model.ModeDrive
}
