package geo

import (
	"context"
	"math"
	"sync"

	"tripnav/internal/model"
)

// Matrix holds pairwise travel estimates for the trip origin (index 0) and n
// stops (indices 1..n). Missing entries read as +Inf so a partial distance
// graph still yields an order.
type Matrix struct {
	n    int
	legs [][]Leg
	ok   [][]bool
}

// Dist returns the distance in km between points i and j, or +Inf when the
// lookup failed.
func (m *Matrix) Dist(i, j int) float64 {
	if i == j {
		return 0
	}
	if !m.ok[i][j] {
		return math.Inf(1)
	}
	return m.legs[i][j].DistanceKm
}

// Leg returns the full estimate and whether it is known.
func (m *Matrix) Leg(i, j int) (Leg, bool) {
	if i == j {
		return Leg{}, true
	}
	return m.legs[i][j], m.ok[i][j]
}

// Size returns the number of points including the origin.
func (m *Matrix) Size() int { return m.n }

// BuildMatrix issues the n + C(n,2) oracle calls concurrently. Individual
// failures leave holes rather than failing the build.
func BuildMatrix(ctx context.Context, oracle Oracle, origin model.GeoPoint, points []model.GeoPoint) *Matrix {
	n := len(points) + 1
	all := make([]model.GeoPoint, n)
	all[0] = origin
	copy(all[1:], points)

	m := &Matrix{n: n, legs: make([][]Leg, n), ok: make([][]bool, n)}
	for i := range m.legs {
		m.legs[i] = make([]Leg, n)
		m.ok[i] = make([]bool, n)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				leg, err := oracle.Distance(ctx, all[i], all[j])
				if err != nil {
					return
				}
				mu.Lock()
				m.legs[i][j], m.ok[i][j] = leg, true
				m.legs[j][i], m.ok[j][i] = leg, true
				mu.Unlock()
			}(i, j)
		}
	}
	wg.Wait()
	return m
}
