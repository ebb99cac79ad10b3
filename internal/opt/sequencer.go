package opt

import (
	"context"
	"fmt"
	"math"

	"tripnav/internal/geo"
	"tripnav/internal/model"
)

// ErrMissingCoordinates is returned when the origin or a stop has no resolved
// location. Reported, not retried.
type ErrMissingCoordinates struct {
	StopID string
}

func (e *ErrMissingCoordinates) Error() string {
	if e.StopID == "" {
		return "missing coordinates: trip origin"
	}
	return fmt.Sprintf("missing coordinates: stop %s", e.StopID)
}

// Sequencer orders stops with a nearest-neighbor heuristic. Intentionally
// greedy, not a TSP solver: O(n²) and responsive during interactive editing.
type Sequencer struct {
	Oracle       geo.Oracle
	TwoOptPasses int // optional improvement passes over the greedy order, 0 disables
}

// Sequence returns a permutation of the input stops starting from origin.
// Ties break by input order. Missing pairwise distances read as +Inf and are
// only chosen when nothing else remains.
func (s Sequencer) Sequence(ctx context.Context, origin model.GeoPoint, stops []model.Stop) (model.RouteOrder, error) {
	order, _, err := s.sequence(ctx, origin, stops)
	return order, err
}

// SequenceTrip runs Sequence and records run stats under the trip id.
func (s Sequencer) SequenceTrip(ctx context.Context, tripID string, origin model.GeoPoint, stops []model.Stop) (model.RouteOrder, error) {
	order, st, err := s.sequence(ctx, origin, stops)
	if err == nil {
		RecordStats(tripID, st)
	}
	return order, err
}

func (s Sequencer) sequence(ctx context.Context, origin model.GeoPoint, stops []model.Stop) (model.RouteOrder, Stats, error) {
	for _, st := range stops {
		if !st.HasCoordinates() {
			return nil, Stats{}, &ErrMissingCoordinates{StopID: st.ID}
		}
	}
	if len(stops) == 0 {
		return model.RouteOrder{}, Stats{}, nil
	}
	if len(stops) == 1 {
		return model.RouteOrder{stops[0].ID}, Stats{Stops: 1}, nil
	}

	points := make([]model.GeoPoint, len(stops))
	for i, st := range stops {
		points[i] = *st.Location
	}
	m := geo.BuildMatrix(ctx, s.Oracle, origin, points)

	order := nearestNeighbor(m, len(stops))
	greedyKm := tourDistance(m, order)
	if s.TwoOptPasses > 0 {
		order = improveTwoOpt(m, order, s.TwoOptPasses)
	}
	tourKm := tourDistance(m, order)

	missing := 0
	for i := 0; i < m.Size(); i++ {
		for j := i + 1; j < m.Size(); j++ {
			if _, ok := m.Leg(i, j); !ok {
				missing++
			}
		}
	}
	st := Stats{Stops: len(stops), TourKm: tourKm, MissingPairs: missing, TwoOptGainKm: greedyKm - tourKm}
	if math.IsInf(tourKm, 1) {
		// unreachable hops on the tour; report what we know
		st.TourKm = 0
		st.TwoOptGainKm = 0
	}

	out := make(model.RouteOrder, len(order))
	for i, idx := range order {
		out[i] = stops[idx].ID
	}
	return out, st, nil
}

// nearestNeighbor builds a tour over stop indices 0..n-1 using matrix indices
// 1..n (0 is the origin). Strict less-than keeps ties input-order stable.
func nearestNeighbor(m *geo.Matrix, n int) []int {
	visited := make([]bool, n)
	order := make([]int, 0, n)
	cur := 0 // matrix index of the tour end; 0 = origin
	for len(order) < n {
		next := -1
		best := math.Inf(1)
		for j := 0; j < n; j++ {
			if visited[j] {
				continue
			}
			d := m.Dist(cur, j+1)
			if next == -1 || d < best {
				next = j
				best = d
			}
		}
		visited[next] = true
		order = append(order, next)
		cur = next + 1
	}
	return order
}
