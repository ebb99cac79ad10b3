package opt

import (
	"context"
	"errors"
	"math"
	"testing"

	"tripnav/internal/geo"
	"tripnav/internal/model"
)

// lineOracle places everything on a line and uses |x1-x2| as distance. Keeps
// expected tours easy to reason about.
type lineOracle struct{}

func (lineOracle) Distance(_ context.Context, a, b model.GeoPoint) (geo.Leg, error) {
	km := math.Abs(a.Lng - b.Lng)
	return geo.Leg{DistanceKm: km, DurationMin: km}, nil
}

// holeOracle fails every lookup touching the given longitude.
type holeOracle struct{ badLng float64 }

func (o holeOracle) Distance(_ context.Context, a, b model.GeoPoint) (geo.Leg, error) {
	if a.Lng == o.badLng || b.Lng == o.badLng {
		return geo.Leg{}, errors.New("no route")
	}
	km := math.Abs(a.Lng - b.Lng)
	return geo.Leg{DistanceKm: km}, nil
}

func pt(lng float64) *model.GeoPoint { return &model.GeoPoint{Lat: 0, Lng: lng} }

func stops(lngs ...float64) []model.Stop {
	out := make([]model.Stop, len(lngs))
	for i, l := range lngs {
		out[i] = model.Stop{ID: string(rune('a' + i)), Location: pt(l)}
	}
	return out
}

func TestSequenceNearestNeighborOrder(t *testing.T) {
	s := Sequencer{Oracle: lineOracle{}}
	// origin at 0; stops at 5, 1, 3 should come out 1, 3, 5
	got, err := s.Sequence(context.Background(), model.GeoPoint{Lng: 0}, stops(5, 1, 3))
	if err != nil {
		t.Fatal(err)
	}
	want := model.RouteOrder{"b", "c", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSequenceTieBreaksByInputOrder(t *testing.T) {
	s := Sequencer{Oracle: lineOracle{}}
	// two stops at the same point; earlier one wins the tie
	got, err := s.Sequence(context.Background(), model.GeoPoint{Lng: 0}, stops(2, 2, 4))
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("order = %v", got)
	}
}

func TestSequenceIsPermutation(t *testing.T) {
	s := Sequencer{Oracle: lineOracle{}, TwoOptPasses: 3}
	in := stops(9, 2, 7, 4, 1, 8, 3)
	got, err := s.Sequence(context.Background(), model.GeoPoint{Lng: 0}, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(in) {
		t.Fatalf("len = %d", len(got))
	}
	seen := map[string]bool{}
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate id %s in %v", id, got)
		}
		seen[id] = true
	}
	for _, st := range in {
		if !seen[st.ID] {
			t.Fatalf("missing id %s in %v", st.ID, got)
		}
	}
}

func TestSequenceMissingCoordinates(t *testing.T) {
	s := Sequencer{Oracle: lineOracle{}}
	in := []model.Stop{{ID: "a", Location: pt(1)}, {ID: "b"}}
	_, err := s.Sequence(context.Background(), model.GeoPoint{}, in)
	var mc *ErrMissingCoordinates
	if !errors.As(err, &mc) {
		t.Fatalf("err = %v", err)
	}
	if mc.StopID != "b" {
		t.Fatalf("stop = %q", mc.StopID)
	}
}

func TestSequenceUnreachableStopGoesLast(t *testing.T) {
	s := Sequencer{Oracle: holeOracle{badLng: 100}}
	got, err := s.Sequence(context.Background(), model.GeoPoint{Lng: 0}, stops(100, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	// distances to stop "a" are all unknown, so it is only picked when
	// nothing else remains
	if got[len(got)-1] != "a" {
		t.Fatalf("order = %v", got)
	}
}

func TestSequenceEmptyAndSingle(t *testing.T) {
	s := Sequencer{Oracle: lineOracle{}}
	got, err := s.Sequence(context.Background(), model.GeoPoint{}, nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = s.Sequence(context.Background(), model.GeoPoint{}, stops(3))
	if err != nil || len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestTwoOptImprovesGreedyTour(t *testing.T) {
	// greedy from the origin can zig-zag; 2-opt must never make it longer
	in := stops(10, 1, 9, 2, 8, 3)
	origin := model.GeoPoint{Lng: 0}
	ctx := context.Background()

	greedy := Sequencer{Oracle: lineOracle{}}
	base, err := greedy.Sequence(ctx, origin, in)
	if err != nil {
		t.Fatal(err)
	}
	improved := Sequencer{Oracle: lineOracle{}, TwoOptPasses: 5}
	opt, err := improved.Sequence(ctx, origin, in)
	if err != nil {
		t.Fatal(err)
	}
	if lineTour(in, base) < lineTour(in, opt) {
		t.Fatalf("2-opt made the tour longer: %v vs %v", base, opt)
	}
}

func lineTour(in []model.Stop, order model.RouteOrder) float64 {
	byID := map[string]float64{}
	for _, st := range in {
		byID[st.ID] = st.Location.Lng
	}
	total, prev := 0.0, 0.0
	for _, id := range order {
		total += math.Abs(byID[id] - prev)
		prev = byID[id]
	}
	return total
}

func TestSequenceTripRecordsStats(t *testing.T) {
	s := Sequencer{Oracle: lineOracle{}, TwoOptPasses: 2}
	_, err := s.SequenceTrip(context.Background(), "trip-9", model.GeoPoint{Lng: 0}, stops(1, 2, 3))
	if err != nil {
		t.Fatal(err)
	}
	st, ok := GetStats("trip-9")
	if !ok {
		t.Fatal("no stats recorded")
	}
	if st.Stops != 3 {
		t.Fatalf("stops = %d", st.Stops)
	}
	if st.TourKm != 3 {
		t.Fatalf("tourKm = %v", st.TourKm)
	}
}
