package flights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripnav/internal/model"
)

type stubProvider struct {
	name    string
	byRoute map[string][]model.FlightOption // "SFO-SEA" -> offers
	err     error
	delay   time.Duration
	queries []Query
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(ctx context.Context, q Query) ([]model.FlightOption, error) {
	s.queries = append(s.queries, q)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.byRoute[q.Origin+"-"+q.Destination], nil
}

func offer(carrier, number string, price float64, ret bool) model.FlightOption {
	dep := time.Date(2026, 10, 5, 8, 0, 0, 0, time.UTC)
	o := model.FlightOption{
		Price: price,
		Outbound: model.FlightLeg{
			Origin: "SFO", Destination: "SEA",
			Carrier: carrier, FlightNumber: number,
			DepartAt: dep, ArriveAt: dep.Add(2 * time.Hour), DurationMin: 120,
		},
	}
	if ret {
		back := dep.Add(72 * time.Hour)
		o.Return = &model.FlightLeg{
			Origin: "SEA", Destination: "SFO",
			Carrier: carrier, FlightNumber: number + "R",
			DepartAt: back, ArriveAt: back.Add(2 * time.Hour), DurationMin: 120,
		}
		o.RoundTrip = true
	}
	return o
}

func airports(codes ...string) []model.AirportCandidate {
	out := make([]model.AirportCandidate, len(codes))
	for i, c := range codes {
		out[i] = model.AirportCandidate{Code: c}
	}
	return out
}

var departure = time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)

func TestSearchPrimaryPair(t *testing.T) {
	p := &stubProvider{name: "fixture", byRoute: map[string][]model.FlightOption{
		"SFO-SEA": {offer("AS", "311", 189, false)},
	}}
	o := NewOrchestrator([]Provider{p}, time.Second)

	res := o.Search(context.Background(), airports("SFO", "SJC"), airports("SEA", "PDX"), departure, nil)
	require.True(t, res.Success)
	require.Len(t, res.Options, 1)
	assert.Equal(t, "SFO", res.Origin)
	assert.Equal(t, "SEA", res.Destination)
	assert.Equal(t, "fixture", res.Options[0].Provider)
	assert.NotEmpty(t, res.Options[0].Key)
	// primary rung matched, no substitutions queried
	assert.Len(t, p.queries, 1)
}

func TestSearchFallbackLadder(t *testing.T) {
	// primary pair and second destination empty; second origin matches
	p := &stubProvider{name: "fixture", byRoute: map[string][]model.FlightOption{
		"SJC-SEA": {offer("DL", "789", 412, false)},
	}}
	o := NewOrchestrator([]Provider{p}, time.Second)

	res := o.Search(context.Background(), airports("SFO", "SJC"), airports("SEA", "PDX"), departure, nil)
	require.True(t, res.Success)
	assert.Equal(t, "SJC", res.Origin)
	assert.Equal(t, "SEA", res.Destination)
	// three rungs walked in order: SFO-SEA, SFO-PDX, SJC-SEA
	require.Len(t, p.queries, 3)
	assert.Equal(t, "SFO", p.queries[0].Origin)
	assert.Equal(t, "SEA", p.queries[0].Destination)
	assert.Equal(t, "PDX", p.queries[1].Destination)
	assert.Equal(t, "SJC", p.queries[2].Origin)
}

func TestSearchLadderIsBounded(t *testing.T) {
	p := &stubProvider{name: "fixture"}
	o := NewOrchestrator([]Provider{p}, time.Second)

	res := o.Search(context.Background(), airports("A", "B", "C", "D"), airports("X", "Y", "Z"), departure, nil)
	assert.False(t, res.Success)
	assert.Equal(t, NoItinerariesReason, res.Reason)
	// never more than three rungs regardless of candidate count
	assert.Len(t, p.queries, 3)
}

func TestSearchSingleCandidates(t *testing.T) {
	p := &stubProvider{name: "fixture"}
	o := NewOrchestrator([]Provider{p}, time.Second)

	res := o.Search(context.Background(), airports("SFO"), airports("SEA"), departure, nil)
	assert.False(t, res.Success)
	assert.Len(t, p.queries, 1)

	res = o.Search(context.Background(), nil, airports("SEA"), departure, nil)
	assert.False(t, res.Success)
	assert.Equal(t, NoItinerariesReason, res.Reason)
}

func TestSearchProviderPriorityOrder(t *testing.T) {
	first := &stubProvider{name: "amadeus", byRoute: map[string][]model.FlightOption{
		"SFO-SEA": {offer("UA", "1584", 245.50, false)},
	}}
	second := &stubProvider{name: "fixture", byRoute: map[string][]model.FlightOption{
		"SFO-SEA": {offer("AS", "311", 189, false)},
	}}
	o := NewOrchestrator([]Provider{first, second}, time.Second)

	res := o.Search(context.Background(), airports("SFO"), airports("SEA"), departure, nil)
	require.Len(t, res.Options, 2)
	assert.Equal(t, "amadeus", res.Options[0].Provider)
	assert.Equal(t, "fixture", res.Options[1].Provider)
}

func TestSearchProviderFailureIsolated(t *testing.T) {
	broken := &stubProvider{name: "amadeus", err: errors.New("upstream 500")}
	ok := &stubProvider{name: "fixture", byRoute: map[string][]model.FlightOption{
		"SFO-SEA": {offer("AS", "311", 189, false)},
	}}
	o := NewOrchestrator([]Provider{broken, ok}, time.Second)

	res := o.Search(context.Background(), airports("SFO"), airports("SEA"), departure, nil)
	require.True(t, res.Success)
	require.Len(t, res.Options, 1)
	assert.Equal(t, "fixture", res.Options[0].Provider)
}

func TestSearchProviderTimeout(t *testing.T) {
	slow := &stubProvider{name: "amadeus", delay: 200 * time.Millisecond, byRoute: map[string][]model.FlightOption{
		"SFO-SEA": {offer("UA", "1584", 245.50, false)},
	}}
	fast := &stubProvider{name: "fixture", byRoute: map[string][]model.FlightOption{
		"SFO-SEA": {offer("AS", "311", 189, false)},
	}}
	o := NewOrchestrator([]Provider{slow, fast}, 20*time.Millisecond)

	res := o.Search(context.Background(), airports("SFO"), airports("SEA"), departure, nil)
	require.True(t, res.Success)
	require.Len(t, res.Options, 1)
	assert.Equal(t, "fixture", res.Options[0].Provider)
}

func TestSearchRoundTripFiltersOneWay(t *testing.T) {
	p := &stubProvider{name: "fixture", byRoute: map[string][]model.FlightOption{
		"SFO-SEA": {offer("AS", "311", 189, false), offer("UA", "1584", 245.50, true)},
	}}
	o := NewOrchestrator([]Provider{p}, time.Second)
	ret := departure.Add(96 * time.Hour)

	res := o.Search(context.Background(), airports("SFO"), airports("SEA"), departure, &ret)
	require.True(t, res.Success)
	require.Len(t, res.Options, 1)
	assert.True(t, res.Options[0].RoundTrip)
	assert.NotNil(t, res.Options[0].Return)
}

func TestDedup(t *testing.T) {
	a := offer("AS", "311", 189, false)
	b := offer("AS", "311", 189, false)  // identical offer from another source
	c := offer("AS", "311", 199, false)  // same flight, different price: kept
	d := offer("UA", "1584", 189, false) // different flight: kept

	out := Dedup([]model.FlightOption{a, b, c, d})
	require.Len(t, out, 3)
	for _, opt := range out {
		assert.Equal(t, opt.OptionKey(), opt.Key)
	}
	// idempotent
	again := Dedup(out)
	assert.Equal(t, out, again)
}

func TestRateLimitedProviderWaits(t *testing.T) {
	inner := &stubProvider{name: "amadeus", byRoute: map[string][]model.FlightOption{
		"SFO-SEA": {offer("UA", "1584", 245.50, false)},
	}}
	p := NewRateLimited(inner, 100, 1)
	assert.Equal(t, "amadeus", p.Name())

	q := Query{Origin: "SFO", Destination: "SEA", DepartureDate: departure}
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := p.Search(context.Background(), q)
		require.NoError(t, err)
	}
	// burst of 1 at 100 rps: two of the three calls wait ~10ms each
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Search(ctx, q)
	assert.Error(t, err)
}
