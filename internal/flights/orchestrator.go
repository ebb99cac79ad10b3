package flights

import (
	"context"
	"time"

	"tripnav/internal/metrics"
	"tripnav/internal/model"
)

// Orchestrator fans one search out over an ordered provider list and walks a
// bounded airport-substitution ladder when the primary pair comes up empty.
type Orchestrator struct {
	providers []Provider // priority order, enabled only
	timeout   time.Duration
}

// NoItinerariesReason is the user-facing reason carried when every provider
// and every substitution yields nothing.
const NoItinerariesReason = "no itineraries for requested dates"

func NewOrchestrator(providers []Provider, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Orchestrator{providers: providers, timeout: timeout}
}

// airportPair is one rung of the fallback ladder.
type airportPair struct {
	origin model.AirportCandidate
	dest   model.AirportCandidate
}

// ladder builds the fixed substitution order: primary pair, then second
// destination candidate, then second origin candidate. At most one side is
// substituted per rung, so retries stay O(1) no matter how many candidates
// exist beyond the first two.
func ladder(origins, dests []model.AirportCandidate) []airportPair {
	if len(origins) == 0 || len(dests) == 0 {
		return nil
	}
	rungs := []airportPair{{origin: origins[0], dest: dests[0]}}
	if len(dests) > 1 {
		rungs = append(rungs, airportPair{origin: origins[0], dest: dests[1]})
	}
	if len(origins) > 1 {
		rungs = append(rungs, airportPair{origin: origins[1], dest: dests[0]})
	}
	return rungs
}

// Search tries each ladder rung in strict order, stopping at the first rung
// that yields at least one usable option. Provider queries inside one rung
// run concurrently; results keep provider priority order.
func (o *Orchestrator) Search(ctx context.Context, origins, dests []model.AirportCandidate, departure time.Time, returnDate *time.Time) model.FlightSearchResult {
	rungs := ladder(origins, dests)
	if len(rungs) == 0 || len(o.providers) == 0 {
		return model.FlightSearchResult{Success: false, Options: []model.FlightOption{}, Reason: NoItinerariesReason}
	}

	for depth, rung := range rungs {
		q := Query{
			Origin:        rung.origin.Code,
			Destination:   rung.dest.Code,
			DepartureDate: departure,
			ReturnDate:    returnDate,
		}
		options := o.attempt(ctx, q)
		if len(options) > 0 {
			metrics.FlightFallbackDepth.Observe(float64(depth))
			metrics.FlightSearches.WithLabelValues("success").Inc()
			return model.FlightSearchResult{
				Success:     true,
				Options:     options,
				Origin:      rung.origin.Code,
				Destination: rung.dest.Code,
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	metrics.FlightFallbackDepth.Observe(float64(len(rungs)))
	metrics.FlightSearches.WithLabelValues("empty").Inc()
	return model.FlightSearchResult{Success: false, Options: []model.FlightOption{}, Reason: NoItinerariesReason}
}

// attempt queries every provider for one airport pair. A provider that errors
// or times out is skipped without aborting its siblings.
func (o *Orchestrator) attempt(ctx context.Context, q Query) []model.FlightOption {
	type result struct {
		options []model.FlightOption
		err     error
	}
	results := make([]result, len(o.providers))
	done := make(chan int, len(o.providers))

	for i, p := range o.providers {
		go func(i int, p Provider) {
			pctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()
			start := time.Now()
			opts, err := p.Search(pctx, q)
			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.ProviderQueries.WithLabelValues(p.Name(), status).Inc()
			metrics.ProviderLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
			results[i] = result{options: opts, err: err}
			done <- i
		}(i, p)
	}
	for range o.providers {
		<-done
	}

	// concatenate in provider priority order so dedup keeps the first seen
	merged := make([]model.FlightOption, 0)
	for i, p := range o.providers {
		if results[i].err != nil {
			continue
		}
		for _, opt := range results[i].options {
			opt.Provider = p.Name()
			merged = append(merged, opt)
		}
	}

	if q.RoundTrip() {
		merged = filterRoundTrip(merged)
	}
	return Dedup(merged)
}

// filterRoundTrip discards offers lacking a return leg when the query implies
// a round trip.
func filterRoundTrip(options []model.FlightOption) []model.FlightOption {
	kept := options[:0]
	for _, opt := range options {
		if opt.Return == nil {
			continue
		}
		kept = append(kept, opt)
	}
	return kept
}

// Dedup collapses offers whose outbound key, return key, and price all match,
// keeping the first seen and preserving input order otherwise. Idempotent.
func Dedup(options []model.FlightOption) []model.FlightOption {
	seen := make(map[string]struct{}, len(options))
	out := make([]model.FlightOption, 0, len(options))
	for _, opt := range options {
		key := opt.OptionKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		opt.Key = key
		out = append(out, opt)
	}
	return out
}
