package flights

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"tripnav/internal/model"
)

// ErrTemporary marks provider failures worth retrying on a later search.
var ErrTemporary = errors.New("temporary provider error")

// Query is one origin/destination/date request against a single provider.
type Query struct {
	Origin        string
	Destination   string
	DepartureDate time.Time
	ReturnDate    *time.Time
}

// RoundTrip reports whether the query implies a return leg.
func (q Query) RoundTrip() bool { return q.ReturnDate != nil }

// Provider is one external flight-data source. The orchestrator is
// provider-agnostic: an error or timeout is treated as zero results.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]model.FlightOption, error)
}

type rateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimited wraps a provider with a token-bucket limit so bursts of
// segment searches do not hammer an upstream API.
func NewRateLimited(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedProvider{provider: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *rateLimitedProvider) Name() string { return r.provider.Name() }

func (r *rateLimitedProvider) Search(ctx context.Context, q Query) ([]model.FlightOption, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.provider.Search(ctx, q)
}
