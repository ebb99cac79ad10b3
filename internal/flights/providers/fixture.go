package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tripnav/internal/flights"
	"tripnav/internal/model"
)

// Fixture serves canned offers from a JSON file. Used for local development
// and as the provider of last resort when no upstream credentials exist; it
// honors the queried airport pair so the fallback ladder behaves as in
// production.
type Fixture struct {
	name string
	path string
}

func NewFixture(name, path string) *Fixture {
	return &Fixture{name: name, path: path}
}

func (f *Fixture) Name() string { return f.name }

type fixtureLeg struct {
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`
	Carrier      string `json:"carrier"`
	FlightNumber string `json:"flight_number"`
	DepartTime   string `json:"depart_time"`
	ArriveTime   string `json:"arrive_time"`
	DurationMin  int    `json:"duration_minutes"`
	Segments     []struct {
		FlightNumber string `json:"flight_number"`
		From         string `json:"from"`
		To           string `json:"to"`
		DepartTime   string `json:"depart_time"`
		ArriveTime   string `json:"arrive_time"`
		DurationMin  int    `json:"duration_minutes"`
	} `json:"segments"`
}

type fixtureFile struct {
	Offers []struct {
		Price     float64     `json:"price"`
		Outbound  fixtureLeg  `json:"outbound"`
		Return    *fixtureLeg `json:"return"`
		RoundTrip bool        `json:"round_trip"`
	} `json:"offers"`
}

func (f *Fixture) Search(ctx context.Context, q flights.Query) ([]model.FlightOption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Clean(f.path))
	if err != nil {
		return nil, fmt.Errorf("%s read fixture: %w", f.name, err)
	}
	var file fixtureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%s decode fixture: %w", f.name, err)
	}

	out := make([]model.FlightOption, 0, len(file.Offers))
	for _, offer := range file.Offers {
		if !strings.EqualFold(offer.Outbound.Origin, q.Origin) || !strings.EqualFold(offer.Outbound.Destination, q.Destination) {
			continue
		}
		outbound, err := mapFixtureLeg(offer.Outbound)
		if err != nil {
			return nil, fmt.Errorf("%s outbound: %w", f.name, err)
		}
		opt := model.FlightOption{
			Price:     offer.Price,
			Outbound:  outbound,
			Provider:  f.name,
			RoundTrip: offer.RoundTrip,
		}
		if offer.Return != nil {
			ret, err := mapFixtureLeg(*offer.Return)
			if err != nil {
				return nil, fmt.Errorf("%s return: %w", f.name, err)
			}
			opt.Return = &ret
			opt.RoundTrip = true
		}
		out = append(out, opt)
	}
	return out, nil
}

func mapFixtureLeg(l fixtureLeg) (model.FlightLeg, error) {
	depart, err := time.Parse(time.RFC3339, l.DepartTime)
	if err != nil {
		return model.FlightLeg{}, fmt.Errorf("depart time: %w", err)
	}
	arrive, err := time.Parse(time.RFC3339, l.ArriveTime)
	if err != nil {
		return model.FlightLeg{}, fmt.Errorf("arrive time: %w", err)
	}
	leg := model.FlightLeg{
		Origin:       strings.ToUpper(l.Origin),
		Destination:  strings.ToUpper(l.Destination),
		Carrier:      l.Carrier,
		FlightNumber: l.FlightNumber,
		DepartAt:     depart,
		ArriveAt:     arrive,
		DurationMin:  durationMinutes(depart, arrive, l.DurationMin),
	}
	for _, s := range l.Segments {
		sd, err := time.Parse(time.RFC3339, s.DepartTime)
		if err != nil {
			return model.FlightLeg{}, fmt.Errorf("segment depart time: %w", err)
		}
		sa, err := time.Parse(time.RFC3339, s.ArriveTime)
		if err != nil {
			return model.FlightLeg{}, fmt.Errorf("segment arrive time: %w", err)
		}
		leg.Segments = append(leg.Segments, model.FlightSubSegment{
			FlightNumber: s.FlightNumber,
			From:         strings.ToUpper(s.From),
			To:           strings.ToUpper(s.To),
			DepartAt:     sd,
			ArriveAt:     sa,
			DurationMin:  durationMinutes(sd, sa, s.DurationMin),
		})
	}
	if len(leg.Segments) == 0 {
		leg.Segments = []model.FlightSubSegment{{
			FlightNumber: leg.FlightNumber,
			From:         leg.Origin,
			To:           leg.Destination,
			DepartAt:     leg.DepartAt,
			ArriveAt:     leg.ArriveAt,
			DurationMin:  leg.DurationMin,
		}}
	}
	return leg, nil
}

func durationMinutes(depart, arrive time.Time, fallback int) int {
	if depart.IsZero() || arrive.IsZero() {
		return fallback
	}
	diff := int(arrive.Sub(depart).Minutes())
	if diff <= 0 {
		return fallback
	}
	return diff
}
