package model

import (
    "fmt"
    "strings"
    "time"
)

// Core domain types shared across the planning engine.

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

// Stop is a customer location the trip must visit. A stop only takes part in
// sequencing once Location is set.
type Stop struct {
    ID        string             `json:"id"`
    Address   string             `json:"address,omitempty"`
    Location  *GeoPoint          `json:"location,omitempty"`
    City      string             `json:"city,omitempty"`
    Country   string             `json:"country,omitempty"`
    WorkHours float64            `json:"workHours,omitempty"`
    Airports  []AirportCandidate `json:"airports,omitempty"` // ranked, closest first
}

// HasCoordinates reports whether the stop can be sequenced.
func (s Stop) HasCoordinates() bool { return s.Location != nil }

// AirportCandidate is a ranked nearby airport usable as a leg endpoint.
type AirportCandidate struct {
    Code       string   `json:"code"`
    Name       string   `json:"name,omitempty"`
    Location   GeoPoint `json:"location"`
    DistanceKm float64  `json:"distanceKm,omitempty"`
}

type TravelMode string

const (
    ModeDrive TravelMode = "drive"
    ModeFly   TravelMode = "fly"
)

// FlightSource records who selected a flight on a segment. Auto-selected
// flights may be replaced by a fresher search; user and suggestion picks
// are never silently overwritten.
type FlightSource string

const (
    FlightSourceAuto       FlightSource = "auto"
    FlightSourceUser       FlightSource = "user"
    FlightSourceSuggestion FlightSource = "suggestion"
)

// Segment is one directed hop between consecutive points of the trip.
// Segments are derived state: they are recomputed whenever stop order,
// coordinates, or the trip date change. Index 0 is always origin→first stop.
type Segment struct {
    Index        int           `json:"index"`
    FromStopID   string        `json:"fromStopId,omitempty"` // empty = trip origin
    ToStopID     string        `json:"toStopId,omitempty"`   // empty = trip origin
    Mode         TravelMode    `json:"mode"`
    DistanceKm   float64       `json:"distanceKm,omitempty"`
    DurationMin  int           `json:"durationMin,omitempty"`
    Flight       *FlightOption `json:"flight,omitempty"`
    FlightSource FlightSource  `json:"flightSource,omitempty"`
    SearchError  string        `json:"searchError,omitempty"` // set when no itineraries were found
    Warning      string        `json:"warning,omitempty"`
}

// FlightSubSegment is one physical flight inside a leg (connections produce
// more than one).
type FlightSubSegment struct {
    FlightNumber string    `json:"flightNumber"`
    From         string    `json:"from"`
    To           string    `json:"to"`
    DepartAt     time.Time `json:"departAt"`
    ArriveAt     time.Time `json:"arriveAt"`
    DurationMin  int       `json:"durationMin,omitempty"`
}

// FlightLeg is one direction of an itinerary (outbound or return).
type FlightLeg struct {
    Origin       string             `json:"origin"`
    Destination  string             `json:"destination"`
    Carrier      string             `json:"carrier"`
    FlightNumber string             `json:"flightNumber"`
    DepartAt     time.Time          `json:"departAt"`
    ArriveAt     time.Time          `json:"arriveAt"`
    DurationMin  int                `json:"durationMin"`
    Segments     []FlightSubSegment `json:"segments,omitempty"` // ordered, 1+
}

// Key identifies a leg for deduplication purposes.
func (l FlightLeg) Key() string {
    return strings.ToLower(strings.Join([]string{
        l.Origin,
        l.Destination,
        l.Carrier,
        l.FlightNumber,
        l.DepartAt.Format(time.RFC3339),
        l.ArriveAt.Format(time.RFC3339),
    }, "|"))
}

// FlightOption is one priced itinerary produced by a provider.
type FlightOption struct {
    Key            string     `json:"key"` // derived, see OptionKey
    Price          float64    `json:"price"`
    Outbound       FlightLeg  `json:"outbound"`
    Return         *FlightLeg `json:"return,omitempty"`
    Provider       string     `json:"provider"`
    RoundTrip      bool       `json:"roundTrip"`
    PriceUncertain bool       `json:"priceUncertain,omitempty"` // no reliable price signal
}

// OptionKey derives the dedup identity: outbound key, return key (or absence),
// and price must all match for two offers to collapse.
func (f FlightOption) OptionKey() string {
    ret := "-"
    if f.Return != nil {
        ret = f.Return.Key()
    }
    return fmt.Sprintf("%s|%s|%.2f", f.Outbound.Key(), ret, f.Price)
}

// FlightSearchResult is the normalized outcome of one orchestrated search.
// Ephemeral: recomputed per call, cached only by the coordinator.
type FlightSearchResult struct {
    Success     bool           `json:"success"`
    Options     []FlightOption `json:"options"`
    Origin      string         `json:"resolvedOrigin,omitempty"`      // airport actually used
    Destination string         `json:"resolvedDestination,omitempty"` // airport actually used
    Reason      string         `json:"error,omitempty"`               // set when empty
}

// RouteOrder is a permutation of stop IDs. Producers must emit a bijection
// onto the active stop set or fail.
type RouteOrder []string

// Trip is the persisted planning unit: an origin, a stop set, and dates.
type Trip struct {
    ID         string             `json:"id"`
    Name       string             `json:"name,omitempty"`
    Origin     GeoPoint           `json:"origin"`
    OriginAddr string             `json:"originAddress,omitempty"`
    Airports   []AirportCandidate `json:"originAirports,omitempty"` // ranked, closest first
    Date       string             `json:"date"`                     // YYYY-MM-DD
    ReturnDate string             `json:"returnDate,omitempty"`
    Stops      []Stop             `json:"stops"`
    CreatedAt  time.Time          `json:"createdAt,omitempty"`
}

// StopByID returns the stop with the given id, if present.
func (t Trip) StopByID(id string) (Stop, bool) {
    for _, s := range t.Stops {
        if s.ID == id {
            return s, true
        }
    }
    return Stop{}, false
}

// TripPlan is the plan owned by the coordinator: order, derived segments, and
// per-fly-segment flight selections. Revision increases on every accepted
// mutation.
type TripPlan struct {
    TripID        string    `json:"tripId"`
    Revision      int       `json:"revision"`
    Order         RouteOrder `json:"order"`
    Segments      []Segment `json:"segments"`
    LowConfidence bool      `json:"lowConfidence,omitempty"` // plan derived from a text-fallback suggestion
    ComputedAt    time.Time `json:"computedAt"`
}

// SuggestionSource tags how a suggestion was extracted.
type SuggestionSource string

const (
    SuggestionStructured   SuggestionSource = "structured"
    SuggestionTextFallback SuggestionSource = "text"
)

// SuggestedLeg is one per-leg directive inside a parsed suggestion. Index 0 is
// origin→first stop in the suggested order.
type SuggestedLeg struct {
    Index      int           `json:"index"`
    Mode       TravelMode    `json:"mode"`
    Flight     *FlightOption `json:"flight,omitempty"`
    RoundTrip  bool          `json:"roundTrip,omitempty"`
    Suppressed bool          `json:"suppressed,omitempty"` // return covered by an earlier round-trip ticket
}

// ParsedSuggestion is a validated external re-optimization suggestion.
type ParsedSuggestion struct {
    Source   SuggestionSource `json:"source"`
    Order    []int            `json:"order"` // 1-based stop indices, a permutation of 1..n
    Legs     []SuggestedLeg   `json:"legs,omitempty"`
    Warnings []string         `json:"warnings,omitempty"`
}

// LowConfidence reports whether the suggestion came from the best-effort text
// extractor or carries pricing doubts.
func (p ParsedSuggestion) LowConfidence() bool {
    if p.Source == SuggestionTextFallback {
        return true
    }
    for _, l := range p.Legs {
        if l.Flight != nil && l.Flight.PriceUncertain {
            return true
        }
    }
    return false
}

// Subscription registers an external URL for plan event deliveries.
type Subscription struct {
    ID     string   `json:"id"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}

type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret"`
}
