package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tripnav/internal/metrics"
	"tripnav/internal/model"
)

// ParseError reports an unrecoverable or invalid suggestion. Surfaced to the
// caller for user-facing correction; never retried automatically, and the
// prior plan stays untouched.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "invalid suggestion: " + e.Reason }

// Parse ingests a loosely structured re-optimization suggestion: JSON first,
// pattern-based text extraction as a lower-confidence fallback. The extracted
// route order must be a permutation of 1..activeStops.
func Parse(raw string, activeStops int) (*model.ParsedSuggestion, error) {
	text := stripFences(raw)

	var sug *model.ParsedSuggestion
	if obj := extractObject(text); obj != "" {
		if s, ok := parseStructured(obj); ok {
			sug = s
		}
	}
	if sug == nil {
		ex, ok := extractFromText(text)
		if !ok {
			metrics.SuggestionParses.WithLabelValues("none", "error").Inc()
			return nil, &ParseError{Reason: "no route order found in suggestion"}
		}
		sug = fromTextExtraction(ex)
	}

	if err := validateOrder(sug.Order, activeStops); err != nil {
		metrics.SuggestionParses.WithLabelValues(string(sug.Source), "invalid").Inc()
		return nil, err
	}

	reconcileRoundTrip(sug, activeStops)

	metrics.SuggestionParses.WithLabelValues(string(sug.Source), "ok").Inc()
	return sug, nil
}

// suggestionDoc is the structured shape we accept. Field names follow the
// prompt contract used to request suggestions.
type suggestionDoc struct {
	RouteOrder []int    `json:"route_order"`
	Legs       []legDoc `json:"legs"`
}

type legDoc struct {
	Leg       *int       `json:"leg,omitempty"`
	From      string     `json:"from,omitempty"`
	To        string     `json:"to,omitempty"`
	Mode      string     `json:"mode"`
	RoundTrip bool       `json:"round_trip,omitempty"`
	Flight    *flightDoc `json:"flight,omitempty"`
}

type flightDoc struct {
	Carrier          string   `json:"carrier,omitempty"`
	FlightNumber     string   `json:"flight_number,omitempty"`
	Origin           string   `json:"origin,omitempty"`
	Destination      string   `json:"destination,omitempty"`
	DepartTime       string   `json:"depart_time,omitempty"`
	ArriveTime       string   `json:"arrive_time,omitempty"`
	ReturnDepartTime string   `json:"return_depart_time,omitempty"`
	ReturnArriveTime string   `json:"return_arrive_time,omitempty"`
	DurationMin      int      `json:"duration_minutes,omitempty"`
	Price            *float64 `json:"price,omitempty"`
	OutboundPrice    *float64 `json:"outbound_price,omitempty"`
	ReturnPrice      *float64 `json:"return_price,omitempty"`
}

func parseStructured(obj string) (*model.ParsedSuggestion, bool) {
	var doc suggestionDoc
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return nil, false
	}
	if len(doc.RouteOrder) == 0 {
		return nil, false
	}

	sug := &model.ParsedSuggestion{
		Source: model.SuggestionStructured,
		Order:  doc.RouteOrder,
	}
	for i, ld := range doc.Legs {
		idx := i
		if ld.Leg != nil {
			idx = *ld.Leg
		}
		leg := model.SuggestedLeg{
			Index:     idx,
			Mode:      model.ModeDrive,
			RoundTrip: ld.RoundTrip,
		}
		if strings.EqualFold(strings.TrimSpace(ld.Mode), "fly") {
			leg.Mode = model.ModeFly
		}
		if leg.Mode == model.ModeFly && ld.Flight != nil {
			opt, warns := synthesizeFlight(*ld.Flight, ld.RoundTrip)
			leg.Flight = opt
			sug.Warnings = append(sug.Warnings, warns...)
		}
		sug.Legs = append(sug.Legs, leg)
	}
	return sug, true
}

func fromTextExtraction(ex textExtraction) *model.ParsedSuggestion {
	sug := &model.ParsedSuggestion{
		Source: model.SuggestionTextFallback,
		Order:  ex.order,
	}
	for _, tl := range ex.legs {
		mode := model.ModeDrive
		if tl.fly {
			mode = model.ModeFly
		}
		sug.Legs = append(sug.Legs, model.SuggestedLeg{
			Index:     tl.index,
			Mode:      mode,
			RoundTrip: tl.roundTrip,
		})
	}
	return sug
}

// validateOrder checks the route order is a bijection onto 1..n, with a
// descriptive reason naming the first mismatch encountered.
func validateOrder(order []int, n int) error {
	if len(order) != n {
		return &ParseError{Reason: fmt.Sprintf("route order has %d indices, expected %d", len(order), n)}
	}
	seen := make(map[int]bool, n)
	for _, idx := range order {
		if idx < 1 || idx > n {
			return &ParseError{Reason: fmt.Sprintf("route order index %d out of range 1..%d", idx, n)}
		}
		if seen[idx] {
			return &ParseError{Reason: fmt.Sprintf("duplicate stop index %d in route order", idx)}
		}
		seen[idx] = true
	}
	return nil
}

// synthesizeFlight builds a FlightOption from suggestion-supplied details.
// Price derivation: explicit price wins; otherwise the sum of separately
// listed outbound/return prices; zero only when no price signal exists, and
// then the option is flagged uncertain rather than silently accepted.
func synthesizeFlight(fd flightDoc, roundTrip bool) (*model.FlightOption, []string) {
	var warns []string

	opt := &model.FlightOption{
		Provider:  "suggestion",
		RoundTrip: roundTrip,
		Outbound: model.FlightLeg{
			Origin:       strings.ToUpper(fd.Origin),
			Destination:  strings.ToUpper(fd.Destination),
			Carrier:      fd.Carrier,
			FlightNumber: fd.FlightNumber,
			DepartAt:     parseFlexibleTime(fd.DepartTime),
			ArriveAt:     parseFlexibleTime(fd.ArriveTime),
			DurationMin:  fd.DurationMin,
		},
	}
	if opt.Outbound.DurationMin == 0 && !opt.Outbound.DepartAt.IsZero() && !opt.Outbound.ArriveAt.IsZero() {
		if d := int(opt.Outbound.ArriveAt.Sub(opt.Outbound.DepartAt).Minutes()); d > 0 {
			opt.Outbound.DurationMin = d
		}
	}
	opt.Outbound.Segments = []model.FlightSubSegment{{
		FlightNumber: opt.Outbound.FlightNumber,
		From:         opt.Outbound.Origin,
		To:           opt.Outbound.Destination,
		DepartAt:     opt.Outbound.DepartAt,
		ArriveAt:     opt.Outbound.ArriveAt,
		DurationMin:  opt.Outbound.DurationMin,
	}}

	if roundTrip || fd.ReturnDepartTime != "" {
		ret := model.FlightLeg{
			Origin:       opt.Outbound.Destination,
			Destination:  opt.Outbound.Origin,
			Carrier:      fd.Carrier,
			FlightNumber: fd.FlightNumber,
			DepartAt:     parseFlexibleTime(fd.ReturnDepartTime),
			ArriveAt:     parseFlexibleTime(fd.ReturnArriveTime),
		}
		if !ret.DepartAt.IsZero() && !ret.ArriveAt.IsZero() {
			if d := int(ret.ArriveAt.Sub(ret.DepartAt).Minutes()); d > 0 {
				ret.DurationMin = d
			}
		}
		ret.Segments = []model.FlightSubSegment{{
			FlightNumber: ret.FlightNumber,
			From:         ret.Origin,
			To:           ret.Destination,
			DepartAt:     ret.DepartAt,
			ArriveAt:     ret.ArriveAt,
			DurationMin:  ret.DurationMin,
		}}
		opt.Return = &ret
		opt.RoundTrip = true
	}

	switch {
	case fd.Price != nil:
		opt.Price = *fd.Price
	case fd.OutboundPrice != nil || fd.ReturnPrice != nil:
		if fd.OutboundPrice != nil {
			opt.Price += *fd.OutboundPrice
		}
		if fd.ReturnPrice != nil {
			opt.Price += *fd.ReturnPrice
		}
	default:
		opt.PriceUncertain = true
		warns = append(warns, fmt.Sprintf("no price signal for suggested flight %s %s", fd.Carrier, fd.FlightNumber))
	}

	opt.Key = opt.OptionKey()
	return opt, warns
}

// reconcileRoundTrip suppresses a later return-to-origin leg already covered
// by the leg-0 round-trip ticket, so it is not double-counted.
func reconcileRoundTrip(sug *model.ParsedSuggestion, n int) {
	var first *model.SuggestedLeg
	for i := range sug.Legs {
		if sug.Legs[i].Index == 0 {
			first = &sug.Legs[i]
			break
		}
	}
	if first == nil || first.Mode != model.ModeFly || !first.RoundTrip {
		return
	}
	for i := range sug.Legs {
		leg := &sug.Legs[i]
		if leg.Index == 0 || leg.Suppressed {
			continue
		}
		if !returnsToOrigin(*leg, n, first) {
			continue
		}
		leg.Suppressed = true
		sug.Warnings = append(sug.Warnings, fmt.Sprintf("leg %d return is covered by the round-trip ticket on leg 0", leg.Index))
	}
}

// returnsToOrigin reports whether a leg flies back to the origin on the same
// ticket as the round-trip opener: the final leg of the tour, or one whose
// synthesized flight mirrors the opener's carrier.
func returnsToOrigin(leg model.SuggestedLeg, n int, first *model.SuggestedLeg) bool {
	if leg.Mode != model.ModeFly {
		return false
	}
	if leg.Index == n { // leg beyond the last stop is the return to origin
		if leg.Flight == nil || first.Flight == nil {
			return true
		}
		return strings.EqualFold(leg.Flight.Outbound.Carrier, first.Flight.Outbound.Carrier)
	}
	if leg.Flight != nil && first.Flight != nil {
		return strings.EqualFold(leg.Flight.Outbound.Destination, first.Flight.Outbound.Origin) &&
			strings.EqualFold(leg.Flight.Outbound.Origin, first.Flight.Outbound.Destination) &&
			strings.EqualFold(leg.Flight.Outbound.Carrier, first.Flight.Outbound.Carrier)
	}
	return false
}

var clockRe = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// parseFlexibleTime accepts the formats suggestions actually contain:
// RFC3339, date+clock, or a bare clock time.
func parseFlexibleTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if clockRe.MatchString(s) {
		parts := strings.SplitN(s, ":", 2)
		h, _ := strconv.Atoi(parts[0])
		m, _ := strconv.Atoi(parts[1])
		if h < 24 && m < 60 {
			return time.Date(0, 1, 1, h, m, 0, 0, time.UTC)
		}
	}
	return time.Time{}
}
