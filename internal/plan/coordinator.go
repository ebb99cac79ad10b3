package plan

import (
    "context"
    "fmt"
    "log"
    "sync"
    "time"

    "tripnav/internal/events"
    "tripnav/internal/geo"
    "tripnav/internal/metrics"
    "tripnav/internal/model"
    "tripnav/internal/opt"
    "tripnav/internal/store"
)

// Searcher runs one orchestrated flight search. Satisfied by
// *flights.Orchestrator.
type Searcher interface {
    Search(ctx context.Context, origins, dests []model.AirportCandidate, departure time.Time, returnDate *time.Time) model.FlightSearchResult
}

// Emitter enqueues webhook deliveries for plan events. Optional.
type Emitter interface {
    Emit(ctx context.Context, eventType string, data any)
}

// Coordinator is the single writer for one trip's plan. All mutations come
// through its methods; readers get deep-copied snapshots. Flight searches run
// in the background and apply through the same lock, tagged with the search
// key and generation they were started under so a superseded search never
// lands its result.
type Coordinator struct {
    mu   sync.Mutex
    trip model.Trip
    plan model.TripPlan

    sequencer opt.Sequencer
    modes     opt.Thresholds
    oracle    geo.Oracle
    searcher  Searcher
    store     store.Store
    broker    events.Broker
    emitter   Emitter

    longFlightWarnMin int

    gen      uint64          // incremented on every plan mutation
    inflight map[string]uint64 // search key -> generation it was started under
    wg       sync.WaitGroup
}

type Deps struct {
    Oracle            geo.Oracle
    TwoOptPasses      int
    Thresholds        opt.Thresholds
    Searcher          Searcher
    Store             store.Store
    Broker            events.Broker
    Emitter           Emitter
    LongFlightWarnMin int
}

func NewCoordinator(trip model.Trip, d Deps) *Coordinator {
    if d.LongFlightWarnMin <= 0 {
        d.LongFlightWarnMin = 600
    }
    return &Coordinator{
        trip:              trip,
        plan:              model.TripPlan{TripID: trip.ID},
        sequencer:         opt.Sequencer{Oracle: d.Oracle, TwoOptPasses: d.TwoOptPasses},
        modes:             d.Thresholds,
        oracle:            d.Oracle,
        searcher:          d.Searcher,
        store:             d.Store,
        broker:            d.Broker,
        emitter:           d.Emitter,
        longFlightWarnMin: d.LongFlightWarnMin,
        inflight:          map[string]uint64{},
    }
}

// Trip returns a snapshot of the trip definition.
func (c *Coordinator) Trip() model.Trip {
    c.mu.Lock()
    defer c.mu.Unlock()
    return copyTrip(c.trip)
}

// Plan returns a deep copy of the current plan.
func (c *Coordinator) Plan() model.TripPlan {
    c.mu.Lock()
    defer c.mu.Unlock()
    return copyPlan(c.plan)
}

// Wait blocks until background flight searches started so far have finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Restore seeds the coordinator with a previously persisted plan.
func (c *Coordinator) Restore(p model.TripPlan) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if p.TripID == c.trip.ID {
        c.plan = p
    }
}

// SetTrip replaces the trip definition and recomputes the plan. Called after
// stop edits, origin moves, or date changes.
func (c *Coordinator) SetTrip(ctx context.Context, t model.Trip) error {
    c.mu.Lock()
    // Snapshot carryover under the old dates, before the trip changes. A
    // selection keyed to the old departure date must not survive into the
    // new one.
    prev := c.carryoverLocked()
    dateChanged := t.Date != c.trip.Date || t.ReturnDate != c.trip.ReturnDate
    c.trip = t
    c.plan.Order = pruneOrder(c.plan.Order, t.Stops)
    trigger := "stops"
    if dateChanged {
        trigger = "date"
    }
    c.recomputeLocked(ctx, trigger, prev)
    reqs := c.collectSearchesLocked()
    c.mu.Unlock()
    c.launch(context.WithoutCancel(ctx), reqs)
    return nil
}

// Reorder runs the nearest-neighbor sequencer over the sequencable stops and
// rebuilds segments. Stops without coordinates keep their current position at
// the tail of the order.
func (c *Coordinator) Reorder(ctx context.Context) (model.TripPlan, error) {
    c.mu.Lock()
    defer c.mu.Unlock()

    var active []model.Stop
    for _, s := range c.trip.Stops {
        if s.HasCoordinates() {
            active = append(active, s)
        }
    }
    start := time.Now()
    order, err := c.sequencer.SequenceTrip(ctx, c.trip.ID, c.trip.Origin, active)
    metrics.SequenceDuration.Observe(time.Since(start).Seconds())
    if err != nil {
        return model.TripPlan{}, err
    }
    for _, s := range c.trip.Stops {
        if !s.HasCoordinates() {
            order = append(order, s.ID)
        }
    }
    c.plan.Order = order
    c.plan.LowConfidence = false
    c.recomputeLocked(ctx, "reorder", c.carryoverLocked())
    reqs := c.collectSearchesLocked()
    c.launch(context.WithoutCancel(ctx), reqs)
    return copyPlan(c.plan), nil
}

// SetOrder applies a manual stop order. The order must be a permutation of
// the trip's stop ids.
func (c *Coordinator) SetOrder(ctx context.Context, order model.RouteOrder) (model.TripPlan, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if err := validatePermutation(order, c.trip.Stops); err != nil {
        return model.TripPlan{}, err
    }
    c.plan.Order = order
    c.plan.LowConfidence = false
    c.recomputeLocked(ctx, "manual_order", c.carryoverLocked())
    reqs := c.collectSearchesLocked()
    c.launch(context.WithoutCancel(ctx), reqs)
    return copyPlan(c.plan), nil
}

// ApplySuggestion applies a validated external suggestion: its stop order, its
// per-leg mode directives, and any flights it carried. Suppressed return legs
// keep their mode but never trigger a search; the earlier round-trip ticket
// covers them.
func (c *Coordinator) ApplySuggestion(ctx context.Context, sug *model.ParsedSuggestion) (model.TripPlan, error) {
    c.mu.Lock()
    defer c.mu.Unlock()

    if len(sug.Order) != len(c.trip.Stops) {
        return model.TripPlan{}, fmt.Errorf("suggestion covers %d stops, trip has %d", len(sug.Order), len(c.trip.Stops))
    }
    order := make(model.RouteOrder, len(sug.Order))
    for i, idx := range sug.Order {
        if idx < 1 || idx > len(c.trip.Stops) {
            return model.TripPlan{}, fmt.Errorf("suggestion stop index %d out of range 1..%d", idx, len(c.trip.Stops))
        }
        order[i] = c.trip.Stops[idx-1].ID
    }
    c.plan.Order = order
    c.recomputeLocked(ctx, "suggestion", c.carryoverLocked())

    suppressed := map[int]bool{}
    for _, leg := range sug.Legs {
        if leg.Index < 0 || leg.Index >= len(c.plan.Segments) {
            continue
        }
        seg := &c.plan.Segments[leg.Index]
        seg.Mode = leg.Mode
        if leg.Suppressed {
            suppressed[leg.Index] = true
            seg.Flight = nil
            seg.FlightSource = ""
            seg.Warning = "return covered by round-trip fare"
            continue
        }
        if leg.Flight != nil {
            f := *leg.Flight
            seg.Flight = &f
            seg.FlightSource = model.FlightSourceSuggestion
            c.warnLongFlight(seg)
        }
    }
    c.plan.LowConfidence = sug.LowConfidence()
    c.bumpLocked(ctx, "plan.updated", map[string]any{"trigger": "suggestion"})

    var reqs []searchRequest
    for _, r := range c.collectSearchesLocked() {
        if !suppressed[r.segIndex] {
            reqs = append(reqs, r)
        } else {
            delete(c.inflight, r.key)
        }
    }
    c.launch(context.WithoutCancel(ctx), reqs)
    return copyPlan(c.plan), nil
}

// SelectFlight pins a flight option on a fly segment on behalf of the user.
func (c *Coordinator) SelectFlight(ctx context.Context, segIndex int, option model.FlightOption) (model.TripPlan, error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    if segIndex < 0 || segIndex >= len(c.plan.Segments) {
        return model.TripPlan{}, fmt.Errorf("segment %d out of range", segIndex)
    }
    seg := &c.plan.Segments[segIndex]
    if seg.Mode != model.ModeFly {
        return model.TripPlan{}, fmt.Errorf("segment %d is not a flying segment", segIndex)
    }
    option.Key = option.OptionKey()
    seg.Flight = &option
    seg.FlightSource = model.FlightSourceUser
    seg.SearchError = ""
    c.warnLongFlight(seg)
    c.bumpLocked(ctx, "flight.selected", map[string]any{
        "segment": segIndex,
        "key":     option.Key,
        "source":  string(model.FlightSourceUser),
    })
    return copyPlan(c.plan), nil
}

// carryoverLocked snapshots the current segments keyed by their search
// inputs. Callers that change the trip dates must snapshot before the change
// so the old keys no longer match after recompute.
func (c *Coordinator) carryoverLocked() map[string]model.Segment {
    prev := map[string]model.Segment{}
    for _, seg := range c.plan.Segments {
        prev[c.segKey(seg.FromStopID, seg.ToStopID)] = seg
    }
    return prev
}

// recomputeLocked rebuilds segments from the current order, keeping flight
// selections from prev whose endpoints and date did not change.
func (c *Coordinator) recomputeLocked(ctx context.Context, trigger string, prev map[string]model.Segment) {
    metrics.PlanRecomputes.WithLabelValues(trigger).Inc()

    hops := buildHops(c.plan.Order)
    segs := make([]model.Segment, 0, len(hops))
    for i, h := range hops {
        seg := model.Segment{Index: i, FromStopID: h.from, ToStopID: h.to, Mode: model.ModeDrive}
        from, to, ok := c.endpoints(h)
        if ok {
            leg, err := c.oracle.Distance(ctx, from, to)
            if err == nil {
                seg.DistanceKm = leg.DistanceKm
                seg.DurationMin = int(leg.DurationMin)
                seg.Mode = c.modes.Classify(leg.DistanceKm, leg.DurationMin)
            }
        }
        if old, found := prev[c.segKey(h.from, h.to)]; found && old.Mode == seg.Mode {
            seg.Flight = old.Flight
            seg.FlightSource = old.FlightSource
            seg.SearchError = old.SearchError
            seg.Warning = old.Warning
        }
        segs = append(segs, seg)
    }
    c.plan.Segments = segs
    c.bumpLocked(ctx, "plan.updated", map[string]any{"trigger": trigger})
}

type hop struct{ from, to string }

// buildHops derives the directed hops for an order, including the final
// return to origin.
func buildHops(order model.RouteOrder) []hop {
    if len(order) == 0 {
        return nil
    }
    hops := make([]hop, 0, len(order)+1)
    prev := "" // trip origin
    for _, id := range order {
        hops = append(hops, hop{from: prev, to: id})
        prev = id
    }
    hops = append(hops, hop{from: prev, to: ""})
    return hops
}

func (c *Coordinator) endpoints(h hop) (model.GeoPoint, model.GeoPoint, bool) {
    from := c.trip.Origin
    if h.from != "" {
        s, ok := c.trip.StopByID(h.from)
        if !ok || !s.HasCoordinates() {
            return model.GeoPoint{}, model.GeoPoint{}, false
        }
        from = *s.Location
    }
    to := c.trip.Origin
    if h.to != "" {
        s, ok := c.trip.StopByID(h.to)
        if !ok || !s.HasCoordinates() {
            return model.GeoPoint{}, model.GeoPoint{}, false
        }
        to = *s.Location
    }
    return from, to, true
}

// segKey identifies a segment's search inputs: endpoints plus the trip dates.
// Any change invalidates cached searches and selections.
func (c *Coordinator) segKey(fromID, toID string) string {
    return fmt.Sprintf("%s|%s|%s|%s", fromID, toID, c.trip.Date, c.trip.ReturnDate)
}

type searchRequest struct {
    key       string
    segIndex  int
    gen       uint64
    origins   []model.AirportCandidate
    dests     []model.AirportCandidate
    departure time.Time
    ret       *time.Time
}

// collectSearchesLocked gathers searches for fly segments that have no
// selection yet, skipping keys already in flight.
func (c *Coordinator) collectSearchesLocked() []searchRequest {
    if c.searcher == nil {
        return nil
    }
    departure, err := time.Parse("2006-01-02", c.trip.Date)
    if err != nil {
        departure = time.Now().UTC()
    }
    var reqs []searchRequest
    for _, seg := range c.plan.Segments {
        if seg.Mode != model.ModeFly || seg.Flight != nil {
            continue
        }
        key := c.segKey(seg.FromStopID, seg.ToStopID)
        if _, busy := c.inflight[key]; busy {
            continue
        }
        origins := c.airportsFor(seg.FromStopID)
        dests := c.airportsFor(seg.ToStopID)
        if len(origins) == 0 || len(dests) == 0 {
            continue
        }
        var ret *time.Time
        if seg.FromStopID == "" && c.trip.ReturnDate != "" {
            if t, err := time.Parse("2006-01-02", c.trip.ReturnDate); err == nil {
                ret = &t
            }
        }
        c.inflight[key] = c.gen
        reqs = append(reqs, searchRequest{
            key: key, segIndex: seg.Index, gen: c.gen,
            origins: origins, dests: dests, departure: departure, ret: ret,
        })
    }
    return reqs
}

func (c *Coordinator) airportsFor(stopID string) []model.AirportCandidate {
    if stopID == "" {
        return c.trip.Airports
    }
    if s, ok := c.trip.StopByID(stopID); ok {
        return s.Airports
    }
    return nil
}

func (c *Coordinator) launch(ctx context.Context, reqs []searchRequest) {
    for _, r := range reqs {
        r := r
        c.wg.Add(1)
        go func() {
            defer c.wg.Done()
            res := c.searcher.Search(ctx, r.origins, r.dests, r.departure, r.ret)
            c.applyResult(ctx, r, res)
        }()
    }
}

// applyResult lands a finished search on the plan. Staleness is per search
// key: a result is dropped only when a newer search owns the same key, or
// when no current segment matches the key anymore. Sibling searches from the
// same recompute land independently.
func (c *Coordinator) applyResult(ctx context.Context, req searchRequest, res model.FlightSearchResult) {
    c.mu.Lock()
    defer c.mu.Unlock()
    started, ok := c.inflight[req.key]
    if !ok || started != req.gen {
        return
    }
    delete(c.inflight, req.key)
    seg := c.segmentForKeyLocked(req.key)
    if seg == nil {
        return
    }
    if !res.Success {
        seg.SearchError = res.Reason
        c.bumpLocked(ctx, "search.failed", map[string]any{
            "segment": seg.Index,
            "reason":  res.Reason,
        })
        return
    }
    if len(res.Options) == 0 {
        return
    }
    seg.SearchError = ""
    // Auto-selection never displaces a user or suggestion pick.
    if seg.Flight == nil || seg.FlightSource == model.FlightSourceAuto || seg.FlightSource == "" {
        first := res.Options[0]
        seg.Flight = &first
        seg.FlightSource = model.FlightSourceAuto
        c.warnLongFlight(seg)
    }
    c.bumpLocked(ctx, "plan.updated", map[string]any{"trigger": "flight_search", "segment": seg.Index})
}

// segmentForKeyLocked finds the fly segment whose search inputs match key
// under the current trip dates.
func (c *Coordinator) segmentForKeyLocked(key string) *model.Segment {
    for i := range c.plan.Segments {
        seg := &c.plan.Segments[i]
        if seg.Mode == model.ModeFly && c.segKey(seg.FromStopID, seg.ToStopID) == key {
            return seg
        }
    }
    return nil
}

func (c *Coordinator) warnLongFlight(seg *model.Segment) {
    if seg.Flight == nil {
        return
    }
    if seg.Flight.Outbound.DurationMin >= c.longFlightWarnMin {
        seg.Warning = fmt.Sprintf("long flight: %d min outbound", seg.Flight.Outbound.DurationMin)
    }
}

// bumpLocked advances the revision, persists the snapshot, and fans the event
// out to stream subscribers and webhook subscriptions.
func (c *Coordinator) bumpLocked(ctx context.Context, eventType string, data map[string]any) {
    c.gen++
    c.plan.Revision++
    c.plan.ComputedAt = time.Now().UTC()
    if data == nil {
        data = map[string]any{}
    }
    data["tripId"] = c.trip.ID
    data["revision"] = c.plan.Revision

    if c.store != nil {
        if err := c.store.SavePlan(ctx, c.plan); err != nil {
            log.Printf("plan: save trip %s: %v", c.trip.ID, err)
        }
    }
    if c.broker != nil {
        c.broker.Publish(c.trip.ID, events.Event{Type: eventType, Data: data})
    }
    if c.emitter != nil {
        c.emitter.Emit(ctx, eventType, data)
    }
}

func validatePermutation(order model.RouteOrder, stops []model.Stop) error {
    if len(order) != len(stops) {
        return fmt.Errorf("order has %d ids, trip has %d stops", len(order), len(stops))
    }
    seen := map[string]bool{}
    for _, id := range order {
        if seen[id] {
            return fmt.Errorf("duplicate stop id %s in order", id)
        }
        seen[id] = true
    }
    for _, s := range stops {
        if !seen[s.ID] {
            return fmt.Errorf("order is missing stop %s", s.ID)
        }
    }
    return nil
}

// pruneOrder drops removed stops from an order and appends new ones at the
// tail so the plan stays consistent across stop edits.
func pruneOrder(order model.RouteOrder, stops []model.Stop) model.RouteOrder {
    present := map[string]bool{}
    for _, s := range stops {
        present[s.ID] = true
    }
    out := make(model.RouteOrder, 0, len(stops))
    seen := map[string]bool{}
    for _, id := range order {
        if present[id] && !seen[id] {
            out = append(out, id)
            seen[id] = true
        }
    }
    for _, s := range stops {
        if !seen[s.ID] {
            out = append(out, s.ID)
        }
    }
    return out
}

func copyPlan(p model.TripPlan) model.TripPlan {
    out := p
    out.Order = append(model.RouteOrder(nil), p.Order...)
    out.Segments = make([]model.Segment, len(p.Segments))
    for i, s := range p.Segments {
        cs := s
        if s.Flight != nil {
            f := *s.Flight
            if s.Flight.Return != nil {
                r := *s.Flight.Return
                f.Return = &r
            }
            cs.Flight = &f
        }
        out.Segments[i] = cs
    }
    return out
}

func copyTrip(t model.Trip) model.Trip {
    out := t
    out.Stops = make([]model.Stop, len(t.Stops))
    for i, s := range t.Stops {
        cs := s
        if s.Location != nil {
            loc := *s.Location
            cs.Location = &loc
        }
        cs.Airports = append([]model.AirportCandidate(nil), s.Airports...)
        out.Stops[i] = cs
    }
    out.Airports = append([]model.AirportCandidate(nil), t.Airports...)
    return out
}
