package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "tripnav/internal/ai"
    "tripnav/internal/model"
    "tripnav/internal/opt"
    "tripnav/internal/store"
)

// TripsHandler handles POST/GET /v1/trips
func (s *Server) TripsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var trip model.Trip
        if err := json.NewDecoder(r.Body).Decode(&trip); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateTrip(&trip); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid trip", err.Error(), r.URL.Path)
            return
        }
        created, err := s.Store.CreateTrip(r.Context(), trip)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create trip failed", err.Error(), r.URL.Path)
            return
        }
        s.adopt(created)
        writeJSON(w, http.StatusCreated, created)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListTrips(r.Context(), cursor, limit)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "List trips failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// TripByIDHandler handles everything under /v1/trips/{id}: the trip itself,
// its stops, the plan, reorder and suggestion operations, flight selection,
// and the event stream.
func (s *Server) TripByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/trips/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    parts := strings.Split(rest, "/")
    id := parts[0]

    if len(parts) == 1 {
        s.tripHandler(w, r, id)
        return
    }
    switch parts[1] {
    case "stops":
        s.stopsHandler(w, r, id, parts[1:])
    case "reorder":
        s.reorderHandler(w, r, id)
    case "order":
        s.orderHandler(w, r, id)
    case "suggestion":
        s.suggestionHandler(w, r, id)
    case "plan":
        s.planHandler(w, r, id)
    case "segments":
        s.segmentFlightHandler(w, r, id, parts[1:])
    case "stats":
        s.statsHandler(w, r, id)
    case "events":
        if len(parts) > 2 && parts[2] == "stream" {
            s.streamHandler(w, r, id)
            return
        }
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

func (s *Server) tripHandler(w http.ResponseWriter, r *http.Request, id string) {
    switch r.Method {
    case http.MethodGet:
        trip, err := s.Store.GetTrip(r.Context(), id)
        if err != nil {
            s.tripError(w, r, err, "Get trip failed")
            return
        }
        writeJSON(w, http.StatusOK, trip)
    case http.MethodPatch:
        trip, err := s.Store.GetTrip(r.Context(), id)
        if err != nil {
            s.tripError(w, r, err, "Get trip failed")
            return
        }
        var patch struct {
            Name       *string                   `json:"name"`
            Origin     *model.GeoPoint           `json:"origin"`
            OriginAddr *string                   `json:"originAddress"`
            Airports   *[]model.AirportCandidate `json:"originAirports"`
            Date       *string                   `json:"date"`
            ReturnDate *string                   `json:"returnDate"`
        }
        if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if patch.Name != nil { trip.Name = *patch.Name }
        if patch.Origin != nil { trip.Origin = *patch.Origin }
        if patch.OriginAddr != nil { trip.OriginAddr = *patch.OriginAddr }
        if patch.Airports != nil { trip.Airports = *patch.Airports }
        if patch.Date != nil { trip.Date = *patch.Date }
        if patch.ReturnDate != nil { trip.ReturnDate = *patch.ReturnDate }
        if err := validateTrip(&trip); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid trip", err.Error(), r.URL.Path)
            return
        }
        if err := s.Store.UpdateTrip(r.Context(), trip); err != nil {
            s.tripError(w, r, err, "Update trip failed")
            return
        }
        s.syncCoordinator(r.Context(), trip)
        writeJSON(w, http.StatusOK, trip)
    case http.MethodDelete:
        if err := s.Store.DeleteTrip(r.Context(), id); err != nil {
            s.tripError(w, r, err, "Delete trip failed")
            return
        }
        s.evict(id)
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) stopsHandler(w http.ResponseWriter, r *http.Request, tripID string, parts []string) {
    if len(parts) == 1 {
        if r.Method != http.MethodPost {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        var stop model.Stop
        if err := json.NewDecoder(r.Body).Decode(&stop); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateStop(&stop); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid stop", err.Error(), r.URL.Path)
            return
        }
        created, err := s.Store.AddStop(r.Context(), tripID, stop)
        if err != nil {
            s.tripError(w, r, err, "Add stop failed")
            return
        }
        s.reloadCoordinator(r.Context(), tripID)
        writeJSON(w, http.StatusCreated, created)
        return
    }

    stopID := parts[1]
    switch r.Method {
    case http.MethodPatch:
        var stop model.Stop
        if err := json.NewDecoder(r.Body).Decode(&stop); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        stop.ID = stopID
        if err := validateStop(&stop); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid stop", err.Error(), r.URL.Path)
            return
        }
        if err := s.Store.UpdateStop(r.Context(), tripID, stop); err != nil {
            s.tripError(w, r, err, "Update stop failed")
            return
        }
        s.reloadCoordinator(r.Context(), tripID)
        writeJSON(w, http.StatusOK, stop)
    case http.MethodDelete:
        if err := s.Store.RemoveStop(r.Context(), tripID, stopID); err != nil {
            s.tripError(w, r, err, "Remove stop failed")
            return
        }
        s.reloadCoordinator(r.Context(), tripID)
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) reorderHandler(w http.ResponseWriter, r *http.Request, tripID string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    c, err := s.coordinator(r.Context(), tripID)
    if err != nil {
        s.tripError(w, r, err, "Load trip failed")
        return
    }
    p, err := c.Reorder(r.Context())
    if err != nil {
        var missing *opt.ErrMissingCoordinates
        if errors.As(err, &missing) {
            writeProblem(w, http.StatusConflict, "Cannot sequence", err.Error(), r.URL.Path)
            return
        }
        writeProblem(w, http.StatusInternalServerError, "Reorder failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, p)
}

func (s *Server) orderHandler(w http.ResponseWriter, r *http.Request, tripID string) {
    if r.Method != http.MethodPut {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Order model.RouteOrder `json:"order"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    c, err := s.coordinator(r.Context(), tripID)
    if err != nil {
        s.tripError(w, r, err, "Load trip failed")
        return
    }
    p, err := c.SetOrder(r.Context(), req.Order)
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid order", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, p)
}

func (s *Server) suggestionHandler(w http.ResponseWriter, r *http.Request, tripID string) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Text string `json:"text"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    c, err := s.coordinator(r.Context(), tripID)
    if err != nil {
        s.tripError(w, r, err, "Load trip failed")
        return
    }
    trip := c.Trip()
    sug, err := ai.Parse(req.Text, len(trip.Stops))
    if err != nil {
        writeProblem(w, http.StatusUnprocessableEntity, "Suggestion rejected", err.Error(), r.URL.Path)
        return
    }
    p, err := c.ApplySuggestion(r.Context(), sug)
    if err != nil {
        writeProblem(w, http.StatusUnprocessableEntity, "Suggestion rejected", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"plan": p, "suggestion": sug})
}

func (s *Server) planHandler(w http.ResponseWriter, r *http.Request, tripID string) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    c, err := s.coordinator(r.Context(), tripID)
    if err != nil {
        s.tripError(w, r, err, "Load trip failed")
        return
    }
    writeJSON(w, http.StatusOK, c.Plan())
}

// PUT /v1/trips/{id}/segments/{index}/flight
func (s *Server) segmentFlightHandler(w http.ResponseWriter, r *http.Request, tripID string, parts []string) {
    if len(parts) < 3 || parts[2] != "flight" {
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        return
    }
    if r.Method != http.MethodPut {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    idx, err := strconv.Atoi(parts[1])
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid segment index", parts[1], r.URL.Path)
        return
    }
    var option model.FlightOption
    if err := json.NewDecoder(r.Body).Decode(&option); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    c, err := s.coordinator(r.Context(), tripID)
    if err != nil {
        s.tripError(w, r, err, "Load trip failed")
        return
    }
    p, err := c.SelectFlight(r.Context(), idx, option)
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Select flight failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, p)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request, tripID string) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    st, ok := opt.GetStats(tripID)
    if !ok {
        writeProblem(w, http.StatusNotFound, "No stats", "trip has not been sequenced", r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, st)
}

// SequenceHandler handles POST /v1/sequence: stateless sequencing of a stop
// set from an origin.
func (s *Server) SequenceHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Origin       model.GeoPoint `json:"origin"`
        Stops        []model.Stop   `json:"stops"`
        TwoOptPasses int            `json:"twoOptPasses"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    seq := opt.Sequencer{Oracle: s.Oracle, TwoOptPasses: req.TwoOptPasses}
    order, err := seq.Sequence(r.Context(), req.Origin, req.Stops)
    if err != nil {
        writeProblem(w, http.StatusUnprocessableEntity, "Sequence failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// ClassifyHandler handles POST /v1/classify: drive-or-fly for one leg.
func (s *Server) ClassifyHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        DistanceKm  float64 `json:"distanceKm"`
        DurationMin float64 `json:"durationMin"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    mode := s.Modes.Classify(req.DistanceKm, req.DurationMin)
    writeJSON(w, http.StatusOK, map[string]any{"mode": mode})
}

// FlightSearchHandler handles POST /v1/flights/search: one orchestrated
// search over candidate airports.
func (s *Server) FlightSearchHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    if s.Searcher == nil {
        writeProblem(w, http.StatusServiceUnavailable, "No providers", "no flight providers configured", r.URL.Path)
        return
    }
    var req struct {
        Origins      []model.AirportCandidate `json:"origins"`
        Destinations []model.AirportCandidate `json:"destinations"`
        Date         string                   `json:"date"`
        ReturnDate   string                   `json:"returnDate"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if len(req.Origins) == 0 || len(req.Destinations) == 0 {
        writeProblem(w, http.StatusBadRequest, "Missing airports", "origins and destinations required", r.URL.Path)
        return
    }
    departure, err := time.Parse("2006-01-02", req.Date)
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid date", "date must be YYYY-MM-DD", r.URL.Path)
        return
    }
    var ret *time.Time
    if req.ReturnDate != "" {
        t, err := time.Parse("2006-01-02", req.ReturnDate)
        if err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid date", "returnDate must be YYYY-MM-DD", r.URL.Path)
            return
        }
        ret = &t
    }
    res := s.Searcher.Search(r.Context(), req.Origins, req.Destinations, departure, ret)
    writeJSON(w, http.StatusOK, res)
}

// SuggestionParseHandler handles POST /v1/suggestions/parse: validate a raw
// suggestion without applying it.
func (s *Server) SuggestionParseHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req struct {
        Text  string `json:"text"`
        Stops int    `json:"stops"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    sug, err := ai.Parse(req.Text, req.Stops)
    if err != nil {
        writeProblem(w, http.StatusUnprocessableEntity, "Suggestion rejected", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, sug)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.URL == "" || len(req.Events) == 0 {
            writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events required", r.URL.Path)
            return
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
        s.tripError(w, r, err, "Delete subscription failed")
        return
    }
    w.WriteHeader(204)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

func (s *Server) tripError(w http.ResponseWriter, r *http.Request, err error, title string) {
    if errors.Is(err, store.ErrNotFound) {
        writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
        return
    }
    writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
}

// syncCoordinator pushes an updated trip definition into the live
// coordinator, if one exists.
func (s *Server) syncCoordinator(ctx context.Context, trip model.Trip) {
    s.mu.Lock()
    c, ok := s.coords[trip.ID]
    s.mu.Unlock()
    if ok {
        _ = c.SetTrip(ctx, trip)
    }
}

// reloadCoordinator re-reads the trip from the store after a stop edit.
func (s *Server) reloadCoordinator(ctx context.Context, tripID string) {
    s.mu.Lock()
    c, ok := s.coords[tripID]
    s.mu.Unlock()
    if !ok {
        return
    }
    trip, err := s.Store.GetTrip(ctx, tripID)
    if err != nil {
        return
    }
    _ = c.SetTrip(ctx, trip)
}
