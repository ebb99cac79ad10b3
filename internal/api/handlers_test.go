package api

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "tripnav/internal/config"
    "tripnav/internal/model"
    "tripnav/internal/plan"
)

func newTestServer(t *testing.T, searcher plan.Searcher) *Server {
    t.Helper()
    cfg := config.Config{
        FlyDistanceKm:  300,
        FlyDurationMin: 240,
        DriveSpeedKph:  80,
    }
    s, err := NewServer(cfg, searcher)
    if err != nil {
        t.Fatal(err)
    }
    return s
}

func doJSON(t *testing.T, h http.HandlerFunc, method, path string, body any) *httptest.ResponseRecorder {
    t.Helper()
    var buf bytes.Buffer
    if body != nil {
        if err := json.NewEncoder(&buf).Encode(body); err != nil {
            t.Fatal(err)
        }
    }
    req := httptest.NewRequest(method, path, &buf)
    req.Header.Set("Content-Type", "application/json")
    rec := httptest.NewRecorder()
    h(rec, req)
    return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
    t.Helper()
    var v T
    if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
        t.Fatalf("decode %q: %v", rec.Body.String(), err)
    }
    return v
}

func tripBody() map[string]any {
    return map[string]any{
        "name":   "bay area run",
        "origin": map[string]float64{"lat": 37.77, "lng": -122.42},
        "date":   "2026-10-05",
        "stops": []map[string]any{
            {"address": "Oakland", "location": map[string]float64{"lat": 37.80, "lng": -122.27}},
            {"address": "San Jose", "location": map[string]float64{"lat": 37.33, "lng": -121.89}},
        },
    }
}

func createTrip(t *testing.T, s *Server) model.Trip {
    t.Helper()
    rec := doJSON(t, s.TripsHandler, http.MethodPost, "/v1/trips", tripBody())
    if rec.Code != http.StatusCreated {
        t.Fatalf("create trip: %d %s", rec.Code, rec.Body.String())
    }
    return decode[model.Trip](t, rec)
}

func TestCreateTripAssignsIDs(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)
    if trip.ID == "" {
        t.Fatal("no trip id")
    }
    for _, st := range trip.Stops {
        if st.ID == "" {
            t.Fatalf("stop without id: %+v", st)
        }
    }
}

func TestCreateTripValidation(t *testing.T) {
    s := newTestServer(t, nil)
    cases := []struct {
        name string
        mut  func(map[string]any)
    }{
        {"bad date", func(b map[string]any) { b["date"] = "05-10-2026" }},
        {"no origin", func(b map[string]any) { delete(b, "origin") }},
        {"bad latitude", func(b map[string]any) { b["origin"] = map[string]float64{"lat": 95, "lng": 0} }},
        {"stop without address or location", func(b map[string]any) {
            b["stops"] = []map[string]any{{"workHours": 2}}
        }},
    }
    for _, c := range cases {
        t.Run(c.name, func(t *testing.T) {
            body := tripBody()
            c.mut(body)
            rec := doJSON(t, s.TripsHandler, http.MethodPost, "/v1/trips", body)
            if rec.Code != http.StatusBadRequest {
                t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
            }
            var p Problem
            if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil || p.Status != http.StatusBadRequest {
                t.Fatalf("problem body = %s", rec.Body.String())
            }
        })
    }
}

func TestListTripsPagination(t *testing.T) {
    s := newTestServer(t, nil)
    for i := 0; i < 3; i++ {
        createTrip(t, s)
    }
    rec := doJSON(t, s.TripsHandler, http.MethodGet, "/v1/trips?limit=2", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("code = %d", rec.Code)
    }
    page := decode[struct {
        Items      []model.Trip `json:"items"`
        NextCursor string       `json:"nextCursor"`
    }](t, rec)
    if len(page.Items) != 2 || page.NextCursor == "" {
        t.Fatalf("items = %d, cursor %q", len(page.Items), page.NextCursor)
    }
    rec = doJSON(t, s.TripsHandler, http.MethodGet, "/v1/trips?limit=2&cursor="+page.NextCursor, nil)
    page = decode[struct {
        Items      []model.Trip `json:"items"`
        NextCursor string       `json:"nextCursor"`
    }](t, rec)
    if len(page.Items) != 1 || page.NextCursor != "" {
        t.Fatalf("items = %d, cursor %q", len(page.Items), page.NextCursor)
    }
}

func TestGetPatchDeleteTrip(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)

    rec := doJSON(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+trip.ID, nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("get: %d", rec.Code)
    }

    rec = doJSON(t, s.TripByIDHandler, http.MethodPatch, "/v1/trips/"+trip.ID, map[string]any{
        "name":       "renamed",
        "returnDate": "2026-10-09",
    })
    if rec.Code != http.StatusOK {
        t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
    }
    got := decode[model.Trip](t, rec)
    if got.Name != "renamed" || got.ReturnDate != "2026-10-09" {
        t.Fatalf("got %+v", got)
    }

    rec = doJSON(t, s.TripByIDHandler, http.MethodDelete, "/v1/trips/"+trip.ID, nil)
    if rec.Code != http.StatusNoContent {
        t.Fatalf("delete: %d", rec.Code)
    }
    rec = doJSON(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+trip.ID, nil)
    if rec.Code != http.StatusNotFound {
        t.Fatalf("get after delete: %d", rec.Code)
    }
}

func TestStopLifecycle(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)
    base := "/v1/trips/" + trip.ID + "/stops"

    rec := doJSON(t, s.TripByIDHandler, http.MethodPost, base, map[string]any{
        "address": "Sacramento",
    })
    if rec.Code != http.StatusCreated {
        t.Fatalf("add: %d %s", rec.Code, rec.Body.String())
    }
    stop := decode[model.Stop](t, rec)

    // geocoded later: patch in the coordinates
    rec = doJSON(t, s.TripByIDHandler, http.MethodPatch, base+"/"+stop.ID, map[string]any{
        "address":  "Sacramento",
        "location": map[string]float64{"lat": 38.58, "lng": -121.49},
    })
    if rec.Code != http.StatusOK {
        t.Fatalf("patch: %d %s", rec.Code, rec.Body.String())
    }

    rec = doJSON(t, s.TripByIDHandler, http.MethodDelete, base+"/"+stop.ID, nil)
    if rec.Code != http.StatusNoContent {
        t.Fatalf("delete: %d", rec.Code)
    }

    rec = doJSON(t, s.TripByIDHandler, http.MethodPost, base, map[string]any{"workHours": 2})
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("invalid stop accepted: %d", rec.Code)
    }
}

func TestReorderAndPlan(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)

    rec := doJSON(t, s.TripByIDHandler, http.MethodPost, "/v1/trips/"+trip.ID+"/reorder", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("reorder: %d %s", rec.Code, rec.Body.String())
    }
    p := decode[model.TripPlan](t, rec)
    if len(p.Order) != 2 || len(p.Segments) != 3 {
        t.Fatalf("plan = %+v", p)
    }

    rec = doJSON(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+trip.ID+"/plan", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("plan: %d", rec.Code)
    }
    got := decode[model.TripPlan](t, rec)
    if got.Revision != p.Revision {
        t.Fatalf("revision = %d, want %d", got.Revision, p.Revision)
    }

    rec = doJSON(t, s.TripByIDHandler, http.MethodGet, "/v1/trips/"+trip.ID+"/stats", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("stats: %d %s", rec.Code, rec.Body.String())
    }
}

func TestReorderMissingCoordinatesConflict(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)
    rec := doJSON(t, s.TripByIDHandler, http.MethodPost, "/v1/trips/"+trip.ID+"/stops", map[string]any{
        "address": "ungeolocated",
    })
    if rec.Code != http.StatusCreated {
        t.Fatalf("add: %d", rec.Code)
    }
    // stop keeps its tail position rather than blocking the sequence
    rec = doJSON(t, s.TripByIDHandler, http.MethodPost, "/v1/trips/"+trip.ID+"/reorder", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("reorder: %d %s", rec.Code, rec.Body.String())
    }
    p := decode[model.TripPlan](t, rec)
    if len(p.Order) != 3 {
        t.Fatalf("order = %v", p.Order)
    }
}

func TestSetOrder(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)
    path := "/v1/trips/" + trip.ID + "/order"

    order := model.RouteOrder{trip.Stops[1].ID, trip.Stops[0].ID}
    rec := doJSON(t, s.TripByIDHandler, http.MethodPut, path, map[string]any{"order": order})
    if rec.Code != http.StatusOK {
        t.Fatalf("order: %d %s", rec.Code, rec.Body.String())
    }
    p := decode[model.TripPlan](t, rec)
    if p.Order[0] != trip.Stops[1].ID {
        t.Fatalf("order = %v", p.Order)
    }

    rec = doJSON(t, s.TripByIDHandler, http.MethodPut, path, map[string]any{
        "order": model.RouteOrder{trip.Stops[0].ID},
    })
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("partial order accepted: %d", rec.Code)
    }
}

func TestSuggestionEndpoint(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)
    path := "/v1/trips/" + trip.ID + "/suggestion"

    rec := doJSON(t, s.TripByIDHandler, http.MethodPost, path, map[string]any{
        "text": `{"route_order": [2, 1], "legs": [{"mode": "drive"}, {"mode": "drive"}]}`,
    })
    if rec.Code != http.StatusOK {
        t.Fatalf("suggestion: %d %s", rec.Code, rec.Body.String())
    }
    out := decode[struct {
        Plan       model.TripPlan         `json:"plan"`
        Suggestion model.ParsedSuggestion `json:"suggestion"`
    }](t, rec)
    if out.Plan.Order[0] != trip.Stops[1].ID {
        t.Fatalf("order = %v", out.Plan.Order)
    }
    if out.Suggestion.Source != model.SuggestionStructured {
        t.Fatalf("source = %s", out.Suggestion.Source)
    }

    rec = doJSON(t, s.TripByIDHandler, http.MethodPost, path, map[string]any{
        "text": "no usable order in here",
    })
    if rec.Code != http.StatusUnprocessableEntity {
        t.Fatalf("bad suggestion: %d", rec.Code)
    }
}

func TestSegmentFlightEndpoint(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)
    if rec := doJSON(t, s.TripByIDHandler, http.MethodPost, "/v1/trips/"+trip.ID+"/reorder", nil); rec.Code != http.StatusOK {
        t.Fatalf("reorder: %d", rec.Code)
    }

    // every leg on this trip is drivable, so a selection must be rejected
    rec := doJSON(t, s.TripByIDHandler, http.MethodPut, "/v1/trips/"+trip.ID+"/segments/0/flight", model.FlightOption{Price: 100})
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
    }
    rec = doJSON(t, s.TripByIDHandler, http.MethodPut, "/v1/trips/"+trip.ID+"/segments/x/flight", model.FlightOption{})
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("code = %d", rec.Code)
    }
}

func TestStatelessSequence(t *testing.T) {
    s := newTestServer(t, nil)
    rec := doJSON(t, s.SequenceHandler, http.MethodPost, "/v1/sequence", map[string]any{
        "origin": map[string]float64{"lat": 37.77, "lng": -122.42},
        "stops": []map[string]any{
            {"id": "far", "location": map[string]float64{"lat": 34.05, "lng": -118.24}},
            {"id": "near", "location": map[string]float64{"lat": 37.80, "lng": -122.27}},
        },
    })
    if rec.Code != http.StatusOK {
        t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
    }
    out := decode[struct {
        Order model.RouteOrder `json:"order"`
    }](t, rec)
    if out.Order[0] != "near" || out.Order[1] != "far" {
        t.Fatalf("order = %v", out.Order)
    }

    rec = doJSON(t, s.SequenceHandler, http.MethodPost, "/v1/sequence", map[string]any{
        "origin": map[string]float64{"lat": 0, "lng": 0},
        "stops":  []map[string]any{{"id": "x"}},
    })
    if rec.Code != http.StatusUnprocessableEntity {
        t.Fatalf("code = %d", rec.Code)
    }
}

func TestStatelessClassify(t *testing.T) {
    s := newTestServer(t, nil)
    rec := doJSON(t, s.ClassifyHandler, http.MethodPost, "/v1/classify", map[string]any{
        "distanceKm": 500, "durationMin": 100,
    })
    if rec.Code != http.StatusOK {
        t.Fatalf("code = %d", rec.Code)
    }
    out := decode[struct {
        Mode model.TravelMode `json:"mode"`
    }](t, rec)
    if out.Mode != model.ModeFly {
        t.Fatalf("mode = %s", out.Mode)
    }
}

func TestFlightSearchWithoutProviders(t *testing.T) {
    s := newTestServer(t, nil)
    rec := doJSON(t, s.FlightSearchHandler, http.MethodPost, "/v1/flights/search", map[string]any{
        "origins":      []map[string]any{{"code": "SFO"}},
        "destinations": []map[string]any{{"code": "SEA"}},
        "date":         "2026-10-05",
    })
    if rec.Code != http.StatusServiceUnavailable {
        t.Fatalf("code = %d", rec.Code)
    }
}

func TestSuggestionParseEndpoint(t *testing.T) {
    s := newTestServer(t, nil)
    rec := doJSON(t, s.SuggestionParseHandler, http.MethodPost, "/v1/suggestions/parse", map[string]any{
        "text":  `{"route_order": [1, 2]}`,
        "stops": 2,
    })
    if rec.Code != http.StatusOK {
        t.Fatalf("code = %d %s", rec.Code, rec.Body.String())
    }
    sug := decode[model.ParsedSuggestion](t, rec)
    if len(sug.Order) != 2 {
        t.Fatalf("order = %v", sug.Order)
    }

    rec = doJSON(t, s.SuggestionParseHandler, http.MethodPost, "/v1/suggestions/parse", map[string]any{
        "text":  `{"route_order": [1, 1]}`,
        "stops": 2,
    })
    if rec.Code != http.StatusUnprocessableEntity {
        t.Fatalf("code = %d", rec.Code)
    }
}

func TestSubscriptions(t *testing.T) {
    s := newTestServer(t, nil)
    rec := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", map[string]any{
        "url":    "https://example.com/hook",
        "events": []string{"plan.updated"},
        "secret": "s3cret",
    })
    if rec.Code != http.StatusCreated {
        t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
    }
    sub := decode[model.Subscription](t, rec)
    if sub.ID == "" {
        t.Fatal("no subscription id")
    }

    rec = doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", map[string]any{
        "url": "https://example.com/hook",
    })
    if rec.Code != http.StatusBadRequest {
        t.Fatalf("missing events accepted: %d", rec.Code)
    }

    rec = doJSON(t, s.SubscriptionsHandler, http.MethodGet, "/v1/subscriptions", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("list: %d", rec.Code)
    }

    rec = doJSON(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
    if rec.Code != http.StatusNoContent {
        t.Fatalf("delete: %d", rec.Code)
    }
    rec = doJSON(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
    if rec.Code != http.StatusNotFound {
        t.Fatalf("second delete: %d", rec.Code)
    }
}

func TestHealthAndReady(t *testing.T) {
    s := newTestServer(t, nil)
    rec := doJSON(t, s.HealthHandler, http.MethodGet, "/healthz", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("health: %d", rec.Code)
    }
    rec = doJSON(t, s.ReadyHandler, http.MethodGet, "/readyz", nil)
    if rec.Code != http.StatusOK {
        t.Fatalf("ready: %d", rec.Code)
    }
}

func TestEmittedEventsReachSubscriptionQueue(t *testing.T) {
    s := newTestServer(t, nil)
    if rec := doJSON(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", map[string]any{
        "url":    "https://example.com/hook",
        "events": []string{"plan.updated"},
    }); rec.Code != http.StatusCreated {
        t.Fatalf("subscribe: %d", rec.Code)
    }
    trip := createTrip(t, s)
    if rec := doJSON(t, s.TripByIDHandler, http.MethodPost, "/v1/trips/"+trip.ID+"/reorder", nil); rec.Code != http.StatusOK {
        t.Fatalf("reorder: %d", rec.Code)
    }

    due, err := s.Store.FetchDueWebhookDeliveries(context.Background(), 10)
    if err != nil {
        t.Fatal(err)
    }
    if len(due) == 0 {
        t.Fatal("no deliveries enqueued")
    }
    var payload struct {
        Type string          `json:"type"`
        Data json.RawMessage `json:"data"`
    }
    if err := json.Unmarshal(due[0].Payload, &payload); err != nil {
        t.Fatal(err)
    }
    if payload.Type != "plan.updated" {
        t.Fatalf("type = %q", payload.Type)
    }
}

func TestPlanEventsOnBroker(t *testing.T) {
    s := newTestServer(t, nil)
    trip := createTrip(t, s)
    ch := s.Broker.Subscribe(trip.ID)
    defer s.Broker.Unsubscribe(trip.ID, ch)

    if rec := doJSON(t, s.TripByIDHandler, http.MethodPost, "/v1/trips/"+trip.ID+"/reorder", nil); rec.Code != http.StatusOK {
        t.Fatalf("reorder: %d", rec.Code)
    }
    select {
    case evt := <-ch:
        if evt.Type != "plan.updated" {
            t.Fatalf("type = %q", evt.Type)
        }
        if fmt.Sprint(evt.Data["tripId"]) != trip.ID {
            t.Fatalf("data = %v", evt.Data)
        }
    case <-time.After(time.Second):
        t.Fatal("no event published")
    }
}
