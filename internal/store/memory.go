package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"
    "tripnav/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu    sync.Mutex
    trips map[string]model.Trip
    order []string // trip ids in creation order, for stable listing
    plans map[string]model.TripPlan
    subs  map[string]model.Subscription
    // Webhook queue state
    deliveries    map[string]*memDelivery
    deliveryOrder []string
}

func NewMemory() *Memory {
    return &Memory{
        trips:      map[string]model.Trip{},
        plans:      map[string]model.TripPlan{},
        subs:       map[string]model.Subscription{},
        deliveries: map[string]*memDelivery{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

func (m *Memory) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if t.ID == "" {
        t.ID = uuid.New().String()
    }
    for i := range t.Stops {
        if t.Stops[i].ID == "" {
            t.Stops[i].ID = uuid.New().String()
        }
    }
    if t.CreatedAt.IsZero() {
        t.CreatedAt = time.Now().UTC()
    }
    m.trips[t.ID] = t
    m.order = append(m.order, t.ID)
    return t, nil
}

func (m *Memory) GetTrip(ctx context.Context, id string) (model.Trip, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    t, ok := m.trips[id]
    if !ok {
        return model.Trip{}, ErrNotFound
    }
    return t, nil
}

func (m *Memory) ListTrips(ctx context.Context, cursor string, limit int) ([]model.Trip, string, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    start := 0
    if cursor != "" {
        for i, id := range m.order {
            if id == cursor {
                start = i + 1
                break
            }
        }
    }
    if limit <= 0 {
        limit = 100
    }
    out := []model.Trip{}
    var next string
    for i := start; i < len(m.order) && len(out) < limit; i++ {
        out = append(out, m.trips[m.order[i]])
        next = m.order[i]
    }
    if len(out) < limit {
        next = ""
    }
    return out, next, nil
}

func (m *Memory) UpdateTrip(ctx context.Context, t model.Trip) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.trips[t.ID]; !ok {
        return ErrNotFound
    }
    m.trips[t.ID] = t
    return nil
}

func (m *Memory) DeleteTrip(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.trips[id]; !ok {
        return ErrNotFound
    }
    delete(m.trips, id)
    delete(m.plans, id)
    for i, tid := range m.order {
        if tid == id {
            m.order = append(m.order[:i], m.order[i+1:]...)
            break
        }
    }
    return nil
}

func (m *Memory) AddStop(ctx context.Context, tripID string, s model.Stop) (model.Stop, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    t, ok := m.trips[tripID]
    if !ok {
        return model.Stop{}, ErrNotFound
    }
    if s.ID == "" {
        s.ID = uuid.New().String()
    }
    t.Stops = append(t.Stops, s)
    m.trips[tripID] = t
    return s, nil
}

func (m *Memory) UpdateStop(ctx context.Context, tripID string, s model.Stop) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    t, ok := m.trips[tripID]
    if !ok {
        return ErrNotFound
    }
    for i := range t.Stops {
        if t.Stops[i].ID == s.ID {
            t.Stops[i] = s
            m.trips[tripID] = t
            return nil
        }
    }
    return ErrNotFound
}

func (m *Memory) RemoveStop(ctx context.Context, tripID, stopID string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    t, ok := m.trips[tripID]
    if !ok {
        return ErrNotFound
    }
    for i := range t.Stops {
        if t.Stops[i].ID == stopID {
            t.Stops = append(t.Stops[:i], t.Stops[i+1:]...)
            m.trips[tripID] = t
            return nil
        }
    }
    return ErrNotFound
}

func (m *Memory) SavePlan(ctx context.Context, p model.TripPlan) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.plans[p.TripID] = p
    return nil
}

func (m *Memory) GetPlan(ctx context.Context, tripID string) (model.TripPlan, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    p, ok := m.plans[tripID]
    if !ok {
        return model.TripPlan{}, ErrNotFound
    }
    return p, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    sub := model.Subscription{ID: uuid.New().String(), URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[sub.ID] = sub
    return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    out := []model.Subscription{}
    for _, s := range m.subs {
        for _, e := range s.Events {
            if e == eventType || e == "*" {
                out = append(out, s)
                break
            }
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    ids := make([]string, 0, len(m.subs))
    for id := range m.subs {
        ids = append(ids, id)
    }
    sort.Strings(ids)
    start := 0
    if cursor != "" {
        for i, id := range ids {
            if id == cursor {
                start = i + 1
                break
            }
        }
    }
    if limit <= 0 {
        limit = 100
    }
    out := []model.Subscription{}
    var next string
    for i := start; i < len(ids) && len(out) < limit; i++ {
        out = append(out, m.subs[ids[i]])
        next = ids[i]
    }
    if len(out) < limit {
        next = ""
    }
    return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if _, ok := m.subs[id]; !ok {
        return ErrNotFound
    }
    delete(m.subs, id)
    return nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveryOrder = append(m.deliveryOrder, id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryOrder {
        d := m.deliveries[id]
        if d == nil {
            continue
        }
        if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit {
                break
            }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil {
        return nil
    }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = "delivered"
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = "retry"
        d.LastError = lastError
        if nextAttemptAt != nil {
            d.NextAttemptAt = *nextAttemptAt
        } else {
            d.NextAttemptAt = time.Now().Add(1 * time.Minute)
        }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    d := m.deliveries[id]
    if d != nil {
        d.Status = "failed"
        d.LastError = lastError
        d.ResponseCode = responseCode
        d.LatencyMs = latencyMs
    }
    return nil
}
