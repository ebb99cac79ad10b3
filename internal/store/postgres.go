package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "tripnav/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    var names []string
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil { return err }
    }
    return nil
}

func (p *Postgres) CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error) {
    if t.ID == "" { t.ID = uuid.New().String() }
    for i := range t.Stops {
        if t.Stops[i].ID == "" { t.Stops[i].ID = uuid.New().String() }
    }
    if t.CreatedAt.IsZero() { t.CreatedAt = time.Now().UTC() }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Trip{}, err }
    defer func(){ _ = tx.Rollback() }()
    _, err = tx.ExecContext(ctx, `INSERT INTO trips (id, name, origin_lat, origin_lng, origin_addr, airports, trip_date, return_date, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
        t.ID, t.Name, t.Origin.Lat, t.Origin.Lng, nullIfEmpty(t.OriginAddr), toJSON(t.Airports), nullIfEmpty(t.Date), nullIfEmpty(t.ReturnDate), t.CreatedAt)
    if err != nil { return model.Trip{}, err }
    for i, s := range t.Stops {
        if err := insertStop(ctx, tx, t.ID, i, s); err != nil { return model.Trip{}, err }
    }
    if err := tx.Commit(); err != nil { return model.Trip{}, err }
    return t, nil
}

func insertStop(ctx context.Context, tx *sql.Tx, tripID string, seq int, s model.Stop) error {
    var lat, lng any
    if s.Location != nil {
        lat = s.Location.Lat
        lng = s.Location.Lng
    }
    _, err := tx.ExecContext(ctx, `INSERT INTO trip_stops (id, trip_id, seq, address, lat, lng, city, country, work_hours, airports)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
        s.ID, tripID, seq, nullIfEmpty(s.Address), lat, lng, nullIfEmpty(s.City), nullIfEmpty(s.Country), s.WorkHours, toJSON(s.Airports))
    return err
}

func (p *Postgres) GetTrip(ctx context.Context, id string) (model.Trip, error) {
    var t model.Trip
    var originAddr, date, ret sql.NullString
    var airports []byte
    row := p.db.QueryRowContext(ctx, `SELECT id::text, name, origin_lat, origin_lng, origin_addr, airports, trip_date, return_date, created_at FROM trips WHERE id=$1`, id)
    if err := row.Scan(&t.ID, &t.Name, &t.Origin.Lat, &t.Origin.Lng, &originAddr, &airports, &date, &ret, &t.CreatedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return t, ErrNotFound }
        return t, err
    }
    t.OriginAddr = originAddr.String
    t.Date = date.String
    t.ReturnDate = ret.String
    if len(airports) > 0 { _ = json.Unmarshal(airports, &t.Airports) }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, address, lat, lng, city, country, work_hours, airports FROM trip_stops WHERE trip_id=$1 ORDER BY seq`, id)
    if err != nil { return t, err }
    defer rows.Close()
    for rows.Next() {
        var s model.Stop
        var addr, city, country sql.NullString
        var lat, lng sql.NullFloat64
        var ap []byte
        if err := rows.Scan(&s.ID, &addr, &lat, &lng, &city, &country, &s.WorkHours, &ap); err != nil { return t, err }
        s.Address = addr.String
        s.City = city.String
        s.Country = country.String
        if lat.Valid && lng.Valid {
            s.Location = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
        }
        if len(ap) > 0 { _ = json.Unmarshal(ap, &s.Airports) }
        t.Stops = append(t.Stops, s)
    }
    return t, rows.Err()
}

func (p *Postgres) ListTrips(ctx context.Context, cursor string, limit int) ([]model.Trip, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text FROM trips WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text FROM trips ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    var ids []string
    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil { rows.Close(); return nil, "", err }
        ids = append(ids, id)
    }
    rows.Close()
    out := []model.Trip{}
    var last string
    for _, id := range ids {
        t, err := p.GetTrip(ctx, id)
        if err != nil { return nil, "", err }
        out = append(out, t)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) UpdateTrip(ctx context.Context, t model.Trip) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    res, err := tx.ExecContext(ctx, `UPDATE trips SET name=$2, origin_lat=$3, origin_lng=$4, origin_addr=$5, airports=$6, trip_date=$7, return_date=$8 WHERE id=$1`,
        t.ID, t.Name, t.Origin.Lat, t.Origin.Lng, nullIfEmpty(t.OriginAddr), toJSON(t.Airports), nullIfEmpty(t.Date), nullIfEmpty(t.ReturnDate))
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    if _, err := tx.ExecContext(ctx, `DELETE FROM trip_stops WHERE trip_id=$1`, t.ID); err != nil { return err }
    for i, s := range t.Stops {
        if s.ID == "" { s.ID = uuid.New().String() }
        if err := insertStop(ctx, tx, t.ID, i, s); err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) DeleteTrip(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM trips WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) AddStop(ctx context.Context, tripID string, s model.Stop) (model.Stop, error) {
    if s.ID == "" { s.ID = uuid.New().String() }
    var seq int
    err := p.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq)+1, 0) FROM trip_stops WHERE trip_id=$1`, tripID).Scan(&seq)
    if err != nil { return model.Stop{}, err }
    var exists bool
    if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trips WHERE id=$1)`, tripID).Scan(&exists); err != nil { return model.Stop{}, err }
    if !exists { return model.Stop{}, ErrNotFound }
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return model.Stop{}, err }
    defer func(){ _ = tx.Rollback() }()
    if err := insertStop(ctx, tx, tripID, seq, s); err != nil { return model.Stop{}, err }
    if err := tx.Commit(); err != nil { return model.Stop{}, err }
    return s, nil
}

func (p *Postgres) UpdateStop(ctx context.Context, tripID string, s model.Stop) error {
    var lat, lng any
    if s.Location != nil {
        lat = s.Location.Lat
        lng = s.Location.Lng
    }
    res, err := p.db.ExecContext(ctx, `UPDATE trip_stops SET address=$3, lat=$4, lng=$5, city=$6, country=$7, work_hours=$8, airports=$9 WHERE trip_id=$1 AND id=$2`,
        tripID, s.ID, nullIfEmpty(s.Address), lat, lng, nullIfEmpty(s.City), nullIfEmpty(s.Country), s.WorkHours, toJSON(s.Airports))
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) RemoveStop(ctx context.Context, tripID, stopID string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM trip_stops WHERE trip_id=$1 AND id=$2`, tripID, stopID)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) SavePlan(ctx context.Context, plan model.TripPlan) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO trip_plans (trip_id, revision, stop_order, segments, low_confidence, computed_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (trip_id) DO UPDATE SET revision=$2, stop_order=$3, segments=$4, low_confidence=$5, computed_at=$6`,
        plan.TripID, plan.Revision, toJSON(plan.Order), toJSON(plan.Segments), plan.LowConfidence, plan.ComputedAt)
    return err
}

func (p *Postgres) GetPlan(ctx context.Context, tripID string) (model.TripPlan, error) {
    var plan model.TripPlan
    var order, segments []byte
    row := p.db.QueryRowContext(ctx, `SELECT trip_id::text, revision, stop_order, segments, low_confidence, computed_at FROM trip_plans WHERE trip_id=$1`, tripID)
    if err := row.Scan(&plan.TripID, &plan.Revision, &order, &segments, &plan.LowConfidence, &plan.ComputedAt); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return plan, ErrNotFound }
        return plan, err
    }
    _ = json.Unmarshal(order, &plan.Order)
    _ = json.Unmarshal(segments, &plan.Segments)
    return plan, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, url, events, secret) VALUES ($1,$2,$3,$4)`, id, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE events @> $1::jsonb OR events @> '["*"]'::jsonb`, `["`+eventType+`"]`)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE id::text > $1 ORDER BY id LIMIT $2`, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions ORDER BY id LIMIT $1`, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Subscription{}
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,'pending',0,now())`, id, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func nullIfEmpty(s string) any {
    if s == "" { return nil }
    return s
}

func toJSON(v any) []byte {
    b, _ := json.Marshal(v)
    return b
}
