// Package api implements the HTTP surface of the trip planning service.
package api

import (
    "context"
    "strings"
    "sync"

    "tripnav/internal/config"
    "tripnav/internal/events"
    "tripnav/internal/geo"
    "tripnav/internal/model"
    "tripnav/internal/opt"
    "tripnav/internal/plan"
    "tripnav/internal/store"
    "tripnav/internal/webhooks"
)

type Server struct {
    Store    store.Store
    Pub      *webhooks.Publisher
    Broker   events.Broker
    Cfg      config.Config
    Oracle   geo.Oracle
    Modes    opt.Thresholds
    Searcher plan.Searcher

    mu     sync.Mutex
    coords map[string]*plan.Coordinator
}

// NewServer wires the store, broker, and planning deps. If DATABASE_URL is
// unset, uses the in-memory store.
func NewServer(cfg config.Config, searcher plan.Searcher) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        // Run migrations (dev helper)
        _ = sp.MigrateDir("db/migrations")
        s = sp
    }

    var broker events.Broker
    if cfg.RedisURL != "" {
        if rb, err := events.NewRedisBroker(cfg.RedisURL); err == nil {
            broker = rb
        } else {
            broker = events.NewMemBroker()
        }
    } else {
        broker = events.NewMemBroker()
    }
    if cfg.NATSURL != "" {
        if np, err := events.NewNATSPublisher(cfg.NATSURL); err == nil {
            broker = &events.Tee{Primary: broker, Extra: []interface{ Publish(string, events.Event) }{np}}
        }
    }

    return &Server{
        Store:    s,
        Pub:      webhooks.NewPublisher(s),
        Broker:   broker,
        Cfg:      cfg,
        Oracle:   geo.Haversine{SpeedKph: cfg.DriveSpeedKph},
        Modes:    opt.Thresholds{FlyDistanceKm: cfg.FlyDistanceKm, FlyDurationMin: cfg.FlyDurationMin},
        Searcher: searcher,
        coords:   map[string]*plan.Coordinator{},
    }, nil
}

// coordinator returns the live coordinator for the trip, creating one from
// stored state on first use.
func (s *Server) coordinator(ctx context.Context, tripID string) (*plan.Coordinator, error) {
    s.mu.Lock()
    if c, ok := s.coords[tripID]; ok {
        s.mu.Unlock()
        return c, nil
    }
    s.mu.Unlock()

    trip, err := s.Store.GetTrip(ctx, tripID)
    if err != nil {
        return nil, err
    }
    c := plan.NewCoordinator(trip, plan.Deps{
        Oracle:            s.Oracle,
        TwoOptPasses:      s.Cfg.TwoOptPasses,
        Thresholds:        s.Modes,
        Searcher:          s.Searcher,
        Store:             s.Store,
        Broker:            s.Broker,
        Emitter:           s.Pub,
        LongFlightWarnMin: s.Cfg.LongFlightWarnMin,
    })
    if saved, err := s.Store.GetPlan(ctx, tripID); err == nil {
        c.Restore(saved)
    }

    s.mu.Lock()
    defer s.mu.Unlock()
    if existing, ok := s.coords[tripID]; ok {
        return existing, nil
    }
    s.coords[tripID] = c
    return c, nil
}

// adopt registers a coordinator for a freshly created trip.
func (s *Server) adopt(trip model.Trip) *plan.Coordinator {
    c := plan.NewCoordinator(trip, plan.Deps{
        Oracle:            s.Oracle,
        TwoOptPasses:      s.Cfg.TwoOptPasses,
        Thresholds:        s.Modes,
        Searcher:          s.Searcher,
        Store:             s.Store,
        Broker:            s.Broker,
        Emitter:           s.Pub,
        LongFlightWarnMin: s.Cfg.LongFlightWarnMin,
    })
    s.mu.Lock()
    s.coords[trip.ID] = c
    s.mu.Unlock()
    return c
}

func (s *Server) evict(tripID string) {
    s.mu.Lock()
    delete(s.coords, tripID)
    s.mu.Unlock()
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store)
}
