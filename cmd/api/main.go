package main

import (
    "bufio"
    "fmt"
    "log"
    "net"
    "net/http"
    "strconv"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/rs/cors"

    "tripnav/internal/api"
    "tripnav/internal/config"
    "tripnav/internal/flights"
    "tripnav/internal/flights/providers"
    "tripnav/internal/metrics"
    "tripnav/internal/plan"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        log.Fatalf("config: %v", err)
    }
    metrics.RegisterDefault()

    searcher, err := buildSearcher(cfg)
    if err != nil {
        log.Printf("flight providers unavailable: %v", err)
    }

    srvDeps, err := api.NewServer(*cfg, searcher)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    mux := http.NewServeMux()

    // Trips
    mux.HandleFunc("/v1/trips", srvDeps.TripsHandler)
    mux.HandleFunc("/v1/trips/", srvDeps.TripByIDHandler) // includes /stops, /reorder, /plan, /events/stream

    // Stateless planning primitives
    mux.HandleFunc("/v1/sequence", srvDeps.SequenceHandler)
    mux.HandleFunc("/v1/classify", srvDeps.ClassifyHandler)
    mux.HandleFunc("/v1/flights/search", srvDeps.FlightSearchHandler)
    mux.HandleFunc("/v1/suggestions/parse", srvDeps.SuggestionParseHandler)

    // Subscriptions
    mux.HandleFunc("/v1/subscriptions", srvDeps.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", srvDeps.SubscriptionByIDHandler)

    // Plan event stream over WebSocket
    mux.HandleFunc("/v1/plan/ws", srvDeps.PlanWSHandler)

    // Health
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
    mux.HandleFunc("/debugz", srvDeps.DebugJSON)

    metricsHandler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
    if cfg.MetricsAddr != "" {
        // dedicated metrics listener, kept off the public mux
        go func() {
            mm := http.NewServeMux()
            mm.Handle("/metrics", metricsHandler)
            log.Printf("metrics listening on %s", cfg.MetricsAddr)
            if err := http.ListenAndServe(cfg.MetricsAddr, mm); err != nil {
                log.Printf("metrics server: %v", err)
            }
        }()
    } else {
        mux.Handle("/metrics", metricsHandler)
    }

    corsWrap := cors.New(cors.Options{
        AllowedOrigins: cfg.AllowOrigins,
        AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
        AllowedHeaders: []string{"Content-Type"},
    })

    addr := ":" + cfg.Port

    srv := &http.Server{
        Addr:              addr,
        Handler:           logMiddleware(metricsMiddleware(corsWrap.Handler(mux))),
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Printf("API listening on %s", addr)
    if srvDeps.Pub != nil {
        worker := srvDeps.NewWebhookWorker()
        worker.Start()
    }
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

// buildSearcher returns a nil interface on error so downstream nil checks
// hold; a typed-nil *flights.Orchestrator would slip past them.
func buildSearcher(cfg *config.Config) (plan.Searcher, error) {
    entries, err := flights.LoadRoster(cfg.ProviderRosterPath)
    if err != nil {
        return nil, err
    }
    for i := range entries {
        if entries[i].RateRPS == 0 {
            entries[i].RateRPS = cfg.ProviderRateRPS
            entries[i].Burst = cfg.ProviderRateBurst
        }
    }
    list, err := flights.Assemble(entries, func(e flights.RosterEntry) (flights.Provider, error) {
        switch e.Kind {
        case "amadeus":
            return providers.NewAmadeus(e.Name, e.BaseURL), nil
        case "fixture":
            return providers.NewFixture(e.Name, e.Path), nil
        default:
            return nil, fmt.Errorf("unknown provider kind %q", e.Kind)
        }
    })
    if err != nil {
        return nil, err
    }
    if len(list) == 0 {
        return nil, fmt.Errorf("no enabled providers in roster")
    }
    return flights.NewOrchestrator(list, cfg.ProviderTimeout), nil
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        next.ServeHTTP(w, r)
        dur := time.Since(start)
        log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
    })
}

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// SSE and WebSocket handlers need the underlying Flusher/Hijacker.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok {
        f.Flush()
    }
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    if h, ok := r.ResponseWriter.(http.Hijacker); ok {
        return h.Hijack()
    }
    return nil, nil, fmt.Errorf("hijacking not supported")
}

func metricsMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        rec := &statusRecorder{ResponseWriter: w, status: 200}
        start := time.Now()
        next.ServeHTTP(rec, r)
        status := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
    })
}
