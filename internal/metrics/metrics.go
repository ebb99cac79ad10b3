package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()

    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // ProviderQueries counts flight provider queries by provider and outcome
    ProviderQueries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "flight_provider_queries_total", Help: "Flight provider queries by provider and status."},
        []string{"provider", "status"},
    )
    // ProviderLatency tracks per-provider query latency in seconds
    ProviderLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "flight_provider_latency_seconds", Help: "Flight provider query latency.", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}},
        []string{"provider"},
    )
    // FlightFallbackDepth observes how far down the airport ladder a search went
    // (0 = primary pair, 3 = exhausted)
    FlightFallbackDepth = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "flight_search_fallback_depth", Help: "Airport fallback ladder depth per search.", Buckets: []float64{0, 1, 2, 3}},
    )
    // FlightSearches counts orchestrated searches by outcome
    FlightSearches = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "flight_searches_total", Help: "Orchestrated flight searches by outcome."},
        []string{"outcome"},
    )

    // PlanRecomputes counts segment recomputations by trigger
    PlanRecomputes = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "plan_recomputes_total", Help: "Trip plan recomputations by trigger."},
        []string{"trigger"},
    )
    // SequenceDuration records sequencing runs in seconds
    SequenceDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "sequence_duration_seconds", Help: "Route sequencing duration.", Buckets: prometheus.DefBuckets},
    )

    // SuggestionParses counts suggestion parses by source and outcome
    SuggestionParses = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "suggestion_parses_total", Help: "Suggestion parses by source and outcome."},
        []string{"source", "outcome"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(ProviderQueries)
        Registry.MustRegister(ProviderLatency)
        Registry.MustRegister(FlightFallbackDepth)
        Registry.MustRegister(FlightSearches)
        Registry.MustRegister(PlanRecomputes)
        Registry.MustRegister(SequenceDuration)
        Registry.MustRegister(SuggestionParses)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
