package api

import (
    "encoding/json"
    "net/http"
    "time"

    "tripnav/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT":              s.Cfg.Port,
            "FLY_DISTANCE_KM":   s.Cfg.FlyDistanceKm,
            "FLY_DURATION_MIN":  s.Cfg.FlyDurationMin,
            "TWO_OPT_PASSES":    s.Cfg.TwoOptPasses,
            "PROVIDER_ROSTER":   s.Cfg.ProviderRosterPath,
            "HAS_DATABASE_URL":  s.Cfg.DatabaseURL != "",
            "HAS_REDIS_URL":     s.Cfg.RedisURL != "",
            "HAS_NATS_URL":      s.Cfg.NATSURL != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
