package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every tunable policy knob for the planning engine. Values
// come from the environment (optionally seeded from a .env file) so that
// thresholds can move without touching logic.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	// Travel mode classification thresholds.
	FlyDistanceKm  float64
	FlyDurationMin float64

	// Long flights get a warning annotation on their segment.
	LongFlightWarnMin int

	// Sequencing: optional 2-opt passes over the greedy order (0 disables).
	TwoOptPasses int

	// Fallback drive speed used when no routing provider is configured.
	DriveSpeedKph float64

	// Flight search.
	ProviderRosterPath string
	ProviderTimeout    time.Duration
	ProviderRateRPS    float64
	ProviderRateBurst  int

	AllowOrigins []string
	MetricsAddr  string
}

// Load reads configuration from the environment. A missing .env is fine.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getenvDefault("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		NATSURL:            os.Getenv("NATS_URL"),
		ProviderRosterPath: getenvDefault("PROVIDER_ROSTER", "config/providers.yaml"),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),
	}

	var err error
	if cfg.FlyDistanceKm, err = floatEnv("FLY_DISTANCE_KM", 300); err != nil {
		return nil, err
	}
	if cfg.FlyDurationMin, err = floatEnv("FLY_DURATION_MIN", 240); err != nil {
		return nil, err
	}
	if cfg.LongFlightWarnMin, err = intEnv("LONG_FLIGHT_WARN_MIN", 600); err != nil {
		return nil, err
	}
	if cfg.TwoOptPasses, err = intEnv("SEQUENCE_TWO_OPT_PASSES", 0); err != nil {
		return nil, err
	}
	if cfg.DriveSpeedKph, err = floatEnv("DRIVE_SPEED_KPH", 80); err != nil {
		return nil, err
	}
	if cfg.ProviderRateRPS, err = floatEnv("PROVIDER_RATE_RPS", 5); err != nil {
		return nil, err
	}
	if cfg.ProviderRateBurst, err = intEnv("PROVIDER_RATE_BURST", 5); err != nil {
		return nil, err
	}

	timeoutMs, err := intEnv("PROVIDER_TIMEOUT_MS", 5000)
	if err != nil {
		return nil, err
	}
	cfg.ProviderTimeout = time.Duration(timeoutMs) * time.Millisecond

	if v := os.Getenv("ALLOW_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, o)
			}
		}
	} else {
		cfg.AllowOrigins = []string{"*"}
	}

	if cfg.FlyDistanceKm <= 0 || cfg.FlyDurationMin <= 0 {
		return nil, fmt.Errorf("fly thresholds must be positive (got %v km, %v min)", cfg.FlyDistanceKm, cfg.FlyDurationMin)
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func floatEnv(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}
