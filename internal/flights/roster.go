package flights

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RosterEntry describes one provider in the externally supplied priority list.
// The orchestrator never hardcodes provider order; ops own this file.
type RosterEntry struct {
	Name     string  `yaml:"name"`
	Priority int     `yaml:"priority"`
	Enabled  bool    `yaml:"enabled"`
	RateRPS  float64 `yaml:"rateRps,omitempty"`
	Burst    int     `yaml:"burst,omitempty"`

	// Adapter-specific settings.
	Kind    string `yaml:"kind"` // "amadeus" or "fixture"
	BaseURL string `yaml:"baseUrl,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

type rosterFile struct {
	Providers []RosterEntry `yaml:"providers"`
}

// LoadRoster reads the provider roster YAML.
func LoadRoster(path string) ([]RosterEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	return f.Providers, nil
}

// Assemble turns roster entries into an ordered, enabled, rate-limited
// provider list. build maps one entry to its concrete adapter.
func Assemble(entries []RosterEntry, build func(RosterEntry) (Provider, error)) ([]Provider, error) {
	enabled := make([]RosterEntry, 0, len(entries))
	for _, e := range entries {
		if e.Enabled {
			enabled = append(enabled, e)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	providers := make([]Provider, 0, len(enabled))
	for _, e := range enabled {
		p, err := build(e)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", e.Name, err)
		}
		if e.RateRPS > 0 {
			p = NewRateLimited(p, e.RateRPS, e.Burst)
		}
		providers = append(providers, p)
	}
	return providers, nil
}
