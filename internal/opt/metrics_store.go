package opt

import "sync"

// Stats describes one sequencing run.
type Stats struct {
	Stops        int     `json:"stops"`
	TourKm       float64 `json:"tourKm"`
	MissingPairs int     `json:"missingPairs"`
	TwoOptGainKm float64 `json:"twoOptGainKm,omitempty"`
}

var (
	mu    sync.Mutex
	store = map[string]Stats{}
)

// RecordStats keeps the latest sequencing stats per trip.
func RecordStats(tripID string, s Stats) {
	mu.Lock()
	store[tripID] = s
	mu.Unlock()
}

// GetStats returns the latest sequencing stats for a trip.
func GetStats(tripID string) (Stats, bool) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := store[tripID]
	return s, ok
}
