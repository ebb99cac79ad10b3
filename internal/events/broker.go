package events

import (
    "sync"
)

// Event is a plan-level notification (plan.updated, flight.selected,
// search.failed) fanned out to stream subscribers.
type Event struct {
    Type string
    Data map[string]any
}

// Broker fans plan events out to subscribers keyed by trip id.
type Broker interface {
    Subscribe(tripID string) chan Event
    Unsubscribe(tripID string, ch chan Event)
    Publish(tripID string, evt Event)
}

// MemBroker is the in-process broker used when no REDIS_URL is set.
type MemBroker struct {
    mu   sync.Mutex
    subs map[string]map[chan Event]struct{} // tripId -> set of channels
}

func NewMemBroker() *MemBroker {
    return &MemBroker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *MemBroker) Subscribe(tripID string) chan Event {
    ch := make(chan Event, 8)
    b.mu.Lock()
    if b.subs[tripID] == nil {
        b.subs[tripID] = map[chan Event]struct{}{}
    }
    b.subs[tripID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *MemBroker) Unsubscribe(tripID string, ch chan Event) {
    b.mu.Lock()
    if m := b.subs[tripID]; m != nil {
        delete(m, ch)
        if len(m) == 0 {
            delete(b.subs, tripID)
        }
    }
    b.mu.Unlock()
    close(ch)
}

func (b *MemBroker) Publish(tripID string, evt Event) {
    b.mu.Lock()
    m := b.subs[tripID]
    for ch := range m {
        select {
        case ch <- evt:
        default:
        }
    }
    b.mu.Unlock()
}
