package events

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher mirrors plan events onto NATS subjects
// (trips.<tripId>.<event-type>) for downstream consumers outside this
// service. Optional: only wired when NATS_URL is set.
type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("tripnav"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(tripID string, evt Event) {
	subject := fmt.Sprintf("trips.%s.%s", tripID, strings.ReplaceAll(evt.Type, ".", "-"))
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Printf("nats publish %s: %v", subject, err)
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain() //nolint:errcheck
	}
}

// Tee forwards every published event to both a Broker and extra publishers
// (e.g. NATS). It satisfies Broker by delegating subscriptions to the
// primary.
type Tee struct {
	Primary Broker
	Extra   []interface{ Publish(string, Event) }
}

func (t *Tee) Subscribe(tripID string) chan Event { return t.Primary.Subscribe(tripID) }

func (t *Tee) Unsubscribe(tripID string, ch chan Event) { t.Primary.Unsubscribe(tripID, ch) }

func (t *Tee) Publish(tripID string, evt Event) {
	t.Primary.Publish(tripID, evt)
	for _, e := range t.Extra {
		e.Publish(tripID, evt)
	}
}
