package events

import (
    "testing"
    "time"
)

func TestMemBrokerPublishSubscribe(t *testing.T) {
    b := NewMemBroker()
    ch := b.Subscribe("trip-1")
    b.Publish("trip-1", Event{Type: "plan.updated", Data: map[string]any{"revision": 1}})
    select {
    case evt := <-ch:
        if evt.Type != "plan.updated" {
            t.Fatalf("type = %q", evt.Type)
        }
        if evt.Data["revision"] != 1 {
            t.Fatalf("revision = %v", evt.Data["revision"])
        }
    case <-time.After(time.Second):
        t.Fatal("timed out waiting for event")
    }
}

func TestMemBrokerIsolatesTrips(t *testing.T) {
    b := NewMemBroker()
    ch := b.Subscribe("trip-1")
    b.Publish("trip-2", Event{Type: "plan.updated"})
    select {
    case evt := <-ch:
        t.Fatalf("unexpected event %v", evt)
    case <-time.After(50 * time.Millisecond):
    }
}

func TestMemBrokerUnsubscribeClosesChannel(t *testing.T) {
    b := NewMemBroker()
    ch := b.Subscribe("trip-1")
    b.Unsubscribe("trip-1", ch)
    if _, ok := <-ch; ok {
        t.Fatal("expected closed channel")
    }
    // publish after unsubscribe must not panic
    b.Publish("trip-1", Event{Type: "plan.updated"})
}

func TestMemBrokerDropsWhenFull(t *testing.T) {
    b := NewMemBroker()
    ch := b.Subscribe("trip-1")
    for i := 0; i < 20; i++ {
        b.Publish("trip-1", Event{Type: "plan.updated", Data: map[string]any{"i": i}})
    }
    // buffered at 8, extras dropped rather than blocking the publisher
    n := 0
    for {
        select {
        case <-ch:
            n++
        default:
            if n != 8 {
                t.Fatalf("buffered %d events, want 8", n)
            }
            return
        }
    }
}
