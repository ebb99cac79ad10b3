// Package main runs a demo WebSocket client for trip plan events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a small demo trip
	body := []byte(`{
		"name": "demo",
		"origin": {"lat": 37.77, "lng": -122.42},
		"date": "2026-10-05",
		"stops": [
			{"address": "Sacramento", "location": {"lat": 38.58, "lng": -121.49}},
			{"address": "Los Angeles", "location": {"lat": 34.05, "lng": -118.24}}
		]
	}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/trips", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var trip struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&trip); err != nil {
		log.Fatal(err)
	}
	if trip.ID == "" {
		log.Fatal("no trip id returned")
	}
	log.Printf("Trip ID: %s", trip.ID)

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/plan/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	// connection_init
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	// subscribe to plan events
	pl, _ := json.Marshal(map[string]any{"tripId": trip.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger plan events via reorder
	time.Sleep(500 * time.Millisecond)
	reorder, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/trips/%s/reorder", base, trip.ID), bytes.NewReader([]byte("{}")))
	reorder.Header.Set("Content-Type", "application/json")
	_, _ = http.DefaultClient.Do(reorder)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
