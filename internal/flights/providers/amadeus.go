package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tripnav/internal/flights"
	"tripnav/internal/model"
)

// Amadeus queries the Amadeus flight-offers API. Tokens are client-credential
// OAuth, cached until shortly before expiry.
type Amadeus struct {
	name         string
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewAmadeus(name, baseURL string) *Amadeus {
	if baseURL == "" {
		baseURL = "https://test.api.amadeus.com"
	}
	return &Amadeus{
		name:         name,
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     os.Getenv("AMADEUS_CLIENT_ID"),
		clientSecret: os.Getenv("AMADEUS_CLIENT_SECRET"),
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *Amadeus) Name() string { return a.name }

func (a *Amadeus) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}
	if a.clientID == "" || a.clientSecret == "" {
		return "", fmt.Errorf("amadeus credentials not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.clientID)
	form.Set("client_secret", a.clientSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/security/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token: %v", flights.ErrTemporary, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token request failed: %d %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	a.accessToken = tok.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-60) * time.Second)
	return a.accessToken, nil
}

// offersResponse is the subset of the flight-offers payload we consume.
type offersResponse struct {
	Data []struct {
		Itineraries []amadeusItinerary `json:"itineraries"`
		Price       struct {
			GrandTotal string `json:"grandTotal"`
		} `json:"price"`
	} `json:"data"`
}

type amadeusItinerary struct {
	Duration string           `json:"duration"` // ISO8601, e.g. PT5H35M
	Segments []amadeusSegment `json:"segments"`
}

type amadeusSegment struct {
	Departure   amadeusPoint `json:"departure"`
	Arrival     amadeusPoint `json:"arrival"`
	CarrierCode string       `json:"carrierCode"`
	Number      string       `json:"number"`
	Duration    string       `json:"duration"`
}

type amadeusPoint struct {
	IataCode string `json:"iataCode"`
	At       string `json:"at"`
}

func (a *Amadeus) Search(ctx context.Context, q flights.Query) ([]model.FlightOption, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("originLocationCode", strings.ToUpper(q.Origin))
	params.Set("destinationLocationCode", strings.ToUpper(q.Destination))
	params.Set("departureDate", q.DepartureDate.Format("2006-01-02"))
	if q.ReturnDate != nil {
		params.Set("returnDate", q.ReturnDate.Format("2006-01-02"))
	}
	params.Set("adults", "1")
	params.Set("max", "20")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v2/shopping/flight-offers?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", flights.ErrTemporary, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: offers request: %d", flights.ErrTemporary, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("offers request failed: %d %s", resp.StatusCode, string(body))
	}

	var offers offersResponse
	if err := json.NewDecoder(resp.Body).Decode(&offers); err != nil {
		return nil, fmt.Errorf("decode offers: %w", err)
	}

	out := make([]model.FlightOption, 0, len(offers.Data))
	for _, d := range offers.Data {
		if len(d.Itineraries) == 0 {
			continue
		}
		outbound, err := a.mapItinerary(d.Itineraries[0])
		if err != nil {
			continue // skip malformed offers, keep the rest
		}
		price, _ := strconv.ParseFloat(d.Price.GrandTotal, 64)
		opt := model.FlightOption{
			Price:    price,
			Outbound: outbound,
			Provider: a.name,
		}
		if len(d.Itineraries) > 1 {
			ret, err := a.mapItinerary(d.Itineraries[1])
			if err == nil {
				opt.Return = &ret
				opt.RoundTrip = true
			}
		}
		out = append(out, opt)
	}
	return out, nil
}

func (a *Amadeus) mapItinerary(it amadeusItinerary) (model.FlightLeg, error) {
	if len(it.Segments) == 0 {
		return model.FlightLeg{}, fmt.Errorf("itinerary has no segments")
	}
	first := it.Segments[0]
	last := it.Segments[len(it.Segments)-1]
	depart, err := time.Parse("2006-01-02T15:04:05", first.Departure.At)
	if err != nil {
		return model.FlightLeg{}, fmt.Errorf("departure time: %w", err)
	}
	arrive, err := time.Parse("2006-01-02T15:04:05", last.Arrival.At)
	if err != nil {
		return model.FlightLeg{}, fmt.Errorf("arrival time: %w", err)
	}

	leg := model.FlightLeg{
		Origin:       first.Departure.IataCode,
		Destination:  last.Arrival.IataCode,
		Carrier:      first.CarrierCode,
		FlightNumber: first.CarrierCode + first.Number,
		DepartAt:     depart,
		ArriveAt:     arrive,
		DurationMin:  parseISODurationMin(it.Duration),
	}
	if leg.DurationMin == 0 {
		leg.DurationMin = int(arrive.Sub(depart).Minutes())
	}
	for _, s := range it.Segments {
		sd, err := time.Parse("2006-01-02T15:04:05", s.Departure.At)
		if err != nil {
			return model.FlightLeg{}, fmt.Errorf("segment departure: %w", err)
		}
		sa, err := time.Parse("2006-01-02T15:04:05", s.Arrival.At)
		if err != nil {
			return model.FlightLeg{}, fmt.Errorf("segment arrival: %w", err)
		}
		leg.Segments = append(leg.Segments, model.FlightSubSegment{
			FlightNumber: s.CarrierCode + s.Number,
			From:         s.Departure.IataCode,
			To:           s.Arrival.IataCode,
			DepartAt:     sd,
			ArriveAt:     sa,
			DurationMin:  parseISODurationMin(s.Duration),
		})
	}
	return leg, nil
}

// parseISODurationMin handles the PT#H#M durations the offers API emits.
func parseISODurationMin(s string) int {
	s = strings.TrimPrefix(strings.ToUpper(s), "PT")
	total := 0
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'H':
			if n, err := strconv.Atoi(num); err == nil {
				total += n * 60
			}
			num = ""
		case r == 'M':
			if n, err := strconv.Atoi(num); err == nil {
				total += n
			}
			num = ""
		default:
			num = ""
		}
	}
	return total
}
