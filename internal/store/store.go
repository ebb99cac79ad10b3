package store

import (
    "context"
    "errors"
    "time"

    "tripnav/internal/model"
)

// Store is the persistence boundary for trips, stops, plan snapshots, and
// the webhook delivery queue. The planning core only needs stable identities
// and coordinates; the schema behind this interface is an implementation
// detail.
type Store interface {
    // Trips
    CreateTrip(ctx context.Context, t model.Trip) (model.Trip, error)
    GetTrip(ctx context.Context, id string) (model.Trip, error)
    ListTrips(ctx context.Context, cursor string, limit int) ([]model.Trip, string, error)
    UpdateTrip(ctx context.Context, t model.Trip) error
    DeleteTrip(ctx context.Context, id string) error

    // Stops
    AddStop(ctx context.Context, tripID string, s model.Stop) (model.Stop, error)
    UpdateStop(ctx context.Context, tripID string, s model.Stop) error
    RemoveStop(ctx context.Context, tripID, stopID string) error

    // Plan snapshots
    SavePlan(ctx context.Context, p model.TripPlan) error
    GetPlan(ctx context.Context, tripID string) (model.TripPlan, error)

    // Subscriptions
    CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error)
    GetSubscriptionsForEvent(ctx context.Context, eventType string) ([]model.Subscription, error)
    ListSubscriptions(ctx context.Context, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, id string) error

    // Webhook deliveries
    EnqueueWebhook(ctx context.Context, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
    FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
    MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
    FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

var ErrNotFound = errors.New("not found")
