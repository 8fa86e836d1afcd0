package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// EventServiceFeaturesUpdated carries the verification result of one
	// app's service features; it is the engine's outbound notification.
	EventServiceFeaturesUpdated EventType = "app.service_features.updated"

	EventAppRegistered   EventType = "app.registered"
	EventAppUnregistered EventType = "app.unregistered"

	EventResourceGroupInstalled   EventType = "rg.installed"
	EventResourceGroupUninstalled EventType = "rg.uninstalled"

	EventPresetAdded   EventType = "preset.added"
	EventPresetRemoved EventType = "preset.removed"

	EventContextsRefreshed EventType = "contexts.refreshed"
	EventBundlesChanged    EventType = "plugin.bundles.changed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Subject   string          `json:"subject,omitempty"` // app or resource-group package the event is about
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServiceFeatureUpdate is the payload of EventServiceFeaturesUpdated.
type ServiceFeatureUpdate struct {
	App      string          `json:"app"`
	Features map[string]bool `json:"features"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
