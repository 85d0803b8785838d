package strava

import (
	"encoding/json"
	"fmt"
)

// Event is a push subscription delivery.
type Event struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates,omitempty"`
}

// WantsSync reports whether the event should trigger an activity fetch.
func (e Event) WantsSync() bool {
	if e.ObjectType != "activity" || e.ObjectID == 0 {
		return false
	}
	return e.AspectType == "create" || e.AspectType == "update"
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("parse webhook event: %w", err)
	}
	return e, nil
}
