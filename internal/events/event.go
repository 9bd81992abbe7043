package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the lifecycle transition an event reports
type Type string

const (
	Created Type = "created"
	Updated Type = "updated"
	Deleted Type = "deleted"
)

// SourceUser is the routing key prefix of events owned by the user service
const SourceUser = "user"

// Field names carried in DomainEvent.Fields for user events
const (
	FieldUsername        = "username"
	FieldEmail           = "email"
	FieldProfileImageURL = "profileImageUrl"
)

// DomainEvent is a broadcast notification of one state transition of an owning entity.
// (Type, EntityID, Timestamp) identifies it; redelivery of the same event is expected
type DomainEvent struct {
	Type      Type              `json:"type"`
	EntityID  string            `json:"entityId"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func (e DomainEvent) Validate() error {
	switch e.Type {
	case Created, Updated, Deleted:
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.EntityID == "" {
		return fmt.Errorf("event %s has no entity id", e.Type)
	}
	return nil
}

// RoutingKey is {source}.{type}, e.g. user.created
func RoutingKey(source string, t Type) string {
	return source + "." + string(t)
}

// Decode parses and validates a wire event
func Decode(body []byte) (DomainEvent, error) {
	var ev DomainEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return DomainEvent{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return ev, nil
}
