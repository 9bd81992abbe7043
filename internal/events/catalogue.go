package events

import "time"

// UserCreatedEvent is emitted after a user row is inserted
type UserCreatedEvent struct {
	ID              string
	Username        string
	Email           string
	ProfileImageURL *string
	At              time.Time
}

func (e UserCreatedEvent) DomainEvent() DomainEvent {
	fields := map[string]string{
		FieldUsername: e.Username,
		FieldEmail:    e.Email,
	}
	if e.ProfileImageURL != nil {
		fields[FieldProfileImageURL] = *e.ProfileImageURL
	}
	return DomainEvent{Type: Created, EntityID: e.ID, Fields: fields, Timestamp: stamp(e.At)}
}

// UserUpdatedEvent carries only the display fields that changed
type UserUpdatedEvent struct {
	ID              string
	Username        *string
	ProfileImageURL *string
	At              time.Time
}

func (e UserUpdatedEvent) DomainEvent() DomainEvent {
	fields := map[string]string{}
	if e.Username != nil {
		fields[FieldUsername] = *e.Username
	}
	if e.ProfileImageURL != nil {
		fields[FieldProfileImageURL] = *e.ProfileImageURL
	}
	return DomainEvent{Type: Updated, EntityID: e.ID, Fields: fields, Timestamp: stamp(e.At)}
}

type UserDeletedEvent struct {
	ID string
	At time.Time
}

func (e UserDeletedEvent) DomainEvent() DomainEvent {
	return DomainEvent{Type: Deleted, EntityID: e.ID, Timestamp: stamp(e.At)}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC()
}
