package model

import "time"

// EventType is the tagged-union discriminant for the wire envelope. Dispatch
// on this value is always explicit switch/case, never runtime type
// introspection (see design note on event envelope polymorphism).
type EventType string

const (
	EventTargetTimeChanged    EventType = "TARGET_TIME_CHANGED"
	EventTimestampSaved       EventType = "TIMESTAMP_SAVED"
	EventUserJoined           EventType = "USER_JOINED"
	EventUserLeft             EventType = "USER_LEFT"
	EventTimerCompleted       EventType = "TIMER_COMPLETED"
	EventSharedTimerAccessed  EventType = "SHARED_TIMER_ACCESSED"
	EventOnlineCountUpdated   EventType = "ONLINE_USER_COUNT_UPDATED"
)

// Topic groups event types onto one of the Fleet Event Bus's two streams.
type Topic string

const (
	TopicTimerEvents Topic = "timer-events"
	TopicUserActions Topic = "user-actions"
)

// TopicOf returns the stream an event type is published on. Routing by
// event class is an implementation choice; every server consumes both
// topics regardless.
func TopicOf(t EventType) Topic {
	switch t {
	case EventTargetTimeChanged, EventTimerCompleted, EventSharedTimerAccessed:
		return TopicTimerEvents
	default:
		return TopicUserActions
	}
}

// AlwaysDispatch reports whether an event type bypasses the
// isServerRelevant presence filter: the owner may be the only viewer on a
// given server, and owner-only notifications must still reach them.
func AlwaysDispatch(t EventType) bool {
	switch t {
	case EventSharedTimerAccessed, EventTargetTimeChanged, EventTimerCompleted:
		return true
	default:
		return false
	}
}

// Envelope is the common wire format for both the Fleet Event Bus and the
// WebSocket session transport.
type Envelope struct {
	EventType      EventType      `json:"eventType"`
	EventID        string         `json:"eventId"`
	TimerID        string         `json:"timerId"`
	Timestamp      time.Time      `json:"timestamp"`
	OriginServerID string         `json:"originServerId"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// EventLogRecord is the Fleet Event Bus's own append-only audit trail,
// written once per delivered event per consuming server (4.D step 3).
// Payload is the originating Envelope's JSON, zstd-compressed, or stored
// as plain JSON when compression would not shrink it.
type EventLogRecord struct {
	ID             int64     `db:"id" json:"id"`
	TimerID        string    `db:"timer_id" json:"timerId"`
	EventType      EventType `db:"event_type" json:"eventType"`
	EventID        string    `db:"event_id" json:"eventId"`
	OriginServerID string    `db:"origin_server_id" json:"originServerId"`
	Payload        []byte    `db:"payload" json:"-"`
	PersistedAt    time.Time `db:"persisted_at" json:"persistedAt"`
}
