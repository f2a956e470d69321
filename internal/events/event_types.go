package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/assistant-gate/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAccountCreated EventType = "account_created"
	EventLoginSucceeded EventType = "login_succeeded"
	EventLoginFailed    EventType = "login_failed"
	EventLoginThrottled EventType = "login_throttled"
	EventLoggedOut      EventType = "logged_out"
)

// AllEventTypes lists every type a subscriber can register for.
var AllEventTypes = []EventType{
	EventAccountCreated,
	EventLoginSucceeded,
	EventLoginFailed,
	EventLoginThrottled,
	EventLoggedOut,
}

// Event represents an auth event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	SubjectID string      `json:"subject_id,omitempty"`
	Tier      domain.Tier `json:"tier,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(eventType EventType, subjectID string, tier domain.Tier, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		SubjectID: subjectID,
		Tier:      tier,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// LoginFailedPayload payload.
type LoginFailedPayload struct {
	Reason string `json:"reason"`
}

// LoginThrottledPayload payload.
type LoginThrottledPayload struct {
	Attempts   int64         `json:"attempts"`
	RetryAfter time.Duration `json:"retry_after"`
}

// LoggedOutPayload payload.
type LoggedOutPayload struct {
	TokenID string `json:"token_id,omitempty"`
	Revoked bool   `json:"revoked"`
}
