// Package calendar defines the boundary to the external calendar provider.
// The orchestration layer needs only authorization state, event listing, and
// event creation; everything else is the provider's concern.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNotAuthorized is returned when the user has no (or expired) delegated
// credentials. Callers surface a reconnect prompt.
var ErrNotAuthorized = errors.New("calendar not authorized")

// ErrInvalidTime is returned when the provider rejects the event times
// themselves. Retrying the same request cannot succeed; callers ask the user
// to restate the time.
var ErrInvalidTime = errors.New("calendar rejected event time")

// Event is an existing calendar commitment.
type Event struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CreateEventRequest carries everything needed to create an event.
type CreateEventRequest struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Location    string
	Attendees   []string
}

// CreatedEvent is the provider's acknowledgment of a created event.
type CreatedEvent struct {
	ID   string
	Link string
}

// Provider is the calendar collaborator. Credentials are per-user and
// obtained through the consent flow (AuthURL + Exchange).
type Provider interface {
	AuthURL(userID string) string
	Exchange(ctx context.Context, userID, code string) error
	IsAuthorized(ctx context.Context, userID string) bool
	ListEvents(ctx context.Context, userID string, min, max time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, userID string, req CreateEventRequest) (*CreatedEvent, error)
}
