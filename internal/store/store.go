package store

import (
	"context"
	"time"

	"github.com/cadencehq/cadence/internal/model"
)

// Store exposes persistence operations required by the orchestrator.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
type Store interface {
	Conversations() Conversations
	Turns() Turns
	Insights() Insights
	PendingEvents() PendingEvents
	BufferPolicies() BufferPolicies
	CalendarTokens() CalendarTokens

	// ApplyTransition persists the outcome of one handled message in a
	// single transaction: the conversation update (guarded by version),
	// turn appends, insight appends, and the pending-event change.
	// Returns model.ErrConflict when the conversation version check fails.
	ApplyTransition(ctx context.Context, t *Transition) error

	HealthPing(ctx context.Context) error
}

// PendingOp selects what ApplyTransition does with the pending event.
type PendingOp int

const (
	PendingNone PendingOp = iota
	PendingPut
	PendingDelete
)

// Transition is the atomic write unit produced per inbound message.
// Conversation.Version must hold the version that was read; the store bumps
// it on success. Turn sequence numbers are assigned by the store.
type Transition struct {
	Conversation *model.Conversation
	Turns        []*model.Turn
	Insights     []*model.Insight
	Pending      PendingOp
	PendingEvent *model.PendingEvent
	PendingUser  string // user whose pending event is deleted when Pending == PendingDelete
}

type Conversations interface {
	Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)
	// LatestActive returns the most recent active conversation for the user,
	// or model.ErrNotFound.
	LatestActive(ctx context.Context, userID string) (*model.Conversation, error)
}

type Turns interface {
	// List returns turns in ascending sequence order. limit <= 0 means all.
	List(ctx context.Context, conversationID string, limit int) ([]*model.Turn, error)
}

type Insights interface {
	List(ctx context.Context, conversationID string) ([]*model.Insight, error)
}

type PendingEvents interface {
	Get(ctx context.Context, userID string) (*model.PendingEvent, error)
	Put(ctx context.Context, p *model.PendingEvent) error
	Delete(ctx context.Context, userID string) error
	// DeleteExpired removes pending events created before the cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

type BufferPolicies interface {
	Get(ctx context.Context, userID string) (*model.BufferPolicy, error)
	Put(ctx context.Context, p *model.BufferPolicy) error
}

type CalendarTokens interface {
	Get(ctx context.Context, userID string) (*model.CalendarToken, error)
	Put(ctx context.Context, t *model.CalendarToken) error
	Delete(ctx context.Context, userID string) error
}
