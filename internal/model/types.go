package model

import (
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
// Conversations are never deleted, only marked completed.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
)

// StageState is the onboarding sub-state used while Stage == 0.
type StageState string

const (
	StateAwaitingName      StageState = "awaiting_name"
	StateConfirmingName    StageState = "confirming_name"
	StateExplainingProcess StageState = "explaining_process"
	StateActive            StageState = "active"
)

// Conversation is the durable per-user dialogue record. Stage runs 0-10
// (0 is pre-dialogue onboarding) and only ever moves forward. Version backs
// the optimistic-concurrency check on every update.
type Conversation struct {
	ConversationID string             `json:"conversationId"`
	UserID         string             `json:"userId"`
	Stage          int                `json:"stage"`
	StageState     StageState         `json:"stageState"`
	Status         ConversationStatus `json:"status"`
	Extensions     map[string]string  `json:"extensions,omitempty"`
	Version        int64              `json:"version"`
	CreationTime   time.Time          `json:"creationTime"`
	UpdateTime     time.Time          `json:"updateTime"`
}

// Extension keys used by the orchestrator.
const (
	ExtUserName                 = "user_name"
	ExtNameAttempts             = "name_attempts"
	ExtCalendarConsentRequested = "calendar_consent_requested"
	ExtCalendarConfirmed        = "calendar_confirmed"
	ExtCalendarReviewed         = "calendar_reviewed"
	ExtStageStartSeq            = "stage_start_seq"
)

// TurnRole identifies who produced a turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one immutable, ordered entry in a conversation's transcript.
type Turn struct {
	ConversationID string    `json:"conversationId"`
	Seq            int64     `json:"seq"`
	Role           TurnRole  `json:"role"`
	Body           string    `json:"body"`
	CreationTime   time.Time `json:"creationTime"`
}

// Insight is a structured extraction tied to a stage and turn. Append-only;
// superseded insights accumulate and are reconciled at compile time.
type Insight struct {
	InsightID      string         `json:"insightId"`
	ConversationID string         `json:"conversationId"`
	Stage          int            `json:"stage"`
	TurnSeq        int64          `json:"turnSeq"`
	Fields         map[string]any `json:"fields,omitempty"`
	KeyInsights    []string       `json:"keyInsights,omitempty"`
	Confidence     float64        `json:"confidence"`
	CreationTime   time.Time      `json:"creationTime"`
}

// Confidence labels attached to an EventDraft.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// EventDraft is the structured, possibly-incomplete result of parsing a
// scheduling request. Ephemeral: consumed immediately by the buffer and
// conflict stages.
type EventDraft struct {
	Title              string     `json:"title"`
	Start              time.Time  `json:"start"`
	End                time.Time  `json:"end"`
	DurationMinutes    int        `json:"durationMinutes"`
	Location           string     `json:"location,omitempty"`
	Attendees          []string   `json:"attendees,omitempty"`
	Confidence         Confidence `json:"confidence"`
	MissingFields      []string   `json:"missingFields,omitempty"`
	NeedsClarification bool       `json:"needsClarification"`
}

// PaddedWindow is an event window plus protective buffer on both sides.
type PaddedWindow struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	PaddedStart time.Time `json:"paddedStart"`
	PaddedEnd   time.Time `json:"paddedEnd"`
	PreMinutes  int       `json:"preMinutes"`
	PostMinutes int       `json:"postMinutes"`
}

// ConflictKind classifies how two intervals overlap.
type ConflictKind string

const (
	ConflictContained  ConflictKind = "contained"  // new event fully inside existing
	ConflictContaining ConflictKind = "containing" // existing event fully inside new
	ConflictPartial    ConflictKind = "partial"
)

// Conflict references an existing calendar event that collides with a
// proposed padded window.
type Conflict struct {
	EventID        string       `json:"eventId"`
	Title          string       `json:"title"`
	Start          time.Time    `json:"start"`
	End            time.Time    `json:"end"`
	OverlapMinutes int          `json:"overlapMinutes"`
	Kind           ConflictKind `json:"kind"`
}

// Severity summarizes how badly a padded window overlaps existing commitments.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PendingState is the confirmation-protocol state of a pending event.
type PendingState string

const (
	PendingProposed        PendingState = "proposed"
	PendingAdjustingTime   PendingState = "adjusting_time"
	PendingAdjustingBuffer PendingState = "adjusting_buffer"
)

// PendingEventTTL is how long a proposal survives without a decision.
const PendingEventTTL = 30 * time.Minute

// PendingEvent is the single in-flight, unconfirmed scheduling proposal for a
// user. Destroyed on confirm, cancel, modification-restart, or expiry.
type PendingEvent struct {
	UserID       string       `json:"userId"`
	State        PendingState `json:"state"`
	Draft        EventDraft   `json:"draft"`
	Window       PaddedWindow `json:"window"`
	Conflicts    []Conflict   `json:"conflicts,omitempty"`
	Severity     Severity     `json:"severity"`
	CreationTime time.Time    `json:"creationTime"`
}

// Expired reports whether the pending event is older than PendingEventTTL.
func (p *PendingEvent) Expired(now time.Time) bool {
	return now.Sub(p.CreationTime) > PendingEventTTL
}

// BufferPolicy is per-user buffer configuration. Defaults exist for every
// user; overrides persist alongside the conversation.
type BufferPolicy struct {
	UserID                  string `json:"userId"`
	PreMinutes              int    `json:"preMinutes"`
	PostMinutes             int    `json:"postMinutes"`
	MeetingSurchargeMinutes int    `json:"meetingSurchargeMinutes"`
	WeekendBuffering        bool   `json:"weekendBuffering"`
	MaxBufferMinutes        int    `json:"maxBufferMinutes"`
}

// DefaultBufferPolicy returns the stock policy applied when a user has no
// stored override.
func DefaultBufferPolicy(userID string) *BufferPolicy {
	return &BufferPolicy{
		UserID:                  userID,
		PreMinutes:              15,
		PostMinutes:             30,
		MeetingSurchargeMinutes: 10,
		WeekendBuffering:        false,
		MaxBufferMinutes:        60,
	}
}

// Validate reports whether the policy values are usable. Failures wrap
// ErrValidation.
func (p *BufferPolicy) Validate() error {
	if p.PreMinutes < 0 || p.PostMinutes < 0 || p.MeetingSurchargeMinutes < 0 {
		return fmt.Errorf("%w: buffer minutes must be non-negative", ErrValidation)
	}
	if p.MaxBufferMinutes <= 0 {
		return fmt.Errorf("%w: maxBufferMinutes must be positive", ErrValidation)
	}
	if p.PreMinutes > p.MaxBufferMinutes || p.PostMinutes > p.MaxBufferMinutes {
		return fmt.Errorf("%w: pre/post minutes must not exceed maxBufferMinutes", ErrValidation)
	}
	return nil
}

// CalendarToken holds a user's delegated calendar credentials as an opaque
// JSON blob (an oauth2.Token).
type CalendarToken struct {
	UserID     string    `json:"userId"`
	Token      []byte    `json:"-"`
	UpdateTime time.Time `json:"updateTime"`
}
