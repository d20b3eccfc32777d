// Package reasoning defines the boundary to the external natural-language
// reasoning service. Every call returns a validated structured value or an
// error wrapping ErrUnavailable; call sites select deterministic fallbacks
// on failure and never see raw service output.
package reasoning

import (
	"context"
	"errors"
	"time"

	"github.com/cadencehq/cadence/internal/model"
)

// ErrUnavailable marks transport failures, timeouts, and malformed service
// output. Callers match with errors.Is and fall back.
var ErrUnavailable = errors.New("reasoning service unavailable")

// Intent is the closed set of message classifications.
type Intent string

const (
	IntentSchedule        Intent = "schedule"
	IntentViewCalendar    Intent = "view_calendar"
	IntentConnectCalendar Intent = "connect_calendar"
	IntentPlan            Intent = "plan"
	IntentSupport         Intent = "support"
	IntentGreeting        Intent = "greeting"
	IntentOther           Intent = "other"
)

// ParseIntent maps a raw label onto the closed intent set; anything
// unrecognized becomes IntentOther.
func ParseIntent(s string) Intent {
	switch Intent(s) {
	case IntentSchedule, IntentViewCalendar, IntentConnectCalendar, IntentPlan, IntentSupport, IntentGreeting, IntentOther:
		return Intent(s)
	default:
		return IntentOther
	}
}

// IntentResult is the validated outcome of a classification call.
type IntentResult struct {
	Intent Intent
}

// EventExtraction is the validated outcome of an event-parsing call.
// Start is zero when the service could not resolve a time.
type EventExtraction struct {
	Title           string
	Start           time.Time
	DurationMinutes int
	Location        string
	Attendees       []string
	Confidence      model.Confidence
	MissingFields   []string
}

// Assessment is the validated outcome of a stage-completion call.
// Fallback marks results produced by the deterministic availability
// heuristic rather than the service.
type Assessment struct {
	IsComplete  bool
	Confidence  float64
	Reason      string
	KeyInsights []string
	// MetaQuestion marks messages about the process itself; they never count
	// as stage content.
	MetaQuestion bool
	// Fallback marks a heuristic result produced while the service was down.
	Fallback bool
}

// InsightExtraction is the validated outcome of an insight-extraction call.
// Empty results are legitimate.
type InsightExtraction struct {
	Fields      map[string]any
	KeyInsights []string
	Confidence  float64
}

// StageRubric describes one dialogue stage for the service: what the stage
// is for and what "enough signal" looks like.
type StageRubric struct {
	Stage    int
	Name     string
	Purpose  string
	Criteria []string
}

// Engine is the reasoning-service boundary used by intent classification,
// event parsing, stage assessment, and insight extraction.
type Engine interface {
	ClassifyIntent(ctx context.Context, history []*model.Turn, text string) (*IntentResult, error)
	ExtractEvent(ctx context.Context, text string, now time.Time, loc *time.Location) (*EventExtraction, error)
	AssessStage(ctx context.Context, rubric StageRubric, stageTexts []string, latest string) (*Assessment, error)
	ExtractInsights(ctx context.Context, rubric StageRubric, text string) (*InsightExtraction, error)
}
