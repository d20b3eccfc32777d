package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/reasoning"
)

// stubEngine serves canned extraction results; only ExtractEvent matters here.
type stubEngine struct {
	ext *reasoning.EventExtraction
	err error
}

func (s *stubEngine) ClassifyIntent(context.Context, []*model.Turn, string) (*reasoning.IntentResult, error) {
	return &reasoning.IntentResult{Intent: reasoning.IntentOther}, nil
}

func (s *stubEngine) ExtractEvent(context.Context, string, time.Time, *time.Location) (*reasoning.EventExtraction, error) {
	return s.ext, s.err
}

func (s *stubEngine) AssessStage(context.Context, reasoning.StageRubric, []string, string) (*reasoning.Assessment, error) {
	return nil, reasoning.ErrUnavailable
}

func (s *stubEngine) ExtractInsights(context.Context, reasoning.StageRubric, string) (*reasoning.InsightExtraction, error) {
	return nil, reasoning.ErrUnavailable
}

// Monday, so "tuesday" resolves to the next day.
var parserNow = time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

func TestParse_PrimaryPath(t *testing.T) {
	p := NewParser(&stubEngine{ext: &reasoning.EventExtraction{
		Title:           "Meeting with Alex",
		Start:           time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		Confidence:      model.ConfidenceHigh,
	}})

	d := p.Parse(context.Background(), "meeting with Alex Tuesday 2pm for an hour", parserNow, time.UTC)
	assert.Equal(t, "Meeting with Alex", d.Title)
	assert.Equal(t, time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC), d.Start)
	assert.Equal(t, time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC), d.End)
	assert.Equal(t, model.ConfidenceHigh, d.Confidence)
	assert.False(t, d.NeedsClarification)
}

func TestParse_FallbackOnServiceFailure(t *testing.T) {
	p := NewParser(&stubEngine{err: reasoning.ErrUnavailable})

	d := p.Parse(context.Background(), "meeting with Alex tuesday 2pm for an hour", parserNow, time.UTC)
	require.Equal(t, time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC), d.Start)
	assert.Equal(t, 60, d.DurationMinutes)
	assert.Equal(t, model.ConfidenceMedium, d.Confidence)
	assert.Contains(t, d.Title, "meeting with Alex")
}

func TestParse_FallbackDurations(t *testing.T) {
	p := NewParser(&stubEngine{err: reasoning.ErrUnavailable})

	d := p.Parse(context.Background(), "focus time at 10:30 am for 2 hours", parserNow, time.UTC)
	require.Equal(t, 120, d.DurationMinutes)
	assert.Equal(t, time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC), d.Start)

	d = p.Parse(context.Background(), "quick sync 3pm for 45 minutes", parserNow, time.UTC)
	assert.Equal(t, 45, d.DurationMinutes)
}

func TestParse_FallbackNoTimeNeedsClarification(t *testing.T) {
	p := NewParser(&stubEngine{err: reasoning.ErrUnavailable})

	d := p.Parse(context.Background(), "let's catch up sometime", parserNow, time.UTC)
	assert.True(t, d.Start.IsZero())
	assert.True(t, d.NeedsClarification)
	assert.Contains(t, d.MissingFields, "startTime")
	assert.Equal(t, model.ConfidenceLow, d.Confidence)
}

func TestParse_DurationDefaultsTo60(t *testing.T) {
	p := NewParser(&stubEngine{ext: &reasoning.EventExtraction{
		Title:      "Coffee",
		Start:      time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		Confidence: model.ConfidenceHigh,
	}})

	d := p.Parse(context.Background(), "coffee tuesday 9am", parserNow, time.UTC)
	assert.Equal(t, 60, d.DurationMinutes)
	assert.Equal(t, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC), d.End)
}

func TestParse_ManyMissingFieldsDowngradeConfidence(t *testing.T) {
	p := NewParser(&stubEngine{ext: &reasoning.EventExtraction{
		Confidence:    model.ConfidenceHigh,
		MissingFields: []string{"title", "startTime", "location"},
	}})

	d := p.Parse(context.Background(), "put something on my calendar", parserNow, time.UTC)
	assert.Equal(t, model.ConfidenceLow, d.Confidence)
	assert.True(t, d.NeedsClarification)
}

func TestParse_PastTimeRollsForward(t *testing.T) {
	p := NewParser(&stubEngine{err: reasoning.ErrUnavailable})

	// 8am has already passed at 9am, so this lands tomorrow.
	d := p.Parse(context.Background(), "walk at 8am", parserNow, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC), d.Start)
}
