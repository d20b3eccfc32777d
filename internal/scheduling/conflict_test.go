package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/model"
)

func window(padStart, padEnd time.Time) model.PaddedWindow {
	return model.PaddedWindow{
		Start:       padStart.Add(15 * time.Minute),
		End:         padEnd.Add(-15 * time.Minute),
		PaddedStart: padStart,
		PaddedEnd:   padEnd,
		PreMinutes:  15,
		PostMinutes: 15,
	}
}

func event(id string, start time.Time, durMin int) calendar.Event {
	return calendar.Event{ID: id, Title: id, Start: start, End: start.Add(time.Duration(durMin) * time.Minute)}
}

func TestFindConflicts_TouchingEndpointsDoNotConflict(t *testing.T) {
	base := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	w := window(base, base.Add(2*time.Hour))

	got := FindConflicts(w, []calendar.Event{
		event("before", base.Add(-time.Hour), 60),
		event("after", base.Add(2*time.Hour), 60),
	})
	assert.Empty(t, got)
}

func TestFindConflicts_Kinds(t *testing.T) {
	base := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	w := window(base, base.Add(2*time.Hour))

	got := FindConflicts(w, []calendar.Event{
		event("surrounds", base.Add(-time.Hour), 300), // window inside existing
		event("inside", base.Add(30*time.Minute), 30), // existing inside window
		event("overlapsStart", base.Add(-30*time.Minute), 60),
	})
	require.Len(t, got, 3)

	byID := map[string]model.Conflict{}
	for _, c := range got {
		byID[c.EventID] = c
	}
	assert.Equal(t, model.ConflictContained, byID["surrounds"].Kind)
	assert.Equal(t, model.ConflictContaining, byID["inside"].Kind)
	assert.Equal(t, model.ConflictPartial, byID["overlapsStart"].Kind)
	assert.Equal(t, 30, byID["overlapsStart"].OverlapMinutes)
	assert.Equal(t, 120, byID["surrounds"].OverlapMinutes)
}

// Overlap magnitude does not depend on which side is the proposal.
func TestFindConflicts_OverlapIsSymmetric(t *testing.T) {
	a := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	b := time.Date(2026, 9, 2, 11, 15, 0, 0, time.UTC)

	forward := FindConflicts(window(a, a.Add(2*time.Hour)), []calendar.Event{event("other", b, 120)})
	reverse := FindConflicts(window(b, b.Add(2*time.Hour)), []calendar.Event{event("other", a, 120)})
	require.Len(t, forward, 1)
	require.Len(t, reverse, 1)
	assert.Equal(t, forward[0].OverlapMinutes, reverse[0].OverlapMinutes)
}

func partial(overlapMin int) model.Conflict {
	return model.Conflict{Kind: model.ConflictPartial, OverlapMinutes: overlapMin}
}

// Severity boundaries: >60 high, >30 medium, >0 low, exactly at the
// thresholds stays in the lower bucket.
func TestAssess_SeverityBoundaries(t *testing.T) {
	cases := []struct {
		overlap int
		want    model.Severity
	}{
		{30, model.SeverityLow},
		{31, model.SeverityMedium},
		{45, model.SeverityMedium},
		{60, model.SeverityMedium},
		{61, model.SeverityHigh},
	}
	for _, tc := range cases {
		got := Assess([]model.Conflict{partial(tc.overlap)})
		assert.Equal(t, tc.want, got, "overlap=%d", tc.overlap)
	}
}

func TestAssess_ContainmentIsCritical(t *testing.T) {
	got := Assess([]model.Conflict{
		partial(5),
		{Kind: model.ConflictContained, OverlapMinutes: 5},
	})
	assert.Equal(t, model.SeverityCritical, got)
}

func TestAssess_TotalOverlapAccumulates(t *testing.T) {
	got := Assess([]model.Conflict{partial(20), partial(20)})
	assert.Equal(t, model.SeverityMedium, got)
}

func TestAssess_Empty(t *testing.T) {
	assert.Equal(t, model.SeverityNone, Assess(nil))
}

func TestNeedsUserDecision(t *testing.T) {
	assert.False(t, NeedsUserDecision(model.SeverityNone))
	assert.False(t, NeedsUserDecision(model.SeverityLow))
	assert.False(t, NeedsUserDecision(model.SeverityMedium))
	assert.True(t, NeedsUserDecision(model.SeverityHigh))
	assert.True(t, NeedsUserDecision(model.SeverityCritical))
}

func TestSuggestions_SmallOverlapTrimsBuffer(t *testing.T) {
	got := Suggestions([]model.Conflict{
		{Kind: model.ConflictPartial, OverlapMinutes: 10, Title: "Standup"},
		{Kind: model.ConflictPartial, OverlapMinutes: 40, Title: "Review"},
	})
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "trim the buffer")
	assert.Contains(t, got[1], "different time")
}
