package scheduling

import (
	"fmt"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/model"
)

// FindConflicts compares a padded window against existing commitments.
// Detection uses the padded bounds, so buffer collisions count too. Two
// intervals conflict when start < otherEnd && end > otherStart; touching
// endpoints do not.
func FindConflicts(w model.PaddedWindow, existing []calendar.Event) []model.Conflict {
	var out []model.Conflict
	for _, ev := range existing {
		if !w.PaddedStart.Before(ev.End) || !w.PaddedEnd.After(ev.Start) {
			continue
		}

		overlapStart := w.PaddedStart
		if ev.Start.After(overlapStart) {
			overlapStart = ev.Start
		}
		overlapEnd := w.PaddedEnd
		if ev.End.Before(overlapEnd) {
			overlapEnd = ev.End
		}

		kind := model.ConflictPartial
		switch {
		case !w.PaddedStart.Before(ev.Start) && !w.PaddedEnd.After(ev.End):
			kind = model.ConflictContained
		case !ev.Start.Before(w.PaddedStart) && !ev.End.After(w.PaddedEnd):
			kind = model.ConflictContaining
		}

		out = append(out, model.Conflict{
			EventID:        ev.ID,
			Title:          ev.Title,
			Start:          ev.Start,
			End:            ev.End,
			OverlapMinutes: int(overlapEnd.Sub(overlapStart).Minutes()),
			Kind:           kind,
		})
	}
	return out
}

// Assess derives a severity from a conflict set. Any containment is critical;
// otherwise the total overlap decides: >60 high, >30 medium, >0 low.
func Assess(conflicts []model.Conflict) model.Severity {
	if len(conflicts) == 0 {
		return model.SeverityNone
	}
	total := 0
	for _, c := range conflicts {
		if c.Kind == model.ConflictContained || c.Kind == model.ConflictContaining {
			return model.SeverityCritical
		}
		total += c.OverlapMinutes
	}
	switch {
	case total > 60:
		return model.SeverityHigh
	case total > 30:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// NeedsUserDecision reports whether a severity is too risky to proceed on
// without an explicit user choice.
func NeedsUserDecision(s model.Severity) bool {
	return s == model.SeverityHigh || s == model.SeverityCritical
}

// Suggestions proposes resolutions for a conflict set: trimming buffer when
// the collision is buffer-only and small, rescheduling otherwise.
func Suggestions(conflicts []model.Conflict) []string {
	var out []string
	for _, c := range conflicts {
		if c.Kind == model.ConflictPartial && c.OverlapMinutes <= 15 {
			out = append(out, fmt.Sprintf("trim the buffer to clear %q (%d min overlap)", c.Title, c.OverlapMinutes))
			continue
		}
		out = append(out, fmt.Sprintf("pick a different time to avoid %q", c.Title))
	}
	return out
}
