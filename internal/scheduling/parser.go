package scheduling

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/reasoning"
)

// defaultDurationMinutes applies when a request names no duration.
const defaultDurationMinutes = 60

var (
	clockRx    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	durationRx = regexp.MustCompile(`(?i)\b(\d+)\s*(hours?|hrs?|minutes?|mins?)\b`)
	anHourRx   = regexp.MustCompile(`(?i)\ban?\s+hour\b`)
	halfHourRx = regexp.MustCompile(`(?i)\bhalf\s+an?\s+hour\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// Parser turns free-form scheduling text into an EventDraft. The reasoning
// engine is the primary path; when it is unavailable a regex pass over
// explicit clock times and durations keeps scheduling functional.
type Parser struct {
	engine reasoning.Engine
}

func NewParser(engine reasoning.Engine) *Parser {
	return &Parser{engine: engine}
}

// Parse never fails outright: engine errors select the fallback path, and
// anything still unresolved is reported through MissingFields and
// NeedsClarification on the returned draft.
func (p *Parser) Parse(ctx context.Context, text string, now time.Time, loc *time.Location) model.EventDraft {
	var draft model.EventDraft
	if ext, err := p.engine.ExtractEvent(ctx, text, now, loc); err == nil {
		draft = model.EventDraft{
			Title:           ext.Title,
			Start:           ext.Start,
			DurationMinutes: ext.DurationMinutes,
			Location:        ext.Location,
			Attendees:       ext.Attendees,
			Confidence:      ext.Confidence,
			MissingFields:   ext.MissingFields,
		}
	} else {
		draft = fallbackParse(text, now, loc)
	}
	return finalize(draft)
}

// finalize applies the validation pass shared by both paths: default the
// duration, derive the end time, downgrade confidence when too much is
// missing, and flag drafts that need a follow-up question.
func finalize(d model.EventDraft) model.EventDraft {
	if d.Start.IsZero() && !containsField(d.MissingFields, "startTime") {
		d.MissingFields = append(d.MissingFields, "startTime")
	}
	if d.Title == "" {
		d.Title = "New event"
		if !containsField(d.MissingFields, "title") {
			d.MissingFields = append(d.MissingFields, "title")
		}
	}
	if d.DurationMinutes <= 0 {
		d.DurationMinutes = defaultDurationMinutes
	}
	if d.End.IsZero() && !d.Start.IsZero() {
		d.End = d.Start.Add(minutes(d.DurationMinutes))
	}
	if d.Confidence == "" {
		d.Confidence = model.ConfidenceLow
	}
	if len(d.MissingFields) > 2 {
		d.Confidence = model.ConfidenceLow
	}
	if len(d.MissingFields) > 0 {
		d.NeedsClarification = true
	}
	return d
}

func containsField(fields []string, f string) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

// fallbackParse handles explicit clock times ("2pm", "10:30 am"), simple
// durations ("2 hours", "45 minutes", "an hour"), and day words. Anything
// subtler waits for the reasoning service to come back.
func fallbackParse(text string, now time.Time, loc *time.Location) model.EventDraft {
	draft := model.EventDraft{Confidence: model.ConfidenceLow}
	stripped := text

	if m := clockRx.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		min := 0
		if m[2] != "" {
			min, _ = strconv.Atoi(m[2])
		}
		if strings.EqualFold(m[3], "pm") && hour < 12 {
			hour += 12
		}
		if strings.EqualFold(m[3], "am") && hour == 12 {
			hour = 0
		}
		day, dayNamed := resolveDay(text, now.In(loc))
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, loc)
		if start.Before(now) {
			if dayNamed {
				start = start.AddDate(0, 0, 7)
			} else {
				start = start.AddDate(0, 0, 1)
			}
		}
		draft.Start = start
		draft.Confidence = model.ConfidenceMedium
		stripped = clockRx.ReplaceAllString(stripped, "")
	}

	switch {
	case halfHourRx.MatchString(text):
		draft.DurationMinutes = 30
		stripped = halfHourRx.ReplaceAllString(stripped, "")
	case durationRx.MatchString(text):
		m := durationRx.FindStringSubmatch(text)
		n, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(strings.ToLower(m[2]), "h") {
			n *= 60
		}
		draft.DurationMinutes = n
		stripped = durationRx.ReplaceAllString(stripped, "")
	case anHourRx.MatchString(text):
		draft.DurationMinutes = 60
		stripped = anHourRx.ReplaceAllString(stripped, "")
	}

	draft.Title = cleanTitle(stripped)
	return draft
}

// resolveDay picks the date a day word refers to; absent one, today. The
// second result reports whether the text named a specific day, which decides
// whether a past time rolls to next week or just to tomorrow.
func resolveDay(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "tomorrow") {
		return now.AddDate(0, 0, 1), true
	}
	for name, wd := range weekdays {
		if !strings.Contains(lower, name) {
			continue
		}
		ahead := (int(wd) - int(now.Weekday()) + 7) % 7
		return now.AddDate(0, 0, ahead), true
	}
	return now, false
}

var fillerRx = regexp.MustCompile(`(?i)\b(tomorrow|today|for|at|on|sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)

func cleanTitle(s string) string {
	s = fillerRx.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " ,.!?")
	if len(s) < 3 {
		return ""
	}
	return s
}
