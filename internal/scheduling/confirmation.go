package scheduling

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/model"
)

// Action is the decision a user can take on a pending proposal. ActionClarify
// is not a transition; it redisplays the proposal and options.
type Action string

const (
	ActionConfirm      Action = "confirm"
	ActionModify       Action = "modify"
	ActionAdjustTime   Action = "adjust_time"
	ActionAdjustBuffer Action = "adjust_buffer"
	ActionCancel       Action = "cancel"
	ActionClarify      Action = "clarify"
)

var actionKeywords = []struct {
	action Action
	words  []string
}{
	{ActionCancel, []string{"cancel", "nevermind", "never mind", "forget it", "no thanks", "don't"}},
	{ActionAdjustBuffer, []string{"buffer", "padding"}},
	{ActionAdjustTime, []string{"different time", "another time", "earlier", "later", "move it", "change the time", "reschedule"}},
	{ActionModify, []string{"modify", "change", "instead", "actually", "make it"}},
	{ActionConfirm, []string{"yes", "yep", "yeah", "confirm", "sounds good", "looks good", "book it", "go ahead", "sure", "ok", "okay", "perfect"}},
}

// ClassifyAction maps a reply onto the action set by keyword matching.
// Anything unmatched is a clarification request.
func ClassifyAction(text string) Action {
	lower := strings.ToLower(text)
	for _, ak := range actionKeywords {
		for _, w := range ak.words {
			if containsPhrase(lower, w) {
				return ak.action
			}
		}
	}
	if containsPhrase(lower, "no") {
		return ActionCancel
	}
	return ActionClarify
}

var wordRx = regexp.MustCompile(`[a-z']+`)

func containsPhrase(lower, phrase string) bool {
	if strings.Contains(phrase, " ") {
		return strings.Contains(lower, phrase)
	}
	for _, w := range wordRx.FindAllString(lower, -1) {
		if w == phrase {
			return true
		}
	}
	return false
}

// Outcome is what a confirmation step decided. A nil Pending destroys the
// proposal; otherwise the returned pending replaces the stored one.
type Outcome struct {
	Reply   string
	Pending *model.PendingEvent
	Created *calendar.CreatedEvent
}

// Protocol drives a pending event from proposal to a terminal decision.
// Every step is keyed off the stored pending state, so the flow survives
// process restarts.
type Protocol struct {
	provider calendar.Provider
	log      zerolog.Logger
}

func NewProtocol(provider calendar.Provider, log zerolog.Logger) *Protocol {
	return &Protocol{provider: provider, log: log.With().Str("component", "confirmation").Logger()}
}

// Propose builds the pending record and its summary message.
func (p *Protocol) Propose(userID string, draft model.EventDraft, window model.PaddedWindow, conflicts []model.Conflict, now time.Time) (*model.PendingEvent, string) {
	pending := &model.PendingEvent{
		UserID:       userID,
		State:        model.PendingProposed,
		Draft:        draft,
		Window:       window,
		Conflicts:    conflicts,
		Severity:     Assess(conflicts),
		CreationTime: now,
	}
	return pending, p.summarize(pending)
}

// Handle advances the protocol one user message. Expiry is the caller's
// concern; an expired pending never reaches here.
func (p *Protocol) Handle(ctx context.Context, pending *model.PendingEvent, policy *model.BufferPolicy, text string, now time.Time) Outcome {
	switch pending.State {
	case model.PendingAdjustingTime:
		return p.handleAdjustTime(ctx, pending, policy, text)
	case model.PendingAdjustingBuffer:
		return p.handleAdjustBuffer(ctx, pending, policy, text)
	}

	switch ClassifyAction(text) {
	case ActionConfirm:
		return p.confirm(ctx, pending)
	case ActionCancel:
		return Outcome{Reply: "No problem, I've dropped that. Just tell me whenever you want to schedule something."}
	case ActionModify:
		return Outcome{Reply: "Sure — tell me the new details and I'll start over."}
	case ActionAdjustTime:
		pending.State = model.PendingAdjustingTime
		return Outcome{Reply: "What time works better? (e.g. \"3pm\" or \"tomorrow 10am\")", Pending: pending}
	case ActionAdjustBuffer:
		pending.State = model.PendingAdjustingBuffer
		return Outcome{
			Reply:   fmt.Sprintf("Current buffer is %d min before and %d min after. What would you like? (one number for both, or \"10 and 20\", max %d)", pending.Window.PreMinutes, pending.Window.PostMinutes, policy.MaxBufferMinutes),
			Pending: pending,
		}
	default:
		return Outcome{Reply: p.summarize(pending), Pending: pending}
	}
}

func (p *Protocol) confirm(ctx context.Context, pending *model.PendingEvent) Outcome {
	if pending.Severity == model.SeverityCritical {
		return Outcome{
			Reply:   "That slot overlaps completely with an existing commitment, so I can't book it as-is. Say \"adjust time\" to pick another slot, or \"cancel\".",
			Pending: pending,
		}
	}

	// The created event spans the padded window so the buffer is actually
	// blocked on the calendar, not just implied.
	created, err := p.provider.CreateEvent(ctx, pending.UserID, calendar.CreateEventRequest{
		Title:       pending.Draft.Title,
		Description: fmt.Sprintf("Includes %d min buffer before and %d min after.", pending.Window.PreMinutes, pending.Window.PostMinutes),
		Start:       pending.Window.PaddedStart,
		End:         pending.Window.PaddedEnd,
		Location:    pending.Draft.Location,
		Attendees:   pending.Draft.Attendees,
	})
	if err != nil {
		p.log.Error().Err(err).Str("userId", pending.UserID).Msg("calendar create failed")
		if errors.Is(err, calendar.ErrNotAuthorized) {
			return Outcome{Reply: "I couldn't reach your calendar because the connection expired. Say \"connect calendar\" to re-link it, then ask me again."}
		}
		if errors.Is(err, calendar.ErrInvalidTime) {
			return Outcome{Reply: "Your calendar rejected that time, so nothing was booked. Tell me again with a specific day and time, like \"Tuesday 2pm\"."}
		}
		return Outcome{Reply: "I couldn't reach your calendar just now, so nothing was booked. Give it a minute and ask me again."}
	}

	reply := fmt.Sprintf("Done! %s is on your calendar for %s, with %d min protected before and %d min after.",
		pending.Draft.Title, formatRange(pending.Window.Start, pending.Window.End), pending.Window.PreMinutes, pending.Window.PostMinutes)
	return Outcome{Reply: reply, Created: created}
}

func (p *Protocol) handleAdjustTime(ctx context.Context, pending *model.PendingEvent, policy *model.BufferPolicy, text string) Outcome {
	m := clockRx.FindStringSubmatch(text)
	if m == nil {
		return Outcome{Reply: "I didn't catch a time there — try something like \"3pm\" or \"10:30 am\".", Pending: pending}
	}
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

	old := pending.Draft.Start
	day, _ := resolveDay(text, old)
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, min, 0, 0, old.Location())

	pending.Draft.Start = start
	pending.Draft.End = start.Add(minutes(pending.Draft.DurationMinutes))
	pending.Window = ApplyBuffer(pending.Draft, policy)
	p.refreshConflicts(ctx, pending)
	pending.State = model.PendingProposed
	return Outcome{Reply: p.summarize(pending), Pending: pending}
}

var numberRx = regexp.MustCompile(`\d+`)

func (p *Protocol) handleAdjustBuffer(ctx context.Context, pending *model.PendingEvent, policy *model.BufferPolicy, text string) Outcome {
	nums := numberRx.FindAllString(text, 2)
	if len(nums) == 0 {
		return Outcome{Reply: "Give me the buffer in minutes — one number for both sides, or two like \"10 and 20\".", Pending: pending}
	}
	pre, _ := strconv.Atoi(nums[0])
	post := pre
	if len(nums) == 2 {
		post, _ = strconv.Atoi(nums[1])
	}
	if pre > policy.MaxBufferMinutes {
		pre = policy.MaxBufferMinutes
	}
	if post > policy.MaxBufferMinutes {
		post = policy.MaxBufferMinutes
	}

	pending.Window.PreMinutes = pre
	pending.Window.PostMinutes = post
	pending.Window.PaddedStart = pending.Window.Start.Add(-minutes(pre))
	pending.Window.PaddedEnd = pending.Window.End.Add(minutes(post))
	p.refreshConflicts(ctx, pending)
	pending.State = model.PendingProposed
	return Outcome{Reply: p.summarize(pending), Pending: pending}
}

// refreshConflicts re-runs detection after the window moved. A listing
// failure keeps the previous conflict set rather than silently clearing it.
func (p *Protocol) refreshConflicts(ctx context.Context, pending *model.PendingEvent) {
	events, err := p.provider.ListEvents(ctx, pending.UserID, pending.Window.PaddedStart, pending.Window.PaddedEnd)
	if err != nil {
		p.log.Warn().Err(err).Str("userId", pending.UserID).Msg("conflict refresh failed, keeping previous set")
		return
	}
	pending.Conflicts = FindConflicts(pending.Window, events)
	pending.Severity = Assess(pending.Conflicts)
}

func (p *Protocol) summarize(pending *model.PendingEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here's the plan: %s, %s.\n", pending.Draft.Title, formatRange(pending.Window.Start, pending.Window.End))
	fmt.Fprintf(&b, "I'll protect %d min before and %d min after.\n", pending.Window.PreMinutes, pending.Window.PostMinutes)

	if pending.Draft.Confidence == model.ConfidenceLow {
		b.WriteString("I'm not fully sure I read that right, so double-check the details.\n")
	}

	switch pending.Severity {
	case model.SeverityNone:
	case model.SeverityCritical:
		fmt.Fprintf(&b, "Heads up: this completely overlaps %s. You'll need to adjust the time or cancel.\n", conflictList(pending.Conflicts))
	default:
		fmt.Fprintf(&b, "Heads up: this overlaps %s.\n", conflictList(pending.Conflicts))
		for _, s := range Suggestions(pending.Conflicts) {
			fmt.Fprintf(&b, "  - you could %s\n", s)
		}
	}

	b.WriteString("Reply \"yes\" to book it, or say modify, adjust time, adjust buffer, or cancel.")
	return b.String()
}

func conflictList(conflicts []model.Conflict) string {
	parts := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		parts = append(parts, fmt.Sprintf("%q (%d min)", c.Title, c.OverlapMinutes))
	}
	return strings.Join(parts, ", ")
}

func formatRange(start, end time.Time) string {
	return fmt.Sprintf("%s until %s", start.Format("Mon Jan 2 at 3:04 PM"), end.Format("3:04 PM"))
}
