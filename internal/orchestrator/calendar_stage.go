package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/cadencehq/cadence/internal/dialogue"
	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/scheduling"
)

// handleCalendarStage runs the final stage: consent, connection, a review of
// the existing calendar, then the suggestion cycle that turns everything
// learned into proposed blocks.
func (o *Orchestrator) handleCalendarStage(ctx context.Context, tc *turnCtx) string {
	if o.provider.IsAuthorized(ctx, tc.userID) {
		setExt(tc.conv, model.ExtCalendarConsentRequested, "true")
		setExt(tc.conv, model.ExtCalendarConfirmed, "true")
	}

	if tc.conv.Extensions[model.ExtCalendarConsentRequested] == "" {
		setExt(tc.conv, model.ExtCalendarConsentRequested, "true")
		return "To build this into your week I need to see your calendar. OK if I connect to it?"
	}

	if tc.conv.Extensions[model.ExtCalendarConfirmed] == "" {
		if scheduling.ClassifyAction(tc.text) == scheduling.ActionCancel {
			return "That's fine — we can connect it whenever you're ready. Just say \"connect calendar\" when you are."
		}
		return fmt.Sprintf("Tap this link to connect your calendar, then text me anything:\n%s", o.provider.AuthURL(tc.userID))
	}

	if tc.conv.Extensions[model.ExtCalendarReviewed] == "" {
		setExt(tc.conv, model.ExtCalendarReviewed, "true")
		return o.reviewCalendar(ctx, tc)
	}

	return o.suggestBlocks(ctx, tc)
}

// reviewCalendar summarizes the connected calendar before suggesting changes.
func (o *Orchestrator) reviewCalendar(ctx context.Context, tc *turnCtx) string {
	events, err := o.provider.ListEvents(ctx, tc.userID, tc.now, tc.now.AddDate(0, 0, 7))
	if err != nil {
		o.log.Warn().Err(err).Str("userId", tc.userID).Msg("calendar review listing failed")
		return "Your calendar is connected, but I couldn't read it just now. Text me again in a minute and we'll pick up from here."
	}

	var b strings.Builder
	if len(events) == 0 {
		b.WriteString("Your calendar is connected — and your next week is wide open. That's a good starting point.\n")
	} else {
		fmt.Fprintf(&b, "Your calendar is connected. You've got %d things in the next week", len(events))
		busiest := map[string]int{}
		for _, ev := range events {
			busiest[ev.Start.In(o.loc).Format("Monday")]++
		}
		day, n := "", 0
		for d, c := range busiest {
			if c > n {
				day, n = d, c
			}
		}
		if n > 1 {
			fmt.Fprintf(&b, ", with %s looking busiest", day)
		}
		b.WriteString(".\n")
	}
	b.WriteString("Text me anything and I'll suggest some blocks based on everything you've told me.")
	return b.String()
}

// suggestBlocks is the recurring cycle at the end of the journey: each
// message produces concrete block suggestions derived from the compiled
// insights. The user schedules them with ordinary requests.
func (o *Orchestrator) suggestBlocks(ctx context.Context, tc *turnCtx) string {
	records, err := o.store.Insights().List(ctx, tc.conv.ConversationID)
	if err != nil {
		o.log.Warn().Err(err).Str("conversationId", tc.conv.ConversationID).Msg("insight load failed")
	}
	sum := dialogue.Compile(records)

	var b strings.Builder
	b.WriteString("Here's what I'd protect this week:\n")

	n := 0
	add := func(s string) {
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, s)
	}

	for _, w := range firstN(sum.Fields["energyWindows"], 1) {
		add(fmt.Sprintf("A deep-focus block during your best hours (%s) for whatever matters most.", w))
	}
	for _, p := range firstN(sum.Fields["priorities"], 2) {
		add(fmt.Sprintf("Dedicated time for %s — you named it as a priority.", p))
	}
	for _, r := range firstN(sum.Fields["recurringTasks"], 2) {
		add(fmt.Sprintf("A standing slot for %s, so it stops hovering.", r))
	}
	if n == 0 {
		add("A weekly planning slot — 30 quiet minutes to look at the week ahead.")
		add("One protected block for whatever keeps getting pushed.")
	}

	b.WriteString("Want any of these on the calendar? Just say so, e.g. \"schedule the focus block Tuesday 9am\".")
	return b.String()
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
