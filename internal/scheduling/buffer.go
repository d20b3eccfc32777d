package scheduling

import (
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/model"
)

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// categoryMarkers flag titles that earn the meeting/appointment surcharge.
var categoryMarkers = []string{"meeting", "appointment", "appt", "interview", "standup", "1:1"}

func isMeetingLike(title string) bool {
	t := strings.ToLower(title)
	for _, m := range categoryMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// ApplyBuffer pads an event window according to the policy. Rules apply in
// order: policy defaults, category surcharge, long-event post multiplier,
// weekend dampening, final cap.
func ApplyBuffer(draft model.EventDraft, policy *model.BufferPolicy) model.PaddedWindow {
	pre := policy.PreMinutes
	post := policy.PostMinutes

	if isMeetingLike(draft.Title) {
		pre += policy.MeetingSurchargeMinutes
		post += policy.MeetingSurchargeMinutes
	}

	if draft.DurationMinutes >= 120 {
		post = post * 3 / 2
		if post > policy.MaxBufferMinutes {
			post = policy.MaxBufferMinutes
		}
	}

	wd := draft.Start.Weekday()
	if (wd == 0 || wd == 6) && !policy.WeekendBuffering {
		pre /= 2
		post /= 2
		if pre > 15 {
			pre = 15
		}
		if post > 30 {
			post = 30
		}
	}

	if pre > policy.MaxBufferMinutes {
		pre = policy.MaxBufferMinutes
	}
	if post > policy.MaxBufferMinutes {
		post = policy.MaxBufferMinutes
	}

	end := draft.End
	if end.IsZero() {
		end = draft.Start.Add(minutes(draft.DurationMinutes))
	}
	return model.PaddedWindow{
		Start:       draft.Start,
		End:         end,
		PaddedStart: draft.Start.Add(-minutes(pre)),
		PaddedEnd:   end.Add(minutes(post)),
		PreMinutes:  pre,
		PostMinutes: post,
	}
}
