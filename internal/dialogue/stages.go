// Package dialogue implements the ten-stage discovery conversation: the
// per-stage rubrics, the completion assessor that decides when a stage has
// enough signal, and the insight compiler that folds per-turn extractions
// into a journey summary.
package dialogue

import "github.com/cadencehq/cadence/internal/reasoning"

// Completion thresholds. Values and prioritization are stricter because the
// later stages build directly on what they capture.
const (
	defaultThreshold = 0.70
	strictThreshold  = 0.80
)

// StageSpec is one dialogue stage: the rubric the reasoning service judges
// against, the confidence bar to advance, and the message that opens it.
type StageSpec struct {
	Rubric    reasoning.StageRubric
	Threshold float64
	Intro     string
}

// FinalStage is the calendar-building stage; it has its own flow and no
// completion rubric.
const FinalStage = 10

var stages = []StageSpec{
	{
		Rubric: reasoning.StageRubric{
			Stage:   1,
			Name:    "brain dump",
			Purpose: "get everything on the user's mind out, unfiltered",
			Criteria: []string{
				"at least three distinct obligations, worries, or projects mentioned",
				"user has stopped adding new items or signalled they are done",
			},
		},
		Threshold: defaultThreshold,
		Intro:     "Let's start by getting everything out of your head. What's on your plate right now? Work, home, errands, worries — all of it, in any order.",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   2,
			Name:    "organization",
			Purpose: "group the brain dump into areas of life and rough categories",
			Criteria: []string{
				"user has distinguished at least two areas (e.g. work vs. personal)",
				"user agreed or corrected the proposed grouping",
			},
		},
		Threshold: defaultThreshold,
		Intro:     "Great. Now let's sort all that into rough buckets. Which of those feel like work, which are personal, and is anything in between?",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   3,
			Name:    "pattern recognition",
			Purpose: "surface recurring situations that create stress or lost time",
			Criteria: []string{
				"at least one recurring pattern named with a concrete example",
				"some emotional engagement with the pattern (frustration, relief, recognition)",
			},
		},
		Threshold: defaultThreshold,
		Intro:     "Looking at all that — do any situations keep repeating? Things that regularly eat your time or energy, even small ones.",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   4,
			Name:    "energy patterns",
			Purpose: "map when the user has energy and focus across a typical day and week",
			Criteria: []string{
				"at least one high-energy and one low-energy window identified",
				"a concrete example of work that fits or fights those windows",
			},
		},
		Threshold: defaultThreshold,
		Intro:     "When during the day do you feel sharpest? And when do you tend to crash? Think about a typical week, not an ideal one.",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   5,
			Name:    "values and joy",
			Purpose: "identify what genuinely matters to the user and what brings joy",
			Criteria: []string{
				"at least two values or sources of joy named in the user's own words",
				"a concrete recent example of each, not just abstractions",
				"emotional engagement beyond one-word answers",
			},
		},
		Threshold: strictThreshold,
		Intro:     "Now the important one: what actually matters to you? Not what should matter — what genuinely gives you energy or joy when it happens.",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   6,
			Name:    "constraints",
			Purpose: "capture fixed commitments and hard limits on the user's time",
			Criteria: []string{
				"recurring fixed commitments listed (work hours, school runs, etc.)",
				"at least one hard boundary stated (e.g. no work after a certain hour)",
			},
		},
		Threshold: defaultThreshold,
		Intro:     "What parts of your week are fixed and non-negotiable? Work hours, commitments to others, anything that can't move.",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   7,
			Name:    "scheduling preferences",
			Purpose: "learn how the user likes their calendar to feel",
			Criteria: []string{
				"preference between packed vs. spacious days expressed",
				"buffer or transition-time preference mentioned",
			},
		},
		Threshold: defaultThreshold,
		Intro:     "How do you like your days to feel? Back-to-back and efficient, or with breathing room between things? Any strong preferences about mornings or evenings?",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   8,
			Name:    "recurring tasks",
			Purpose: "identify recurring chores and friction tasks worth scheduling deliberately",
			Criteria: []string{
				"at least two recurring tasks named with rough frequency",
				"user indicated which ones they avoid or dread",
			},
		},
		Threshold: defaultThreshold,
		Intro:     "What are the recurring chores — the laundry, admin, errands kind of thing? Which ones do you keep putting off?",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   9,
			Name:    "prioritization",
			Purpose: "establish what comes first when everything can't fit",
			Criteria: []string{
				"a clear top priority named, in the user's own words",
				"at least one thing the user is willing to drop or shrink",
				"reasoning connects back to the values stage",
			},
		},
		Threshold: strictThreshold,
		Intro:     "Last big question: when a week gets tight and something has to give, what comes first — and what are you actually willing to let slide?",
	},
	{
		Rubric: reasoning.StageRubric{
			Stage:   10,
			Name:    "calendar building",
			Purpose: "connect the calendar and turn everything learned into concrete scheduled blocks",
		},
		Intro: "That's everything I need. Now let's build this into your actual calendar.",
	},
}

// SpecFor returns the spec for a dialogue stage (1-10).
func SpecFor(stage int) (StageSpec, bool) {
	if stage < 1 || stage > len(stages) {
		return StageSpec{}, false
	}
	return stages[stage-1], true
}
