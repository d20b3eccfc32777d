package dialogue

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cadencehq/cadence/internal/reasoning"
)

// Fallback heuristic bounds: with the reasoning service down, a stage only
// completes after the user has given at least this much.
const (
	fallbackMinTurns = 2
	fallbackMinChars = 100
)

// metaMarkers identify messages that are about the process rather than
// stage content. These never advance a stage.
var metaMarkers = []string{
	"what happens next",
	"what's next",
	"whats next",
	"how does this work",
	"how long does this take",
	"how many questions",
	"what is this for",
	"why are you asking",
	"what do you do with",
	"is this almost done",
	"how many stages",
	"what stage",
}

// Assessor decides whether a dialogue stage has enough signal to advance.
type Assessor struct {
	engine reasoning.Engine
	log    zerolog.Logger
}

func NewAssessor(engine reasoning.Engine, log zerolog.Logger) *Assessor {
	return &Assessor{engine: engine, log: log.With().Str("component", "assessor").Logger()}
}

// Assess judges the latest message against the stage rubric. stageTexts is
// every prior user message in this stage, oldest first, excluding latest.
// The result is always usable: service failure selects a deterministic
// heuristic tagged Fallback.
func (a *Assessor) Assess(ctx context.Context, spec StageSpec, stageTexts []string, latest string) *reasoning.Assessment {
	if isMetaQuestion(latest) {
		return &reasoning.Assessment{
			IsComplete:   false,
			Confidence:   0,
			Reason:       "message is about the process, not stage content",
			MetaQuestion: true,
		}
	}

	res, err := a.engine.AssessStage(ctx, spec.Rubric, stageTexts, latest)
	if err != nil {
		a.log.Warn().Err(err).Int("stage", spec.Rubric.Stage).Msg("assessment unavailable, using heuristic")
		return fallbackAssess(stageTexts, latest)
	}

	if res.IsComplete && res.Confidence < spec.Threshold {
		res.IsComplete = false
		res.Reason = "confidence below stage threshold"
	}
	return res
}

// isMetaQuestion is deliberately deterministic: meta-questions must never
// count as stage content even when the service would score them highly.
func isMetaQuestion(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range metaMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// fallbackAssess exists for availability, not accuracy: it completes a stage
// only once the user has written enough that moving on is plausibly safe.
func fallbackAssess(stageTexts []string, latest string) *reasoning.Assessment {
	turns := len(stageTexts) + 1
	chars := len(latest)
	for _, t := range stageTexts {
		chars += len(t)
	}

	complete := turns >= fallbackMinTurns && chars >= fallbackMinChars
	reason := "service unavailable; heuristic kept the stage open"
	if complete {
		reason = "service unavailable; heuristic saw enough content to advance"
	}
	return &reasoning.Assessment{
		IsComplete: complete,
		Confidence: 0.5,
		Reason:     reason,
		Fallback:   true,
	}
}
