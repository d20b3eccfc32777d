package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/cadencehq/cadence/internal/dialogue"
	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/scheduling"
)

// maxNameAttempts caps the name-collection loop; after that the assistant
// settles on a neutral placeholder and moves on.
const maxNameAttempts = 3

const placeholderName = "there"

const welcomeText = "Hi! I'm Cadence, a scheduling assistant that works over text. " +
	"Before we start: what should I call you?"

const processText = "Here's how this works: we'll have a short conversation in stages — " +
	"what's on your plate, how your energy runs, what actually matters to you — " +
	"and then I'll help you build a calendar that fits. You can also just ask me " +
	"to schedule things any time. Ready when you are — say anything to begin."

// handleOnboarding runs the stage-0 sub-machine: name collection, name
// confirmation, then the process explanation, before stage 1 opens.
func (o *Orchestrator) handleOnboarding(ctx context.Context, tc *turnCtx) string {
	switch tc.conv.StageState {
	case model.StateAwaitingName:
		return o.collectName(tc)
	case model.StateConfirmingName:
		return o.confirmName(tc)
	case model.StateExplainingProcess:
		return o.beginDialogue(tc)
	default:
		// Stage 0 with an unknown sub-state: restart onboarding rather
		// than guessing.
		tc.conv.StageState = model.StateAwaitingName
		return welcomeText
	}
}

func (o *Orchestrator) collectName(tc *turnCtx) string {
	if len(tc.turns) == 0 {
		// First contact: whatever they said, greet and ask.
		return welcomeText
	}

	name := extractName(tc.text)
	if name == "" {
		return o.nameRetry(tc, "Sorry, I didn't catch a name in that. What should I call you?")
	}
	setExt(tc.conv, model.ExtUserName, name)
	tc.conv.StageState = model.StateConfirmingName
	return fmt.Sprintf("Nice to meet you, %s — did I get that right?", name)
}

func (o *Orchestrator) confirmName(tc *turnCtx) string {
	switch scheduling.ClassifyAction(tc.text) {
	case scheduling.ActionConfirm:
		tc.conv.StageState = model.StateExplainingProcess
		name := tc.conv.Extensions[model.ExtUserName]
		return fmt.Sprintf("Great, %s. %s", name, processText)
	default:
		return o.nameRetry(tc, "My mistake — what should I call you?")
	}
}

// nameRetry counts a failed attempt; at the cap we stop asking and proceed
// with a placeholder so the user is never stuck at the door.
func (o *Orchestrator) nameRetry(tc *turnCtx, prompt string) string {
	attempts := 0
	if raw := tc.conv.Extensions[model.ExtNameAttempts]; raw != "" {
		attempts, _ = strconv.Atoi(raw)
	}
	attempts++
	setExt(tc.conv, model.ExtNameAttempts, strconv.Itoa(attempts))

	if attempts >= maxNameAttempts {
		setExt(tc.conv, model.ExtUserName, placeholderName)
		tc.conv.StageState = model.StateExplainingProcess
		return "No problem, we'll skip the introductions. " + processText
	}
	tc.conv.StageState = model.StateAwaitingName
	return prompt
}

func (o *Orchestrator) beginDialogue(tc *turnCtx) string {
	tc.conv.Stage = 1
	tc.conv.StageState = model.StateActive
	setExt(tc.conv, model.ExtStageStartSeq, strconv.FormatInt(tc.userSeq, 10))

	spec, _ := dialogue.SpecFor(1)
	return spec.Intro
}

var (
	namePrefixRx = regexp.MustCompile(`(?i)^(my name is|my name's|i am|i'm|im|it's|its|call me|this is|name's)\s+`)
	nameWordRx   = regexp.MustCompile(`^[\p{L}][\p{L}'-]*$`)
)

// extractName pulls a plausible name out of free text: strip a lead-in
// phrase, then accept up to two name-shaped words.
func extractName(text string) string {
	t := strings.TrimSpace(text)
	t = namePrefixRx.ReplaceAllString(t, "")
	t = strings.Trim(t, " .,!?")
	if t == "" || len(t) > 40 {
		return ""
	}

	words := strings.Fields(t)
	if len(words) > 2 {
		words = words[:1]
	}
	for _, w := range words {
		if !nameWordRx.MatchString(w) {
			return ""
		}
	}
	return titleCase(strings.Join(words, " "))
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
