// Package orchestrator routes every inbound message: confirmation pre-empts,
// direct-action intents bypass the dialogue, everything else runs the staged
// discovery conversation. Exactly one store transition is applied per message.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/dialogue"
	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/reasoning"
	"github.com/cadencehq/cadence/internal/scheduling"
	"github.com/cadencehq/cadence/internal/store"
)

// historyLimit bounds how much transcript is replayed to the reasoning
// service for intent classification.
const historyLimit = 12

// Orchestrator handles one inbound message at a time per user. All state is
// in the store; the per-user mutex only serializes handling within this
// process.
type Orchestrator struct {
	store    store.Store
	engine   reasoning.Engine
	parser   *scheduling.Parser
	protocol *scheduling.Protocol
	assessor *dialogue.Assessor
	compiler *dialogue.Compiler
	provider calendar.Provider
	log      zerolog.Logger

	now func() time.Time
	loc *time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(s store.Store, engine reasoning.Engine, provider calendar.Provider, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    s,
		engine:   engine,
		parser:   scheduling.NewParser(engine),
		protocol: scheduling.NewProtocol(provider, log),
		assessor: dialogue.NewAssessor(engine, log),
		compiler: dialogue.NewCompiler(engine, log),
		provider: provider,
		log:      log.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
		loc:      time.Local,
		locks:    make(map[string]*sync.Mutex),
	}
}

// WithClock overrides time for tests.
func (o *Orchestrator) WithClock(now func() time.Time, loc *time.Location) *Orchestrator {
	o.now = now
	o.loc = loc
	return o
}

func (o *Orchestrator) userLock(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[userID] = l
	}
	return l
}

// HandleMessage processes one inbound message to completion and returns the
// reply text. A version conflict (another instance won the write) is retried
// once against fresh state.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	l := o.userLock(userID)
	l.Lock()
	defer l.Unlock()

	reply, err := o.handle(ctx, userID, text)
	if errors.Is(err, model.ErrConflict) {
		o.log.Warn().Str("userId", userID).Msg("transition conflict, retrying on fresh state")
		reply, err = o.handle(ctx, userID, text)
	}
	return reply, err
}

// turnCtx carries everything one message handling accumulates before the
// single ApplyTransition at the end.
type turnCtx struct {
	conv    *model.Conversation
	turns   []*model.Turn // existing transcript, ascending
	tx      *store.Transition
	userSeq int64 // seq the inbound turn will receive
	userID  string
	text    string
	now     time.Time
}

func (o *Orchestrator) handle(ctx context.Context, userID, text string) (string, error) {
	now := o.now()

	conv, err := o.loadOrCreate(ctx, userID, now)
	if err != nil {
		return "", err
	}
	turns, err := o.store.Turns().List(ctx, conv.ConversationID, 0)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}

	tc := &turnCtx{
		conv:    conv,
		turns:   turns,
		tx:      &store.Transition{Conversation: conv},
		userSeq: lastSeq(turns) + 1,
		userID:  userID,
		text:    text,
		now:     now,
	}
	tc.tx.Turns = append(tc.tx.Turns, &model.Turn{
		ConversationID: conv.ConversationID,
		Role:           model.RoleUser,
		Body:           text,
	})

	reply, err := o.route(ctx, tc)
	if err != nil {
		return "", err
	}

	tc.tx.Turns = append(tc.tx.Turns, &model.Turn{
		ConversationID: conv.ConversationID,
		Role:           model.RoleAssistant,
		Body:           reply,
	})
	if err := o.store.ApplyTransition(ctx, tc.tx); err != nil {
		return "", err
	}
	return reply, nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, userID string, now time.Time) (*model.Conversation, error) {
	conv, err := o.store.Conversations().LatestActive(ctx, userID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv, err = o.store.Conversations().Create(ctx, &model.Conversation{
		UserID:     userID,
		Stage:      0,
		StageState: model.StateAwaitingName,
		Status:     model.ConversationActive,
		Extensions: map[string]string{},
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	o.log.Info().Str("userId", userID).Str("conversationId", conv.ConversationID).Msg("conversation started")
	return conv, nil
}

// route decides what this message is and produces the reply. Confirmation
// always pre-empts; expired pendings are dropped in passing.
func (o *Orchestrator) route(ctx context.Context, tc *turnCtx) (string, error) {
	pending, err := o.store.PendingEvents().Get(ctx, tc.userID)
	switch {
	case err == nil && pending.Expired(tc.now):
		tc.tx.Pending = store.PendingDelete
		tc.tx.PendingUser = tc.userID
	case err == nil:
		return o.continueConfirmation(ctx, tc, pending), nil
	case !errors.Is(err, model.ErrNotFound):
		return "", fmt.Errorf("load pending event: %w", err)
	}

	intent := o.classify(ctx, tc)
	switch intent {
	case reasoning.IntentViewCalendar:
		return o.viewCalendar(ctx, tc), nil
	case reasoning.IntentConnectCalendar:
		return o.connectCalendar(ctx, tc), nil
	case reasoning.IntentSchedule:
		return o.startScheduling(ctx, tc), nil
	case reasoning.IntentSupport:
		return o.supportReply(tc), nil
	}

	// greeting / plan / other: the staged dialogue owns the message.
	if tc.conv.Stage == 0 {
		return o.handleOnboarding(ctx, tc), nil
	}
	if tc.conv.Stage >= dialogue.FinalStage {
		return o.handleCalendarStage(ctx, tc), nil
	}
	return o.handleDialogueStage(ctx, tc), nil
}

func (o *Orchestrator) classify(ctx context.Context, tc *turnCtx) reasoning.Intent {
	history := tc.turns
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	res, err := o.engine.ClassifyIntent(ctx, history, tc.text)
	if err != nil {
		o.log.Warn().Err(err).Str("userId", tc.userID).Msg("intent classification unavailable")
		return reasoning.IntentOther
	}
	return res.Intent
}

// continueConfirmation hands the message to the confirmation protocol and
// records the resulting pending-event change.
func (o *Orchestrator) continueConfirmation(ctx context.Context, tc *turnCtx, pending *model.PendingEvent) string {
	policy := o.policyFor(ctx, tc.userID)
	out := o.protocol.Handle(ctx, pending, policy, tc.text, tc.now)
	if out.Created != nil {
		o.log.Info().
			Str("userId", tc.userID).
			Str("eventId", out.Created.ID).
			Str("link", out.Created.Link).
			Msg("pending event confirmed and created")
	}
	if out.Pending != nil {
		tc.tx.Pending = store.PendingPut
		tc.tx.PendingEvent = out.Pending
	} else {
		tc.tx.Pending = store.PendingDelete
		tc.tx.PendingUser = tc.userID
	}
	return out.Reply
}

// startScheduling parses the request, pads it, checks for conflicts and
// proposes the result for confirmation.
func (o *Orchestrator) startScheduling(ctx context.Context, tc *turnCtx) string {
	draft := o.parser.Parse(ctx, tc.text, tc.now, o.loc)
	if draft.NeedsClarification {
		return clarificationPrompt(draft)
	}

	policy := o.policyFor(ctx, tc.userID)
	window := scheduling.ApplyBuffer(draft, policy)

	var existing []calendar.Event
	if o.provider.IsAuthorized(ctx, tc.userID) {
		evs, err := o.provider.ListEvents(ctx, tc.userID, window.PaddedStart, window.PaddedEnd)
		if err != nil {
			o.log.Warn().Err(err).Str("userId", tc.userID).Msg("conflict lookup failed, proposing without it")
		} else {
			existing = evs
		}
	}
	conflicts := scheduling.FindConflicts(window, existing)

	pending, summary := o.protocol.Propose(tc.userID, draft, window, conflicts, tc.now)
	tc.tx.Pending = store.PendingPut
	tc.tx.PendingEvent = pending
	return summary
}

func clarificationPrompt(draft model.EventDraft) string {
	for _, f := range draft.MissingFields {
		switch f {
		case "startTime":
			return "Happy to set that up — when should it start? A day and time like \"Tuesday 2pm\" works."
		case "title":
			return "Sure — what should I call this on your calendar?"
		}
	}
	return fmt.Sprintf("I'm missing a couple of details (%s). Can you fill those in?", strings.Join(draft.MissingFields, ", "))
}

func (o *Orchestrator) viewCalendar(ctx context.Context, tc *turnCtx) string {
	if !o.provider.IsAuthorized(ctx, tc.userID) {
		return "I can't see your calendar yet. Say \"connect calendar\" and I'll set that up."
	}
	events, err := o.provider.ListEvents(ctx, tc.userID, tc.now, tc.now.AddDate(0, 0, 7))
	if err != nil {
		o.log.Warn().Err(err).Str("userId", tc.userID).Msg("calendar listing failed")
		return "I couldn't reach your calendar just now. Give it a minute and try again."
	}
	if len(events) == 0 {
		return "Your next seven days are clear."
	}

	var b strings.Builder
	b.WriteString("Here's your next week:\n")
	for i, ev := range events {
		if i == 10 {
			fmt.Fprintf(&b, "...and %d more.", len(events)-i)
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", ev.Start.In(o.loc).Format("Mon 3:04 PM"), ev.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) connectCalendar(ctx context.Context, tc *turnCtx) string {
	if o.provider.IsAuthorized(ctx, tc.userID) {
		return "Your calendar is already connected. Ask me to schedule something, or say \"show my calendar\"."
	}
	return fmt.Sprintf("Tap this link to connect your calendar, then come back here:\n%s", o.provider.AuthURL(tc.userID))
}

func (o *Orchestrator) supportReply(tc *turnCtx) string {
	name := tc.conv.Extensions[model.ExtUserName]
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("That sounds heavy, %s. We don't have to sort everything at once — tell me the one thing weighing on you most, and we'll start there.", name)
}

// handleDialogueStage runs extraction and assessment for stages 1-9 and
// advances when the assessor says the stage has enough signal.
func (o *Orchestrator) handleDialogueStage(ctx context.Context, tc *turnCtx) string {
	spec, ok := dialogue.SpecFor(tc.conv.Stage)
	if !ok {
		return o.handleCalendarStage(ctx, tc)
	}

	if ins := o.compiler.Extract(ctx, spec, tc.text); ins != nil {
		tc.tx.Insights = append(tc.tx.Insights, &model.Insight{
			ConversationID: tc.conv.ConversationID,
			Stage:          tc.conv.Stage,
			TurnSeq:        tc.userSeq,
			Fields:         ins.Fields,
			KeyInsights:    ins.KeyInsights,
			Confidence:     ins.Confidence,
		})
	}

	res := o.assessor.Assess(ctx, spec, o.stageUserTexts(tc), tc.text)
	if !res.IsComplete {
		return continuePrompt(spec, res)
	}

	return o.advanceStage(ctx, tc)
}

// advanceStage moves to the next stage and opens it. Stage never decreases.
func (o *Orchestrator) advanceStage(ctx context.Context, tc *turnCtx) string {
	tc.conv.Stage++
	setExt(tc.conv, model.ExtStageStartSeq, strconv.FormatInt(tc.userSeq, 10))

	next, ok := dialogue.SpecFor(tc.conv.Stage)
	if !ok {
		return o.handleCalendarStage(ctx, tc)
	}

	ack := "Got it, thank you."
	if name := tc.conv.Extensions[model.ExtUserName]; name != "" && tc.conv.Stage%3 == 0 {
		ack = fmt.Sprintf("Got it, thanks %s.", name)
	}
	if tc.conv.Stage == dialogue.FinalStage {
		return ack + " " + o.handleCalendarStage(ctx, tc)
	}
	return ack + " " + next.Intro
}

// continuePrompt keeps the current stage open with a nudge tied to the
// assessor's reasoning.
func continuePrompt(spec dialogue.StageSpec, res *reasoning.Assessment) string {
	if res.MetaQuestion {
		return fmt.Sprintf("Fair question — we're working through %s right now, and there are a few more steps after this. Nothing to prepare; just keep talking to me. So, back to it: anything else?", spec.Rubric.Name)
	}
	if res.Fallback {
		return "I'm listening — keep going, and tell me when you've covered everything."
	}
	return "Tell me more about that — the detail is what makes this useful."
}

// stageUserTexts returns the user messages since the current stage opened,
// excluding the one being handled.
func (o *Orchestrator) stageUserTexts(tc *turnCtx) []string {
	startSeq := int64(0)
	if raw := tc.conv.Extensions[model.ExtStageStartSeq]; raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			startSeq = n
		}
	}
	var out []string
	for _, t := range tc.turns {
		if t.Role == model.RoleUser && t.Seq > startSeq {
			out = append(out, t.Body)
		}
	}
	return out
}

func (o *Orchestrator) policyFor(ctx context.Context, userID string) *model.BufferPolicy {
	p, err := o.store.BufferPolicies().Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			o.log.Warn().Err(err).Str("userId", userID).Msg("policy load failed, using defaults")
		}
		return model.DefaultBufferPolicy(userID)
	}
	return p
}

func setExt(c *model.Conversation, key, value string) {
	if c.Extensions == nil {
		c.Extensions = map[string]string{}
	}
	c.Extensions[key] = value
}

func lastSeq(turns []*model.Turn) int64 {
	if len(turns) == 0 {
		return 0
	}
	return turns[len(turns)-1].Seq
}
