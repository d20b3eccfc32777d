package orchestrator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/dialogue"
	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/reasoning"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/store/sqlite"
)

// fakeEngine is a fully scriptable reasoning service.
type fakeEngine struct {
	intent     reasoning.Intent
	intentErr  error
	extraction *reasoning.EventExtraction
	extractErr error
	assessment *reasoning.Assessment
	assessErr  error
	insights   *reasoning.InsightExtraction
	insightErr error
}

func (f *fakeEngine) ClassifyIntent(context.Context, []*model.Turn, string) (*reasoning.IntentResult, error) {
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return &reasoning.IntentResult{Intent: f.intent}, nil
}

func (f *fakeEngine) ExtractEvent(context.Context, string, time.Time, *time.Location) (*reasoning.EventExtraction, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	out := *f.extraction
	return &out, nil
}

func (f *fakeEngine) AssessStage(context.Context, reasoning.StageRubric, []string, string) (*reasoning.Assessment, error) {
	if f.assessErr != nil {
		return nil, f.assessErr
	}
	out := *f.assessment
	return &out, nil
}

func (f *fakeEngine) ExtractInsights(context.Context, reasoning.StageRubric, string) (*reasoning.InsightExtraction, error) {
	if f.insightErr != nil {
		return nil, f.insightErr
	}
	if f.insights == nil {
		return &reasoning.InsightExtraction{}, nil
	}
	out := *f.insights
	return &out, nil
}

type fakeProvider struct {
	authorized bool
	events     []calendar.Event
	created    []calendar.CreateEventRequest
	createErr  error
}

func (f *fakeProvider) AuthURL(userID string) string { return "https://auth.example/" + userID }

func (f *fakeProvider) Exchange(context.Context, string, string) error { return nil }

func (f *fakeProvider) IsAuthorized(context.Context, string) bool { return f.authorized }

func (f *fakeProvider) ListEvents(context.Context, string, time.Time, time.Time) ([]calendar.Event, error) {
	return f.events, nil
}
func (f *fakeProvider) CreateEvent(_ context.Context, _ string, req calendar.CreateEventRequest) (*calendar.CreatedEvent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &calendar.CreatedEvent{ID: "ev-1"}, nil
}

// Monday morning.
var testNow = time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, engine reasoning.Engine, provider calendar.Provider) (*Orchestrator, store.Store) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.EnsureSchema(db))
	st := sqlite.NewWithDB(db)

	o := New(st, engine, provider, zerolog.Nop()).WithClock(func() time.Time { return testNow }, time.UTC)
	return o, st
}

// say sends one message and fails the test on error.
func say(t *testing.T, o *Orchestrator, userID, text string) string {
	t.Helper()
	reply, err := o.HandleMessage(context.Background(), userID, text)
	require.NoError(t, err)
	return reply
}

func TestOnboardingFlow(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentGreeting}
	o, st := newTestOrchestrator(t, engine, &fakeProvider{})
	user := "user-onboarding"

	reply := say(t, o, user, "hi")
	assert.Contains(t, reply, "what should I call you")

	reply = say(t, o, user, "I'm alex")
	assert.Contains(t, reply, "Alex")
	assert.Contains(t, reply, "did I get that right")

	reply = say(t, o, user, "yes")
	assert.Contains(t, reply, "how this works")

	reply = say(t, o, user, "ready")
	assert.Contains(t, reply, "everything out of your head")

	conv, err := st.Conversations().LatestActive(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Stage)
	assert.Equal(t, model.StateActive, conv.StageState)
	assert.Equal(t, "Alex", conv.Extensions[model.ExtUserName])
}

func TestOnboarding_NameRetryCap(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentOther}
	o, st := newTestOrchestrator(t, engine, &fakeProvider{})
	user := "user-noname"

	say(t, o, user, "hello")
	say(t, o, user, "@@@@")
	say(t, o, user, "12345")
	reply := say(t, o, user, "!!!")
	assert.Contains(t, reply, "skip the introductions")

	conv, err := st.Conversations().LatestActive(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, "there", conv.Extensions[model.ExtUserName])
	assert.Equal(t, model.StateExplainingProcess, conv.StageState)
}

// Resuming after any gap returns to exactly the persisted stage, and stage
// never decreases.
func TestResumeRestoresStage(t *testing.T) {
	engine := &fakeEngine{
		intent:     reasoning.IntentOther,
		assessment: &reasoning.Assessment{IsComplete: true, Confidence: 0.95},
	}
	o, st := newTestOrchestrator(t, engine, &fakeProvider{})
	user := "user-resume"

	// Through onboarding.
	say(t, o, user, "hi")
	say(t, o, user, "Sam")
	say(t, o, user, "yes")
	say(t, o, user, "ok")

	// Advance a couple of stages.
	say(t, o, user, "work, kids, the move, and taxes are all piling up")
	say(t, o, user, "the work stuff is one bucket, rest is family")

	conv, err := st.Conversations().LatestActive(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, 3, conv.Stage)

	// A fresh process over the same store resumes at stage 3.
	o2 := New(st, &fakeEngine{intent: reasoning.IntentOther, assessment: &reasoning.Assessment{IsComplete: false, Confidence: 0.2}}, &fakeProvider{}, zerolog.Nop()).
		WithClock(func() time.Time { return testNow.Add(72 * time.Hour) }, time.UTC)
	say(t, o2, user, "I'm back")

	conv, err = st.Conversations().LatestActive(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 3, conv.Stage)
}

func scheduledDraft() *reasoning.EventExtraction {
	return &reasoning.EventExtraction{
		Title:           "Meeting with Alex",
		Start:           time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		Confidence:      model.ConfidenceHigh,
	}
}

// The full scheduling path through confirmation, checking that the created
// event spans the padded window.
func TestScheduleConfirmFlow(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentSchedule, extraction: scheduledDraft()}
	provider := &fakeProvider{authorized: true}
	o, st := newTestOrchestrator(t, engine, provider)
	user := "user-schedule"

	reply := say(t, o, user, "meeting with Alex Tuesday 2pm for an hour")
	assert.Contains(t, reply, "Meeting with Alex")
	assert.Contains(t, reply, "protect")

	pending, err := st.PendingEvents().Get(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, model.PendingProposed, pending.State)

	reply = say(t, o, user, "yes")
	assert.Contains(t, reply, "Done")
	require.Len(t, provider.created, 1)

	// 25 min pre (15 + meeting surcharge), 40 min post.
	req := provider.created[0]
	assert.Equal(t, time.Date(2026, 9, 1, 13, 35, 0, 0, time.UTC), req.Start)
	assert.Equal(t, time.Date(2026, 9, 1, 15, 40, 0, 0, time.UTC), req.End)

	_, err = st.PendingEvents().Get(context.Background(), user)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// A confirmed creation is traceable: the provider's event id and link end up
// in the log.
func TestConfirmLogsCreatedEventID(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentSchedule, extraction: scheduledDraft()}
	provider := &fakeProvider{authorized: true}

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.EnsureSchema(db))
	st := sqlite.NewWithDB(db)

	var logs bytes.Buffer
	o := New(st, engine, provider, zerolog.New(&logs)).WithClock(func() time.Time { return testNow }, time.UTC)
	user := "user-confirm-log"

	say(t, o, user, "meeting with Alex Tuesday 2pm for an hour")
	say(t, o, user, "yes")

	require.Len(t, provider.created, 1)
	assert.Contains(t, logs.String(), "ev-1")
	assert.Contains(t, logs.String(), "pending event confirmed")
}

// Meta-question routing rides the assessment's typed flag, not its prose.
func TestContinuePrompt_MetaQuestion(t *testing.T) {
	spec, ok := dialogue.SpecFor(2)
	require.True(t, ok)

	got := continuePrompt(spec, &reasoning.Assessment{MetaQuestion: true, Reason: "reworded later"})
	assert.Contains(t, got, spec.Rubric.Name)

	got = continuePrompt(spec, &reasoning.Assessment{Fallback: true})
	assert.Contains(t, got, "I'm listening")
}

// A pending event is treated as absent 31 minutes after creation.
func TestPendingEventExpiry(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentSchedule, extraction: scheduledDraft()}
	provider := &fakeProvider{authorized: true}
	o, st := newTestOrchestrator(t, engine, provider)
	user := "user-expiry"

	say(t, o, user, "meeting with Alex Tuesday 2pm for an hour")
	_, err := st.PendingEvents().Get(context.Background(), user)
	require.NoError(t, err)

	// 31 minutes later "yes" is not a confirmation of anything.
	engine.intent = reasoning.IntentOther
	o.WithClock(func() time.Time { return testNow.Add(31 * time.Minute) }, time.UTC)
	say(t, o, user, "yes")

	assert.Empty(t, provider.created)
	_, err = st.PendingEvents().Get(context.Background(), user)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestScheduleNeedsClarification(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentSchedule, extraction: &reasoning.EventExtraction{
		Title:         "Coffee",
		Confidence:    model.ConfidenceMedium,
		MissingFields: []string{"startTime"},
	}}
	o, st := newTestOrchestrator(t, engine, &fakeProvider{authorized: true})
	user := "user-clarify"

	reply := say(t, o, user, "coffee with Dana sometime")
	assert.Contains(t, reply, "when should it start")

	// No proposal was made.
	_, err := st.PendingEvents().Get(context.Background(), user)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestViewCalendarRequiresConnection(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentViewCalendar}
	o, _ := newTestOrchestrator(t, engine, &fakeProvider{authorized: false})

	reply := say(t, o, "user-view", "what's on my calendar?")
	assert.Contains(t, reply, "connect calendar")
}

func TestConnectCalendarSharesAuthURL(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentConnectCalendar}
	o, _ := newTestOrchestrator(t, engine, &fakeProvider{authorized: false})

	reply := say(t, o, "user-connect", "connect my calendar")
	assert.Contains(t, reply, "https://auth.example/user-connect")
}

// Every handled message appends both turns, in order.
func TestTranscriptAppends(t *testing.T) {
	engine := &fakeEngine{intent: reasoning.IntentGreeting}
	o, st := newTestOrchestrator(t, engine, &fakeProvider{})
	user := "user-transcript"

	say(t, o, user, "hi")
	say(t, o, user, "Jo")

	conv, err := st.Conversations().LatestActive(context.Background(), user)
	require.NoError(t, err)
	turns, err := st.Turns().List(context.Background(), conv.ConversationID, 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Equal(t, "hi", turns[0].Body)
	assert.Equal(t, model.RoleAssistant, turns[1].Role)
	assert.Equal(t, model.RoleUser, turns[2].Role)
	for i, tr := range turns {
		assert.Equal(t, int64(i+1), tr.Seq)
	}
}

func TestInsightRecordedDuringStages(t *testing.T) {
	engine := &fakeEngine{
		intent:     reasoning.IntentOther,
		assessment: &reasoning.Assessment{IsComplete: false, Confidence: 0.3},
		insights:   &reasoning.InsightExtraction{Fields: map[string]any{"priorities": []any{"family"}}, Confidence: 0.8},
	}
	o, st := newTestOrchestrator(t, engine, &fakeProvider{})
	user := "user-insight"

	say(t, o, user, "hi")
	say(t, o, user, "Kim")
	say(t, o, user, "yes")
	say(t, o, user, "ok")
	say(t, o, user, "family time keeps losing to work")

	conv, err := st.Conversations().LatestActive(context.Background(), user)
	require.NoError(t, err)
	records, err := st.Insights().List(context.Background(), conv.ConversationID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Stage)
}
