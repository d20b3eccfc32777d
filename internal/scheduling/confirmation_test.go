package scheduling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/model"
)

type fakeProvider struct {
	created   []calendar.CreateEventRequest
	createErr error
	events    []calendar.Event
	listErr   error
}

func (f *fakeProvider) AuthURL(string) string { return "https://auth.example" }

func (f *fakeProvider) Exchange(context.Context, string, string) error { return nil }

func (f *fakeProvider) IsAuthorized(context.Context, string) bool { return true }

func (f *fakeProvider) ListEvents(_ context.Context, _ string, _, _ time.Time) ([]calendar.Event, error) {
	return f.events, f.listErr
}
func (f *fakeProvider) CreateEvent(_ context.Context, _ string, req calendar.CreateEventRequest) (*calendar.CreatedEvent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &calendar.CreatedEvent{ID: "ev-1", Link: "https://cal.example/ev-1"}, nil
}

func TestClassifyAction(t *testing.T) {
	cases := []struct {
		text string
		want Action
	}{
		{"yes", ActionConfirm},
		{"Yes please, book it", ActionConfirm},
		{"sounds good", ActionConfirm},
		{"no", ActionCancel},
		{"never mind", ActionCancel},
		{"cancel that", ActionCancel},
		{"can we do it later", ActionAdjustTime},
		{"move it to a different time", ActionAdjustTime},
		{"less buffer please", ActionAdjustBuffer},
		{"change it to lunch instead", ActionModify},
		{"what does that mean?", ActionClarify},
		{"hmm", ActionClarify},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyAction(tc.text), "text=%q", tc.text)
	}
}

func newTestProtocol(provider calendar.Provider) *Protocol {
	return NewProtocol(provider, zerolog.Nop())
}

func proposedEvent(t *testing.T, p *Protocol) *model.PendingEvent {
	t.Helper()
	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	d := model.EventDraft{Title: "Client Meeting", Start: start, End: start.Add(time.Hour), DurationMinutes: 60, Confidence: model.ConfidenceHigh}
	w := ApplyBuffer(d, model.DefaultBufferPolicy("u1"))
	pending, summary := p.Propose("u1", d, w, nil, start.Add(-time.Hour))
	require.Contains(t, summary, "Client Meeting")
	require.Equal(t, model.PendingProposed, pending.State)
	return pending
}

func TestProtocol_ConfirmCreatesPaddedEvent(t *testing.T) {
	provider := &fakeProvider{}
	p := newTestProtocol(provider)
	pending := proposedEvent(t, p)

	out := p.Handle(context.Background(), pending, model.DefaultBufferPolicy("u1"), "yes", time.Now())
	require.Nil(t, out.Pending, "confirm destroys the pending event")
	require.NotNil(t, out.Created)
	require.Len(t, provider.created, 1)

	req := provider.created[0]
	assert.Equal(t, pending.Window.PaddedStart, req.Start)
	assert.Equal(t, pending.Window.PaddedEnd, req.End)
	assert.Contains(t, out.Reply, "Done")
}

func TestProtocol_CriticalSeverityBlocksConfirm(t *testing.T) {
	provider := &fakeProvider{}
	p := newTestProtocol(provider)
	pending := proposedEvent(t, p)
	pending.Severity = model.SeverityCritical

	out := p.Handle(context.Background(), pending, model.DefaultBufferPolicy("u1"), "yes", time.Now())
	assert.NotNil(t, out.Pending)
	assert.Empty(t, provider.created)
}

func TestProtocol_CreateFailureDestroysPending(t *testing.T) {
	provider := &fakeProvider{createErr: calendar.ErrNotAuthorized}
	p := newTestProtocol(provider)
	pending := proposedEvent(t, p)

	out := p.Handle(context.Background(), pending, model.DefaultBufferPolicy("u1"), "confirm", time.Now())
	assert.Nil(t, out.Pending)
	assert.Contains(t, out.Reply, "connect calendar")
}

// A time the provider rejects cannot succeed on retry; the guidance asks for
// a restated time instead of a retry.
func TestProtocol_InvalidTimeAsksForRestatedTime(t *testing.T) {
	provider := &fakeProvider{createErr: fmt.Errorf("create event: %w: bad start", calendar.ErrInvalidTime)}
	p := newTestProtocol(provider)
	pending := proposedEvent(t, p)

	out := p.Handle(context.Background(), pending, model.DefaultBufferPolicy("u1"), "yes", time.Now())
	assert.Nil(t, out.Pending)
	assert.Contains(t, out.Reply, "rejected that time")
	assert.Contains(t, out.Reply, "day and time")
	assert.NotContains(t, out.Reply, "try again")
}

func TestProtocol_CancelDestroysPending(t *testing.T) {
	p := newTestProtocol(&fakeProvider{})
	pending := proposedEvent(t, p)

	out := p.Handle(context.Background(), pending, model.DefaultBufferPolicy("u1"), "cancel", time.Now())
	assert.Nil(t, out.Pending)
}

func TestProtocol_ClarifyRedisplaysWithoutMutating(t *testing.T) {
	p := newTestProtocol(&fakeProvider{})
	pending := proposedEvent(t, p)

	out := p.Handle(context.Background(), pending, model.DefaultBufferPolicy("u1"), "huh?", time.Now())
	require.NotNil(t, out.Pending)
	assert.Equal(t, model.PendingProposed, out.Pending.State)
	assert.Contains(t, out.Reply, "Client Meeting")
}

func TestProtocol_AdjustTimeFlow(t *testing.T) {
	p := newTestProtocol(&fakeProvider{})
	pending := proposedEvent(t, p)
	policy := model.DefaultBufferPolicy("u1")

	out := p.Handle(context.Background(), pending, policy, "later please", time.Now())
	require.NotNil(t, out.Pending)
	require.Equal(t, model.PendingAdjustingTime, out.Pending.State)

	out = p.Handle(context.Background(), out.Pending, policy, "4pm", time.Now())
	require.NotNil(t, out.Pending)
	assert.Equal(t, model.PendingProposed, out.Pending.State)
	assert.Equal(t, time.Date(2026, 9, 1, 16, 0, 0, 0, time.UTC), out.Pending.Draft.Start)
	assert.Equal(t, time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC), out.Pending.Draft.End)
}

func TestProtocol_AdjustTimeUnparseableAsksAgain(t *testing.T) {
	p := newTestProtocol(&fakeProvider{})
	pending := proposedEvent(t, p)
	pending.State = model.PendingAdjustingTime

	out := p.Handle(context.Background(), pending, model.DefaultBufferPolicy("u1"), "whenever", time.Now())
	require.NotNil(t, out.Pending)
	assert.Equal(t, model.PendingAdjustingTime, out.Pending.State)
}

func TestProtocol_AdjustBufferFlow(t *testing.T) {
	p := newTestProtocol(&fakeProvider{})
	pending := proposedEvent(t, p)
	policy := model.DefaultBufferPolicy("u1")

	out := p.Handle(context.Background(), pending, policy, "less buffer", time.Now())
	require.Equal(t, model.PendingAdjustingBuffer, out.Pending.State)

	out = p.Handle(context.Background(), out.Pending, policy, "10 and 20", time.Now())
	require.Equal(t, model.PendingProposed, out.Pending.State)
	assert.Equal(t, 10, out.Pending.Window.PreMinutes)
	assert.Equal(t, 20, out.Pending.Window.PostMinutes)
	assert.Equal(t, out.Pending.Window.Start.Add(-10*time.Minute), out.Pending.Window.PaddedStart)
}

func TestProtocol_AdjustBufferCappedAtPolicyMax(t *testing.T) {
	p := newTestProtocol(&fakeProvider{})
	pending := proposedEvent(t, p)
	pending.State = model.PendingAdjustingBuffer
	policy := model.DefaultBufferPolicy("u1")

	out := p.Handle(context.Background(), pending, policy, "90", time.Now())
	assert.Equal(t, policy.MaxBufferMinutes, out.Pending.Window.PreMinutes)
	assert.Equal(t, policy.MaxBufferMinutes, out.Pending.Window.PostMinutes)
}

func TestProtocol_AdjustTimeRefreshesConflicts(t *testing.T) {
	provider := &fakeProvider{events: []calendar.Event{
		{ID: "busy", Title: "Busy", Start: time.Date(2026, 9, 1, 16, 30, 0, 0, time.UTC), End: time.Date(2026, 9, 1, 17, 30, 0, 0, time.UTC)},
	}}
	p := newTestProtocol(provider)
	pending := proposedEvent(t, p)
	pending.State = model.PendingAdjustingTime

	out := p.Handle(context.Background(), pending, model.DefaultBufferPolicy("u1"), "4pm", time.Now())
	require.NotNil(t, out.Pending)
	assert.NotEmpty(t, out.Pending.Conflicts)
	assert.NotEqual(t, model.SeverityNone, out.Pending.Severity)
}
