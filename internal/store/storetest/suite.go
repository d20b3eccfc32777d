package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()
	userID := "u-" + uuid.New().String()

	// Conversations
	if _, err := s.Conversations().LatestActive(ctx, userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("LatestActive on empty store: want ErrNotFound, got %v", err)
	}
	conv, err := s.Conversations().Create(ctx, &model.Conversation{
		UserID:     userID,
		Stage:      0,
		StageState: model.StateAwaitingName,
		Status:     model.ConversationActive,
		Extensions: map[string]string{},
	})
	if err != nil {
		t.Fatalf("Create conversation: %v", err)
	}
	if conv.ConversationID == "" || conv.Version != 1 {
		t.Fatalf("Create conversation: id=%q version=%d", conv.ConversationID, conv.Version)
	}
	got, err := s.Conversations().LatestActive(ctx, userID)
	if err != nil || got.ConversationID != conv.ConversationID {
		t.Fatalf("LatestActive: got=%v err=%v", got, err)
	}

	// ApplyTransition: advance stage, append turns + insight, put pending event
	conv.Stage = 1
	conv.StageState = model.StateActive
	conv.Extensions[model.ExtUserName] = "Sam"
	pending := &model.PendingEvent{
		UserID: userID,
		State:  model.PendingProposed,
		Draft:  model.EventDraft{Title: "Dentist", DurationMinutes: 60, Confidence: model.ConfidenceHigh},
		Window: model.PaddedWindow{PreMinutes: 15, PostMinutes: 30},
		// truncate so round-tripping through JSON compares cleanly
		CreationTime: time.Now().UTC().Truncate(time.Second),
	}
	tr := &store.Transition{
		Conversation: conv,
		Turns: []*model.Turn{
			{ConversationID: conv.ConversationID, Role: model.RoleUser, Body: "hi there"},
			{ConversationID: conv.ConversationID, Role: model.RoleAssistant, Body: "hello Sam"},
		},
		Insights: []*model.Insight{
			{ConversationID: conv.ConversationID, Stage: 1, TurnSeq: 1, Fields: map[string]any{"topic": "work"}, KeyInsights: []string{"overwhelmed"}, Confidence: 0.8},
		},
		Pending:      store.PendingPut,
		PendingEvent: pending,
	}
	if err := s.ApplyTransition(ctx, tr); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if conv.Version != 2 {
		t.Fatalf("version not bumped: %d", conv.Version)
	}

	// Stale version is rejected
	stale := *conv
	stale.Version = 1
	err = s.ApplyTransition(ctx, &store.Transition{Conversation: &stale})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("stale transition: want ErrConflict, got %v", err)
	}

	// Turns are ordered and sequenced
	turns, err := s.Turns().List(ctx, conv.ConversationID, 0)
	if err != nil || len(turns) != 2 {
		t.Fatalf("List turns: n=%d err=%v", len(turns), err)
	}
	if turns[0].Seq != 1 || turns[0].Role != model.RoleUser || turns[1].Seq != 2 {
		t.Fatalf("turn sequencing wrong: %+v %+v", turns[0], turns[1])
	}

	// Insights round-trip
	ins, err := s.Insights().List(ctx, conv.ConversationID)
	if err != nil || len(ins) != 1 {
		t.Fatalf("List insights: n=%d err=%v", len(ins), err)
	}
	if ins[0].KeyInsights[0] != "overwhelmed" || ins[0].Confidence != 0.8 {
		t.Fatalf("insight round-trip: %+v", ins[0])
	}

	// Pending event round-trip
	pe, err := s.PendingEvents().Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get pending: %v", err)
	}
	if pe.Draft.Title != "Dentist" || pe.State != model.PendingProposed {
		t.Fatalf("pending round-trip: %+v", pe)
	}

	// Expiry sweep only removes old records
	if n, err := s.PendingEvents().DeleteExpired(ctx, pending.CreationTime.Add(-time.Minute)); err != nil || n != 0 {
		t.Fatalf("DeleteExpired (fresh): n=%d err=%v", n, err)
	}
	if n, err := s.PendingEvents().DeleteExpired(ctx, pending.CreationTime.Add(time.Minute)); err != nil || n != 1 {
		t.Fatalf("DeleteExpired (old): n=%d err=%v", n, err)
	}
	if _, err := s.PendingEvents().Get(ctx, userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("pending after sweep: want ErrNotFound, got %v", err)
	}

	// Buffer policies
	if _, err := s.BufferPolicies().Get(ctx, userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get policy on empty: want ErrNotFound, got %v", err)
	}
	pol := model.DefaultBufferPolicy(userID)
	pol.WeekendBuffering = true
	if err := s.BufferPolicies().Put(ctx, pol); err != nil {
		t.Fatalf("Put policy: %v", err)
	}
	pol.PostMinutes = 45
	if err := s.BufferPolicies().Put(ctx, pol); err != nil {
		t.Fatalf("Put policy (update): %v", err)
	}
	gotPol, err := s.BufferPolicies().Get(ctx, userID)
	if err != nil || gotPol.PostMinutes != 45 || !gotPol.WeekendBuffering {
		t.Fatalf("Get policy: got=%+v err=%v", gotPol, err)
	}

	// Calendar tokens
	tok := &model.CalendarToken{UserID: userID, Token: []byte(`{"access_token":"abc"}`)}
	if err := s.CalendarTokens().Put(ctx, tok); err != nil {
		t.Fatalf("Put token: %v", err)
	}
	gotTok, err := s.CalendarTokens().Get(ctx, userID)
	if err != nil || len(gotTok.Token) == 0 {
		t.Fatalf("Get token: got=%+v err=%v", gotTok, err)
	}
	if err := s.CalendarTokens().Delete(ctx, userID); err != nil {
		t.Fatalf("Delete token: %v", err)
	}
	if _, err := s.CalendarTokens().Get(ctx, userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get token after delete: want ErrNotFound, got %v", err)
	}
}
