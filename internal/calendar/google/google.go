// Package google implements the calendar provider against the Google
// Calendar API with per-user OAuth credentials persisted in the store.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/store"
)

// Provider talks to Google Calendar on behalf of users who completed the
// consent flow. Tokens live in the store as opaque JSON so any instance can
// serve any user.
type Provider struct {
	cfg    *oauth2.Config
	tokens store.CalendarTokens
	log    zerolog.Logger
}

func New(clientID, clientSecret, redirectURL string, tokens store.CalendarTokens, log zerolog.Logger) *Provider {
	return &Provider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gcal.CalendarEventsScope},
			Endpoint:     googleoauth.Endpoint,
		},
		tokens: tokens,
		log:    log.With().Str("component", "google-calendar").Logger(),
	}
}

// AuthURL builds the consent URL. The user id rides in the state parameter
// so the callback can attribute the code without a session.
func (p *Provider) AuthURL(userID string) string {
	return p.cfg.AuthCodeURL(userID, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades a consent code for a token and persists it.
func (p *Provider) Exchange(ctx context.Context, userID, code string) error {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange consent code: %w", err)
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := p.tokens.Put(ctx, &model.CalendarToken{UserID: userID, Token: raw}); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	p.log.Info().Str("userId", userID).Msg("calendar connected")
	return nil
}

func (p *Provider) IsAuthorized(ctx context.Context, userID string) bool {
	_, err := p.tokens.Get(ctx, userID)
	return err == nil
}

// service builds a per-user Calendar client. Refreshed tokens are written
// back so refresh tokens keep working across restarts.
func (p *Provider) service(ctx context.Context, userID string) (*gcal.Service, error) {
	rec, err := p.tokens.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, calendar.ErrNotAuthorized
		}
		return nil, fmt.Errorf("load token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(rec.Token, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}

	src := &savingSource{
		inner:  p.cfg.TokenSource(ctx, &tok),
		last:   tok.AccessToken,
		userID: userID,
		p:      p,
		ctx:    ctx,
	}
	svc, err := gcal.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("build calendar client: %w", err)
	}
	return svc, nil
}

// savingSource persists tokens after a refresh.
type savingSource struct {
	inner  oauth2.TokenSource
	last   string
	userID string
	p      *Provider
	ctx    context.Context
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.inner.Token()
	if err != nil {
		return nil, calendar.ErrNotAuthorized
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if raw, merr := json.Marshal(tok); merr == nil {
			if perr := s.p.tokens.Put(s.ctx, &model.CalendarToken{UserID: s.userID, Token: raw}); perr != nil {
				s.p.log.Warn().Err(perr).Str("userId", s.userID).Msg("persist refreshed token failed")
			}
		}
	}
	return tok, nil
}

func (p *Provider) ListEvents(ctx context.Context, userID string, min, max time.Time) ([]calendar.Event, error) {
	svc, err := p.service(ctx, userID)
	if err != nil {
		return nil, err
	}
	call := svc.Events.List("primary").
		TimeMin(min.Format(time.RFC3339)).
		TimeMax(max.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	out := make([]calendar.Event, 0, len(res.Items))
	for _, it := range res.Items {
		start, end, ok := eventTimes(it)
		if !ok {
			continue // all-day events carry no clock time to conflict with
		}
		out = append(out, calendar.Event{ID: it.Id, Title: it.Summary, Start: start, End: end})
	}
	return out, nil
}

func eventTimes(it *gcal.Event) (time.Time, time.Time, bool) {
	if it.Start == nil || it.End == nil || it.Start.DateTime == "" || it.End.DateTime == "" {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, it.Start.DateTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, it.End.DateTime)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func (p *Provider) CreateEvent(ctx context.Context, userID string, req calendar.CreateEventRequest) (*calendar.CreatedEvent, error) {
	svc, err := p.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	ev := &gcal.Event{
		Summary:     req.Title,
		Description: req.Description,
		Location:    req.Location,
		Start:       &gcal.EventDateTime{DateTime: req.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: req.End.Format(time.RFC3339)},
	}
	for _, a := range req.Attendees {
		ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{Email: a})
	}

	created, err := svc.Events.Insert("primary", ev).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
			return nil, fmt.Errorf("create event: %w: %v", calendar.ErrInvalidTime, err)
		}
		return nil, fmt.Errorf("create event: %w", err)
	}
	p.log.Info().Str("userId", userID).Str("eventId", created.Id).Msg("event created")
	return &calendar.CreatedEvent{ID: created.Id, Link: created.HtmlLink}, nil
}
