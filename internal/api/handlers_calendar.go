package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/gateway"
)

// CalendarHandler completes the calendar consent flow. The user id rides in
// the OAuth state parameter, so the callback needs no session.
type CalendarHandler struct {
	provider calendar.Provider
	gateway  gateway.Gateway
	log      zerolog.Logger
}

func NewCalendarHandler(provider calendar.Provider, gw gateway.Gateway, log zerolog.Logger) *CalendarHandler {
	return &CalendarHandler{provider: provider, gateway: gw, log: log.With().Str("component", "calendar-callback").Logger()}
}

// Callback GET /api/calendar/callback?state={userId}&code={code}
func (h *CalendarHandler) Callback(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if userID == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	if err := h.provider.Exchange(r.Context(), userID, code); err != nil {
		h.log.Error().Err(err).Str("userId", userID).Msg("consent exchange failed")
		http.Error(w, "calendar connection failed; head back to the chat and try again", http.StatusBadGateway)
		return
	}

	// Nudge the conversation forward; a failed text is not worth failing
	// the consent flow over.
	if _, err := h.gateway.SendText(r.Context(), userID, "Your calendar is connected! Text me anything to continue."); err != nil {
		h.log.Warn().Err(err).Str("userId", userID).Msg("post-connect text failed")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte("<html><body><p>Calendar connected. You can close this tab and go back to the chat.</p></body></html>"))
}
