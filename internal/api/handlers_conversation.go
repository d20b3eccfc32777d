package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cadencehq/cadence/internal/api/respond"
	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/store"
)

// recentTurns bounds the transcript slice returned by the conversation view.
const recentTurns = 20

// ConversationHandler exposes read-only conversation state for support and
// debugging.
type ConversationHandler struct {
	store store.Store
}

func NewConversationHandler(s store.Store) *ConversationHandler {
	return &ConversationHandler{store: s}
}

// GetConversation GET /api/users/{userId}/conversation
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	conv, err := h.store.Conversations().LatestActive(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "no active conversation")
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}

	turns, err := h.store.Turns().List(r.Context(), conv.ConversationID, 0)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	if len(turns) > recentTurns {
		turns = turns[len(turns)-recentTurns:]
	}

	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"turns":        turns,
	})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
