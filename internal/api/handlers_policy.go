package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cadencehq/cadence/internal/api/respond"
	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/store"
)

// PolicyHandler manages per-user buffer policies.
type PolicyHandler struct {
	store store.Store
}

func NewPolicyHandler(s store.Store) *PolicyHandler { return &PolicyHandler{store: s} }

// GetPolicy GET /api/users/{userId}/buffer-policy
// Users without an override get the defaults.
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	p, err := h.store.BufferPolicies().Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteJSON(w, http.StatusOK, model.DefaultBufferPolicy(userID))
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, p)
}

// PutPolicy PUT /api/users/{userId}/buffer-policy
func (h *PolicyHandler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	var req struct {
		PreMinutes              int  `json:"preMinutes"`
		PostMinutes             int  `json:"postMinutes"`
		MeetingSurchargeMinutes int  `json:"meetingSurchargeMinutes"`
		WeekendBuffering        bool `json:"weekendBuffering"`
		MaxBufferMinutes        int  `json:"maxBufferMinutes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}

	p := &model.BufferPolicy{
		UserID:                  userID,
		PreMinutes:              req.PreMinutes,
		PostMinutes:             req.PostMinutes,
		MeetingSurchargeMinutes: req.MeetingSurchargeMinutes,
		WeekendBuffering:        req.WeekendBuffering,
		MaxBufferMinutes:        req.MaxBufferMinutes,
	}
	if err := p.Validate(); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.store.BufferPolicies().Put(r.Context(), p); err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, p)
}
