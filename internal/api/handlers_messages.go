package api

import (
	"context"
	"encoding/xml"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cadencehq/cadence/internal/api/respond"
)

// Assistant handles one inbound message and returns the reply text.
type Assistant interface {
	HandleMessage(ctx context.Context, userID, text string) (string, error)
}

// MessageHandler is the inbound webhook transport.
type MessageHandler struct {
	assistant Assistant
	log       zerolog.Logger
}

func NewMessageHandler(assistant Assistant, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{assistant: assistant, log: log.With().Str("component", "messages").Logger()}
}

// Inbound POST /api/messages/inbound
// Generic JSON webhook: {fromUserId, text} -> {reply}.
func (h *MessageHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromUserID string `json:"fromUserId"`
		Text       string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if req.FromUserID == "" || req.Text == "" {
		respond.WriteBadRequest(w, "fromUserId and text are required")
		return
	}

	reply, err := h.assistant.HandleMessage(r.Context(), req.FromUserID, req.Text)
	if err != nil {
		h.log.Error().Err(err).Str("userId", req.FromUserID).Msg("message handling failed")
		respond.WriteInternalError(w, "message handling failed")
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// twiml is the minimal response envelope Twilio expects from an SMS webhook.
type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// InboundTwilio POST /api/messages/twilio
// Twilio SMS webhook: form-encoded From/Body, TwiML reply.
func (h *MessageHandler) InboundTwilio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respond.WriteBadRequest(w, "invalid form payload")
		return
	}
	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if from == "" || body == "" {
		respond.WriteBadRequest(w, "From and Body are required")
		return
	}

	reply, err := h.assistant.HandleMessage(r.Context(), from, body)
	if err != nil {
		h.log.Error().Err(err).Str("userId", from).Msg("message handling failed")
		reply = "Something went wrong on my end. Give me a minute and try again."
	}

	w.Header().Set("Content-Type", "application/xml")
	out, merr := xml.Marshal(twiml{Message: reply})
	if merr != nil {
		respond.WriteInternalError(w, "encode reply")
		return
	}
	_, _ = w.Write(out)
}
