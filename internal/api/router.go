package api

import (
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/cadencehq/cadence/internal/api/recovery"
	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/gateway"
	"github.com/cadencehq/cadence/internal/store"
)

// NewRouter wires every HTTP route. Handlers are thin transports; all
// behavior lives in the orchestrator and the store.
func NewRouter(assistant Assistant, s store.Store, provider calendar.Provider, gw gateway.Gateway, reporter HealthReporter, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(recovery.Middleware)

	messages := NewMessageHandler(assistant, log)
	conversations := NewConversationHandler(s)
	policies := NewPolicyHandler(s)
	cal := NewCalendarHandler(provider, gw, log)
	health := NewHealthHandler(reporter)

	router.HandleFunc("/api/health", health.CheckHealth).Methods("GET")

	router.HandleFunc("/api/messages/inbound", messages.Inbound).Methods("POST")
	router.HandleFunc("/api/messages/twilio", messages.InboundTwilio).Methods("POST")

	router.HandleFunc("/api/calendar/callback", cal.Callback).Methods("GET")

	router.HandleFunc("/api/users/{userId}/conversation", conversations.GetConversation).Methods("GET")
	router.HandleFunc("/api/users/{userId}/buffer-policy", policies.GetPolicy).Methods("GET")
	router.HandleFunc("/api/users/{userId}/buffer-policy", policies.PutPolicy).Methods("PUT")

	return router
}
