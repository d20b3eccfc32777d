package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence/internal/calendar"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/internal/store/sqlite"
)

type fakeAssistant struct {
	lastUser string
	lastText string
	reply    string
	err      error
}

func (f *fakeAssistant) HandleMessage(_ context.Context, userID, text string) (string, error) {
	f.lastUser, f.lastText = userID, text
	return f.reply, f.err
}

type fakeProvider struct {
	exchanged map[string]string
}

func (f *fakeProvider) AuthURL(userID string) string { return "https://auth.example/" + userID }

func (f *fakeProvider) Exchange(_ context.Context, userID, code string) error {
	if f.exchanged == nil {
		f.exchanged = map[string]string{}
	}
	f.exchanged[userID] = code
	return nil
}

func (f *fakeProvider) IsAuthorized(context.Context, string) bool { return false }

func (f *fakeProvider) ListEvents(context.Context, string, time.Time, time.Time) ([]calendar.Event, error) {
	return nil, nil
}

func (f *fakeProvider) CreateEvent(context.Context, string, calendar.CreateEventRequest) (*calendar.CreatedEvent, error) {
	return nil, calendar.ErrNotAuthorized
}

type fakeGateway struct{ sent []string }

func (f *fakeGateway) SendText(_ context.Context, userID, text string) (string, error) {
	f.sent = append(f.sent, userID+": "+text)
	return "msg-1", nil
}

type fakeReporter struct{ healthy bool }

func (f *fakeReporter) IsHealthy() bool { return f.healthy }

func (f *fakeReporter) Components() map[string]bool {
	return map[string]bool{"store": f.healthy}
}

func newTestRouter(t *testing.T, assistant Assistant) (*mux.Router, store.Store, *fakeProvider, *fakeGateway) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.EnsureSchema(db))
	st := sqlite.NewWithDB(db)

	provider := &fakeProvider{}
	gw := &fakeGateway{}
	r := NewRouter(assistant, st, provider, gw, &fakeReporter{healthy: true}, zerolog.Nop())
	return r, st, provider, gw
}

func TestInboundMessage(t *testing.T) {
	assistant := &fakeAssistant{reply: "hello back"}
	router, _, _, _ := newTestRouter(t, assistant)

	body := `{"fromUserId":"+15551234567","text":"hi"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/messages/inbound", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "hello back", out["reply"])
	assert.Equal(t, "+15551234567", assistant.lastUser)
	assert.Equal(t, "hi", assistant.lastText)
}

func TestInboundMessage_BadPayload(t *testing.T) {
	router, _, _, _ := newTestRouter(t, &fakeAssistant{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/messages/inbound", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/api/messages/inbound", strings.NewReader(`{"text":"no sender"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInboundTwilio(t *testing.T) {
	assistant := &fakeAssistant{reply: "got it"}
	router, _, _, _ := newTestRouter(t, assistant)

	form := url.Values{"From": {"+15550000001"}, "Body": {"schedule lunch"}}
	req := httptest.NewRequest("POST", "/api/messages/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/xml", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "<Message>got it</Message>")
	assert.Equal(t, "+15550000001", assistant.lastUser)
}

func TestBufferPolicyRoundTrip(t *testing.T) {
	router, _, _, _ := newTestRouter(t, &fakeAssistant{})

	// Default before any override.
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/users/u1/buffer-policy", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, float64(15), got["preMinutes"])

	// Override.
	body := `{"preMinutes":5,"postMinutes":10,"meetingSurchargeMinutes":0,"weekendBuffering":true,"maxBufferMinutes":45}`
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("PUT", "/api/users/u1/buffer-policy", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/users/u1/buffer-policy", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, float64(5), got["preMinutes"])
	assert.Equal(t, true, got["weekendBuffering"])
}

func TestBufferPolicyValidation(t *testing.T) {
	router, _, _, _ := newTestRouter(t, &fakeAssistant{})

	for _, body := range []string{
		`{"preMinutes":-1,"postMinutes":10,"maxBufferMinutes":60}`,
		`{"preMinutes":10,"postMinutes":10,"maxBufferMinutes":0}`,
		`{"preMinutes":90,"postMinutes":10,"maxBufferMinutes":60}`,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest("PUT", "/api/users/u1/buffer-policy", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rr.Code, "body=%s", body)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	router, _, _, _ := newTestRouter(t, &fakeAssistant{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/users/nobody/conversation", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCalendarCallback(t *testing.T) {
	router, _, provider, gw := newTestRouter(t, &fakeAssistant{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/calendar/callback?state=u1&code=abc", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "abc", provider.exchanged["u1"])
	require.Len(t, gw.sent, 1)
	assert.Contains(t, gw.sent[0], "connected")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/calendar/callback?state=u1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	router, _, _, _ := newTestRouter(t, &fakeAssistant{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/api/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"healthy"`)
}
