// Package ollama implements reasoning.Engine against an Ollama-compatible
// chat endpoint with JSON-schema constrained output.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/model"
	"github.com/cadencehq/cadence/internal/reasoning"
)

// Message is a chat message in the Ollama API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for a chat call.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

// Engine talks to an Ollama instance over HTTP.
type Engine struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates an Engine targeting the given base URL and model. Each call is
// bounded by timeout; a timeout is treated as a service failure.
func New(baseURL, model string, timeout time.Duration) *Engine {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Engine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   any       `json:"format,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error"`
}

// chatJSON sends messages with a schema-constrained format and decodes the
// assistant's reply into out. Any transport or decode problem is reported as
// reasoning.ErrUnavailable.
func (e *Engine) chatJSON(ctx context.Context, messages []Message, schema *Schema, out any) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{Model: e.model, Messages: messages, Stream: false, Format: schema})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: chat request: %v", reasoning.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: chat status %d", reasoning.ErrUnavailable, resp.StatusCode)
	}
	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: decoding chat response: %v", reasoning.ErrUnavailable, err)
	}
	if result.Error != "" {
		return fmt.Errorf("%w: %s", reasoning.ErrUnavailable, result.Error)
	}
	if err := json.Unmarshal([]byte(result.Message.Content), out); err != nil {
		return fmt.Errorf("%w: malformed structured output: %v", reasoning.ErrUnavailable, err)
	}
	return nil
}

// HealthPing checks /api/tags for the configured model's presence.
func (e *Engine) HealthPing(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama status %d", resp.StatusCode)
	}
	var data struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return err
	}
	want := strings.Split(e.model, ":")[0]
	for _, m := range data.Models {
		if strings.Split(m.Name, ":")[0] == want {
			return nil
		}
	}
	return fmt.Errorf("model %s not found", want)
}

const intentSystemPrompt = `You classify one inbound text message from a user of a scheduling and planning assistant.
Reply with a JSON object {"intent": "..."} where intent is exactly one of:
schedule (the user wants to put something on their calendar),
view_calendar (the user asks what is on their calendar),
connect_calendar (the user wants to link their calendar account),
plan (the user is engaging with the guided discovery dialogue),
support (the user is venting or asking for encouragement),
greeting (a bare greeting with no other content),
other.`

// ClassifyIntent classifies the latest text into the closed intent set.
func (e *Engine) ClassifyIntent(ctx context.Context, history []*model.Turn, text string) (*reasoning.IntentResult, error) {
	messages := []Message{{Role: "system", Content: intentSystemPrompt}}
	// Recent turns give the classifier conversational context.
	start := 0
	if len(history) > 6 {
		start = len(history) - 6
	}
	for _, t := range history[start:] {
		messages = append(messages, Message{Role: string(t.Role), Content: t.Body})
	}
	messages = append(messages, Message{Role: "user", Content: text})

	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"intent": {Type: "string", Description: "one of schedule|view_calendar|connect_calendar|plan|support|greeting|other"},
		},
		Required: []string{"intent"},
	}
	var raw struct {
		Intent string `json:"intent"`
	}
	if err := e.chatJSON(ctx, messages, schema, &raw); err != nil {
		return nil, err
	}
	return &reasoning.IntentResult{Intent: reasoning.ParseIntent(raw.Intent)}, nil
}

const eventSystemPrompt = `You extract a calendar event from one text message.
Resolve relative expressions ("tomorrow", "next Tuesday 2pm") into absolute RFC 3339 timestamps using the reference time given.
Reply with a JSON object: {"title": string, "startTime": RFC3339 string or "", "durationMinutes": number or 0, "location": string, "attendees": [string], "confidence": "high"|"medium"|"low", "missingFields": [string]}.
List in missingFields every field you could not determine.`

// ExtractEvent asks the service for a structured event draft.
func (e *Engine) ExtractEvent(ctx context.Context, text string, now time.Time, loc *time.Location) (*reasoning.EventExtraction, error) {
	if loc == nil {
		loc = time.UTC
	}
	ref := now.In(loc)
	messages := []Message{
		{Role: "system", Content: eventSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Reference time: %s (%s)\nMessage: %s", ref.Format(time.RFC3339), ref.Weekday(), text)},
	}
	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"title":           {Type: "string"},
			"startTime":       {Type: "string"},
			"durationMinutes": {Type: "number"},
			"location":        {Type: "string"},
			"attendees":       {Type: "array", Items: &SchemaProperty{Type: "string"}},
			"confidence":      {Type: "string"},
			"missingFields":   {Type: "array", Items: &SchemaProperty{Type: "string"}},
		},
		Required: []string{"title", "confidence"},
	}
	var raw struct {
		Title           string   `json:"title"`
		StartTime       string   `json:"startTime"`
		DurationMinutes int      `json:"durationMinutes"`
		Location        string   `json:"location"`
		Attendees       []string `json:"attendees"`
		Confidence      string   `json:"confidence"`
		MissingFields   []string `json:"missingFields"`
	}
	if err := e.chatJSON(ctx, messages, schema, &raw); err != nil {
		return nil, err
	}

	out := &reasoning.EventExtraction{
		Title:           raw.Title,
		DurationMinutes: raw.DurationMinutes,
		Location:        raw.Location,
		Attendees:       raw.Attendees,
		MissingFields:   raw.MissingFields,
	}
	switch model.Confidence(raw.Confidence) {
	case model.ConfidenceHigh, model.ConfidenceMedium, model.ConfidenceLow:
		out.Confidence = model.Confidence(raw.Confidence)
	default:
		out.Confidence = model.ConfidenceLow
	}
	if raw.StartTime != "" {
		ts, err := time.Parse(time.RFC3339, raw.StartTime)
		if err != nil {
			return nil, fmt.Errorf("%w: bad startTime %q", reasoning.ErrUnavailable, raw.StartTime)
		}
		out.Start = ts
	}
	return out, nil
}

const assessSystemPrompt = `You judge whether a dialogue stage has gathered enough signal to advance.
You are given the stage's purpose, its rubric, everything the user has said during the stage, and their latest message.
Reply with a JSON object: {"isComplete": bool, "confidence": number between 0 and 1, "reason": string, "keyInsights": [string]}.`

// AssessStage asks the service whether the stage rubric is satisfied.
func (e *Engine) AssessStage(ctx context.Context, rubric reasoning.StageRubric, stageTexts []string, latest string) (*reasoning.Assessment, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Stage %d: %s\nPurpose: %s\nRubric:\n", rubric.Stage, rubric.Name, rubric.Purpose)
	for _, c := range rubric.Criteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nUser messages this stage:\n")
	for _, t := range stageTexts {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	fmt.Fprintf(&b, "\nLatest message: %s\n", latest)

	messages := []Message{
		{Role: "system", Content: assessSystemPrompt},
		{Role: "user", Content: b.String()},
	}
	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"isComplete":  {Type: "boolean"},
			"confidence":  {Type: "number"},
			"reason":      {Type: "string"},
			"keyInsights": {Type: "array", Items: &SchemaProperty{Type: "string"}},
		},
		Required: []string{"isComplete", "confidence"},
	}
	var raw struct {
		IsComplete  bool     `json:"isComplete"`
		Confidence  float64  `json:"confidence"`
		Reason      string   `json:"reason"`
		KeyInsights []string `json:"keyInsights"`
	}
	if err := e.chatJSON(ctx, messages, schema, &raw); err != nil {
		return nil, err
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", reasoning.ErrUnavailable, raw.Confidence)
	}
	return &reasoning.Assessment{
		IsComplete:  raw.IsComplete,
		Confidence:  raw.Confidence,
		Reason:      raw.Reason,
		KeyInsights: raw.KeyInsights,
	}, nil
}

const insightSystemPrompt = `You extract structured insights about a user from one message, in the context of a named dialogue stage.
Reply with a JSON object: {"fields": object of stage-appropriate key/value pairs, "keyInsights": [string], "confidence": number between 0 and 1}.
Return empty fields when the message contains nothing extractable.`

// ExtractInsights asks the service for stage-appropriate structured fields.
// Empty results are valid.
func (e *Engine) ExtractInsights(ctx context.Context, rubric reasoning.StageRubric, text string) (*reasoning.InsightExtraction, error) {
	messages := []Message{
		{Role: "system", Content: insightSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Stage %d (%s): %s\nMessage: %s", rubric.Stage, rubric.Name, rubric.Purpose, text)},
	}
	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"fields":      {Type: "object"},
			"keyInsights": {Type: "array", Items: &SchemaProperty{Type: "string"}},
			"confidence":  {Type: "number"},
		},
	}
	var raw struct {
		Fields      map[string]any `json:"fields"`
		KeyInsights []string       `json:"keyInsights"`
		Confidence  float64        `json:"confidence"`
	}
	if err := e.chatJSON(ctx, messages, schema, &raw); err != nil {
		return nil, err
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		raw.Confidence = 0
	}
	return &reasoning.InsightExtraction{Fields: raw.Fields, KeyInsights: raw.KeyInsights, Confidence: raw.Confidence}, nil
}
