// Package twilio implements the messaging gateway over the Twilio
// Messages API. User ids are E.164 phone numbers.
package twilio

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.twilio.com"

// Gateway sends SMS through a Twilio account.
type Gateway struct {
	client     *resty.Client
	accountSID string
	from       string
	log        zerolog.Logger
}

// New builds a gateway. An empty baseURL selects the Twilio API; tests point
// it at a local server.
func New(accountSID, authToken, from, baseURL string, log zerolog.Logger) *Gateway {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(accountSID, authToken).
		SetTimeout(10 * time.Second)
	return &Gateway{
		client:     client,
		accountSID: accountSID,
		from:       from,
		log:        log.With().Str("component", "twilio").Logger(),
	}
}

type messageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorMessage string `json:"message"`
}

// SendText posts one outbound SMS and returns the message SID.
func (g *Gateway) SendText(ctx context.Context, userID, text string) (string, error) {
	var out messageResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   userID,
			"From": g.from,
			"Body": text,
		}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", g.accountSID))
	if err != nil {
		return "", fmt.Errorf("send text: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("send text: status %d: %s", resp.StatusCode(), out.ErrorMessage)
	}
	g.log.Debug().Str("to", userID).Str("sid", out.SID).Msg("message sent")
	return out.SID, nil
}
