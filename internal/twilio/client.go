package twilio

import (
	"context"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Client wraps Twilio messaging operations required for WhatsApp reminders.
type Client struct {
	client       *twilio.RestClient
	fromWhatsApp string
}

// New creates a Twilio client bound to the configured WhatsApp sender number.
func New(accountSID, authToken, fromWhatsApp string) *Client {
	return &Client{
		client:       twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		fromWhatsApp: fromWhatsApp,
	}
}

type sendResult struct {
	sid string
	err error
}

// SendWhatsAppMessage sends a WhatsApp message via Twilio's API and returns
// the message SID. The SDK call itself takes no context, so ctx only bounds
// how long the caller waits for it.
func (c *Client) SendWhatsAppMessage(ctx context.Context, to, body string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("twilio client not initialised")
	}

	sender := normalizeWhatsAppAddress(c.fromWhatsApp)
	if sender == "" {
		return "", fmt.Errorf("twilio sender WhatsApp number is not configured")
	}

	recipient := normalizeWhatsAppAddress(to)
	if recipient == "" {
		return "", fmt.Errorf("recipient number missing or invalid")
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(sender)
	params.SetBody(body)

	done := make(chan sendResult, 1)
	go func() {
		resp, err := c.client.Api.CreateMessage(params)
		if err != nil {
			done <- sendResult{err: fmt.Errorf("twilio send message error: %w", err)}
			return
		}
		sid := ""
		if resp.Sid != nil {
			sid = *resp.Sid
		}
		done <- sendResult{sid: sid}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("twilio send message: %w", ctx.Err())
	case res := <-done:
		return res.sid, res.err
	}
}

func normalizeWhatsAppAddress(number string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "whatsapp:") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "+") {
		return "whatsapp:" + trimmed
	}
	return "whatsapp:+" + trimmed
}
