package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/openai"
	"go.uber.org/zap"
)

const instructionLimit = 160

// Messenger sends a WhatsApp text.
type Messenger interface {
	SendWhatsAppMessage(ctx context.Context, to, body string) (string, error)
}

// WhatsAppSender delivers reminders as WhatsApp messages. Long instructions
// are condensed so the reminder stays readable on a phone.
type WhatsAppSender struct {
	messenger Messenger
	condenser *openai.Client
	log       *zap.Logger
}

// NewWhatsAppSender returns a sender. condenser may be nil.
func NewWhatsAppSender(messenger Messenger, condenser *openai.Client, log *zap.Logger) *WhatsAppSender {
	return &WhatsAppSender{messenger: messenger, condenser: condenser, log: log}
}

// Send transmits n to n.Phone.
func (s *WhatsAppSender) Send(ctx context.Context, n Notification) error {
	if strings.TrimSpace(n.Phone) == "" {
		return &apperr.DeliveryError{Provider: "twilio", Detail: "recipient phone number missing"}
	}

	body := s.body(ctx, n)
	if _, err := s.messenger.SendWhatsAppMessage(ctx, n.Phone, body); err != nil {
		return &apperr.DeliveryError{Provider: "twilio", Detail: err.Error(), Err: err}
	}
	return nil
}

func (s *WhatsAppSender) body(ctx context.Context, n Notification) string {
	label := n.Slot.Display()
	if label == "" {
		label = "Medicine"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s reminder: take %s", label, n.MedicineName))
	if n.Dosage != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", n.Dosage))
	}
	sb.WriteString(".")

	details := strings.TrimSpace(strings.Join(nonBlank(n.Instructions, n.Notes), " "))
	if details != "" {
		sb.WriteString("\n")
		sb.WriteString(s.condense(ctx, details))
	}
	return sb.String()
}

func (s *WhatsAppSender) condense(ctx context.Context, details string) string {
	if s.condenser == nil {
		return details
	}
	short, err := s.condenser.Condense(ctx, details, instructionLimit)
	if err != nil && !errors.Is(err, openai.ErrClientNotInitialised) {
		s.log.Warn("notify: condense instructions", zap.Error(err))
	}
	return short
}

func nonBlank(values ...string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
