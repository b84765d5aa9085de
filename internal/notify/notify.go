// Package notify renders and transmits a single medicine reminder.
// Senders are stateless and never retry.
package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/pathakanu/medMemo/internal/timeslot"
)

// Notification carries everything a reminder message shows.
type Notification struct {
	RecipientName string
	Email         string
	Phone         string
	MedicineName  string
	Dosage        string
	Instructions  string
	Notes         string
	Slot          timeslot.Label
}

// Sender transmits one notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

type templateData struct {
	Notification
	Greeting  string
	SlotLabel string
}

const subjectTemplate = `{{.SlotLabel}} reminder: {{.MedicineName}}`

const textTemplate = `{{.Greeting}}

It's time for your {{.SlotLabel | lower}} dose of {{.MedicineName}}.
{{if .Dosage}}
Dosage: {{.Dosage}}{{end}}{{if .Instructions}}
Instructions: {{.Instructions}}{{end}}{{if .Notes}}
Notes: {{.Notes}}{{end}}

Stay healthy,
MedMemo
`

const htmlTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <p>{{.Greeting}}</p>
  <p>It's time for your {{.SlotLabel | lower}} dose of <strong>{{.MedicineName}}</strong>.</p>
  <table cellpadding="4">
    {{if .Dosage}}<tr><td><strong>Dosage</strong></td><td>{{.Dosage}}</td></tr>{{end}}
    {{if .Instructions}}<tr><td><strong>Instructions</strong></td><td>{{.Instructions}}</td></tr>{{end}}
    {{if .Notes}}<tr><td><strong>Notes</strong></td><td>{{.Notes}}</td></tr>{{end}}
  </table>
  <p style="color: #6b7280;">Stay healthy,<br>MedMemo</p>
</body>
</html>
`

var (
	funcs    = map[string]any{"lower": strings.ToLower}
	subjectT = texttemplate.Must(texttemplate.New("subject").Funcs(funcs).Parse(subjectTemplate))
	textT    = texttemplate.Must(texttemplate.New("text").Funcs(funcs).Parse(textTemplate))
	htmlT    = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(htmlTemplate))
)

// Render fills the fixed reminder template.
func Render(n Notification) (Message, error) {
	data := templateData{
		Notification: n,
		Greeting:     "Hello,",
		SlotLabel:    n.Slot.Display(),
	}
	if name := strings.TrimSpace(n.RecipientName); name != "" {
		data.Greeting = fmt.Sprintf("Hello %s,", name)
	}
	if data.SlotLabel == "" {
		data.SlotLabel = "Medicine"
	}

	var subject, text, html bytes.Buffer
	if err := subjectT.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := textT.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	if err := htmlT.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	return Message{Subject: subject.String(), Text: text.String(), HTML: html.String()}, nil
}
