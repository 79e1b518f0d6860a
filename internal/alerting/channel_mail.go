package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
)

// Sender delivers a message to one recipient. Satisfied by notify.Notifier.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

var mailAlertTmpl = template.Must(template.New("alert").Parse(`<h2>{{.Title}}</h2>
<p><strong>Level:</strong> {{.Level}}</p>
<p><strong>Time:</strong> {{.Time}}</p>
<p><strong>Message:</strong> {{.Message}}</p>
<pre>{{.Details}}</pre>
`))

// MailChannel sends alerts to a fixed list of operator addresses.
type MailChannel struct {
	sender     Sender
	recipients []string
}

// NewMailChannel returns nil when there is no sender or no recipient, so an
// unconfigured channel is never registered.
func NewMailChannel(sender Sender, recipients []string) *MailChannel {
	if sender == nil || len(recipients) == 0 {
		return nil
	}
	return &MailChannel{sender: sender, recipients: recipients}
}

func (c *MailChannel) Name() string { return "email" }

func (c *MailChannel) Deliver(ctx context.Context, event Event) error {
	subject := fmt.Sprintf("[%s] %s", event.Level().Upper(), event.Title())
	body, err := renderMailAlert(event)
	if err != nil {
		return err
	}
	var errs []error
	for _, to := range c.recipients {
		if err := c.sender.Send(ctx, to, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func renderMailAlert(event Event) (string, error) {
	details, err := json.MarshalIndent(event.Details(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal alert details: %w", err)
	}
	var buf bytes.Buffer
	err = mailAlertTmpl.Execute(&buf, struct {
		Title, Level, Time, Message, Details string
	}{
		Title:   event.Title(),
		Level:   string(event.Level()),
		Time:    event.TimestampString(),
		Message: event.Message(),
		Details: string(details),
	})
	if err != nil {
		return "", fmt.Errorf("render alert mail: %w", err)
	}
	return buf.String(), nil
}
