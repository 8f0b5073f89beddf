package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// EmailSender is the part of the resend client used to send mail
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailNotifier mails import summaries through Resend. Only completion and
// failure notices are mailed; the rest would be noise in an inbox.
type EmailNotifier struct {
	sender EmailSender
	from   string
	to     []string
	logger *slog.Logger
}

// NewEmailNotifier creates a Resend notifier. A nil notifier is returned when
// apiKey or the recipients are missing, so callers can skip mail entirely.
func NewEmailNotifier(apiKey, from string, to []string, logger *slog.Logger) *EmailNotifier {
	if apiKey == "" || len(to) == 0 {
		return nil
	}
	return NewEmailNotifierWithSender(resend.NewClient(apiKey).Emails, from, to, logger)
}

// NewEmailNotifierWithSender creates a notifier over an existing sender
func NewEmailNotifierWithSender(sender EmailSender, from string, to []string, logger *slog.Logger) *EmailNotifier {
	if from == "" {
		from = "Tenoris360 <import@tenoris360.com>"
	}
	return &EmailNotifier{sender: sender, from: from, to: to, logger: logger}
}

func (e *EmailNotifier) Notify(ctx context.Context, n Notice) error {
	if n.Level != LevelSuccess && n.Level != LevelError {
		return nil
	}

	body := fmt.Sprintf(`
<html>
<body style="font-family: sans-serif;">
  <h2>%s</h2>
  <p>%s</p>
  <p style="color: #6b7280; font-size: 12px;">Import type: %s</p>
</body>
</html>
`, html.EscapeString(n.Title), html.EscapeString(n.Message), html.EscapeString(n.Entity))

	resp, err := e.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    e.from,
		To:      e.to,
		Subject: "Tenoris360 import: " + n.Title,
		Html:    body,
		Text:    n.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to send import summary email: %w", err)
	}

	e.logger.Info("import summary email sent", slog.String("email_id", resp.Id))
	return nil
}
