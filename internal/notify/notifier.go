package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Notifier delivers best-effort messages. A failed Send is reported through
// the returned error but callers treat delivery as fire-and-forget: failures
// are logged, never escalated to the request that triggered them.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPNotifier sends plain-text email through an SMTP relay.
type SMTPNotifier struct {
	client *mail.Client
	from   string
	logger *zap.Logger
}

// NewSMTP creates an SMTP notifier. Username and password may be empty for
// relays that accept unauthenticated mail.
func NewSMTP(host string, port int, username, password, from string, logger *zap.Logger) (*SMTPNotifier, error) {
	opts := []mail.Option{mail.WithPort(port)}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}

	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	return &SMTPNotifier{client: client, from: from, logger: logger}, nil
}

// Send delivers one plain-text message.
func (n *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	n.logger.Debug("Email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

// LogNotifier writes messages to the log instead of delivering them. Used
// when no SMTP relay is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLog creates a log-only notifier.
func NewLog(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the message and succeeds.
func (n *LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	n.logger.Info("Email (not delivered, no SMTP configured)",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
