// Package mailer delivers transactional email through SMTP, Amazon SES or,
// in development, the process log.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/config"
)

// Message is a single outgoing email with a plain text and an HTML part.
type Message struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the sender configured in cfg.Provider.
func New(ctx context.Context, cfg config.MailConfig, logger *zap.Logger) (Sender, error) {
	switch cfg.Provider {
	case config.MailSMTP:
		return NewSMTPSender(cfg.SMTP, cfg.Timeout), nil
	case config.MailSES:
		return NewSESSender(ctx, cfg.SES.Region)
	case config.MailLog, "":
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

func validate(msg Message) error {
	if msg.From == "" {
		return errors.New("mail: missing sender")
	}
	if len(msg.To) == 0 {
		return errors.New("mail: missing recipient")
	}
	return nil
}

// LogSender writes messages to the logger instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	s.logger.Info("mail not delivered (log provider)",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}
