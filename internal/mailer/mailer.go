package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const contentTypePDF mail.ContentType = "application/pdf"

// SMTPConfig contains SMTP server configuration
type SMTPConfig struct {
	Host               string        `yaml:"host" mapstructure:"host"`
	Port               int           `yaml:"port" mapstructure:"port"`
	Username           string        `yaml:"username" mapstructure:"username"`
	Password           string        `yaml:"password" mapstructure:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Transport delivers composed messages. *mail.Client satisfies it.
type Transport interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// TransportFactory returns a fresh transport for each send, since a
// connected client must not be shared between concurrent sends.
type TransportFactory func() (Transport, error)

// Mailer sends dispatch mails through a throttle
type Mailer struct {
	newTransport TransportFactory
	throttle     *Throttle
	sender       string
	logger       *zap.Logger
}

// New creates a mailer. sender may carry a display name:
// "Name Surname" <name.surname@example.com>
func New(newTransport TransportFactory, throttle *Throttle, sender string, logger *zap.Logger) *Mailer {
	return &Mailer{
		newTransport: newTransport,
		throttle:     throttle,
		sender:       sender,
		logger:       logger,
	}
}

// SMTPTransport returns a factory for SMTP clients using STARTTLS when the
// server offers it.
func SMTPTransport(cfg SMTPConfig) TransportFactory {
	return func() (Transport, error) {
		opts := []mail.Option{
			mail.WithTLSPortPolicy(mail.TLSOpportunistic),
			mail.WithPort(cfg.Port),
			mail.WithTLSConfig(&tls.Config{
				ServerName:         cfg.Host,
				InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed relays
			}),
		}
		if cfg.Timeout > 0 {
			opts = append(opts, mail.WithTimeout(cfg.Timeout))
		}
		if cfg.Username != "" {
			opts = append(opts,
				mail.WithSMTPAuth(mail.SMTPAuthPlain),
				mail.WithUsername(cfg.Username),
				mail.WithPassword(cfg.Password))
		}

		client, err := mail.NewClient(cfg.Host, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create SMTP client: %w", err)
		}
		return client, nil
	}
}

// SendMail composes and sends one mail. attachmentPath may be empty.
// Failures are logged and returned; they never affect other sends.
func (m *Mailer) SendMail(ctx context.Context, to, subject, body, attachmentName, attachmentPath string) error {
	msg, err := m.compose(to, subject, body, attachmentName, attachmentPath)
	if err != nil {
		m.logger.Error("Failed to compose mail", zap.String("to", to), zap.Error(err))
		return err
	}

	err = m.throttle.Do(ctx, func(ctx context.Context) error {
		m.logger.Info("Sending email",
			zap.String("subject", subject),
			zap.String("to", to),
			zap.String("attachment", attachmentPath))

		transport, err := m.newTransport()
		if err != nil {
			return err
		}
		return transport.DialAndSendWithContext(ctx, msg)
	})
	if err != nil {
		m.logger.Error("Failed to send mail", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}

	m.logger.Info("Message sent",
		zap.String("to", to),
		zap.String("message_id", strings.Join(msg.GetGenHeader(mail.HeaderMessageID), ",")))
	return nil
}

func (m *Mailer) compose(to, subject, body, attachmentName, attachmentPath string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.sender); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.sender, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetMessageID()
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)

	if attachmentPath != "" {
		if _, err := os.Stat(attachmentPath); err != nil {
			return nil, fmt.Errorf("attachment unavailable: %w", err)
		}
		msg.AttachFile(attachmentPath,
			mail.WithFileName(attachmentName),
			mail.WithFileContentType(contentTypePDF))
	}

	return msg, nil
}
