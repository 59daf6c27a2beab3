package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
	"golang.org/x/oauth2"
)

const sendTimeout = 30 * time.Second

// SMTPConfig describes the outgoing mail account. Port 465 uses implicit
// TLS; any other port negotiates STARTTLS.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer sends mail through one SMTP account. With a token source it
// authenticates with XOAUTH2, otherwise with PLAIN.
type Mailer struct {
	cfg    SMTPConfig
	tokens oauth2.TokenSource
	logger *slog.Logger
}

func NewMailer(cfg SMTPConfig, tokens oauth2.TokenSource, logger *slog.Logger) (*Mailer, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, fmt.Errorf("notify: smtp host and username are required")
	}
	if tokens == nil && cfg.Password == "" {
		return nil, fmt.Errorf("notify: smtp password or oauth2 credentials are required")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Mailer{cfg: cfg, tokens: tokens, logger: logger}, nil
}

// SendApproval renders and sends the access email in a single attempt.
func (m *Mailer) SendApproval(ctx context.Context, msg ApprovalEmail) error {
	htmlBody, textBody, err := RenderApproval(msg)
	if err != nil {
		return err
	}

	email := mail.NewMsg()
	if err := email.From(m.cfg.From); err != nil {
		return fmt.Errorf("notify: invalid sender %q: %w", m.cfg.From, err)
	}
	if err := email.To(msg.To); err != nil {
		return fmt.Errorf("notify: invalid recipient %q: %w", msg.To, err)
	}
	email.Subject(approvalSubject)
	email.SetBodyString(mail.TypeTextHTML, htmlBody)
	email.AddAlternativeString(mail.TypeTextPlain, textBody)

	client, err := m.client()
	if err != nil {
		return err
	}

	if err := client.DialAndSendWithContext(ctx, email); err != nil {
		return fmt.Errorf("notify: sending approval email: %w", err)
	}

	m.logger.Info("approval email sent", slog.String("to", msg.To))
	return nil
}

func (m *Mailer) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithUsername(m.cfg.Username),
		mail.WithTimeout(sendTimeout),
	}
	if m.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	if m.tokens != nil {
		token, err := accessToken(m.tokens)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthXOAUTH2), mail.WithPassword(token))
	} else {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithPassword(m.cfg.Password))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: creating smtp client: %w", err)
	}
	return client, nil
}
