// Package mailer delivers plain text email over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/config"
	"go.uber.org/zap"
)

// Result identifies an accepted message
type Result struct {
	MessageID string
}

// Sender sends one email and returns the provider message id
type Sender interface {
	Send(ctx context.Context, to, subject, body string) (*Result, error)
}

// New returns an SMTP sender when SMTP is enabled, otherwise a sender that only logs
func New(cfg *config.SMTPConfig, logger *zap.Logger) Sender {
	if !cfg.Enabled {
		return NewLogSender(logger)
	}
	return NewSMTPSender(cfg, logger)
}

// SMTPSender sends mail through an SMTP relay, upgrading to TLS when the server offers STARTTLS
type SMTPSender struct {
	cfg      *config.SMTPConfig
	logger   *zap.Logger
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg *config.SMTPConfig, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{
		cfg:      cfg,
		logger:   logger,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) (*Result, error) {
	if s.cfg.Host == "" || s.cfg.From == "" {
		return nil, errors.New("SMTP host and sender address must be configured")
	}
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messageID := newMessageID(s.cfg.From)
	msg := buildMessage(s.cfg, rcpt.Address, subject, body, messageID, time.Now())

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.sendMail(addr, auth, s.cfg.From, []string{rcpt.Address}, msg); err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Debug("email sent",
		zap.String("to", rcpt.Address),
		zap.String("message_id", messageID))

	return &Result{MessageID: messageID}, nil
}

func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.Trim(from[at+1:], "> ")
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func buildMessage(cfg *config.SMTPConfig, to, subject, body, messageID string, at time.Time) []byte {
	from := (&mail.Address{Name: cfg.FromName, Address: cfg.From}).String()

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Message-ID: " + messageID + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender accepts every message and only logs it. Used when SMTP is disabled.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) (*Result, error) {
	id := newMessageID("noreply@localhost")
	s.logger.Info("email delivery disabled, message logged only",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("message_id", id))
	return &Result{MessageID: id}, nil
}
