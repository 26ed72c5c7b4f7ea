package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/straye-as/quotation-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSMTPConfig() *config.SMTPConfig {
	return &config.SMTPConfig{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		Username: "mailer",
		Password: "secret",
		From:     "quotes@straye.io",
		FromName: "Quotations",
	}
}

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender(testSMTPConfig(), zap.NewNop())

	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		return nil
	}

	res, err := s.Send(context.Background(), "Buyer <buyer@acme.example>", "Quotation QT-2026-0001", "Hello\nLink")
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"buyer@acme.example"}, gotTo)
	assert.True(t, strings.HasSuffix(res.MessageID, "@straye.io>"))

	msg := string(gotMsg)
	assert.Contains(t, msg, "Message-ID: "+res.MessageID+"\r\n")
	assert.Contains(t, msg, "Subject: Quotation QT-2026-0001\r\n")
	assert.Contains(t, msg, "\r\n\r\nHello\r\nLink")
}

func TestSMTPSender_Errors(t *testing.T) {
	s := NewSMTPSender(testSMTPConfig(), zap.NewNop())
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("421 service not available")
	}

	_, err := s.Send(context.Background(), "buyer@acme.example", "s", "b")
	assert.ErrorContains(t, err, "421")

	_, err = s.Send(context.Background(), "not an address", "s", "b")
	assert.Error(t, err)

	unconfigured := NewSMTPSender(&config.SMTPConfig{}, zap.NewNop())
	_, err = unconfigured.Send(context.Background(), "buyer@acme.example", "s", "b")
	assert.Error(t, err)
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	msg := string(buildMessage(testSMTPConfig(), "a@b.c", "Tilbud ₹60,000.00", "x", "<id@x>", time.Unix(0, 0)))
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
}

func TestNew_DisabledUsesLogSender(t *testing.T) {
	s := New(&config.SMTPConfig{Enabled: false}, zap.NewNop())
	_, ok := s.(*LogSender)
	assert.True(t, ok)

	res, err := s.Send(context.Background(), "a@b.c", "s", "b")
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)
}
