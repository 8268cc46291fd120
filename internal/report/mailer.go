package report

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	apperrors "sonarboard/internal/errors"
	"sonarboard/internal/logger"
)

// Mailer sends rendered reports over SMTP with STARTTLS
type Mailer struct {
	host     string
	port     int
	username string
	password string
	log      *logger.Logger
}

// NewMailer creates an SMTP mailer
func NewMailer(host string, port int, username, password string) *Mailer {
	return &Mailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		log:      logger.Default().WithField("component", "mailer"),
	}
}

func (m *Mailer) addr() string {
	return fmt.Sprintf("%s:%d", m.host, m.port)
}

// Send delivers an HTML body to the recipients
func (m *Mailer) Send(recipients []string, subject, htmlBody string) error {
	if len(recipients) == 0 {
		m.log.Warn("no recipients configured, skipping send")
		return nil
	}

	headers := []string{
		"From: " + m.username,
		"To: " + strings.Join(recipients, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=\"UTF-8\"",
	}
	msg := []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + htmlBody)

	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	if err := smtp.SendMail(m.addr(), auth, m.username, recipients, msg); err != nil {
		return apperrors.NewTransientError("report email delivery failed", err)
	}

	m.log.WithField("recipients", len(recipients)).Info("report email sent")
	return nil
}

// TestConnection verifies the SMTP server accepts the configured credentials
// without sending anything
func (m *Mailer) TestConnection() error {
	c, err := smtp.Dial(m.addr())
	if err != nil {
		return apperrors.NewTransientError("SMTP connection failed", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return apperrors.NewTransientError("SMTP STARTTLS failed", err)
		}
	}
	if m.username != "" {
		auth := smtp.PlainAuth("", m.username, m.password, m.host)
		if err := c.Auth(auth); err != nil {
			return apperrors.NewUnauthorizedError("SMTP authentication rejected")
		}
	}
	return c.Quit()
}
