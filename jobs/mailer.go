package jobs

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Mailer sends plain-text mail through an unauthenticated SMTP relay, the
// Mailpit-style setup used in development and staging.
type Mailer struct {
	addr string
	from string
}

// NewMailer constructs a Mailer for the given SMTP host/port.
func NewMailer(host string, port int, from string) *Mailer {
	return &Mailer{addr: fmt.Sprintf("%s:%d", host, port), from: from}
}

// Send delivers one message.
func (m *Mailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("jobs: send mail: %w", err)
	}
	return nil
}
