package email

import (
	"context"

	"gopkg.in/mail.v2"

	"github.com/taskwire/tasksync/internal/model"
)

type Client struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
}

func NewClient(smtpHost string, smtpPort int, username, password, from string) *Client {
	return &Client{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
		from:     from,
	}
}

// Deliver sends the reminder as a plain-text email. The SMTP dialer has no
// context hook; the caller enforces the delivery timeout.
func (c *Client) Deliver(_ context.Context, alert model.Alert) error {
	message := mail.NewMessage()

	message.SetHeader("From", c.from)
	message.SetHeader("To", alert.To)
	message.SetHeader("Subject", alert.Title)

	message.SetBody("text/plain", alert.Message)

	dialer := mail.NewDialer(c.smtpHost, c.smtpPort, c.username, c.password)

	return dialer.DialAndSend(message)
}
