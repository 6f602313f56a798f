package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/pliu/huddle/internal/models"
)

type Sender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string

	log *slog.Logger
}

func NewSender(host, port, username, password, from string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		log:      logger.With("component", "email"),
	}
}

const requestTemplate = `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px; }
        .header { background-color: #6200ee; color: white; padding: 10px; text-align: center; border-radius: 5px 5px 0 0; }
        .content { padding: 20px; }
        .footer { margin-top: 20px; font-size: 0.8em; color: #777; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>{{.Headline}}</h1>
        </div>
        <div class="content">
            <p>Hi {{.Username}},</p>
            <p>{{.Text}}</p>
            <p>Sign in to Huddle to accept or decline.</p>
        </div>
        <div class="footer">
            <p>You received this because you were offline when it arrived.</p>
        </div>
    </div>
</body>
</html>
`

var requestPage = template.Must(template.New("request").Parse(requestTemplate))

type notice struct {
	Subject  string
	Headline string
	Username string
	Text     string
}

func requestNotice(to, from *models.User, req *models.Request) notice {
	n := notice{Username: to.Username}
	switch req.Type {
	case models.RequestGroupJoin:
		n.Headline = "New join request"
		n.Text = fmt.Sprintf("%s asked to join one of your groups.", from.Username)
	case models.RequestGroupInvite:
		n.Headline = "You're invited"
		n.Text = fmt.Sprintf("%s invited you to a group.", from.Username)
	default:
		n.Headline = "New friend request"
		n.Text = fmt.Sprintf("%s wants to be your friend.", from.Username)
	}
	n.Subject = n.Headline + " on Huddle"
	return n
}

// RenderRequest builds the subject and HTML body of a request notice.
func RenderRequest(to, from *models.User, req *models.Request) (string, string, error) {
	n := requestNotice(to, from, req)
	var body bytes.Buffer
	if err := requestPage.Execute(&body, n); err != nil {
		return "", "", fmt.Errorf("failed to execute template: %w", err)
	}
	return n.Subject, body.String(), nil
}

// NotifyRequest emails the target of a new request. Users without an email
// address are skipped.
func (s *Sender) NotifyRequest(ctx context.Context, to, from *models.User, req *models.Request) error {
	if to.Email == "" {
		return nil
	}
	subject, body, err := RenderRequest(to, from, req)
	if err != nil {
		return err
	}
	return s.send(ctx, to.Email, subject, body)
}

func (s *Sender) send(_ context.Context, to, subject, body string) error {
	// If no host is configured, just log it
	if s.Host == "" {
		s.log.Info("mock email", "to", to, "subject", subject)
		return nil
	}

	var message strings.Builder
	fmt.Fprintf(&message, "From: %s\r\n", s.From)
	fmt.Fprintf(&message, "To: %s\r\n", to)
	fmt.Fprintf(&message, "Subject: %s\r\n", subject)
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	message.WriteString("\r\n" + body)

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	if err := smtp.SendMail(addr, auth, s.From, []string{to}, []byte(message.String())); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
