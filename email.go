package authgate

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// SendEmail interface allows applications to provide their own email sending implementation
type SendEmail interface {
	SendVerificationEmail(ctx context.Context, to string, verificationLink string) error
	SendTwoFactorCode(ctx context.Context, to string, code string) error
}

// ConsoleEmailSender is a development implementation that logs emails instead of sending them
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ConsoleEmailSender) SendVerificationEmail(ctx context.Context, to string, verificationLink string) error {
	c.logger().InfoContext(ctx, "EMAIL: Verification", "to", to, "subject", verificationSubject, "link", verificationLink)
	return nil
}

func (c *ConsoleEmailSender) SendTwoFactorCode(ctx context.Context, to string, code string) error {
	c.logger().InfoContext(ctx, "EMAIL: Two factor code", "to", to, "subject", twoFactorSubject, "code", code)
	return nil
}

const (
	verificationSubject = "Confirm your email address"
	twoFactorSubject    = "Your sign-in code"
)

var verificationTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body>
<h1>Email confirmation</h1>
<p>Hi! To confirm your email address, please follow this link:</p>
<p><a href="{{.Link}}">Confirm email</a></p>
<p>This link is valid for one hour. If you did not request a confirmation, just ignore this message.</p>
<p>Thank you for using our service.</p>
</body>
</html>`))

var twoFactorTemplate = template.Must(template.New("two_factor").Parse(`<!DOCTYPE html>
<html>
<body>
<h1>Two factor authentication</h1>
<p>Your sign-in code is: <strong>{{.Code}}</strong></p>
<p>The code expires in a few minutes. If you did not try to sign in, change your password.</p>
</body>
</html>`))

// RenderVerificationEmail renders the HTML body of the confirmation email
func RenderVerificationEmail(link string) (string, error) {
	var buf bytes.Buffer
	if err := verificationTemplate.Execute(&buf, struct{ Link string }{link}); err != nil {
		return "", fmt.Errorf("failed to render verification email: %w", err)
	}
	return buf.String(), nil
}

// RenderTwoFactorEmail renders the HTML body of the second factor email
func RenderTwoFactorEmail(code string) (string, error) {
	var buf bytes.Buffer
	if err := twoFactorTemplate.Execute(&buf, struct{ Code string }{code}); err != nil {
		return "", fmt.Errorf("failed to render two factor email: %w", err)
	}
	return buf.String(), nil
}

// SMTPEmailSender delivers the rendered emails over SMTP with PLAIN auth
type SMTPEmailSender struct {
	Addr     string // host:port
	Username string
	Password string
	From     string
}

func (s *SMTPEmailSender) SendVerificationEmail(ctx context.Context, to string, verificationLink string) error {
	body, err := RenderVerificationEmail(verificationLink)
	if err != nil {
		return err
	}
	return s.send(ctx, to, verificationSubject, body)
}

func (s *SMTPEmailSender) SendTwoFactorCode(ctx context.Context, to string, code string) error {
	body, err := RenderTwoFactorEmail(code)
	if err != nil {
		return err
	}
	return s.send(ctx, to, twoFactorSubject, body)
}

func (s *SMTPEmailSender) send(ctx context.Context, to, subject, body string) error {
	host, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("invalid smtp address %q: %w", s.Addr, err)
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	// smtp.SendMail has no context support so run it aside and honour ctx
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.Addr, auth, s.From, []string{to}, []byte(msg.String()))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
