package passlink

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// SendEmail interface allows applications to provide their own email sending implementation
type SendEmail interface {
	SendVerificationEmail(ctx context.Context, to string, verificationLink string) error
	SendMagicLinkEmail(ctx context.Context, to string, magicLink string) error
}

// Email is a rendered message
type Email struct {
	To      string
	Subject string
	HTML    string
}

var verificationTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body>
<h1>Verify your email address</h1>
<p>Click the link below to verify your email. The link expires in {{.Minutes}} minutes.</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>If you did not create an account you can ignore this email.</p>
</body>
</html>`))

var magicLinkTemplate = template.Must(template.New("magiclink").Parse(`<!DOCTYPE html>
<html>
<body>
<h1>Sign in</h1>
<p>Click the link below to sign in. The link expires in {{.Minutes}} minutes.</p>
<p><a href="{{.Link}}">Sign in</a></p>
<p>If you did not request this email you can ignore it.</p>
</body>
</html>`))

// RenderVerificationEmail renders the email that carries a verification link
func RenderVerificationEmail(to, link string) (*Email, error) {
	return renderEmail(verificationTemplate, to, "Verify your email address", link)
}

// RenderMagicLinkEmail renders the email that carries a sign-in link
func RenderMagicLinkEmail(to, link string) (*Email, error) {
	return renderEmail(magicLinkTemplate, to, "Your sign-in link", link)
}

func renderEmail(tmpl *template.Template, to, subject, link string) (*Email, error) {
	var buf bytes.Buffer
	data := map[string]any{
		"Link":    link,
		"Minutes": int(TokenTTL.Minutes()),
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s email: %w", tmpl.Name(), err)
	}
	return &Email{To: to, Subject: subject, HTML: buf.String()}, nil
}

// ConsoleEmailSender is a development implementation that prints emails instead of sending them
type ConsoleEmailSender struct {
	// Out defaults to os.Stdout
	Out    io.Writer
	Logger *zap.Logger
	// Keep is how many recent emails LastEmail can see. Zero retains none.
	Keep int

	mu     sync.Mutex
	recent []*Email
	count  int
}

func (c *ConsoleEmailSender) SendVerificationEmail(ctx context.Context, to string, verificationLink string) error {
	email, err := RenderVerificationEmail(to, verificationLink)
	if err != nil {
		return err
	}
	c.print(email, verificationLink)
	return nil
}

func (c *ConsoleEmailSender) SendMagicLinkEmail(ctx context.Context, to string, magicLink string) error {
	email, err := RenderMagicLinkEmail(to, magicLink)
	if err != nil {
		return err
	}
	c.print(email, magicLink)
	return nil
}

// LastEmail returns the most recent retained email sent to "to", or nil
func (c *ConsoleEmailSender) LastEmail(to string) *Email {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.recent) - 1; i >= 0; i-- {
		if c.recent[i].To == to {
			return c.recent[i]
		}
	}
	return nil
}

// Count returns how many emails have been sent, retained or not
func (c *ConsoleEmailSender) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *ConsoleEmailSender) print(email *Email, link string) {
	c.mu.Lock()
	c.count++
	if c.Keep > 0 {
		c.recent = append(c.recent, email)
		if n := len(c.recent); n > c.Keep {
			c.recent = c.recent[n-c.Keep:]
		}
	}
	c.mu.Unlock()

	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "%s %s\n", color.MagentaString("=== EMAIL ==="), color.CyanString(email.Subject))
	fmt.Fprintf(out, "  %s=%s\n", color.YellowString("to"), color.WhiteString(email.To))
	fmt.Fprintf(out, "  %s=%s\n", color.YellowString("link"), color.GreenString(link))

	if c.Logger != nil {
		c.Logger.Debug("email printed to console", zap.String("subject", email.Subject))
	}
}

// deliver sends an email without letting a failure affect the caller.
// The mutation that produced the link is already committed.
func deliver(ctx context.Context, logger *zap.Logger, metrics *Metrics, purpose Purpose, send func(context.Context) error) {
	if err := send(ctx); err != nil {
		logger.Error("failed to send email", zap.String("purpose", string(purpose)), zap.Error(err))
		metrics.emailFailed(purpose)
	}
}
