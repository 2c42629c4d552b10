package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/asktech/accounts-api/internal/logging"
)

// Service sends transactional account emails over SMTP. Callers are expected
// to invoke it from a goroutine; delivery failures are logged, not surfaced.
type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string
	frontendURL  string
}

func NewService(smtpHost, smtpPort, smtpUser, smtpPassword, frontendURL string) *Service {
	return &Service{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		fromEmail:    smtpUser,
		frontendURL:  frontendURL,
	}
}

// SendVerificationEmail mails an account activation link carrying the token
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	link := fmt.Sprintf("%s/verify?token=%s", s.frontendURL, token)
	body, err := renderLinkEmail(linkEmailData{
		Title:   "Verify your email address",
		Intro:   "Thanks for signing up to AskTech! Click the button below to activate your account.",
		Action:  "Verify Email Address",
		Link:    link,
		Outro:   "If you didn't create an account, you can safely ignore this email.",
		Expires: "This link will expire in 24 hours.",
	})
	if err != nil {
		logger.Error("failed to render verification email", "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.send(toEmail, "Verification URL from AskTech", body); err != nil {
		logger.Error("failed to send verification email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("verification email sent", "email", toEmail)
	return nil
}

// SendPasswordResetEmail mails a password reset link carrying the token
func (s *Service) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	link := fmt.Sprintf("%s/set-password?token=%s", s.frontendURL, token)
	body, err := renderLinkEmail(linkEmailData{
		Title:   "Reset your password",
		Intro:   "You requested to reset your AskTech password. Click the button below to choose a new one.",
		Action:  "Reset Password",
		Link:    link,
		Outro:   "If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.",
		Expires: "This link will expire in 1 hour.",
	})
	if err != nil {
		logger.Error("failed to render password reset email", "error", err)
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.send(toEmail, "Reset Password Link: AskTech", body); err != nil {
		logger.Error("failed to send password reset email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("password reset email sent", "email", toEmail)
	return nil
}

func (s *Service) send(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.fromEmail, to, subject, body,
	))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	return smtp.SendMail(addr, auth, s.fromEmail, []string{to}, msg)
}

type linkEmailData struct {
	Title   string
	Intro   string
	Action  string
	Link    string
	Outro   string
	Expires string
}

var linkEmailTmpl = template.Must(template.New("link-email").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #E67E22; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
        .content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
        .button { display: inline-block; background-color: #E67E22; color: white !important; padding: 12px 30px; text-decoration: none; border-radius: 5px; margin: 20px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h1>AskTech</h1>
    </div>
    <div class="content">
        <h2>{{.Title}}</h2>
        <p>{{.Intro}}</p>

        <a href="{{.Link}}" class="button" style="color: white !important;">{{.Action}}</a>

        <p>Or copy and paste this link into your browser:</p>
        <p style="word-break: break-all; color: #E67E22;">{{.Link}}</p>

        <p style="margin-top: 30px;">{{.Outro}}</p>
    </div>
    <div class="footer">
        <p>{{.Expires}}</p>
        <p>&copy; AskTech. All rights reserved.</p>
    </div>
</body>
</html>
`))

func renderLinkEmail(data linkEmailData) (string, error) {
	var buf bytes.Buffer
	if err := linkEmailTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
