// Package mailer はパスワード再設定やメールアドレス確認のメール送信を提供する。
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Mailer は認証関連メールの送信インターフェース。
type Mailer interface {
	// SendPasswordReset はパスワード再設定リンクを送信する。
	SendPasswordReset(ctx context.Context, to, link string) error
	// SendEmailConfirmation はメールアドレス確認リンクを送信する。
	SendEmailConfirmation(ctx context.Context, to, link string) error
}

// SMTPConfig はSMTP送信の設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Dialer はgomailの送信部分を抽象化する。テストで差し替える。
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer はgomailを使用してSMTP経由でメールを送信する。
type SMTPMailer struct {
	from   string
	dialer Dialer
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// NewSMTPMailerWithDialer は任意のDialerを使うSMTPMailerを生成する。
func NewSMTPMailerWithDialer(from string, dialer Dialer) *SMTPMailer {
	return &SMTPMailer{from: from, dialer: dialer}
}

var (
	resetTemplate = template.Must(template.New("reset").Parse(
		`<p>We received a request to reset your password.</p>
<p><a href="{{.Link}}">Reset your password</a></p>
<p>If you did not request this, you can ignore this email.</p>`))
	confirmTemplate = template.Must(template.New("confirm").Parse(
		`<p>Welcome! Please confirm your email address to finish signing up.</p>
<p><a href="{{.Link}}">Confirm your email</a></p>`))
)

// SendPasswordReset はパスワード再設定リンクを送信する。
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	return m.send(ctx, to, "Reset your password", resetTemplate, link)
}

// SendEmailConfirmation はメールアドレス確認リンクを送信する。
func (m *SMTPMailer) SendEmailConfirmation(ctx context.Context, to, link string) error {
	return m.send(ctx, to, "Confirm your email", confirmTemplate, link)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject string, tmpl *template.Template, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := renderBody(tmpl, link)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func renderBody(tmpl *template.Template, link string) (string, error) {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, struct{ Link string }{Link: link}); err != nil {
		return "", fmt.Errorf("failed to render mail template: %w", err)
	}
	return body.String(), nil
}

// LogMailer はメールを送信せずログに出力する。SMTP未設定の開発環境で使用する。
type LogMailer struct{}

// SendPasswordReset はパスワード再設定リンクをログに出力する。
func (LogMailer) SendPasswordReset(_ context.Context, to, link string) error {
	slog.Info("password reset mail (not sent)", slog.String("to", to), slog.String("link", link))
	return nil
}

// SendEmailConfirmation はメールアドレス確認リンクをログに出力する。
func (LogMailer) SendEmailConfirmation(_ context.Context, to, link string) error {
	slog.Info("confirmation mail (not sent)", slog.String("to", to), slog.String("link", link))
	return nil
}

// compile-time interface check
var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = LogMailer{}
)
