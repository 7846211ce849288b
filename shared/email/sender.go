package email

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/smtp"

	"adstream/internal/models"
	"adstream/shared/config"
)

//go:embed report_template.html
var reportTemplate string

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"total": func(r *models.WarmReport) int { return len(r.Results) },
}).Parse(reportTemplate))

// SendFunc matches smtp.SendMail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Sender struct {
	config *config.EmailConfig
	send   SendFunc
}

func NewSender(cfg *config.EmailConfig) *Sender {
	return &Sender{
		config: cfg,
		send:   smtp.SendMail,
	}
}

func (s *Sender) SendReport(report *models.WarmReport) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	if len(report.Results) == 0 {
		return nil // Nothing was warmed
	}

	subject := fmt.Sprintf("Ad schedule cache warmed - %d generated, %d cached, %d failed (%s)",
		report.Generated, report.Hits, report.Failed, report.Date.Format("Jan 2, 2006"))

	body, err := generateEmailBody(report)
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}

	return s.SendHTML(subject, body)
}

// SendHTML sends an email with custom HTML content
func (s *Sender) SendHTML(subject, htmlBody string) error {
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPServer)

	to := []string{s.config.ToEmail}
	msg := []byte(fmt.Sprintf(`To: %s
From: %s
Subject: %s
MIME-Version: 1.0
Content-Type: text/html; charset=UTF-8

%s`, s.config.ToEmail, s.config.FromEmail, subject, htmlBody))

	addr := fmt.Sprintf("%s:%d", s.config.SMTPServer, s.config.SMTPPort)
	return s.send(addr, auth, s.config.FromEmail, to, msg)
}

func generateEmailBody(report *models.WarmReport) (string, error) {
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}
