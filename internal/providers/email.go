package providers

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"relief-service/internal/logging"
	"relief-service/internal/models"
	"relief-service/internal/utils"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From          string
	To            []string
	RetryAttempts int
	RetryDelay    time.Duration
}

// Email mails new escalations to the operations desk over SMTP.
type Email struct {
	cfg    EmailConfig
	auth   smtp.Auth
	logger *logging.Logger
}

func NewEmail(cfg EmailConfig, logger *logging.Logger) (*Email, error) {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Host == "" || cfg.Port == 0 || cfg.From == "" {
		return nil, fmt.Errorf("missing Email configuration: Host, Port, or From is empty")
	}
	if len(cfg.To) == 0 {
		return nil, fmt.Errorf("no email recipients configured")
	}
	for _, to := range append([]string{cfg.From}, cfg.To...) {
		if !strings.Contains(to, "@") {
			return nil, fmt.Errorf("invalid email address: %s", to)
		}
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	e := &Email{cfg: cfg, logger: logger}
	if cfg.Username != "" {
		e.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return e, nil
}

func (m *Email) RelayEscalation(ctx context.Context, d models.Disaster, e models.Escalation) error {
	subject := fmt.Sprintf("Escalation %s: %s %s", e.ID, d.Severity, d.Type)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n",
		m.cfg.From, strings.Join(m.cfg.To, ", "), subject, emailBody(d, e)))
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	err := utils.Retry(ctx, m.logger, m.cfg.RetryAttempts, m.cfg.RetryDelay, func() error {
		if err := smtp.SendMail(addr, m.auth, m.cfg.From, m.cfg.To, msg); err != nil {
			return fmt.Errorf("failed to send email to %s: %w", strings.Join(m.cfg.To, ", "), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Infof("Escalation %s mailed to %d recipients", e.ID, len(m.cfg.To))
	return nil
}

func emailBody(d models.Disaster, e models.Escalation) string {
	where := fmt.Sprintf("%s, %s", d.Location.City, d.Location.State)
	if d.Location.City == "" && d.Location.HasCoordinates() {
		where = fmt.Sprintf("%.4f,%.4f", *d.Location.Lat, *d.Location.Lng)
	}
	return strings.Join([]string{
		"Escalation: " + e.ID,
		fmt.Sprintf("Disaster: %s (%s)", d.Type, d.ID),
		"Location: " + where,
		"Severity: " + string(d.Severity),
		"Source: " + string(d.Source),
		"Reported: " + d.CreatedAt.Format(time.RFC3339),
	}, "\r\n")
}
