package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relief-service/internal/logging"
	"relief-service/internal/models"
	"relief-service/internal/utils"
)

const twilioAPI = "https://api.twilio.com"

type SMSConfig struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	ToNumbers     []string
	RetryAttempts int
	RetryDelay    time.Duration
	// BaseURL overrides the Twilio endpoint.
	BaseURL string
}

// SMS texts new escalations to on-call phone numbers through Twilio.
type SMS struct {
	cfg    SMSConfig
	client *http.Client
	logger *logging.Logger
}

func NewSMS(cfg SMSConfig, logger *logging.Logger) (*SMS, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("missing SMS configuration: AccountSID, AuthToken, or FromNumber is empty")
	}
	if len(cfg.ToNumbers) == 0 {
		return nil, fmt.Errorf("no SMS recipients configured")
	}
	for _, n := range cfg.ToNumbers {
		if !strings.HasPrefix(n, "+") {
			return nil, fmt.Errorf("phone number %q must start with +", n)
		}
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPI
	}
	return &SMS{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}, logger: logger}, nil
}

func (s *SMS) RelayEscalation(ctx context.Context, d models.Disaster, e models.Escalation) error {
	body := fmt.Sprintf("ESCALATION %s: %s %s at %s, %s", e.ID, d.Severity, d.Type, d.Location.City, d.Location.State)
	var failed []string
	for _, to := range s.cfg.ToNumbers {
		err := utils.Retry(ctx, s.logger, s.cfg.RetryAttempts, s.cfg.RetryDelay, func() error {
			return s.send(ctx, to, body)
		})
		if err != nil {
			failed = append(failed, to)
			continue
		}
		s.logger.Infof("Escalation %s texted to %s", e.ID, to)
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to text escalation %s to %s", e.ID, strings.Join(failed, ", "))
	}
	return nil
}

func (s *SMS) send(ctx context.Context, to, body string) error {
	urlStr := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, s.cfg.AccountSID)
	msgData := url.Values{}
	msgData.Set("To", to)
	msgData.Set("From", s.cfg.FromNumber)
	msgData.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, strings.NewReader(msgData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create SMS request for %s: %w", to, err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("twilio API returned status %d for %s", resp.StatusCode, to)
	}
	return nil
}
