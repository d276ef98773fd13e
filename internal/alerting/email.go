package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lending-rate-alerts/internal/monitor"
)

// EmailProvider holds the credentials of one EmailJS-compatible sender.
// Providers are tried in configuration order until one accepts the send.
type EmailProvider struct {
	Name        string
	ServiceID   string
	TemplateID  string
	UserID      string
	AccessToken string
}

// EmailNotifier delivers notices through the EmailJS REST API, falling back
// across providers so a single exhausted quota does not drop alerts.
type EmailNotifier struct {
	providers []EmailProvider
	baseURL   string
	client    *http.Client
	logger    zerolog.Logger
}

// NewEmailNotifier 构造邮件告警器。providers 按顺序作为故障转移链使用。
func NewEmailNotifier(providers []EmailProvider, baseURL string, timeout time.Duration, logger zerolog.Logger) *EmailNotifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.emailjs.com"
	}

	return &EmailNotifier{
		providers: providers,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "alert_email").Logger(),
	}
}

// Notify renders the notice and walks the provider chain. It returns nil on
// the first successful send and the joined errors when every provider fails.
func (n *EmailNotifier) Notify(ctx context.Context, note monitor.Notice) error {
	if len(n.providers) == 0 {
		return errors.New("no email providers configured")
	}
	if note.Recipient == "" {
		return errors.New("notice has no recipient")
	}

	params := map[string]string{
		"to_email": note.Recipient,
		"subject":  Subject(note),
		"message":  RenderBody(note),
	}

	var errs []error
	for _, provider := range n.providers {
		err := n.send(ctx, provider, params)
		if err == nil {
			n.logger.Info().
				Str("provider", provider.Name).
				Str("kind", string(note.Kind)).
				Str("recipient", note.Recipient).
				Msg("email dispatched")
			return nil
		}

		n.logger.Warn().Err(err).
			Str("provider", provider.Name).
			Msg("email provider failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", provider.Name, err))

		if ctx.Err() != nil {
			break
		}
	}

	return errors.Join(errs...)
}

func (n *EmailNotifier) send(ctx context.Context, provider EmailProvider, params map[string]string) error {
	payload := map[string]any{
		"service_id":      provider.ServiceID,
		"template_id":     provider.TemplateID,
		"user_id":         provider.UserID,
		"template_params": params,
	}
	if provider.AccessToken != "" {
		payload["accessToken"] = provider.AccessToken
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	url := n.baseURL + "/api/v1.0/email/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email 响应码异常: %d", resp.StatusCode)
	}
	return nil
}

var _ monitor.Notifier = (*EmailNotifier)(nil)
