package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Mailer posts messages to the email service. The service itself decides
// delivery; this client only cares about acceptance.
type Mailer struct {
	emailServiceURL string
	httpClient      *http.Client
}

func NewMailer(emailServiceURL string, client *http.Client) *Mailer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Mailer{emailServiceURL: emailServiceURL, httpClient: client}
}

func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	data, err := json.Marshal(map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}
	return nil
}
