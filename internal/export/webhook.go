package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/template"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultTemplate renders a one-line run summary.
const DefaultTemplate = "{{.Wallet}}: {{.Records}} transfers ({{.Failed}} categories failed)"

// Notifier delivers a run summary somewhere.
type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// Webhook posts {"text": <rendered template>} to a Slack/Teams compatible URL.
type Webhook struct {
	url    string
	render *template.Template
	client *retryablehttp.Client
}

// NewWebhook builds a webhook notifier. An empty template uses DefaultTemplate.
func NewWebhook(rawURL, tmpl string, client *retryablehttp.Client) (*Webhook, error) {
	if rawURL == "" {
		return nil, errors.New("webhook url required")
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
		client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	}
	return &Webhook{url: rawURL, render: t, client: client}, nil
}

// Notify renders the summary and posts it.
func (w *Webhook) Notify(ctx context.Context, s Summary) error {
	text, err := executeTemplate(w.render, s)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		// the URL of a webhook is its credential
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook http status %d", resp.StatusCode)
	}
	return nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": shortAddr,
	}
	t, err := template.New("summary").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}
