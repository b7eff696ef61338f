package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"ctfhooks/internal/models"
)

// WebhookClient posts messages to Discord webhooks.
type WebhookClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// NewWebhookClient creates a new WebhookClient. Posts are paced by limiter;
// a nil limiter does not pace at all.
func NewWebhookClient(httpClient *http.Client, logger *slog.Logger, limiter *rate.Limiter) *WebhookClient {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &WebhookClient{httpClient: httpClient, logger: logger, limiter: limiter}
}

// Execute posts hook to hookURL once. There are no retries.
func (c *WebhookClient) Execute(ctx context.Context, hookURL string, hook *Hook) error {
	target := RedactURL(hookURL)
	op := "post webhook " + target

	body, err := json.Marshal(hook)
	if err != nil {
		return models.FormatError("encode webhook payload", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return models.NetworkError(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hookURL, bytes.NewReader(body))
	if err != nil {
		return models.NetworkError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Posting webhook", "webhook", target, "embeds", len(hook.Embeds))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.NetworkError(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Info("Successfully posted webhook", "webhook", target, "status", resp.StatusCode)
	return nil
}

// RedactURL hides the token part of a webhook URL so it can be logged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	segs := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	if len(segs) > 1 {
		segs[len(segs)-1] = "REDACTED"
		u.Path = strings.Join(segs, "/")
		u.RawPath = ""
	}
	return u.String()
}
