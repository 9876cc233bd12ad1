// Package discord sends crawl-progress notifications to a Discord
// webhook: a server stalling (no crawled results for a while) or a
// server finishing its leaderboard pass.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

const (
	colorRed   = 15158332 // 0xE74C3C - stalled/failed
	colorGreen = 5763719  // 0x57F287 - fully crawled

	defaultWebhookTimeout = 10 * time.Second
	maxRetries            = 3
)

// WebhookPayload represents a Discord webhook message.
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// NewCrawlStalledPayload builds a notification for a server whose
// coordinator has accumulated failures, reporting the time since its last
// successful result and the number of recent failures.
func NewCrawlStalledPayload(serverName string, remaining int, sinceLastUpdate time.Duration, recentFailures int) WebhookPayload {
	return WebhookPayload{
		Content: "@here crawl stalled",
		Embeds: []Embed{
			{
				Title: fmt.Sprintf("Crawl stalled: %s", serverName),
				Color: colorRed,
				Fields: []EmbedField{
					{Name: "Remaining entries", Value: formatNumber(remaining), Inline: true},
					{Name: "Since last result", Value: formatDurationAgo(sinceLastUpdate), Inline: true},
					{Name: "Recent failures", Value: strconv.Itoa(recentFailures), Inline: true},
				},
				Footer: &EmbedFooter{Text: "Check the crawler account's session and the server connection"},
			},
		},
	}
}

// NewServerFullyCrawledPayload builds a notification for a server that
// just reached an empty work queue: every page and account discovered
// during this generation has been processed.
func NewServerFullyCrawledPayload(serverName string, characterCount int, runtime time.Duration) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title: fmt.Sprintf("Server fully crawled: %s", serverName),
				Color: colorGreen,
				Fields: []EmbedField{
					{Name: "Characters indexed", Value: formatNumber(characterCount), Inline: true},
					{Name: "Runtime", Value: formatDuration(runtime), Inline: true},
				},
				Footer: &EmbedFooter{Text: "Queue is empty; waiting for the next scheduled crawl"},
			},
		},
	}
}

// WebhookClient sends notifications to a Discord webhook.
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookClient creates a new WebhookClient.
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: defaultWebhookTimeout},
	}
}

// SendCrawlStalledNotification notifies that a server's crawl appears
// stuck.
func (c *WebhookClient) SendCrawlStalledNotification(ctx context.Context, serverName string, remaining int, sinceLastUpdate time.Duration, recentFailures int) error {
	payload := NewCrawlStalledPayload(serverName, remaining, sinceLastUpdate, recentFailures)
	return c.sendPayload(ctx, payload)
}

// SendServerFullyCrawledNotification notifies that a server's leaderboard
// pass just completed.
func (c *WebhookClient) SendServerFullyCrawledNotification(ctx context.Context, serverName string, characterCount int, runtime time.Duration) error {
	payload := NewServerFullyCrawledPayload(serverName, characterCount, runtime)
	return c.sendPayload(ctx, payload)
}

// NotifyStalled implements hof.Notifier. Delivery is fire-and-forget: a
// webhook outage must never block or fail a crawl, so the error is only
// logged.
func (c *WebhookClient) NotifyStalled(serverIdent string, remaining int, sinceLastUpdate time.Duration, recentFailures int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultWebhookTimeout)
		defer cancel()
		if err := c.SendCrawlStalledNotification(ctx, serverIdent, remaining, sinceLastUpdate, recentFailures); err != nil {
			log.Printf("discord: stalled notification for %s failed: %v", serverIdent, err)
		}
	}()
}

// NotifyFullyCrawled implements hof.Notifier, fire-and-forget like
// NotifyStalled.
func (c *WebhookClient) NotifyFullyCrawled(serverIdent string, characterCount int, runtime time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultWebhookTimeout)
		defer cancel()
		if err := c.SendServerFullyCrawledNotification(ctx, serverIdent, characterCount, runtime); err != nil {
			log.Printf("discord: fully-crawled notification for %s failed: %v", serverIdent, err)
		}
	}()
}

// sendPayload sends a webhook payload, retrying on Discord's rate-limit
// response.
func (c *WebhookClient) sendPayload(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := resp.Header.Get("Retry-After")
			waitDuration := time.Second
			if retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					waitDuration = time.Duration(seconds) * time.Second
				}
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

// formatNumber formats a number with thousands separators (e.g. 47832 ->
// "47,832").
func formatNumber(n int) string {
	if n < 1000 {
		return strconv.Itoa(n)
	}
	s := strconv.Itoa(n)
	var result bytes.Buffer
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return result.String()
}

// formatDuration formats a duration as "Xh Ym".
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatDurationAgo formats a duration as "X min ago" or "X sec ago".
func formatDurationAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%d sec ago", int(d.Seconds()))
	}
	return fmt.Sprintf("%d min ago", int(d.Minutes()))
}
