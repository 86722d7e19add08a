package driftwatch

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier errors
var (
	ErrWebhookNotConfigured = errors.New("webhook endpoint not configured")
)

// Embed is one rich alert block in a webhook payload.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields"`
}

// EmbedField is a single name/value entry in an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// webhookPayload is the JSON body posted to the webhook endpoint.
type webhookPayload struct {
	Username string  `json:"username"`
	Embeds   []Embed `json:"embeds"`
}

// BuildEmbed maps a classified change into an alert embed using the per-kind
// descriptor. scope is the entity identifier (target host or subnet); extra
// fields, when present, are appended after the standard ones.
func BuildEmbed[T cmp.Ordered](desc KindDescriptor, scope string, change Change[T], extra ...EmbedField) Embed {
	embed := Embed{
		Title: desc.Title(change.Type),
		Color: desc.Color(change.Type),
		Fields: []EmbedField{
			{Name: desc.ScopeLabel, Value: scope},
			{Name: desc.CurrentLabel, Value: FormatElements(change.Current)},
		},
	}

	switch change.Type {
	case ChangeFirstObservation:
		embed.Description = fmt.Sprintf("%s %s observed %s: %s",
			desc.ScopeLabel, scope, desc.Noun, FormatElements(change.Current))
	default:
		embed.Description = fmt.Sprintf("%s %s: %s %s",
			desc.ScopeLabel, scope, desc.ChangedLabel(change.Type), FormatElements(change.Elements))
		embed.Fields = append(embed.Fields, EmbedField{
			Name:  desc.ChangedLabel(change.Type),
			Value: FormatElements(change.Elements),
		})
	}

	embed.Fields = append(embed.Fields, extra...)
	return embed
}

// WebhookNotifier delivers alert embeds to an HTTP webhook endpoint. Delivery
// is fire-and-forget from the pipeline's perspective: transport errors and
// non-2xx responses are logged and swallowed, never aborting the run or
// affecting snapshot persistence. A small rate limiter keeps a noisy first
// run from tripping the endpoint's flood protection.
type WebhookNotifier struct {
	url      string
	username string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
	dryRun   bool
}

// NewWebhookNotifier creates a notifier for the configured endpoint.
func NewWebhookNotifier(config *Config, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:      config.WebhookURL,
		username: config.WebhookUsername,
		client: &http.Client{
			Timeout: time.Duration(config.WebhookTimeout) * time.Second,
		},
		// Discord allows ~30 webhook requests per minute; stay well under it.
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 5),
		logger:  logger.With(zap.String("component", "notifier")),
		dryRun:  config.DryRun,
	}
}

// Notify posts a single embed to the webhook endpoint. A UTC timestamp field
// is appended to every embed before delivery. The return value reports
// whether delivery succeeded; it feeds metrics only and a false result never
// aborts anything.
func (n *WebhookNotifier) Notify(ctx context.Context, embed Embed) bool {
	embed.Fields = append(embed.Fields, EmbedField{
		Name:  "Timestamp",
		Value: time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	})

	if n.dryRun {
		n.logger.Info("Dry run: suppressing webhook delivery",
			zap.String("title", embed.Title),
		)
		return true
	}

	if n.url == "" {
		n.logger.Error("Webhook not set, dropping alert",
			zap.String("title", embed.Title),
			zap.Error(ErrWebhookNotConfigured),
		)
		return false
	}

	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.Warn("Rate limiter interrupted, dropping alert",
			zap.String("title", embed.Title),
			zap.Error(err),
		)
		return false
	}

	payload := webhookPayload{
		Username: n.username,
		Embeds:   []Embed{embed},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("Failed to marshal webhook payload", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("Failed to build webhook request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("Webhook delivery failed",
			zap.String("title", embed.Title),
			zap.Error(err),
		)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Error("Webhook returned non-success status",
			zap.String("title", embed.Title),
			zap.Int("status", resp.StatusCode),
		)
		return false
	}

	n.logger.Info("Webhook delivered",
		zap.String("title", embed.Title),
		zap.Int("status", resp.StatusCode),
	)
	return true
}
