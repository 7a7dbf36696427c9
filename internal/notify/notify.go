// Package notify delivers batch completion summaries to the deal team by
// email (Resend) and to an optional webhook. Delivery is best effort: a
// finished batch never fails because a notification could not be sent.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/pkg/resend"
)

// Config names the delivery targets. Empty targets are skipped.
type Config struct {
	From       string
	Emails     []string
	WebhookURL string
}

// Notifier fans a batch summary out to the configured channels.
type Notifier struct {
	resend resend.Client // nil when email is not configured
	cfg    Config
	client *http.Client
}

// New creates a Notifier. A nil resend client disables email.
func New(rc resend.Client, cfg Config) *Notifier {
	return &Notifier{
		resend: rc,
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// webhookPayload is the body posted to the webhook URL.
type webhookPayload struct {
	Event      string             `json:"event"`
	FinishedAt time.Time          `json:"finished_at"`
	Batch      *model.BatchResult `json:"batch"`
}

// BatchComplete sends the batch summary to every configured channel.
// Failures are logged and swallowed.
func (n *Notifier) BatchComplete(ctx context.Context, res *model.BatchResult) {
	if n == nil || res == nil {
		return
	}

	if n.resend != nil && len(n.cfg.Emails) > 0 {
		if err := n.sendEmail(ctx, res); err != nil {
			zap.L().Error("notify: email delivery failed", zap.Error(err))
		} else {
			zap.L().Info("notify: batch summary emailed", zap.Int("recipients", len(n.cfg.Emails)))
		}
	}

	if n.cfg.WebhookURL != "" {
		if err := n.sendWebhook(ctx, res); err != nil {
			zap.L().Error("notify: webhook delivery failed", zap.Error(err))
		} else {
			zap.L().Info("notify: batch summary posted to webhook")
		}
	}
}

func (n *Notifier) sendEmail(ctx context.Context, res *model.BatchResult) error {
	subject := fmt.Sprintf("Enrichment batch complete: %d enriched, %d errors", res.Enriched, res.Errors)
	_, err := n.resend.SendEmail(ctx, resend.EmailRequest{
		From:    n.cfg.From,
		To:      n.cfg.Emails,
		Subject: subject,
		Text:    summaryText(res),
	})
	if err != nil {
		return eris.Wrap(err, "notify: send email")
	}
	return nil
}

func (n *Notifier) sendWebhook(ctx context.Context, res *model.BatchResult) error {
	payload, err := json.Marshal(webhookPayload{
		Event:      "batch.completed",
		FinishedAt: time.Now().UTC(),
		Batch:      res,
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// summaryText renders the plain-text email body: the counter line followed
// by one line per item that needs attention.
func summaryText(res *model.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d entities: %d enriched, %d skipped, %d no source, %d errors.\n",
		res.TotalProcessed, res.Enriched, res.Skipped, res.NoSource, res.Errors)

	var attention []string
	for _, item := range res.Results {
		switch item.Outcome {
		case model.OutcomeEnriched, model.OutcomeSkipped:
			continue
		}
		line := fmt.Sprintf("  %s: %s", item.NaturalKey, item.Outcome)
		if item.Err != "" {
			line += " (" + item.Err + ")"
		}
		attention = append(attention, line)
	}
	if len(attention) > 0 {
		b.WriteString("\nNeeds attention:\n")
		b.WriteString(strings.Join(attention, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
