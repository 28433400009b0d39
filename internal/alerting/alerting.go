// Package alerting implements the Alerting Gate: a one-shot latch for
// first-fallback-activation plus best-effort secondary notifications
// (spec §4.6). All notifications are delivered over a webhook; absence of
// a webhook URL silently disables them.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var log = slog.Default()

// Severity labels a notification for the operator-facing channel.
type Severity string

const (
	SeverityHigh Severity = "high"
	SeverityInfo Severity = "info"
)

// Notification is the payload posted to the webhook.
type Notification struct {
	Severity Severity       `json:"severity"`
	Event    string         `json:"event"`
	Detail   map[string]any `json:"detail,omitempty"`
	SentAt   time.Time      `json:"sent_at"`
}

// Gate is the process-wide singleton guarding first-fallback-activation.
type Gate struct {
	webhookURL string
	client     *http.Client
	onFire     func()

	mu    sync.Mutex
	fired bool
}

// New builds a Gate. An empty webhookURL disables delivery without
// disabling the latch's own bookkeeping. onFire, if non-nil, runs exactly
// once alongside the webhook notification — it's how the metrics collector
// learns to flip its fallback-activated gauge without the Gate importing
// the metrics package.
func New(webhookURL string, onFire func()) *Gate {
	return &Gate{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 3 * time.Second},
		onFire:     onFire,
	}
}

// FireFallbackActivated fires the one-shot "fallback activated"
// notification the first time it is called across the process's lifetime;
// every subsequent call is a no-op.
func (g *Gate) FireFallbackActivated(ctx context.Context) {
	g.mu.Lock()
	if g.fired {
		g.mu.Unlock()
		return
	}
	g.fired = true
	g.mu.Unlock()

	if g.onFire != nil {
		g.onFire()
	}

	g.send(ctx, Notification{
		Severity: SeverityHigh,
		Event:    "fallback_activated",
		SentAt:   time.Now(),
	})
}

// NotifyTimeoutRelease reports a Timeout Monitor tick that released at
// least one job. Not latched — fired once per tick with a nonzero count.
func (g *Gate) NotifyTimeoutRelease(ctx context.Context, count int) {
	g.send(ctx, Notification{
		Severity: SeverityInfo,
		Event:    "timeout_release",
		Detail:   map[string]any{"count": count},
		SentAt:   time.Now(),
	})
}

// NotifyJobHeal reports a single stuck job promoted to complete.
func (g *Gate) NotifyJobHeal(ctx context.Context, jobID string) {
	g.send(ctx, Notification{
		Severity: SeverityInfo,
		Event:    "job_heal",
		Detail:   map[string]any{"job_id": jobID},
		SentAt:   time.Now(),
	})
}

// NotifyVideoHeal reports a single repaired video record.
func (g *Gate) NotifyVideoHeal(ctx context.Context, owner, permlink string) {
	g.send(ctx, Notification{
		Severity: SeverityInfo,
		Event:    "video_heal",
		Detail:   map[string]any{"owner": owner, "permlink": permlink},
		SentAt:   time.Now(),
	})
}

// NotifyHealCycleSummary reports a per-cycle summary when anything was
// repaired during that Healer tick.
func (g *Gate) NotifyHealCycleSummary(ctx context.Context, jobsHealed, recordsHealed int) {
	g.send(ctx, Notification{
		Severity: SeverityInfo,
		Event:    "heal_cycle_summary",
		Detail:   map[string]any{"jobs_healed": jobsHealed, "records_healed": recordsHealed},
		SentAt:   time.Now(),
	})
}

// send is best-effort: failures are logged, never raised, per §7.
func (g *Gate) send(ctx context.Context, n Notification) {
	if g.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		log.Warn("failed to marshal notification", "event", n.Event, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.webhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Warn("failed to build notification request", "event", n.Event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		log.Warn("notification delivery failed", "event", n.Event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warn("notification rejected", "event", n.Event, "status", resp.StatusCode)
	}
}
