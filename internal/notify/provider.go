// Package notify delivers sync run reports to external channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/darshan-rambhia/racestats/internal/model"
)

// Notification kinds.
const (
	KindSyncComplete  = "sync_complete"
	KindSyncFailed    = "sync_failed"
	KindSyncFailing   = "sync_failing"
	KindSyncStale     = "sync_stale"
	KindSyncRecovered = "sync_recovered"
)

// Provider sends notifications through a specific channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}

// FromReport builds the notification for a finished sync run.
func FromReport(r model.SyncReport) model.Notification {
	subject := r.Job
	if r.Target != "" {
		subject = r.Job + " " + r.Target
	}

	n := model.Notification{
		Kind:      KindSyncComplete,
		Severity:  "info",
		Title:     "Sync complete: " + subject,
		Subject:   subject,
		Timestamp: r.FinishedAt,
		Metadata: map[string]string{
			"job":        r.Job,
			"discovered": strconv.Itoa(r.Discovered),
			"fetched":    strconv.Itoa(r.Fetched),
			"ingested":   strconv.Itoa(r.Ingested),
			"duration":   r.Duration.Round(time.Second).String(),
		},
	}
	n.Message = fmt.Sprintf("%d new sessions found, %d fetched, %d stored in %s",
		r.Discovered, r.Fetched, r.Ingested, r.Duration.Round(time.Second))

	if r.Error != "" {
		n.Kind = KindSyncFailed
		n.Severity = "warning"
		n.Title = "Sync failed: " + subject
		n.Message = r.Error
	}
	return n
}

// Dispatch sends n to every provider. A failing provider does not stop the
// others; all failures are joined into the returned error.
func Dispatch(ctx context.Context, providers []Provider, n model.Notification) error {
	var errs []error
	for _, p := range providers {
		if err := p.Send(ctx, n); err != nil {
			slog.Error("notification failed", "provider", p.Name(), "subject", n.Subject, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// httpClient is shared by the HTTP providers.
var httpClient = &http.Client{Timeout: 10 * time.Second}

// do sends req and turns a non-2xx reply into an error carrying the start of
// the response body.
func do(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}
