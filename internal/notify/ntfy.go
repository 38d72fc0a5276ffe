package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/darshan-rambhia/racestats/internal/model"
)

// NtfyProvider publishes notifications to an ntfy topic. The message is the
// request body; title, priority and tags travel as headers.
type NtfyProvider struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewNtfy returns a provider posting to url/topic. token is optional and
// only needed for protected topics.
func NewNtfy(url, topic, token string) *NtfyProvider {
	return &NtfyProvider{
		endpoint: strings.TrimRight(url, "/") + "/" + topic,
		token:    token,
		client:   httpClient,
	}
}

func (n *NtfyProvider) Name() string { return "ntfy" }

func (n *NtfyProvider) Send(ctx context.Context, notif model.Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(notif.Message))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}
	h := req.Header
	h.Set("Title", notif.Title)
	if p, ok := ntfyPriority[notif.Severity]; ok {
		h.Set("Priority", p)
	}
	if tags := ntfyTags(notif); tags != "" {
		h.Set("Tags", tags)
	}
	if n.token != "" {
		h.Set("Authorization", "Bearer "+n.token)
	}

	if err := do(n.client, req); err != nil {
		return fmt.Errorf("ntfy: %w", err)
	}
	return nil
}

// ntfyPriority maps severities onto ntfy's 1..5 scale. Without a header
// ntfy uses its default priority 3.
var ntfyPriority = map[string]string{
	"critical": "5",
	"warning":  "4",
	"info":     "2",
}

var (
	severityTags = map[string]string{
		"critical": "rotating_light",
		"warning":  "warning",
		"info":     "information_source",
	}
	kindTags = map[string]string{
		KindSyncComplete:  "checkered_flag",
		KindSyncFailed:    "x",
		KindSyncFailing:   "x",
		KindSyncStale:     "hourglass",
		KindSyncRecovered: "white_check_mark",
	}
)

// ntfyTags renders the emoji tags for n, severity first.
func ntfyTags(n model.Notification) string {
	var tags []string
	for _, t := range []string{severityTags[n.Severity], kindTags[n.Kind]} {
		if t != "" {
			tags = append(tags, t)
		}
	}
	return strings.Join(tags, ",")
}
