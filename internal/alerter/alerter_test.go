package alerter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/racestats/internal/cache"
	"github.com/darshan-rambhia/racestats/internal/model"
	"github.com/darshan-rambhia/racestats/internal/notify"
)

// testProvider records notifications for assertions.
type testProvider struct {
	sent []model.Notification
	err  error
}

func (p *testProvider) Name() string { return "test" }
func (p *testProvider) Send(_ context.Context, n model.Notification) error {
	p.sent = append(p.sent, n)
	return p.err
}

var _ notify.Provider = (*testProvider)(nil)

func newTestAlerter(cfg AlertConfig) (*Alerter, *cache.Cache, *testProvider) {
	c := cache.New()
	p := &testProvider{}
	return NewAlerter(c, []notify.Provider{p}, cfg), c, p
}

func fail(c *cache.Cache, job, msg string, times int) {
	for range times {
		c.RecordRun(job, model.SyncReport{Error: msg, FinishedAt: time.Now()})
	}
}

func TestDefaultAlertConfig(t *testing.T) {
	cfg := DefaultAlertConfig()

	require.NotNil(t, cfg.SyncFailing)
	require.NotNil(t, cfg.SyncStale)
	assert.Equal(t, 3, cfg.SyncFailing.Threshold)
	assert.Equal(t, "critical", cfg.SyncFailing.Severity)
	assert.Equal(t, 6*time.Hour, cfg.SyncFailing.Cooldown)
	assert.Equal(t, 48*time.Hour, cfg.SyncStale.MaxAge)
	assert.Equal(t, "warning", cfg.SyncStale.Severity)
}

// ---------------------------------------------------------------------------
// Failing jobs
// ---------------------------------------------------------------------------

func TestSyncFailing_BelowThreshold(t *testing.T) {
	a, c, p := newTestAlerter(DefaultAlertConfig())
	fail(c, "driver:Ann Apex", "API error 503", 2)

	a.evaluate(context.Background(), time.Now())
	assert.Empty(t, p.sent)
}

func TestSyncFailing_Fires(t *testing.T) {
	a, c, p := newTestAlerter(DefaultAlertConfig())
	fail(c, "driver:Ann Apex", "API error 503", 3)

	a.evaluate(context.Background(), time.Now())
	require.Len(t, p.sent, 1)
	n := p.sent[0]
	assert.Equal(t, notify.KindSyncFailing, n.Kind)
	assert.Equal(t, "critical", n.Severity)
	assert.Equal(t, "Sync failing: driver:Ann Apex", n.Title)
	assert.Equal(t, "driver:Ann Apex failed 3 times in a row: API error 503", n.Message)
	assert.Equal(t, "3", n.Metadata["failures"])
}

func TestSyncFailing_Cooldown(t *testing.T) {
	a, c, p := newTestAlerter(DefaultAlertConfig())
	fail(c, "tracks", "boom", 3)
	now := time.Now()

	a.evaluate(context.Background(), now)
	a.evaluate(context.Background(), now.Add(time.Hour))
	assert.Len(t, p.sent, 1, "second evaluation is inside the cooldown")

	a.evaluate(context.Background(), now.Add(7*time.Hour))
	assert.Len(t, p.sent, 2)
}

func TestSyncFailing_Recovery(t *testing.T) {
	a, c, p := newTestAlerter(DefaultAlertConfig())
	fail(c, "cars", "boom", 3)
	now := time.Now()
	a.evaluate(context.Background(), now)

	c.RecordRun("cars", model.SyncReport{FinishedAt: now})
	a.evaluate(context.Background(), now.Add(time.Minute))
	a.evaluate(context.Background(), now.Add(2*time.Minute))

	require.Len(t, p.sent, 2, "recovery is announced once")
	assert.Equal(t, notify.KindSyncRecovered, p.sent[1].Kind)
	assert.Equal(t, "Sync recovered: cars", p.sent[1].Title)

	// A new streak fires again right away.
	fail(c, "cars", "boom again", 3)
	a.evaluate(context.Background(), now.Add(3*time.Minute))
	require.Len(t, p.sent, 3)
	assert.Equal(t, notify.KindSyncFailing, p.sent[2].Kind)
}

func TestSyncFailing_Disabled(t *testing.T) {
	a, c, p := newTestAlerter(AlertConfig{})
	fail(c, "tracks", "boom", 10)
	a.evaluate(context.Background(), time.Now())
	assert.Empty(t, p.sent)
}

// ---------------------------------------------------------------------------
// Stale jobs
// ---------------------------------------------------------------------------

func TestSyncStale(t *testing.T) {
	a, c, p := newTestAlerter(DefaultAlertConfig())
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.RecordRun("driver:Bo Brake", model.SyncReport{FinishedAt: last})

	a.evaluate(context.Background(), last.Add(47*time.Hour))
	assert.Empty(t, p.sent)

	a.evaluate(context.Background(), last.Add(50*time.Hour))
	require.Len(t, p.sent, 1)
	n := p.sent[0]
	assert.Equal(t, notify.KindSyncStale, n.Kind)
	assert.Equal(t, "warning", n.Severity)
	assert.Equal(t, "driver:Bo Brake last succeeded 50h0m0s ago", n.Message)
	assert.Equal(t, "2024-05-01T12:00:00Z", n.Metadata["last_success"])

	a.evaluate(context.Background(), last.Add(60*time.Hour))
	assert.Len(t, p.sent, 1, "inside the cooldown")
}

// ---------------------------------------------------------------------------
// Delivery
// ---------------------------------------------------------------------------

func TestFire_ProviderErrorDoesNotBlock(t *testing.T) {
	c := cache.New()
	bad := &testProvider{err: errors.New("unreachable")}
	good := &testProvider{}
	a := NewAlerter(c, []notify.Provider{bad, good}, DefaultAlertConfig())
	fail(c, "tracks", "boom", 3)

	a.evaluate(context.Background(), time.Now())
	assert.Len(t, bad.sent, 1)
	assert.Len(t, good.sent, 1)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, _, _ := newTestAlerter(DefaultAlertConfig())
	a.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}
