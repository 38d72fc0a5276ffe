package pipeline

import (
	"context"
	"time"

	"github.com/darshan-rambhia/racestats/internal/collector"
)

var (
	_ collector.Collector = (*DriverCollector)(nil)
	_ collector.Collector = (*ReferenceCollector)(nil)
)

// DriverCollector periodically syncs one driver.
type DriverCollector struct {
	syncer   *Syncer
	driver   string
	interval time.Duration
}

// NewDriverCollector creates a collector syncing driver every interval.
func NewDriverCollector(s *Syncer, driver string, interval time.Duration) *DriverCollector {
	return &DriverCollector{syncer: s, driver: driver, interval: interval}
}

func (c *DriverCollector) Name() string            { return "sync:" + c.driver }
func (c *DriverCollector) Interval() time.Duration { return c.interval }

func (c *DriverCollector) Collect(ctx context.Context) error {
	_, err := c.syncer.SyncDriver(ctx, c.driver)
	return err
}

// ReferenceCollector periodically refreshes track and car reference data.
type ReferenceCollector struct {
	syncer   *Syncer
	interval time.Duration
}

// NewReferenceCollector creates a collector refreshing reference data every
// interval.
func NewReferenceCollector(s *Syncer, interval time.Duration) *ReferenceCollector {
	return &ReferenceCollector{syncer: s, interval: interval}
}

func (c *ReferenceCollector) Name() string            { return "reference" }
func (c *ReferenceCollector) Interval() time.Duration { return c.interval }

func (c *ReferenceCollector) Collect(ctx context.Context) error {
	if _, err := c.syncer.SyncTracks(ctx); err != nil {
		return err
	}
	_, err := c.syncer.SyncCars(ctx)
	return err
}
