// Package templates provides the HTML index page and its formatting helpers.
package templates

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/darshan-rambhia/racestats/internal/model"
)

// lapTimeUnit is the resolution of average_lap and usage totals.
const lapTimeUnit = 10000

// FormatLapTime formats a lap time in 1/10000 s as "m:ss.sss".
func FormatLapTime(t int64) string {
	if t <= 0 {
		return "--"
	}
	ms := t / 10
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}

// FormatDriveTime formats a total driven time in 1/10000 s.
func FormatDriveTime(t int64) string {
	return FormatDuration(time.Duration(t) * time.Second / lapTimeUnit)
}

// FormatDuration formats a duration into human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// FormatAge formats the time since t as "Xm", "Xh" or "Xd".
func FormatAge(t time.Time) string {
	age := time.Since(t)
	if age < time.Hour {
		return fmt.Sprintf("%dm", int(age.Minutes()))
	}
	if age < 24*time.Hour {
		return fmt.Sprintf("%dh", int(age.Hours()))
	}
	return fmt.Sprintf("%dd", int(age.Hours()/24))
}

// FormatTime formats a unix timestamp in UTC.
func FormatTime(unixTS int64) string {
	return time.Unix(unixTS, 0).UTC().Format("2006-01-02 15:04")
}

// RunStatusClass returns a CSS class for a sync run.
func RunStatusClass(r *model.SyncReport) string {
	switch {
	case r == nil:
		return "status-unknown"
	case r.Error != "":
		return "status-critical"
	default:
		return "status-ok"
	}
}

// RunStatusText returns the error of a failed run, or "ok".
func RunStatusText(r *model.SyncReport) string {
	switch {
	case r == nil:
		return "unknown"
	case r.Error != "":
		return r.Error
	default:
		return "ok"
	}
}

// DriverURL builds a query endpoint link for one driver.
func DriverURL(path, driverName string) string {
	return path + "?driver_name=" + url.QueryEscape(driverName)
}

// SortedRuns returns the runs ordered by job key.
func SortedRuns(runs map[string]*model.SyncReport) []string {
	keys := make([]string, 0, len(runs))
	for k := range runs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// OldestPoll returns the time since the oldest successful run.
func OldestPoll(lastPoll map[string]time.Time) string {
	if len(lastPoll) == 0 {
		return "never"
	}
	var oldest time.Time
	for _, t := range lastPoll {
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return FormatAge(oldest) + " ago"
}
