// Fuzz runner for racestats.
//
// Runs every fuzz target for FUZZ_TIME (default 30s) and writes a summary to
// target/reports/fuzz.txt. Exits non-zero if any target finds a failing
// input.
//
// Usage:
//
//	go run ./scripts/fuzz
//	FUZZ_TIME=2m go run ./scripts/fuzz
package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// targets maps package directories to their fuzz functions.
var targets = []struct {
	pkg   string
	funcs []string
}{
	{"./internal/normalize/", []string{"FuzzParseStartTime", "FuzzParticipant", "FuzzFlatten"}},
	{"./internal/config/", []string{"FuzzExpandEnvVars"}},
	{"./templates/", []string{"FuzzFormatLapTime"}},
}

var reExecs = regexp.MustCompile(`execs:\s+(\d+)\s+\((\d+)/sec\)`)

type outcome struct {
	pkg, fn string
	took    time.Duration
	execs   int64
	perSec  int64
	failed  bool
}

func main() {
	root, err := projectRoot()
	if err != nil {
		log.Fatal(err)
	}
	fuzzTime := os.Getenv("FUZZ_TIME")
	if fuzzTime == "" {
		fuzzTime = "30s"
	}

	var results []outcome
	for _, t := range targets {
		for _, fn := range t.funcs {
			fmt.Printf("--- %s %s\n", fn, t.pkg)
			results = append(results, fuzz(root, t.pkg, fn, fuzzTime))
		}
	}

	reportDir := filepath.Join(root, "target", "reports")
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		log.Fatalf("creating report directory: %v", err)
	}
	report := filepath.Join(reportDir, "fuzz.txt")
	if err := os.WriteFile(report, []byte(summary(results, fuzzTime)), 0o644); err != nil {
		log.Fatalf("writing report: %v", err)
	}
	fmt.Printf("\nreport written to %s\n", report)

	for _, r := range results {
		if r.failed {
			os.Exit(1)
		}
	}
}

func fuzz(root, pkg, fn, fuzzTime string) outcome {
	start := time.Now()
	cmd := exec.Command("go", "test", "-run=^$", "-fuzz=^"+fn+"$", "-fuzztime="+fuzzTime, pkg)
	cmd.Dir = root
	var buf bytes.Buffer
	cmd.Stdout = io.MultiWriter(os.Stdout, &buf)
	cmd.Stderr = io.MultiWriter(os.Stderr, &buf)
	err := cmd.Run()

	out := buf.String()
	o := outcome{pkg: pkg, fn: fn, took: time.Since(start)}
	// The last progress line holds the totals.
	if m := reExecs.FindAllStringSubmatch(out, -1); len(m) > 0 {
		last := m[len(m)-1]
		o.execs, _ = strconv.ParseInt(last[1], 10, 64)
		o.perSec, _ = strconv.ParseInt(last[2], 10, 64)
	}
	// A deadline race at the end of -fuzztime is not a finding; a finding
	// always writes a corpus entry.
	o.failed = err != nil &&
		(strings.Contains(out, "Failing input written to") || !strings.Contains(out, "context deadline exceeded"))
	return o
}

func summary(results []outcome, fuzzTime string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "racestats fuzz report\n")
	fmt.Fprintf(&sb, "generated: %s\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&sb, "go:        %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "fuzztime:  %s per target\n\n", fuzzTime)

	var total int64
	for _, r := range results {
		status := "ok"
		if r.failed {
			status = "FAIL"
		}
		total += r.execs
		fmt.Fprintf(&sb, "%-4s  %-22s %-22s %12d execs  %8d/s  %s\n",
			status, r.fn, r.pkg, r.execs, r.perSec, r.took.Round(time.Second))
	}
	fmt.Fprintf(&sb, "\ntotal executions: %d\n", total)
	return sb.String()
}

// projectRoot walks up from the working directory to the go.mod.
func projectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod above %s", dir)
		}
		dir = parent
	}
}
