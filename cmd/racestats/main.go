// Command racestats syncs iRacing results into a local SQLite store and
// serves rating and usage queries over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
)

// Set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

type buildMeta struct {
	Version  string
	Commit   string
	Built    string
	Modified bool
}

// readBuild fills commit and build time from the VCS stamp when ldflags
// left them empty.
func readBuild() buildMeta {
	b := buildMeta{Version: version, Commit: commit, Built: buildTime}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && b.Commit == "":
				b.Commit = s.Value
			case s.Key == "vcs.time" && b.Built == "":
				b.Built = s.Value
			case s.Key == "vcs.modified":
				b.Modified = s.Value == "true"
			}
		}
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.Built == "" {
		b.Built = "unknown"
	}
	return b
}

func (b buildMeta) String() string {
	commit := b.Commit
	if b.Modified {
		commit += " (modified)"
	}
	return fmt.Sprintf("racestats %s\n  commit:   %s\n  built:    %s\n  go:       %s\n  platform: %s/%s\n",
		b.Version, commit, b.Built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
