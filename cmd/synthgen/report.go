package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mkurman/synthlabs-sub004/internal/generation"
)

// All human-readable output goes to stderr so stdout stays clean for
// shell pipes and the MCP stdio transport.

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func tint(code, s string) string {
	if noColor {
		return s
	}
	return code + s + ansiReset
}

// notef prints a plain progress line.
func notef(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func okf(format string, args ...any) {
	notef("%s", tint(ansiGreen, fmt.Sprintf(format, args...)))
}

func warnf(format string, args ...any) {
	notef("%s", tint(ansiYellow, "warning: "+fmt.Sprintf(format, args...)))
}

func errf(format string, args ...any) {
	notef("%s", tint(ansiRed, fmt.Sprintf(format, args...)))
}

// field prints an indented label/value pair for summary blocks.
func field(label, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", tint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}

// reportResult prints one line per finished item as the batch drains.
func reportResult(res generation.Result, seen, total int) {
	prefix := fmt.Sprintf("[%d/%d]", seen, total)
	elapsed := res.Duration.Round(100 * time.Millisecond)
	switch res.Status {
	case generation.StatusDone:
		notef("%s done in %s (%d tokens)", prefix, elapsed, res.TokenCount)
	case generation.StatusAborted:
		warnf("%s aborted", prefix)
	default:
		errf("%s %s: %s", prefix, res.Status, res.Err)
	}
}
